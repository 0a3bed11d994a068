package consult

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthnexus-backend/internal/domain"
	cassandrarepo "healthnexus-backend/internal/repository/cassandra"
	cockroachrepo "healthnexus-backend/internal/repository/cockroach"
	"healthnexus-backend/internal/service/consult"
	"healthnexus-backend/internal/service/storage"
	"healthnexus-backend/pkg/audit"
	apperrors "healthnexus-backend/pkg/errors"
	"healthnexus-backend/pkg/jwt"
	"healthnexus-backend/pkg/logger"
	"healthnexus-backend/pkg/pagination"
	"healthnexus-backend/pkg/response"
)

// Handler handles consultation call HTTP requests
type Handler struct {
	manager   *consult.Manager
	sessions  *cockroachrepo.SessionRepository
	notes     *cockroachrepo.NoteRepository
	messages  *cassandrarepo.MessageRepository
	artifacts *storage.ArtifactStore
	audit     *audit.Logger
}

// NewHandler creates a new consultation handler
func NewHandler(
	manager *consult.Manager,
	sessions *cockroachrepo.SessionRepository,
	notes *cockroachrepo.NoteRepository,
	messages *cassandrarepo.MessageRepository,
	artifacts *storage.ArtifactStore,
	auditLogger *audit.Logger,
) *Handler {
	return &Handler{
		manager:   manager,
		sessions:  sessions,
		notes:     notes,
		messages:  messages,
		artifacts: artifacts,
		audit:     auditLogger,
	}
}

// auditEvent records an audit entry without affecting the request outcome
func (h *Handler) auditEvent(c *gin.Context, log func() error) {
	if h.audit == nil {
		return
	}
	if err := log(); err != nil {
		logger.Warn("Failed to write audit event",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
}

// currentUser reads the authenticated user from the request context
func currentUser(c *gin.Context) (uuid.UUID, string, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, "", false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, "", false
	}

	role, _ := c.Get("role")
	roleStr, _ := role.(string)
	return userID, roleStr, true
}

// sessionID parses the :id path parameter
func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps service errors onto HTTP responses
func writeError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		response.AppError(c, appErr)
		return
	}
	response.InternalError(c, "Internal server error")
}

// liveController resolves a live controller and checks the caller belongs
// to the session
func (h *Handler) liveController(c *gin.Context, id, userID uuid.UUID) (*consult.Controller, bool) {
	controller, err := h.manager.Get(id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}

	session := controller.Session()
	if session == nil || (userID != session.DoctorID && userID != session.PatientID) {
		response.Forbidden(c, "Not a participant of this session")
		return nil, false
	}
	return controller, true
}

// StartCallRequest identifies the appointment to start a call for
type StartCallRequest struct {
	AppointmentID string `json:"appointment_id" binding:"required,uuid"`
	DoctorID      string `json:"doctor_id" binding:"required,uuid"`
	PatientID     string `json:"patient_id" binding:"required,uuid"`
	CallerName    string `json:"caller_name"`
}

// StartCall starts a new consultation call
// POST /v1/consults
func (h *Handler) StartCall(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}

	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	appointmentID, _ := uuid.Parse(req.AppointmentID)
	doctorID, _ := uuid.Parse(req.DoctorID)
	patientID, _ := uuid.Parse(req.PatientID)

	if userID != doctorID && userID != patientID {
		response.Forbidden(c, "Caller is not part of this appointment")
		return
	}

	session, err := h.manager.StartCall(c.Request.Context(), consult.StartCallInput{
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		PatientID:     patientID,
		CallerID:      userID,
		CallerRole:    role,
		CallerName:    req.CallerName,
	})
	if err != nil {
		logger.Error("Failed to start call",
			zap.String("appointment_id", req.AppointmentID),
			zap.Error(err))
		h.auditEvent(c, func() error {
			return h.audit.LogCallStart(c.Request.Context(), userID, uuid.Nil, c.ClientIP(), false)
		})
		writeError(c, err)
		return
	}

	h.auditEvent(c, func() error {
		return h.audit.LogCallStart(c.Request.Context(), userID, session.SessionID, c.ClientIP(), true)
	})
	response.Success(c, http.StatusCreated, session)
}

// GetSession returns the session, live when a controller exists, from the
// store otherwise
// GET /v1/consults/:id
func (h *Handler) GetSession(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	if controller, err := h.manager.Get(id); err == nil {
		session := controller.Session()
		if userID != session.DoctorID && userID != session.PatientID {
			response.Forbidden(c, "Not a participant of this session")
			return
		}
		response.Success(c, http.StatusOK, gin.H{
			"session":      session,
			"duration":     controller.Duration(),
			"participants": controller.Participants(),
		})
		return
	}

	session, err := h.sessions.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if userID != session.DoctorID && userID != session.PatientID {
		response.Forbidden(c, "Not a participant of this session")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// EndCall ends a live consultation
// POST /v1/consults/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	controller, ok := h.liveController(c, id, userID)
	if !ok {
		return
	}
	duration := controller.Duration()

	h.auditEvent(c, func() error {
		return h.audit.LogCallEnd(c.Request.Context(), userID, id, c.ClientIP(), duration)
	})

	if err := h.manager.EndCall(c.Request.Context(), id); err != nil {
		logger.Warn("Call ended with errors",
			zap.String("session_id", id.String()),
			zap.Error(err))
		response.Success(c, http.StatusOK, gin.H{
			"message":    "Call ended with errors",
			"session_id": id,
		})
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Call ended",
		"session_id": id,
	})
}

// ToggleVideo flips the caller's camera
// POST /v1/consults/:id/video/toggle
func (h *Handler) ToggleVideo(c *gin.Context) {
	h.toggleMedia(c, func(controller *consult.Controller) (bool, error) {
		return controller.ToggleVideo(c.Request.Context())
	}, "video_enabled")
}

// ToggleAudio flips the caller's microphone
// POST /v1/consults/:id/audio/toggle
func (h *Handler) ToggleAudio(c *gin.Context) {
	h.toggleMedia(c, func(controller *consult.Controller) (bool, error) {
		return controller.ToggleAudio(c.Request.Context())
	}, "audio_enabled")
}

func (h *Handler) toggleMedia(c *gin.Context, flip func(*consult.Controller) (bool, error), field string) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	controller, ok := h.liveController(c, id, userID)
	if !ok {
		return
	}

	enabled, err := flip(controller)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{field: enabled})
}

// ToggleScreenShare starts or stops screen sharing
// POST /v1/consults/:id/screen-share/toggle
func (h *Handler) ToggleScreenShare(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	controller, ok := h.liveController(c, id, userID)
	if !ok {
		return
	}

	sharing, err := controller.ToggleScreenShare(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"screen_sharing": sharing})
}

// SendMessageRequest carries one chat message body
type SendMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

// SendMessage sends a chat message on the live call
// POST /v1/consults/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	controller, ok := h.liveController(c, id, userID)
	if !ok {
		return
	}

	message, err := controller.SendMessage(c.Request.Context(), req.Body)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, message)
}

// ListMessages returns chat history, live view first, store fallback
// GET /v1/consults/:id/messages
func (h *Handler) ListMessages(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	limit := parseLimit(c, 50)

	if controller, err := h.manager.Get(id); err == nil {
		session := controller.Session()
		if userID != session.DoctorID && userID != session.PatientID {
			response.Forbidden(c, "Not a participant of this session")
			return
		}
		messages := controller.Messages()
		response.Success(c, http.StatusOK, gin.H{
			"messages": messages,
			"count":    len(messages),
		})
		return
	}

	session, err := h.sessions.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if userID != session.DoctorID && userID != session.PatientID {
		response.Forbidden(c, "Not a participant of this session")
		return
	}

	messages, err := h.messages.GetRecent(id, limit)
	if err != nil {
		logger.Error("Failed to load call messages",
			zap.String("session_id", id.String()),
			zap.Error(err))
		response.InternalError(c, "Failed to load messages")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

// CreateNoteRequest carries one medical note
type CreateNoteRequest struct {
	NoteType       string `json:"note_type" binding:"required,oneof=diagnosis observation prescription follow_up"`
	Content        string `json:"content" binding:"required"`
	MedicationName string `json:"medication_name"`
	Dosage         string `json:"dosage"`
}

// CreateNote records a medical note on the live call
// POST /v1/consults/:id/notes
func (h *Handler) CreateNote(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req CreateNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	controller, ok := h.liveController(c, id, userID)
	if !ok {
		return
	}

	var opts []consult.NoteOption
	if req.NoteType == string(domain.NoteTypePrescription) || req.MedicationName != "" {
		opts = append(opts, consult.WithPrescription(req.MedicationName, req.Dosage))
	}

	note, err := controller.SaveMedicalNote(c.Request.Context(), domain.NoteType(req.NoteType), req.Content, opts...)
	if err != nil {
		writeError(c, err)
		return
	}
	if note == nil {
		response.Forbidden(c, "Only the doctor can record notes on an active call")
		return
	}

	h.auditEvent(c, func() error {
		return h.audit.LogNoteCreate(c.Request.Context(), userID, id, c.ClientIP(), req.NoteType)
	})
	response.Success(c, http.StatusCreated, note)
}

// ListNotes returns the session's medical notes in call order
// GET /v1/consults/:id/notes
func (h *Handler) ListNotes(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := h.sessions.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if userID != session.DoctorID && userID != session.PatientID {
		response.Forbidden(c, "Not a participant of this session")
		return
	}

	notes, err := h.notes.GetMedicalNotes(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"notes": notes,
		"count": len(notes),
	})
}

// GetTranscript returns the session's transcript segments
// GET /v1/consults/:id/transcript
func (h *Handler) GetTranscript(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := h.sessions.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if userID != session.DoctorID && userID != session.PatientID {
		response.Forbidden(c, "Not a participant of this session")
		return
	}

	segments, err := h.notes.GetTranscript(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"segments": segments,
		"count":    len(segments),
	})
}

// StartTranscription turns transcription on mid-call
// POST /v1/consults/:id/transcription/start
func (h *Handler) StartTranscription(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	controller, ok := h.liveController(c, id, userID)
	if !ok {
		return
	}
	if role != jwt.RoleDoctor {
		response.Forbidden(c, "Only the doctor can control transcription")
		return
	}

	controller.StartTranscription(c.Request.Context())
	response.Success(c, http.StatusOK, gin.H{
		"transcribing": controller.Session().IsTranscribing,
	})
}

// StopTranscription turns transcription off mid-call
// POST /v1/consults/:id/transcription/stop
func (h *Handler) StopTranscription(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	controller, ok := h.liveController(c, id, userID)
	if !ok {
		return
	}
	if role != jwt.RoleDoctor {
		response.Forbidden(c, "Only the doctor can control transcription")
		return
	}

	controller.StopTranscription(c.Request.Context())
	response.Success(c, http.StatusOK, gin.H{
		"transcribing": controller.Session().IsTranscribing,
	})
}

// GetParticipants returns the live roster
// GET /v1/consults/:id/participants
func (h *Handler) GetParticipants(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	if controller, err := h.manager.Get(id); err == nil {
		session := controller.Session()
		if userID != session.DoctorID && userID != session.PatientID {
			response.Forbidden(c, "Not a participant of this session")
			return
		}
		participants := controller.Participants()
		response.Success(c, http.StatusOK, gin.H{
			"participants": participants,
			"count":        len(participants),
		})
		return
	}

	session, err := h.sessions.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if userID != session.DoctorID && userID != session.PatientID {
		response.Forbidden(c, "Not a participant of this session")
		return
	}

	participants, err := h.sessions.GetParticipants(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"participants": participants,
		"count":        len(participants),
	})
}

// StartRecording flags the live session as recording
// POST /v1/consults/:id/recording/start
func (h *Handler) StartRecording(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	controller, ok := h.liveController(c, id, userID)
	if !ok {
		return
	}

	recording, err := controller.StartRecording(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	h.auditEvent(c, func() error {
		return h.audit.LogRecordingStart(c.Request.Context(), userID, id, c.ClientIP())
	})
	response.Success(c, http.StatusCreated, recording)
}

// TakeScreenshot stores one frame from the live call. The request body is
// the raw image.
// POST /v1/consults/:id/screenshots
func (h *Handler) TakeScreenshot(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	controller, ok := h.liveController(c, id, userID)
	if !ok {
		return
	}

	shot, err := controller.TakeScreenshot(
		c.Request.Context(),
		c.Query("description"),
		c.Request.Body,
		c.Request.ContentLength,
	)
	if err != nil {
		writeError(c, err)
		return
	}

	h.auditEvent(c, func() error {
		return h.audit.LogScreenshotCapture(c.Request.Context(), userID, id, c.ClientIP())
	})
	response.Success(c, http.StatusCreated, shot)
}

// artifactEntry pairs a stored artifact row with a presigned download URL
type artifactEntry struct {
	Artifact interface{} `json:"artifact"`
	URL      string      `json:"url,omitempty"`
}

func (h *Handler) presign(c *gin.Context, objectKey string) string {
	if h.artifacts == nil || objectKey == "" {
		return ""
	}
	url, err := h.artifacts.ArtifactURL(c.Request.Context(), objectKey, 0)
	if err != nil {
		logger.Warn("Failed to presign artifact URL",
			zap.String("object_key", objectKey),
			zap.Error(err))
		return ""
	}
	return url
}

// storedSession loads a session from the store and checks membership
func (h *Handler) storedSession(c *gin.Context, id, userID uuid.UUID) (*domain.CallSession, bool) {
	session, err := h.sessions.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if userID != session.DoctorID && userID != session.PatientID {
		response.Forbidden(c, "Not a participant of this session")
		return nil, false
	}
	return session, true
}

// ListScreenshots returns the frames captured during a session with
// short-lived download URLs
// GET /v1/consults/:id/screenshots
func (h *Handler) ListScreenshots(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if _, ok := h.storedSession(c, id, userID); !ok {
		return
	}

	shots, err := h.sessions.GetScreenshots(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	entries := make([]artifactEntry, 0, len(shots))
	for _, shot := range shots {
		entries = append(entries, artifactEntry{
			Artifact: shot,
			URL:      h.presign(c, shot.ObjectKey),
		})
	}

	response.Success(c, http.StatusOK, gin.H{
		"screenshots": entries,
		"count":       len(entries),
	})
}

// DeleteScreenshot removes a captured frame and its stored object
// DELETE /v1/consults/:id/screenshots/:screenshotID
func (h *Handler) DeleteScreenshot(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	screenshotID, err := uuid.Parse(c.Param("screenshotID"))
	if err != nil {
		response.ValidationError(c, "Invalid screenshot ID")
		return
	}
	if _, ok := h.storedSession(c, id, userID); !ok {
		return
	}
	if role != jwt.RoleDoctor {
		response.Forbidden(c, "Only the doctor can delete screenshots")
		return
	}

	objectKey, err := h.sessions.DeleteScreenshot(c.Request.Context(), id, screenshotID)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.artifacts != nil && objectKey != "" {
		if err := h.artifacts.Delete(c.Request.Context(), objectKey); err != nil {
			logger.Warn("Failed to delete stored frame",
				zap.String("object_key", objectKey),
				zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Screenshot deleted"})
}

// ListRecordings returns the session's recordings with download URLs
// GET /v1/consults/:id/recordings
func (h *Handler) ListRecordings(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if _, ok := h.storedSession(c, id, userID); !ok {
		return
	}

	recordings, err := h.sessions.GetRecordings(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	entries := make([]artifactEntry, 0, len(recordings))
	for _, rec := range recordings {
		entries = append(entries, artifactEntry{
			Artifact: rec,
			URL:      h.presign(c, rec.ObjectKey),
		})
	}

	response.Success(c, http.StatusOK, gin.H{
		"recordings": entries,
		"count":      len(entries),
	})
}

// UploadRecording stores the recorded media blob for a recording started
// earlier. The request body is the raw blob.
// PUT /v1/consults/:id/recordings/:recordingID/media
func (h *Handler) UploadRecording(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	recordingID, err := uuid.Parse(c.Param("recordingID"))
	if err != nil {
		response.ValidationError(c, "Invalid recording ID")
		return
	}
	if _, ok := h.storedSession(c, id, userID); !ok {
		return
	}
	if role != jwt.RoleDoctor {
		response.Forbidden(c, "Only the doctor can upload recordings")
		return
	}
	if h.artifacts == nil {
		response.InternalError(c, "Artifact storage is not configured")
		return
	}

	key, err := h.artifacts.PutRecording(
		c.Request.Context(), id, recordingID,
		c.Request.Body, c.Request.ContentLength,
	)
	if err != nil {
		logger.Error("Failed to store recording blob",
			zap.String("session_id", id.String()),
			zap.String("recording_id", recordingID.String()),
			zap.Error(err))
		response.InternalError(c, "Failed to store recording")
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"object_key": key})
}

// GetCallHistory lists the caller's past and current sessions
// GET /v1/consults
func (h *Handler) GetCallHistory(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	sessions, err := h.sessions.GetUserSessions(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.NewResponse(params, len(sessions), sessions))
}

func parseLimit(c *gin.Context, fallback int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(fallback)))
	if err != nil || limit <= 0 || limit > 200 {
		return fallback
	}
	return limit
}
