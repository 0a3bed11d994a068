package consult

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthnexus-backend/internal/domain"
	"healthnexus-backend/internal/realtime"
	"healthnexus-backend/internal/service/storage"
	"healthnexus-backend/internal/transport"
	"healthnexus-backend/pkg/constants"
	apperrors "healthnexus-backend/pkg/errors"
	"healthnexus-backend/pkg/jwt"
	"healthnexus-backend/pkg/logger"
	"healthnexus-backend/pkg/metrics"
	"healthnexus-backend/pkg/push"
	"healthnexus-backend/pkg/sanitize"
)

// ControllerConfig carries the identities and collaborators for one
// consultation controller.
type ControllerConfig struct {
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	PatientID     uuid.UUID
	CallerID      uuid.UUID
	CallerRole    string
	CallerName    string

	Sessions    SessionStore
	Notes       NoteStore
	Messages    MessageStore
	Transport   transport.Transport
	Bus         EventBus
	Transcriber Transcriber
	Notifier    Notifier
	Artifacts   ArtifactUploader
	Sink        StreamSink
	Metrics     *metrics.Metrics
}

// Controller orchestrates one live consultation session for one caller.
// External operations synchronize on the controller mutex; bus events,
// inbound messages and the duration tick are owned by a single event-loop
// goroutine.
type Controller struct {
	cfg ControllerConfig

	mu           sync.Mutex
	session      *domain.CallSession
	participants []*domain.SessionParticipant
	notes        []*domain.MedicalNote
	messages     []*domain.CallMessage
	duration     int

	videoToggle *mediaToggle
	audioToggle *mediaToggle
	sharing     bool

	localStream *transport.MediaStream
	sub         EventSubscription
	ticker      *time.Ticker
	loopDone    chan struct{}
	loopCancel  context.CancelFunc

	started bool
	ended   bool

	notices chan Notice
}

// NewController creates a controller in the pending state. StartCall must
// be invoked to bring the session up.
func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		cfg:         cfg,
		videoToggle: newMediaToggle("video", true),
		audioToggle: newMediaToggle("audio", true),
		notices:     make(chan Notice, 16),
	}
}

// Notices delivers human-readable status lines for the UI layer
func (c *Controller) Notices() <-chan Notice {
	return c.notices
}

func (c *Controller) notify(n Notice) {
	select {
	case c.notices <- n:
	default:
		// A stalled consumer must not block call control
	}
}

func (c *Controller) isDoctor() bool {
	return c.cfg.CallerRole == jwt.RoleDoctor
}

// StartCall brings the session from pending to active. The steps run
// strictly in order; a failure at any step releases everything acquired
// so far in reverse order and leaves the session pending.
func (c *Controller) StartCall(ctx context.Context) (*domain.CallSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil, apperrors.ConflictError("call already started")
	}
	if c.ended {
		return nil, apperrors.SessionEndedError()
	}

	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	failed := func(step string, err error) {
		logger.Error("Call start failed",
			zap.String("step", step),
			zap.String("appointment_id", c.cfg.AppointmentID.String()),
			zap.Error(err))
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordCallStartFailure(step)
			c.cfg.Metrics.RecordCall("start_failed")
		}
		c.notify(NoticeCallStartFailed)
		rollback()
	}

	// Step 1: create the session record
	session, err := c.cfg.Sessions.CreateSession(ctx, c.cfg.AppointmentID, c.cfg.DoctorID, c.cfg.PatientID)
	if err != nil {
		failed("create_session", err)
		return nil, apperrors.CallStartError(err)
	}
	c.session = session

	// Step 2: acquire local media
	stream, err := c.cfg.Transport.InitializeSession(ctx, session.SessionID, c.isDoctor())
	if err != nil {
		failed("acquire_media", err)
		return nil, apperrors.MediaCaptureError(err)
	}
	c.localStream = stream
	undo = append(undo, func() {
		endCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		defer cancel()
		if err := c.cfg.Transport.End(endCtx); err != nil {
			logger.Warn("Failed to release transport during rollback", zap.Error(err))
		}
		c.localStream = nil
	})

	// Step 3: bind the stream to its sink
	if c.cfg.Sink != nil {
		if err := c.cfg.Sink.Bind(stream); err != nil {
			failed("bind_sink", err)
			return nil, apperrors.CallStartError(err)
		}
		undo = append(undo, c.cfg.Sink.Release)
	}

	// Step 4: subscribe to the session's event channels
	sub, err := c.cfg.Bus.Subscribe(ctx, session.SessionID)
	if err != nil {
		failed("subscribe", err)
		return nil, apperrors.CallStartError(err)
	}
	c.sub = sub
	undo = append(undo, func() {
		if err := sub.Close(); err != nil {
			logger.Warn("Failed to close subscription during rollback", zap.Error(err))
		}
		c.sub = nil
	})

	// Step 5: mark active and start the clock
	startedAt := time.Now()
	if err := c.cfg.Sessions.MarkActive(ctx, session.SessionID, startedAt); err != nil {
		failed("mark_active", err)
		return nil, apperrors.CallStartError(err)
	}
	session.Status = domain.SessionActive
	session.StartedAt = &startedAt
	c.duration = 0

	if err := c.cfg.Sessions.AddParticipant(ctx, session.SessionID, c.cfg.CallerID, c.cfg.CallerRole); err != nil {
		logger.Warn("Failed to register caller as participant",
			zap.String("session_id", session.SessionID.String()),
			zap.Error(err))
	}
	if participants, err := c.cfg.Sessions.GetParticipants(ctx, session.SessionID); err != nil {
		logger.Warn("Failed to load participants",
			zap.String("session_id", session.SessionID.String()),
			zap.Error(err))
	} else {
		c.participants = participants
	}
	c.announceRoster(ctx, session.SessionID, c.participants)

	c.ticker = time.NewTicker(constants.CallDurationTickInterval)
	loopCtx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	c.loopDone = make(chan struct{})
	go c.eventLoop(loopCtx)

	c.started = true

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CallStarted()
		c.cfg.Metrics.RecordCall("started")
	}

	// The patient is invited once the doctor's side is up. Delivery
	// failure does not affect the call.
	if c.isDoctor() && c.cfg.Notifier != nil {
		data := &push.CallInvitationData{
			SessionID:     session.SessionID,
			AppointmentID: c.cfg.AppointmentID,
			DoctorID:      c.cfg.DoctorID,
			DoctorName:    c.cfg.CallerName,
			Timestamp:     startedAt.Unix(),
		}
		if err := c.cfg.Notifier.SendCallInvitation(ctx, data, c.cfg.PatientID); err != nil {
			logger.Warn("Failed to send call invitation",
				zap.String("session_id", session.SessionID.String()),
				zap.Error(err))
		}
	}

	// Step 6: transcription starts automatically for the doctor.
	// Failure degrades the feature, never the call.
	if c.isDoctor() {
		c.startTranscriptionLocked(ctx)
	}

	logger.Info("Call started",
		zap.String("session_id", session.SessionID.String()),
		zap.String("caller_role", c.cfg.CallerRole))

	return session, nil
}

// startTranscriptionLocked is idempotent via IsTranscribing. Caller holds
// the mutex.
func (c *Controller) startTranscriptionLocked(ctx context.Context) {
	if c.session == nil || c.session.IsTranscribing {
		return
	}

	if err := c.cfg.Transcriber.Start(ctx, c.session.SessionID); err != nil {
		logger.Warn("Transcription failed to start",
			zap.String("session_id", c.session.SessionID.String()),
			zap.Error(err))
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordTranscriptionFailure()
		}
		c.notify(NoticeTranscriptionFailed)
		return
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.TranscriptionStarted()
	}
	c.session.IsTranscribing = true
	if err := c.cfg.Sessions.SetTranscribing(ctx, c.session.SessionID, true); err != nil {
		logger.Warn("Failed to persist transcription flag",
			zap.String("session_id", c.session.SessionID.String()),
			zap.Error(err))
	}
}

// StartTranscription turns transcription on mid-call. No-op while already
// transcribing.
func (c *Controller) StartTranscription(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Status != domain.SessionActive {
		return
	}
	c.startTranscriptionLocked(ctx)
}

// StopTranscription is always safe; stopping an idle transcriber is a
// no-op.
func (c *Controller) StopTranscription(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTranscriptionLocked(ctx)
}

func (c *Controller) stopTranscriptionLocked(ctx context.Context) {
	if c.session == nil || !c.session.IsTranscribing {
		return
	}

	if err := c.cfg.Transcriber.Stop(c.session.SessionID); err != nil {
		logger.Warn("Transcription failed to stop cleanly",
			zap.String("session_id", c.session.SessionID.String()),
			zap.Error(err))
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.TranscriptionStopped()
	}
	c.session.IsTranscribing = false
	if err := c.cfg.Sessions.SetTranscribing(ctx, c.session.SessionID, false); err != nil {
		logger.Warn("Failed to persist transcription flag",
			zap.String("session_id", c.session.SessionID.String()),
			zap.Error(err))
	}
}

// eventLoop owns bus events, inbound transport traffic and the duration
// tick for the life of the call.
func (c *Controller) eventLoop(ctx context.Context) {
	defer close(c.loopDone)

	// Closed channels are nilled out so the select never spins on them
	participantEvents := c.sub.ParticipantUpdates()
	signalingEvents := c.sub.Signaling()
	inbound := c.cfg.Transport.Messages()
	remotes := c.cfg.Transport.RemoteStreams()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.ticker.C:
			c.mu.Lock()
			if c.session != nil && c.session.StartedAt != nil && c.session.Status == domain.SessionActive {
				elapsed := int(time.Since(*c.session.StartedAt).Seconds())
				if elapsed > c.duration {
					c.duration = elapsed
				}
			}
			c.mu.Unlock()

		case _, ok := <-participantEvents:
			if !ok {
				participantEvents = nil
				continue
			}
			c.refreshParticipants(ctx)

		case _, ok := <-signalingEvents:
			if !ok {
				signalingEvents = nil
				continue
			}
			// Negotiation traffic is the transport's concern; the
			// controller only drains its copy of the channel.

		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			c.handleInboundMessage(ctx, msg)

		case remote, ok := <-remotes:
			if !ok {
				remotes = nil
				continue
			}
			logger.Info("Remote stream attached",
				zap.String("session_id", c.sessionIDString()),
				zap.String("user_id", remote.UserID.String()))
		}
	}
}

func (c *Controller) sessionIDString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.SessionID.String()
}

// refreshParticipants replaces the roster wholesale with the latest fetch
func (c *Controller) refreshParticipants(ctx context.Context) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return
	}

	participants, err := c.cfg.Sessions.GetParticipants(ctx, session.SessionID)
	if err != nil {
		logger.Warn("Failed to load participants",
			zap.String("session_id", session.SessionID.String()),
			zap.Error(err))
		return
	}

	c.mu.Lock()
	c.participants = participants
	c.mu.Unlock()
}

// announceRoster publishes the current roster so the other side refetches.
// Best effort; a lost announcement is corrected by the next one.
func (c *Controller) announceRoster(ctx context.Context, sessionID uuid.UUID, participants []*domain.SessionParticipant) {
	if c.cfg.Bus == nil {
		return
	}
	info := make([]realtime.ParticipantInfo, 0, len(participants))
	for _, p := range participants {
		info = append(info, realtime.ParticipantInfo{
			UserID:   p.UserID,
			Role:     p.Role,
			JoinedAt: p.JoinedAt,
		})
	}
	if err := c.cfg.Bus.PublishParticipantUpdate(ctx, sessionID, info); err != nil {
		logger.Warn("Failed to publish participant update",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
}

func (c *Controller) handleInboundMessage(ctx context.Context, msg *transport.InboundMessage) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return
	}

	message := &domain.CallMessage{
		SessionID:    session.SessionID,
		SenderUserID: msg.SenderID,
		Body:         msg.Body,
		SentAt:       msg.SentAt,
	}

	c.mu.Lock()
	c.messages = append(c.messages, message)
	c.mu.Unlock()

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordMessage("inbound")
	}

	// Not persisted here: the sending side already saved its outbound
	// copy, so a second write would duplicate the row.
}

// ToggleVideo flips the local camera track and returns the confirmed state
func (c *Controller) ToggleVideo(ctx context.Context) (bool, error) {
	return c.toggle(ctx, c.videoToggle, c.cfg.Transport.ToggleVideo)
}

// ToggleAudio flips the local microphone track and returns the confirmed
// state
func (c *Controller) ToggleAudio(ctx context.Context) (bool, error) {
	return c.toggle(ctx, c.audioToggle, c.cfg.Transport.ToggleAudio)
}

func (c *Controller) toggle(ctx context.Context, t *mediaToggle, flip func(context.Context) (bool, error)) (bool, error) {
	c.mu.Lock()
	if c.session == nil || c.session.Status != domain.SessionActive {
		c.mu.Unlock()
		return false, apperrors.ConflictError("call is not active")
	}
	if err := t.begin(); err != nil {
		enabled := t.Enabled()
		c.mu.Unlock()
		return enabled, apperrors.ConflictError(err.Error())
	}
	c.mu.Unlock()

	newState, err := flip(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		t.fail()
		return t.Enabled(), apperrors.InternalError("failed to toggle "+t.name, err)
	}
	t.confirm(newState)
	return newState, nil
}

// VideoEnabled reads back the last confirmed camera state
func (c *Controller) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoToggle.Enabled()
}

// AudioEnabled reads back the last confirmed microphone state
func (c *Controller) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioToggle.Enabled()
}

// ToggleScreenShare starts or stops screen sharing. The user dismissing
// the OS picker means "stay not sharing" and is not an error.
func (c *Controller) ToggleScreenShare(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.session == nil || c.session.Status != domain.SessionActive {
		c.mu.Unlock()
		return false, apperrors.ConflictError("call is not active")
	}
	sharing := c.sharing
	c.mu.Unlock()

	if sharing {
		if err := c.cfg.Transport.StopScreenShare(ctx); err != nil {
			return true, apperrors.InternalError("failed to stop screen share", err)
		}
		c.mu.Lock()
		c.sharing = false
		c.mu.Unlock()
		return false, nil
	}

	stream, err := c.cfg.Transport.StartScreenShare(ctx)
	if err != nil {
		return false, apperrors.InternalError("failed to start screen share", err)
	}
	if stream == nil {
		// Picker dismissed
		return false, nil
	}

	c.mu.Lock()
	c.sharing = true
	c.mu.Unlock()
	return true, nil
}

// ScreenSharing reads back the share state
func (c *Controller) ScreenSharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

// SendMessage sends a chat message on the live call and appends it to the
// local view optimistically.
func (c *Controller) SendMessage(ctx context.Context, body string) (*domain.CallMessage, error) {
	body = sanitize.CleanText(body)
	if body == "" {
		return nil, apperrors.MissingFieldError("body")
	}
	if len(body) > constants.MaxCallMessageLength {
		return nil, apperrors.ValidationError("message too long")
	}

	c.mu.Lock()
	if c.session == nil || c.session.Status != domain.SessionActive {
		c.mu.Unlock()
		return nil, apperrors.ConflictError("call is not active")
	}
	session := c.session
	c.mu.Unlock()

	message := &domain.CallMessage{
		MessageID:    uuid.New(),
		SessionID:    session.SessionID,
		SenderUserID: c.cfg.CallerID,
		Body:         body,
		SentAt:       time.Now(),
	}

	// Optimistic append; the channel only ever delivers inbound traffic
	c.mu.Lock()
	c.messages = append(c.messages, message)
	c.mu.Unlock()

	if err := c.cfg.Transport.SendMessage(ctx, body); err != nil {
		return nil, apperrors.InternalError("failed to send message", err)
	}

	if err := c.cfg.Messages.Save(message); err != nil {
		logger.Warn("Failed to persist outbound message",
			zap.String("session_id", session.SessionID.String()),
			zap.Error(err))
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordMessage("outbound")
	}

	return message, nil
}

// NoteOption sets optional fields on a medical note
type NoteOption func(*domain.MedicalNote)

// WithPrescription tags the note as a prescription
func WithPrescription(medication, dosage string) NoteOption {
	return func(n *domain.MedicalNote) {
		n.IsPrescription = true
		n.MedicationName = medication
		n.Dosage = dosage
	}
}

// SaveMedicalNote records a note timestamped at the current call offset.
// It is a silent no-op unless the caller is the doctor and the call is
// active.
func (c *Controller) SaveMedicalNote(ctx context.Context, noteType domain.NoteType, content string, opts ...NoteOption) (*domain.MedicalNote, error) {
	c.mu.Lock()
	if !c.isDoctor() || c.session == nil || c.session.Status != domain.SessionActive {
		c.mu.Unlock()
		return nil, nil
	}
	session := c.session
	offset := c.duration
	c.mu.Unlock()

	content = sanitize.CleanText(content)
	if content == "" {
		return nil, apperrors.MissingFieldError("content")
	}
	if len(content) > constants.MaxMedicalNoteLength {
		return nil, apperrors.ValidationError("note too long")
	}

	note := &domain.MedicalNote{
		SessionID:       session.SessionID,
		AuthorUserID:    c.cfg.CallerID,
		NoteType:        noteType,
		Content:         content,
		TimestampInCall: offset,
	}
	for _, opt := range opts {
		opt(note)
	}

	saved, err := c.cfg.Notes.SaveMedicalNote(ctx, note)
	if err != nil {
		logger.Error("Failed to save medical note",
			zap.String("session_id", session.SessionID.String()),
			zap.Error(err))
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordNoteFailure()
		}
		c.notify(NoticeNoteSaveFailed)
		return nil, apperrors.NoteSaveError(err)
	}

	c.mu.Lock()
	c.notes = append(c.notes, saved)
	c.mu.Unlock()

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordNote(string(noteType))
	}

	return saved, nil
}

// StartRecording flags the session as recording. Doctor-only while
// active; the flag flips only after the store acknowledges.
func (c *Controller) StartRecording(ctx context.Context) (*domain.Recording, error) {
	c.mu.Lock()
	if !c.isDoctor() {
		c.mu.Unlock()
		return nil, apperrors.ForbiddenError("only the doctor can start recording")
	}
	if c.session == nil || c.session.Status != domain.SessionActive {
		c.mu.Unlock()
		return nil, apperrors.ConflictError("call is not active")
	}
	if c.session.IsRecording {
		c.mu.Unlock()
		return nil, apperrors.ConflictError("recording already started")
	}
	session := c.session
	c.mu.Unlock()

	recording := &domain.Recording{
		RecordingID: uuid.New(),
		SessionID:   session.SessionID,
		StartedBy:   c.cfg.CallerID,
		StartedAt:   time.Now(),
	}
	recording.ObjectKey = storage.RecordingKey(session.SessionID, recording.RecordingID)

	if err := c.cfg.Sessions.StartRecording(ctx, recording); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeRecording, "failed to start recording", err)
	}

	c.mu.Lock()
	c.session.IsRecording = true
	c.mu.Unlock()

	logger.Info("Recording started",
		zap.String("session_id", session.SessionID.String()),
		zap.String("recording_id", recording.RecordingID.String()))

	return recording, nil
}

// TakeScreenshot stores a frame reference tagged with the requesting user
func (c *Controller) TakeScreenshot(ctx context.Context, description string, frame io.Reader, size int64) (*domain.Screenshot, error) {
	c.mu.Lock()
	if c.session == nil || c.session.Status != domain.SessionActive {
		c.mu.Unlock()
		return nil, apperrors.ConflictError("call is not active")
	}
	session := c.session
	c.mu.Unlock()

	shot := &domain.Screenshot{
		ScreenshotID: uuid.New(),
		SessionID:    session.SessionID,
		RequestedBy:  c.cfg.CallerID,
		Description:  sanitize.CleanText(description),
		CapturedAt:   time.Now(),
	}

	if c.cfg.Artifacts != nil && frame != nil {
		key, err := c.cfg.Artifacts.PutScreenshot(ctx, session.SessionID, shot.ScreenshotID, frame, size)
		if err != nil {
			return nil, apperrors.StorageError(err)
		}
		shot.ObjectKey = key
	}

	if err := c.cfg.Sessions.SaveScreenshot(ctx, shot); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	return shot, nil
}

// EndCall tears the session down through the ordered cleanup list. Every
// step swallows its own failure; the session always reaches ended. A
// second call is a no-op.
func (c *Controller) EndCall(ctx context.Context) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return nil
	}
	c.ended = true
	session := c.session
	finalDuration := c.duration
	c.mu.Unlock()

	if session == nil {
		// Never started; nothing to release
		return nil
	}

	steps := []teardownStep{
		{name: "stop_transport", run: func(ctx context.Context) error {
			return c.cfg.Transport.End(ctx)
		}},
		{name: "persist_ended", run: func(ctx context.Context) error {
			return c.cfg.Sessions.MarkEnded(ctx, session.SessionID)
		}},
		{name: "stop_transcription", run: func(ctx context.Context) error {
			c.mu.Lock()
			transcribing := session.IsTranscribing
			session.IsTranscribing = false
			c.mu.Unlock()
			if !transcribing {
				return nil
			}
			return c.cfg.Transcriber.Stop(session.SessionID)
		}},
		{name: "leave_roster", run: func(ctx context.Context) error {
			if err := c.cfg.Sessions.RemoveParticipant(ctx, session.SessionID, c.cfg.CallerID); err != nil {
				return err
			}
			c.announceRoster(ctx, session.SessionID, nil)
			return nil
		}},
		{name: "cancel_ticker", run: func(ctx context.Context) error {
			if c.ticker != nil {
				c.ticker.Stop()
			}
			if c.loopCancel != nil {
				c.loopCancel()
				<-c.loopDone
			}
			if c.sub != nil {
				return c.sub.Close()
			}
			return nil
		}},
	}

	aggErr := runTeardown(ctx, session.SessionID.String(), steps)

	c.mu.Lock()
	session.Status = domain.SessionEnded
	session.IsRecording = false
	now := time.Now()
	session.EndedAt = &now
	session.Duration = finalDuration
	c.sharing = false
	c.mu.Unlock()

	// Only the doctor's side pushes the ended notification so the patient
	// is not notified twice when both ends hang up.
	if c.isDoctor() && c.cfg.Notifier != nil {
		if err := c.cfg.Notifier.SendCallEndedNotification(ctx, session.SessionID,
			int64(finalDuration), []uuid.UUID{c.cfg.PatientID}); err != nil {
			logger.Warn("Failed to send call ended notification",
				zap.String("session_id", session.SessionID.String()),
				zap.Error(err))
		}
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CallEnded(c.cfg.CallerRole, time.Duration(finalDuration)*time.Second)
		if aggErr != nil {
			c.cfg.Metrics.RecordCall("ended_with_errors")
		} else {
			c.cfg.Metrics.RecordCall("ended")
		}
	}

	if aggErr != nil {
		logger.Warn("Call ended with teardown errors",
			zap.String("session_id", session.SessionID.String()),
			zap.Error(aggErr))
		c.notify(NoticeCallEndedWithErrors)
	} else {
		logger.Info("Call ended",
			zap.String("session_id", session.SessionID.String()),
			zap.Int("duration_seconds", finalDuration))
		c.notify(NoticeCallEnded)
	}

	return aggErr
}

// Session returns a snapshot of the current session state
func (c *Controller) Session() *domain.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	snapshot := *c.session
	return &snapshot
}

// Duration returns the elapsed call time in seconds. It never decreases
// within a session.
func (c *Controller) Duration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Participants returns the current roster snapshot
func (c *Controller) Participants() []*domain.SessionParticipant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.SessionParticipant, len(c.participants))
	copy(out, c.participants)
	return out
}

// Notes returns the notes captured during this call
func (c *Controller) Notes() []*domain.MedicalNote {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.MedicalNote, len(c.notes))
	copy(out, c.notes)
	return out
}

// Messages returns the in-memory chat view, optimistic sends included
func (c *Controller) Messages() []*domain.CallMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.CallMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Ended reports whether EndCall has run
func (c *Controller) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}
