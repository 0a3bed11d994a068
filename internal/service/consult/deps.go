package consult

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"healthnexus-backend/internal/domain"
	"healthnexus-backend/internal/realtime"
	"healthnexus-backend/internal/transport"
	"healthnexus-backend/pkg/push"
)

// SessionStore persists sessions, participants, recordings and screenshots
type SessionStore interface {
	CreateSession(ctx context.Context, appointmentID, doctorID, patientID uuid.UUID) (*domain.CallSession, error)
	MarkActive(ctx context.Context, sessionID uuid.UUID, startedAt time.Time) error
	MarkEnded(ctx context.Context, sessionID uuid.UUID) error
	SetTranscribing(ctx context.Context, sessionID uuid.UUID, transcribing bool) error
	GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error)
	GetUserSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error)
	AddParticipant(ctx context.Context, sessionID, userID uuid.UUID, role string) error
	RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) error
	GetParticipants(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionParticipant, error)
	StartRecording(ctx context.Context, rec *domain.Recording) error
	SaveScreenshot(ctx context.Context, shot *domain.Screenshot) error
}

// NoteStore persists medical notes
type NoteStore interface {
	SaveMedicalNote(ctx context.Context, note *domain.MedicalNote) (*domain.MedicalNote, error)
	GetMedicalNotes(ctx context.Context, sessionID uuid.UUID) ([]*domain.MedicalNote, error)
}

// MessageStore persists in-call chat messages
type MessageStore interface {
	Save(message *domain.CallMessage) error
	GetRecent(sessionID uuid.UUID, limit int) ([]*domain.CallMessage, error)
}

// Transcriber runs speech-to-text per session
type Transcriber interface {
	Start(ctx context.Context, sessionID uuid.UUID) error
	Stop(sessionID uuid.UUID) error
	Active(sessionID uuid.UUID) bool
}

// Notifier delivers call-related push notifications
type Notifier interface {
	SendCallInvitation(ctx context.Context, data *push.CallInvitationData, patientID uuid.UUID) error
	SendCallEndedNotification(ctx context.Context, sessionID uuid.UUID, duration int64, userIDs []uuid.UUID) error
}

// EventSubscription delivers one session's bus events until closed
type EventSubscription interface {
	Signaling() <-chan *realtime.Event
	ParticipantUpdates() <-chan *realtime.Event
	Close() error
}

// EventBus is the session event fan-out the controller subscribes to
type EventBus interface {
	Subscribe(ctx context.Context, sessionID uuid.UUID) (EventSubscription, error)
	PublishParticipantUpdate(ctx context.Context, sessionID uuid.UUID, participants []realtime.ParticipantInfo) error
}

// RealtimeBus adapts the concrete Redis bus to the EventBus interface
type RealtimeBus struct {
	Bus *realtime.Bus
}

// Subscribe implements EventBus
func (b RealtimeBus) Subscribe(ctx context.Context, sessionID uuid.UUID) (EventSubscription, error) {
	return b.Bus.Subscribe(ctx, sessionID)
}

// PublishParticipantUpdate implements EventBus
func (b RealtimeBus) PublishParticipantUpdate(ctx context.Context, sessionID uuid.UUID, participants []realtime.ParticipantInfo) error {
	return b.Bus.PublishParticipantUpdate(ctx, sessionID, participants)
}

// ArtifactUploader stores captured frames in object storage
type ArtifactUploader interface {
	PutScreenshot(ctx context.Context, sessionID, screenshotID uuid.UUID, frame io.Reader, size int64) (string, error)
}

// StreamSink receives the local media stream once acquired, e.g. a local
// preview renderer or a recording pipeline.
type StreamSink interface {
	Bind(stream *transport.MediaStream) error
	Release()
}

// Notice is a human-readable status line surfaced to the user. Raw errors
// never cross this boundary.
type Notice string

const (
	NoticeCallStartFailed     Notice = "couldn't start call"
	NoticeTranscriptionFailed Notice = "couldn't start transcription"
	NoticeNoteSaveFailed      Notice = "couldn't save note"
	NoticeCallEnded           Notice = "call ended"
	NoticeCallEndedWithErrors Notice = "call ended with errors"
)
