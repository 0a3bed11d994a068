package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a consultation session.
// Transitions are forward-only: pending -> active -> ended.
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// CallSession represents one video-consultation instance, scoped to a
// single appointment.
type CallSession struct {
	SessionID     uuid.UUID     `json:"session_id"`
	AppointmentID uuid.UUID     `json:"appointment_id"`
	DoctorID      uuid.UUID     `json:"doctor_id"`
	PatientID     uuid.UUID     `json:"patient_id"`
	Status        SessionStatus `json:"status"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	Duration      int           `json:"duration,omitempty"` // in seconds

	IsRecording    bool `json:"is_recording"`
	IsTranscribing bool `json:"is_transcribing"`
}

// SessionParticipant represents one user currently joined to a session.
type SessionParticipant struct {
	SessionID uuid.UUID  `json:"session_id"`
	UserID    uuid.UUID  `json:"user_id"`
	Role      string     `json:"role"` // doctor, patient
	JoinedAt  time.Time  `json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
}

// Screenshot is a stored frame reference captured during a session.
// Frame data itself lives in object storage; this row only tags who took
// it and why.
type Screenshot struct {
	ScreenshotID uuid.UUID `json:"screenshot_id"`
	SessionID    uuid.UUID `json:"session_id"`
	RequestedBy  uuid.UUID `json:"requested_by"`
	Description  string    `json:"description,omitempty"`
	ObjectKey    string    `json:"object_key,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Recording marks that server-side recording was started for a session.
type Recording struct {
	RecordingID uuid.UUID  `json:"recording_id"`
	SessionID   uuid.UUID  `json:"session_id"`
	StartedBy   uuid.UUID  `json:"started_by"`
	StartedAt   time.Time  `json:"started_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	ObjectKey   string     `json:"object_key,omitempty"`
}
