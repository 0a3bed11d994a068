package domain

import (
	"time"

	"github.com/google/uuid"
)

// NoteType categorizes a medical note taken during a consultation.
type NoteType string

const (
	NoteTypeDiagnosis    NoteType = "diagnosis"
	NoteTypeObservation  NoteType = "observation"
	NoteTypePrescription NoteType = "prescription"
	NoteTypeFollowUp     NoteType = "follow_up"
)

// MedicalNote is a structured annotation a doctor attaches to a session.
// Notes are create-only: edits and deletion happen elsewhere, if at all.
// TimestampInCall is the offset in seconds from the session's StartedAt,
// not a wall-clock time.
type MedicalNote struct {
	NoteID          uuid.UUID `json:"note_id"`
	SessionID       uuid.UUID `json:"session_id"`
	AuthorUserID    uuid.UUID `json:"author_user_id"`
	NoteType        NoteType  `json:"note_type"`
	Content         string    `json:"content"`
	TimestampInCall int       `json:"timestamp_in_call"` // seconds from session start

	IsPrescription bool   `json:"is_prescription,omitempty"`
	MedicationName string `json:"medication_name,omitempty"`
	Dosage         string `json:"dosage,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TranscriptSegment is one timed chunk of speech-to-text output for a
// session.
type TranscriptSegment struct {
	SegmentID       uuid.UUID `json:"segment_id"`
	SessionID       uuid.UUID `json:"session_id"`
	SpeakerUserID   uuid.UUID `json:"speaker_user_id"`
	Text            string    `json:"text"`
	TimestampInCall int       `json:"timestamp_in_call"` // seconds from session start
	CreatedAt       time.Time `json:"created_at"`
}
