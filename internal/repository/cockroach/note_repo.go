package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"healthnexus-backend/internal/domain"
)

// NoteRepository handles medical note and transcript storage
type NoteRepository struct {
	pool *pgxpool.Pool
}

// NewNoteRepository creates a new note repository
func NewNoteRepository(pool *pgxpool.Pool) *NoteRepository {
	return &NoteRepository{pool: pool}
}

// SaveMedicalNote inserts a new medical note. Notes are create-only.
func (r *NoteRepository) SaveMedicalNote(ctx context.Context, note *domain.MedicalNote) (*domain.MedicalNote, error) {
	if note.NoteID == uuid.Nil {
		note.NoteID = uuid.New()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO medical_notes (
			note_id, session_id, author_user_id, note_type, content,
			timestamp_in_call, is_prescription, medication_name, dosage, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		note.NoteID,
		note.SessionID,
		note.AuthorUserID,
		note.NoteType,
		note.Content,
		note.TimestampInCall,
		note.IsPrescription,
		note.MedicationName,
		note.Dosage,
		note.CreatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to save medical note: %w", err)
	}

	return note, nil
}

// GetMedicalNotes retrieves all notes for a session ordered by in-call time
func (r *NoteRepository) GetMedicalNotes(ctx context.Context, sessionID uuid.UUID) ([]*domain.MedicalNote, error) {
	query := `
		SELECT note_id, session_id, author_user_id, note_type, content,
		       timestamp_in_call, is_prescription, medication_name, dosage, created_at
		FROM medical_notes
		WHERE session_id = $1
		ORDER BY timestamp_in_call ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get medical notes: %w", err)
	}
	defer rows.Close()

	var notes []*domain.MedicalNote
	for rows.Next() {
		note := &domain.MedicalNote{}
		err := rows.Scan(
			&note.NoteID,
			&note.SessionID,
			&note.AuthorUserID,
			&note.NoteType,
			&note.Content,
			&note.TimestampInCall,
			&note.IsPrescription,
			&note.MedicationName,
			&note.Dosage,
			&note.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan medical note: %w", err)
		}
		notes = append(notes, note)
	}

	return notes, nil
}

// SaveTranscriptSegment stores one timed speech-to-text chunk
func (r *NoteRepository) SaveTranscriptSegment(ctx context.Context, seg *domain.TranscriptSegment) error {
	if seg.SegmentID == uuid.Nil {
		seg.SegmentID = uuid.New()
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO transcript_segments (
			segment_id, session_id, speaker_user_id, text, timestamp_in_call, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		seg.SegmentID,
		seg.SessionID,
		seg.SpeakerUserID,
		seg.Text,
		seg.TimestampInCall,
		seg.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save transcript segment: %w", err)
	}

	return nil
}

// GetTranscript retrieves all transcript segments for a session
func (r *NoteRepository) GetTranscript(ctx context.Context, sessionID uuid.UUID) ([]*domain.TranscriptSegment, error) {
	query := `
		SELECT segment_id, session_id, speaker_user_id, text, timestamp_in_call, created_at
		FROM transcript_segments
		WHERE session_id = $1
		ORDER BY timestamp_in_call ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	defer rows.Close()

	var segments []*domain.TranscriptSegment
	for rows.Next() {
		seg := &domain.TranscriptSegment{}
		err := rows.Scan(
			&seg.SegmentID,
			&seg.SessionID,
			&seg.SpeakerUserID,
			&seg.Text,
			&seg.TimestampInCall,
			&seg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript segment: %w", err)
		}
		segments = append(segments, seg)
	}

	return segments, nil
}
