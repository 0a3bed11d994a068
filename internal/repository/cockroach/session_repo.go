package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"healthnexus-backend/internal/domain"
	apperrors "healthnexus-backend/pkg/errors"
)

// SessionRepository handles consultation session data operations
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateSession creates a new session record in pending state.
// A partial unique index on (appointment_id) WHERE status != 'ended'
// enforces one live session per appointment.
func (r *SessionRepository) CreateSession(ctx context.Context, appointmentID, doctorID, patientID uuid.UUID) (*domain.CallSession, error) {
	session := &domain.CallSession{
		SessionID:     uuid.New(),
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		PatientID:     patientID,
		Status:        domain.SessionPending,
	}

	query := `
		INSERT INTO call_sessions (
			session_id, appointment_id, doctor_id, patient_id, status, created_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
	`

	_, err := r.pool.Exec(ctx, query,
		session.SessionID,
		session.AppointmentID,
		session.DoctorID,
		session.PatientID,
		session.Status,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// MarkActive transitions a session to active and records the start time
func (r *SessionRepository) MarkActive(ctx context.Context, sessionID uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE call_sessions
		SET status = 'active', started_at = $2
		WHERE session_id = $1 AND status = 'pending'
	`

	_, err := r.pool.Exec(ctx, query, sessionID, startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark session active: %w", err)
	}

	return nil
}

// MarkEnded transitions a session to ended, computes its duration, and
// forces the recording/transcription flags off whatever their prior value.
func (r *SessionRepository) MarkEnded(ctx context.Context, sessionID uuid.UUID) error {
	query := `
		UPDATE call_sessions
		SET status = 'ended',
		    ended_at = NOW(),
		    duration = COALESCE(EXTRACT(EPOCH FROM (NOW() - started_at))::INT, 0),
		    is_recording = false,
		    is_transcribing = false
		WHERE session_id = $1 AND status != 'ended'
	`

	_, err := r.pool.Exec(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session ended: %w", err)
	}

	return nil
}

// SetTranscribing records whether transcription is running for a session
func (r *SessionRepository) SetTranscribing(ctx context.Context, sessionID uuid.UUID, transcribing bool) error {
	query := `
		UPDATE call_sessions
		SET is_transcribing = $2
		WHERE session_id = $1 AND status = 'active'
	`

	_, err := r.pool.Exec(ctx, query, sessionID, transcribing)
	if err != nil {
		return fmt.Errorf("failed to set transcribing flag: %w", err)
	}

	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	query := `
		SELECT session_id, appointment_id, doctor_id, patient_id, status,
		       started_at, ended_at, COALESCE(duration, 0),
		       is_recording, is_transcribing
		FROM call_sessions
		WHERE session_id = $1
	`

	session := &domain.CallSession{}
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.AppointmentID,
		&session.DoctorID,
		&session.PatientID,
		&session.Status,
		&session.StartedAt,
		&session.EndedAt,
		&session.Duration,
		&session.IsRecording,
		&session.IsTranscribing,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.SessionNotFoundError()
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// GetUserSessions retrieves session history for a user
func (r *SessionRepository) GetUserSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	query := `
		SELECT session_id, appointment_id, doctor_id, patient_id, status,
		       started_at, ended_at, COALESCE(duration, 0),
		       is_recording, is_transcribing
		FROM call_sessions
		WHERE doctor_id = $1 OR patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.CallSession
	for rows.Next() {
		session := &domain.CallSession{}
		err := rows.Scan(
			&session.SessionID,
			&session.AppointmentID,
			&session.DoctorID,
			&session.PatientID,
			&session.Status,
			&session.StartedAt,
			&session.EndedAt,
			&session.Duration,
			&session.IsRecording,
			&session.IsTranscribing,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

// AddParticipant adds a participant to a session roster.
// ON CONFLICT keeps the roster duplicate-free when join is retried.
func (r *SessionRepository) AddParticipant(ctx context.Context, sessionID, userID uuid.UUID, role string) error {
	query := `
		INSERT INTO session_participants (session_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, user_id) DO UPDATE SET left_at = NULL
	`

	_, err := r.pool.Exec(ctx, query, sessionID, userID, role, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}

	return nil
}

// RemoveParticipant marks a participant as having left
func (r *SessionRepository) RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) error {
	query := `
		UPDATE session_participants
		SET left_at = $3
		WHERE session_id = $1 AND user_id = $2
	`

	_, err := r.pool.Exec(ctx, query, sessionID, userID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	return nil
}

// GetParticipants retrieves the current roster for a session
func (r *SessionRepository) GetParticipants(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionParticipant, error) {
	query := `
		SELECT session_id, user_id, role, joined_at, left_at
		FROM session_participants
		WHERE session_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.SessionParticipant
	for rows.Next() {
		p := &domain.SessionParticipant{}
		err := rows.Scan(
			&p.SessionID,
			&p.UserID,
			&p.Role,
			&p.JoinedAt,
			&p.LeftAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, nil
}

// StartRecording inserts a recording row and flips the session flag.
// Returns an error if the session is not active, so the caller never
// reports recording as on without an acknowledged row.
func (r *SessionRepository) StartRecording(ctx context.Context, rec *domain.Recording) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE call_sessions SET is_recording = true
		WHERE session_id = $1 AND status = 'active'
	`, rec.SessionID)
	if err != nil {
		return fmt.Errorf("failed to flag recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session is not active")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO session_recordings (recording_id, session_id, started_by, started_at, object_key)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.RecordingID, rec.SessionID, rec.StartedBy, rec.StartedAt, rec.ObjectKey)
	if err != nil {
		return fmt.Errorf("failed to insert recording: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit recording: %w", err)
	}

	return nil
}

// GetRecordings returns the recordings started during a session
func (r *SessionRepository) GetRecordings(ctx context.Context, sessionID uuid.UUID) ([]*domain.Recording, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT recording_id, session_id, started_by, started_at, object_key
		FROM session_recordings
		WHERE session_id = $1
		ORDER BY started_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get recordings: %w", err)
	}
	defer rows.Close()

	var recordings []*domain.Recording
	for rows.Next() {
		rec := &domain.Recording{}
		if err := rows.Scan(&rec.RecordingID, &rec.SessionID, &rec.StartedBy, &rec.StartedAt, &rec.ObjectKey); err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		recordings = append(recordings, rec)
	}
	return recordings, rows.Err()
}

// SaveScreenshot stores a screenshot frame reference
func (r *SessionRepository) SaveScreenshot(ctx context.Context, shot *domain.Screenshot) error {
	query := `
		INSERT INTO session_screenshots (
			screenshot_id, session_id, requested_by, description, object_key, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		shot.ScreenshotID,
		shot.SessionID,
		shot.RequestedBy,
		shot.Description,
		shot.ObjectKey,
		shot.CapturedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}

	return nil
}

// GetScreenshots returns the frames captured during a session
func (r *SessionRepository) GetScreenshots(ctx context.Context, sessionID uuid.UUID) ([]*domain.Screenshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT screenshot_id, session_id, requested_by, description, object_key, captured_at
		FROM session_screenshots
		WHERE session_id = $1
		ORDER BY captured_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get screenshots: %w", err)
	}
	defer rows.Close()

	var shots []*domain.Screenshot
	for rows.Next() {
		shot := &domain.Screenshot{}
		if err := rows.Scan(&shot.ScreenshotID, &shot.SessionID, &shot.RequestedBy, &shot.Description, &shot.ObjectKey, &shot.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan screenshot: %w", err)
		}
		shots = append(shots, shot)
	}
	return shots, rows.Err()
}

// DeleteScreenshot removes a screenshot row and returns its object key so
// the caller can drop the stored frame as well
func (r *SessionRepository) DeleteScreenshot(ctx context.Context, sessionID, screenshotID uuid.UUID) (string, error) {
	var objectKey string
	err := r.pool.QueryRow(ctx, `
		DELETE FROM session_screenshots
		WHERE session_id = $1 AND screenshot_id = $2
		RETURNING object_key
	`, sessionID, screenshotID).Scan(&objectKey)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", apperrors.NotFoundError("Screenshot")
		}
		return "", fmt.Errorf("failed to delete screenshot: %w", err)
	}
	return objectKey, nil
}
