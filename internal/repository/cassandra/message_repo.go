package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"healthnexus-backend/internal/domain"
)

// MessageRepository handles in-call chat storage in Cassandra.
// Messages are partitioned by session and daily bucket.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a call message. Messages are append-only.
func (r *MessageRepository) Save(message *domain.CallMessage) error {
	if message.Bucket == 0 {
		message.Bucket = domain.MessageBucket(message.SentAt)
	}

	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO call_messages (
			session_id, bucket, message_id, sender_user_id, body, sent_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		message.SessionID,
		message.Bucket,
		message.MessageID,
		message.SenderUserID,
		message.Body,
		message.SentAt,
	).Exec()

	if err != nil {
		return fmt.Errorf("failed to save call message: %w", err)
	}

	return nil
}

// GetBySessionBucket retrieves messages for one session and daily bucket
// with cursor-based pagination.
func (r *MessageRepository) GetBySessionBucket(
	sessionID uuid.UUID,
	bucket int,
	limit int,
	pageState []byte,
) ([]*domain.CallMessage, []byte, error) {
	query := `
		SELECT session_id, bucket, message_id, sender_user_id, body, sent_at
		FROM call_messages
		WHERE session_id = ? AND bucket = ?
		ORDER BY sent_at ASC
		LIMIT ?
	`

	iter := r.session.Query(query, sessionID, bucket, limit).PageState(pageState).Iter()
	defer iter.Close()

	var messages []*domain.CallMessage

	for {
		message := &domain.CallMessage{}
		if !iter.Scan(
			&message.SessionID,
			&message.Bucket,
			&message.MessageID,
			&message.SenderUserID,
			&message.Body,
			&message.SentAt,
		) {
			break
		}
		messages = append(messages, message)
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch call messages: %w", err)
	}

	nextPageState := iter.PageState()

	return messages, nextPageState, nil
}

// GetBySession retrieves messages for a session across the buckets the call
// can span. Consultations rarely cross midnight, so the range is at most two
// days wide.
func (r *MessageRepository) GetBySession(
	sessionID uuid.UUID,
	startedAt, endedAt time.Time,
	limit int,
) ([]*domain.CallMessage, error) {
	var all []*domain.CallMessage

	for _, bucket := range BucketsForRange(startedAt, endedAt) {
		messages, _, err := r.GetBySessionBucket(sessionID, bucket, limit, nil)
		if err != nil {
			return nil, err
		}
		all = append(all, messages...)

		if len(all) >= limit {
			break
		}
	}

	if len(all) > limit {
		all = all[:limit]
	}

	return all, nil
}

// GetRecent gets messages from the current bucket (most common case for a
// live call).
func (r *MessageRepository) GetRecent(sessionID uuid.UUID, limit int) ([]*domain.CallMessage, error) {
	currentBucket := domain.MessageBucket(time.Now())
	messages, _, err := r.GetBySessionBucket(sessionID, currentBucket, limit, nil)
	return messages, err
}

// GetByID retrieves a specific message
func (r *MessageRepository) GetByID(sessionID uuid.UUID, bucket int, messageID uuid.UUID) (*domain.CallMessage, error) {
	query := `
		SELECT session_id, bucket, message_id, sender_user_id, body, sent_at
		FROM call_messages
		WHERE session_id = ? AND bucket = ? AND message_id = ?
		LIMIT 1
	`

	message := &domain.CallMessage{}
	err := r.session.Query(query, sessionID, bucket, messageID).Scan(
		&message.SessionID,
		&message.Bucket,
		&message.MessageID,
		&message.SenderUserID,
		&message.Body,
		&message.SentAt,
	)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("call message not found")
		}
		return nil, fmt.Errorf("failed to get call message: %w", err)
	}

	return message, nil
}

// BucketsForRange generates the daily bucket list covering a time range
func BucketsForRange(startTime, endTime time.Time) []int {
	var buckets []int

	current := startTime
	for current.Before(endTime) || current.Equal(endTime) {
		buckets = append(buckets, domain.MessageBucket(current))
		current = current.AddDate(0, 0, 1)
	}

	if len(buckets) == 0 {
		buckets = append(buckets, domain.MessageBucket(startTime))
	}

	return buckets
}
