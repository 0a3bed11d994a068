package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallMessage is one chat message exchanged over a session's data channel.
// Messages are append-only and ordered by arrival; no reordering or
// deduplication happens beyond what the channel itself guarantees.
type CallMessage struct {
	MessageID    uuid.UUID `json:"message_id" cql:"message_id"`
	SessionID    uuid.UUID `json:"session_id" cql:"session_id"`
	SenderUserID uuid.UUID `json:"sender_user_id" cql:"sender_user_id"`
	Body         string    `json:"body" cql:"body"`
	SentAt       time.Time `json:"sent_at" cql:"sent_at"`

	// Bucket is the Cassandra partition bucket, derived from SentAt.
	Bucket int `json:"-" cql:"bucket"`
}

// MessageBucket returns the daily partition bucket for a timestamp.
// Bucketing keeps one session's message partition from growing unbounded.
func MessageBucket(t time.Time) int {
	return t.UTC().Year()*10000 + int(t.UTC().Month())*100 + t.UTC().Day()
}
