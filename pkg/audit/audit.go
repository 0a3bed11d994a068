package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"healthnexus-backend/pkg/constants"
)

// EventType classifies an audited action
type EventType string

const (
	// Consultation lifecycle events
	EventCallStart EventType = "call_start"
	EventCallEnd   EventType = "call_end"

	// Clinical record events
	EventNoteCreate        EventType = "note_create"
	EventTranscriptionOn   EventType = "transcription_start"
	EventTranscriptionOff  EventType = "transcription_stop"
	EventRecordingStart    EventType = "recording_start"
	EventScreenshotCapture EventType = "screenshot_capture"

	// Device events
	EventPushTokenRegister   EventType = "push_token_register"
	EventPushTokenUnregister EventType = "push_token_unregister"
)

// Event is one audit log entry
type Event struct {
	EventID   uuid.UUID `json:"event_id"`
	UserID    uuid.UUID `json:"user_id"`
	EventType EventType `json:"event_type"`
	SessionID uuid.UUID `json:"session_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Success   bool      `json:"success"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger stores audit events in Redis, one list per day, expired after
// the retention window
type Logger struct {
	client *redis.Client
}

// NewLogger creates an audit logger
func NewLogger(client *redis.Client) *Logger {
	return &Logger{client: client}
}

func dayKey(t time.Time) string {
	return fmt.Sprintf("audit:events:%s", t.Format("2006-01-02"))
}

// Log records one audit event
func (l *Logger) Log(ctx context.Context, event *Event) error {
	event.Timestamp = time.Now().UTC()
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	key := dayKey(event.Timestamp)
	if err := l.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}
	if err := l.client.Expire(ctx, key, constants.AuditLogRetention).Err(); err != nil {
		return fmt.Errorf("failed to set audit log expiry: %w", err)
	}

	return nil
}

// LogCallStart records that a user started a consultation call
func (l *Logger) LogCallStart(ctx context.Context, userID, sessionID uuid.UUID, ipAddress string, success bool) error {
	return l.Log(ctx, &Event{
		UserID:    userID,
		EventType: EventCallStart,
		SessionID: sessionID,
		IPAddress: ipAddress,
		Success:   success,
	})
}

// LogCallEnd records that a user ended a consultation call
func (l *Logger) LogCallEnd(ctx context.Context, userID, sessionID uuid.UUID, ipAddress string, durationSeconds int) error {
	return l.Log(ctx, &Event{
		UserID:    userID,
		EventType: EventCallEnd,
		SessionID: sessionID,
		IPAddress: ipAddress,
		Success:   true,
		Details:   fmt.Sprintf("duration: %d seconds", durationSeconds),
	})
}

// LogNoteCreate records that a doctor saved a medical note
func (l *Logger) LogNoteCreate(ctx context.Context, userID, sessionID uuid.UUID, ipAddress, noteType string) error {
	return l.Log(ctx, &Event{
		UserID:    userID,
		EventType: EventNoteCreate,
		SessionID: sessionID,
		IPAddress: ipAddress,
		Success:   true,
		Details:   noteType,
	})
}

// LogRecordingStart records that recording was enabled on a session
func (l *Logger) LogRecordingStart(ctx context.Context, userID, sessionID uuid.UUID, ipAddress string) error {
	return l.Log(ctx, &Event{
		UserID:    userID,
		EventType: EventRecordingStart,
		SessionID: sessionID,
		IPAddress: ipAddress,
		Success:   true,
	})
}

// LogScreenshotCapture records a captured frame
func (l *Logger) LogScreenshotCapture(ctx context.Context, userID, sessionID uuid.UUID, ipAddress string) error {
	return l.Log(ctx, &Event{
		UserID:    userID,
		EventType: EventScreenshotCapture,
		SessionID: sessionID,
		IPAddress: ipAddress,
		Success:   true,
	})
}

// GetUserEvents returns a user's audit events over the retention window,
// newest day first
func (l *Logger) GetUserEvents(ctx context.Context, userID uuid.UUID, limit int) ([]*Event, error) {
	now := time.Now().UTC()
	var events []*Event

	for i := 0; i < 90 && len(events) < limit; i++ {
		key := dayKey(now.AddDate(0, 0, -i))

		members, err := l.client.LRange(ctx, key, 0, int64(limit)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get audit events: %w", err)
		}

		for _, member := range members {
			var event Event
			if err := json.Unmarshal([]byte(member), &event); err != nil {
				continue
			}
			if event.UserID == userID {
				events = append(events, &event)
				if len(events) == limit {
					break
				}
			}
		}
	}

	return events, nil
}
