package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"healthnexus-backend/pkg/logger"
)

// Event kinds carried on a session channel.
const (
	EventKindSignaling         = "signaling"
	EventKindParticipantUpdate = "participant-update"
)

// Event is the envelope published on a session's Redis channel
type Event struct {
	Kind      string          `json:"kind"`
	SessionID uuid.UUID       `json:"session_id"`
	SenderID  uuid.UUID       `json:"sender_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SignalingPayload carries a WebRTC signaling message between peers
type SignalingPayload struct {
	Type     string          `json:"type"` // offer, answer, ice-candidate
	TargetID uuid.UUID       `json:"target_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ParticipantUpdatePayload carries the full participant list for a session.
// Consumers replace their view wholesale rather than applying deltas.
type ParticipantUpdatePayload struct {
	Participants []ParticipantInfo `json:"participants"`
}

// ParticipantInfo describes one connected user
type ParticipantInfo struct {
	UserID   uuid.UUID `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

func sessionChannel(sessionID uuid.UUID) string {
	return fmt.Sprintf("video-call:%s", sessionID)
}

// Bus fans session events between service instances over Redis Pub/Sub
type Bus struct {
	client *redis.Client
}

// NewBus creates a new event bus
func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// PublishSignaling publishes a signaling message to a session's channel
func (b *Bus) PublishSignaling(ctx context.Context, sessionID, senderID uuid.UUID, payload *SignalingPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal signaling payload: %w", err)
	}
	return b.publish(ctx, &Event{
		Kind:      EventKindSignaling,
		SessionID: sessionID,
		SenderID:  senderID,
		Payload:   raw,
		Timestamp: time.Now(),
	})
}

// PublishParticipantUpdate publishes the current participant list for a session
func (b *Bus) PublishParticipantUpdate(ctx context.Context, sessionID uuid.UUID, participants []ParticipantInfo) error {
	raw, err := json.Marshal(&ParticipantUpdatePayload{Participants: participants})
	if err != nil {
		return fmt.Errorf("failed to marshal participant update: %w", err)
	}
	return b.publish(ctx, &Event{
		Kind:      EventKindParticipantUpdate,
		SessionID: sessionID,
		Payload:   raw,
		Timestamp: time.Now(),
	})
}

func (b *Bus) publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, sessionChannel(event.SessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscription delivers one session's events on typed channels until Close
// is called. Each call to Subscribe owns its own Redis subscription.
type Subscription struct {
	sessionID uuid.UUID
	pubsub    *redis.PubSub
	cancel    context.CancelFunc

	signaling    chan *Event
	participants chan *Event
	done         chan struct{}
}

// Subscribe opens a subscription to a session's channel. The returned
// Subscription must be closed by the caller.
func (b *Bus) Subscribe(ctx context.Context, sessionID uuid.UUID) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	pubsub := b.client.Subscribe(subCtx, sessionChannel(sessionID))

	// Confirm the subscription is established before returning
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session channel: %w", err)
	}

	sub := &Subscription{
		sessionID:    sessionID,
		pubsub:       pubsub,
		cancel:       cancel,
		signaling:    make(chan *Event, 64),
		participants: make(chan *Event, 16),
		done:         make(chan struct{}),
	}

	go sub.run(subCtx)

	return sub, nil
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.signaling)
	defer close(s.participants)

	ch := s.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warn("Failed to unmarshal session event",
					zap.String("session_id", s.sessionID.String()),
					zap.Error(err))
				continue
			}

			switch event.Kind {
			case EventKindSignaling:
				select {
				case s.signaling <- &event:
				default:
					logger.Warn("Signaling event dropped: subscriber too slow",
						zap.String("session_id", s.sessionID.String()))
				}
			case EventKindParticipantUpdate:
				select {
				case s.participants <- &event:
				default:
					logger.Warn("Participant update dropped: subscriber too slow",
						zap.String("session_id", s.sessionID.String()))
				}
			default:
				logger.Debug("Ignoring unknown event kind",
					zap.String("session_id", s.sessionID.String()),
					zap.String("kind", event.Kind))
			}
		}
	}
}

// Signaling returns the channel of signaling events. The channel is closed
// when the subscription is closed.
func (s *Subscription) Signaling() <-chan *Event {
	return s.signaling
}

// ParticipantUpdates returns the channel of participant list events
func (s *Subscription) ParticipantUpdates() <-chan *Event {
	return s.participants
}

// Close tears down the Redis subscription and closes the event channels.
// Safe to call more than once.
func (s *Subscription) Close() error {
	s.cancel()
	err := s.pubsub.Close()
	<-s.done
	if err != nil && err != redis.ErrClosed {
		return fmt.Errorf("failed to close subscription: %w", err)
	}
	return nil
}
