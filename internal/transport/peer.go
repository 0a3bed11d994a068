package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthnexus-backend/internal/realtime"
	"healthnexus-backend/pkg/logger"
)

// Signaling message types exchanged between peers.
const (
	signalTypeOffer        = "offer"
	signalTypeAnswer       = "answer"
	signalTypeICECandidate = "ice-candidate"
	signalTypeStream       = "stream"
	signalTypeTrackState   = "track-state"
	signalTypeChat         = "chat"
)

type streamAnnouncement struct {
	StreamID string `json:"stream_id"`
	Doctor   bool   `json:"doctor"`
	Tracks   []struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"tracks"`
}

type trackStateUpdate struct {
	TrackID string `json:"track_id"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

type chatPayload struct {
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// PeerTransport negotiates media for one session participant and relays
// signaling and chat through the session event bus.
type PeerTransport struct {
	userID  uuid.UUID
	devices MediaDevices
	bus     *realtime.Bus

	mu          sync.Mutex
	sessionID   uuid.UUID
	isDoctor    bool
	sub         *realtime.Subscription
	localStream *MediaStream
	cameraTrack *Track
	shareStream *MediaStream
	ended       bool

	remoteStreams chan *RemoteStream
	messages      chan *InboundMessage
	forwardDone   chan struct{}
}

// NewPeerTransport creates a transport for one user
func NewPeerTransport(userID uuid.UUID, devices MediaDevices, bus *realtime.Bus) *PeerTransport {
	return &PeerTransport{
		userID:        userID,
		devices:       devices,
		bus:           bus,
		remoteStreams: make(chan *RemoteStream, 8),
		messages:      make(chan *InboundMessage, 64),
	}
}

// InitializeSession captures audio and video, subscribes to the session
// channel and announces the local stream to peers. isDoctor marks the
// clinician side in the stream announcement.
func (p *PeerTransport) InitializeSession(ctx context.Context, sessionID uuid.UUID, isDoctor bool) (*MediaStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended {
		return nil, fmt.Errorf("transport already ended")
	}
	if p.localStream != nil {
		return nil, fmt.Errorf("session already initialized")
	}

	stream, err := p.devices.GetUserMedia(ctx, MediaConstraints{Audio: true, Video: true})
	if err != nil {
		return nil, fmt.Errorf("failed to capture local media: %w", err)
	}

	sub, err := p.bus.Subscribe(ctx, sessionID)
	if err != nil {
		stream.StopAll()
		return nil, err
	}

	p.sessionID = sessionID
	p.isDoctor = isDoctor
	p.sub = sub
	p.localStream = stream
	if videos := stream.TracksByKind(TrackKindVideo); len(videos) > 0 {
		p.cameraTrack = videos[0]
	}

	p.forwardDone = make(chan struct{})
	go p.forwardEvents(sub)

	if err := p.announceStream(ctx, stream); err != nil {
		logger.Warn("Failed to announce local stream",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}

	return stream, nil
}

func (p *PeerTransport) announceStream(ctx context.Context, stream *MediaStream) error {
	ann := streamAnnouncement{StreamID: stream.ID, Doctor: p.isDoctor}
	for _, t := range stream.Tracks() {
		ann.Tracks = append(ann.Tracks, struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
		}{ID: t.ID, Kind: string(t.Kind)})
	}

	data, err := json.Marshal(&ann)
	if err != nil {
		return err
	}

	return p.bus.PublishSignaling(ctx, p.sessionID, p.userID, &realtime.SignalingPayload{
		Type: signalTypeStream,
		Data: data,
	})
}

// forwardEvents turns bus events into remote streams and inbound messages
func (p *PeerTransport) forwardEvents(sub *realtime.Subscription) {
	defer close(p.forwardDone)

	for event := range sub.Signaling() {
		// Skip our own published events
		if event.SenderID == p.userID {
			continue
		}

		var payload realtime.SignalingPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			logger.Warn("Failed to decode signaling payload",
				zap.String("session_id", p.sessionID.String()),
				zap.Error(err))
			continue
		}

		switch payload.Type {
		case signalTypeStream:
			var ann streamAnnouncement
			if err := json.Unmarshal(payload.Data, &ann); err != nil {
				continue
			}
			var tracks []*Track
			for _, t := range ann.Tracks {
				tracks = append(tracks, NewTrack(t.ID, TrackKind(t.Kind)))
			}
			remote := &RemoteStream{
				UserID: event.SenderID,
				Stream: NewMediaStream(ann.StreamID, tracks...),
			}
			select {
			case p.remoteStreams <- remote:
			default:
				logger.Warn("Remote stream dropped: consumer too slow",
					zap.String("session_id", p.sessionID.String()))
			}

		case signalTypeChat:
			var chat chatPayload
			if err := json.Unmarshal(payload.Data, &chat); err != nil {
				continue
			}
			msg := &InboundMessage{
				SenderID: event.SenderID,
				Body:     chat.Body,
				SentAt:   chat.SentAt,
			}
			select {
			case p.messages <- msg:
			default:
				logger.Warn("Inbound message dropped: consumer too slow",
					zap.String("session_id", p.sessionID.String()))
			}

		case signalTypeOffer, signalTypeAnswer, signalTypeICECandidate:
			// Negotiation messages targeted at other peers are ignored
			if payload.TargetID != uuid.Nil && payload.TargetID != p.userID {
				continue
			}
			logger.Debug("Negotiation message received",
				zap.String("session_id", p.sessionID.String()),
				zap.String("type", payload.Type),
				zap.String("sender_id", event.SenderID.String()))
		}
	}
}

// ToggleVideo flips the camera track and broadcasts the new state
func (p *PeerTransport) ToggleVideo(ctx context.Context) (bool, error) {
	return p.toggleTrack(ctx, TrackKindVideo)
}

// ToggleAudio flips the microphone track and broadcasts the new state
func (p *PeerTransport) ToggleAudio(ctx context.Context) (bool, error) {
	return p.toggleTrack(ctx, TrackKindAudio)
}

func (p *PeerTransport) toggleTrack(ctx context.Context, kind TrackKind) (bool, error) {
	p.mu.Lock()
	if p.ended || p.localStream == nil {
		p.mu.Unlock()
		return false, fmt.Errorf("transport not active")
	}

	tracks := p.localStream.TracksByKind(kind)
	if len(tracks) == 0 {
		p.mu.Unlock()
		return false, fmt.Errorf("no %s track available", kind)
	}

	track := tracks[0]
	newState := !track.Enabled()
	track.SetEnabled(newState)
	sessionID := p.sessionID
	p.mu.Unlock()

	update := trackStateUpdate{TrackID: track.ID, Kind: string(kind), Enabled: newState}
	data, _ := json.Marshal(&update)
	if err := p.bus.PublishSignaling(ctx, sessionID, p.userID, &realtime.SignalingPayload{
		Type: signalTypeTrackState,
		Data: data,
	}); err != nil {
		logger.Warn("Failed to broadcast track state",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}

	return newState, nil
}

// StartScreenShare captures the display and substitutes it for the camera.
// Returns (nil, nil) when the user cancels the picker.
func (p *PeerTransport) StartScreenShare(ctx context.Context) (*MediaStream, error) {
	p.mu.Lock()
	if p.ended || p.localStream == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("transport not active")
	}
	if p.shareStream != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("screen share already active")
	}
	p.mu.Unlock()

	share, err := p.devices.GetDisplayMedia(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture display: %w", err)
	}
	if share == nil {
		// User dismissed the picker
		return nil, nil
	}

	p.mu.Lock()
	p.shareStream = share
	if p.cameraTrack != nil {
		p.cameraTrack.SetEnabled(false)
	}
	p.mu.Unlock()

	if err := p.announceStream(ctx, share); err != nil {
		logger.Warn("Failed to announce share stream",
			zap.String("session_id", p.sessionID.String()),
			zap.Error(err))
	}

	return share, nil
}

// StopScreenShare releases the display capture and restores the camera.
// Stopping when no share is active is a no-op.
func (p *PeerTransport) StopScreenShare(ctx context.Context) error {
	p.mu.Lock()
	share := p.shareStream
	p.shareStream = nil
	if share != nil && p.cameraTrack != nil {
		p.cameraTrack.SetEnabled(true)
	}
	p.mu.Unlock()

	if share != nil {
		share.StopAll()
	}
	return nil
}

// SendMessage sends a chat message to the other participant
func (p *PeerTransport) SendMessage(ctx context.Context, body string) error {
	p.mu.Lock()
	if p.ended || p.localStream == nil {
		p.mu.Unlock()
		return fmt.Errorf("transport not active")
	}
	sessionID := p.sessionID
	p.mu.Unlock()

	data, err := json.Marshal(&chatPayload{Body: body, SentAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	return p.bus.PublishSignaling(ctx, sessionID, p.userID, &realtime.SignalingPayload{
		Type: signalTypeChat,
		Data: data,
	})
}

// HandleSignalingMessage republishes a negotiation message onto the bus
func (p *PeerTransport) HandleSignalingMessage(ctx context.Context, msg *SignalingMessage) error {
	p.mu.Lock()
	if p.ended || p.localStream == nil {
		p.mu.Unlock()
		return fmt.Errorf("transport not active")
	}
	sessionID := p.sessionID
	p.mu.Unlock()

	return p.bus.PublishSignaling(ctx, sessionID, p.userID, &realtime.SignalingPayload{
		Type:     msg.Type,
		TargetID: msg.TargetID,
		Data:     msg.Data,
	})
}

// RemoteStreams implements Transport
func (p *PeerTransport) RemoteStreams() <-chan *RemoteStream {
	return p.remoteStreams
}

// Messages implements Transport
func (p *PeerTransport) Messages() <-chan *InboundMessage {
	return p.messages
}

// End closes the bus subscription and stops all local media. Safe to call
// more than once.
func (p *PeerTransport) End(ctx context.Context) error {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return nil
	}
	p.ended = true
	sub := p.sub
	local := p.localStream
	share := p.shareStream
	forwardDone := p.forwardDone
	p.sub = nil
	p.localStream = nil
	p.shareStream = nil
	p.mu.Unlock()

	var closeErr error
	if sub != nil {
		closeErr = sub.Close()
		if forwardDone != nil {
			<-forwardDone
		}
	}

	if share != nil {
		share.StopAll()
	}
	if local != nil {
		local.StopAll()
	}

	close(p.remoteStreams)
	close(p.messages)

	if closeErr != nil {
		return fmt.Errorf("failed to close session subscription: %w", closeErr)
	}
	return nil
}
