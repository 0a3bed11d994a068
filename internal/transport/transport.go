package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrackKind identifies the media type of a track
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Track is a single audio or video track within a stream
type Track struct {
	ID      string
	Kind    TrackKind
	enabled bool
	mu      sync.Mutex
	onStop  func()
}

// NewTrack creates an enabled track
func NewTrack(id string, kind TrackKind) *Track {
	return &Track{ID: id, Kind: kind, enabled: true}
}

// SetEnabled pauses or resumes the track without tearing it down
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// Enabled reports whether the track is live
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// OnStop registers a callback fired once when the track is stopped
func (t *Track) OnStop(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStop = fn
}

// Stop permanently ends the track and releases the underlying capture
func (t *Track) Stop() {
	t.mu.Lock()
	fn := t.onStop
	t.onStop = nil
	t.enabled = false
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// MediaStream groups the tracks captured from one source
type MediaStream struct {
	ID     string
	tracks []*Track
	mu     sync.Mutex
}

// NewMediaStream creates a stream over the given tracks
func NewMediaStream(id string, tracks ...*Track) *MediaStream {
	return &MediaStream{ID: id, tracks: tracks}
}

// Tracks returns all tracks in the stream
func (s *MediaStream) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// TracksByKind returns the tracks of one kind
func (s *MediaStream) TracksByKind(kind TrackKind) []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// StopAll stops every track in the stream
func (s *MediaStream) StopAll() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// MediaConstraints selects which kinds of tracks to capture
type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaDevices abstracts device capture so tests can substitute fakes.
// GetDisplayMedia returns (nil, nil) when the user cancels the picker.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints MediaConstraints) (*MediaStream, error)
	GetDisplayMedia(ctx context.Context) (*MediaStream, error)
}

// RemoteStream pairs a peer's stream with its owner
type RemoteStream struct {
	UserID uuid.UUID
	Stream *MediaStream
}

// InboundMessage is a data-channel chat message received from a peer
type InboundMessage struct {
	SenderID uuid.UUID
	Body     string
	SentAt   time.Time
}

// SignalingMessage is a WebRTC negotiation message relayed via the bus
type SignalingMessage struct {
	Type     string          `json:"type"` // offer, answer, ice-candidate
	SenderID uuid.UUID       `json:"sender_id"`
	TargetID uuid.UUID       `json:"target_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Transport manages the peer connection for one session. Implementations
// own their media streams and release them on End.
type Transport interface {
	// InitializeSession captures local media and starts peer negotiation.
	// isDoctor marks the clinician side so peers and media policy can
	// distinguish the roles. The returned stream is owned by the transport.
	InitializeSession(ctx context.Context, sessionID uuid.UUID, isDoctor bool) (*MediaStream, error)

	// ToggleVideo and ToggleAudio flip the enabled state of the local
	// track and report the new state.
	ToggleVideo(ctx context.Context) (bool, error)
	ToggleAudio(ctx context.Context) (bool, error)

	// StartScreenShare replaces the outgoing video with a display
	// capture. Returns (nil, nil) when the user cancels the picker.
	StartScreenShare(ctx context.Context) (*MediaStream, error)

	// StopScreenShare reverts to the camera track.
	StopScreenShare(ctx context.Context) error

	// SendMessage sends a chat message over the data channel.
	SendMessage(ctx context.Context, body string) error

	// HandleSignalingMessage feeds one inbound negotiation message.
	HandleSignalingMessage(ctx context.Context, msg *SignalingMessage) error

	// RemoteStreams delivers peer streams as they attach.
	RemoteStreams() <-chan *RemoteStream

	// Messages delivers inbound data-channel chat messages.
	Messages() <-chan *InboundMessage

	// End closes the peer connection and stops all local media. Safe to
	// call more than once.
	End(ctx context.Context) error
}
