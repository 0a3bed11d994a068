package consult

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"healthnexus-backend/internal/domain"
	"healthnexus-backend/internal/realtime"
	"healthnexus-backend/internal/transport"
	"healthnexus-backend/pkg/push"
)

// MockSessionStore is a mock implementation of SessionStore
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) CreateSession(ctx context.Context, appointmentID, doctorID, patientID uuid.UUID) (*domain.CallSession, error) {
	args := m.Called(ctx, appointmentID, doctorID, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionStore) MarkActive(ctx context.Context, sessionID uuid.UUID, startedAt time.Time) error {
	args := m.Called(ctx, sessionID, startedAt)
	return args.Error(0)
}

func (m *MockSessionStore) MarkEnded(ctx context.Context, sessionID uuid.UUID) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockSessionStore) SetTranscribing(ctx context.Context, sessionID uuid.UUID, transcribing bool) error {
	args := m.Called(ctx, sessionID, transcribing)
	return args.Error(0)
}

func (m *MockSessionStore) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionStore) GetUserSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallSession), args.Error(1)
}

func (m *MockSessionStore) AddParticipant(ctx context.Context, sessionID, userID uuid.UUID, role string) error {
	args := m.Called(ctx, sessionID, userID, role)
	return args.Error(0)
}

func (m *MockSessionStore) RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

func (m *MockSessionStore) GetParticipants(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionParticipant, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SessionParticipant), args.Error(1)
}

func (m *MockSessionStore) StartRecording(ctx context.Context, rec *domain.Recording) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockSessionStore) SaveScreenshot(ctx context.Context, shot *domain.Screenshot) error {
	args := m.Called(ctx, shot)
	return args.Error(0)
}

// MockNoteStore is a mock implementation of NoteStore
type MockNoteStore struct {
	mock.Mock
}

func (m *MockNoteStore) SaveMedicalNote(ctx context.Context, note *domain.MedicalNote) (*domain.MedicalNote, error) {
	args := m.Called(ctx, note)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MedicalNote), args.Error(1)
}

func (m *MockNoteStore) GetMedicalNotes(ctx context.Context, sessionID uuid.UUID) ([]*domain.MedicalNote, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MedicalNote), args.Error(1)
}

// MockMessageStore is a mock implementation of MessageStore
type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Save(message *domain.CallMessage) error {
	args := m.Called(message)
	return args.Error(0)
}

func (m *MockMessageStore) GetRecent(sessionID uuid.UUID, limit int) ([]*domain.CallMessage, error) {
	args := m.Called(sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallMessage), args.Error(1)
}

// MockTranscriber is a mock implementation of Transcriber
type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Start(ctx context.Context, sessionID uuid.UUID) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockTranscriber) Stop(sessionID uuid.UUID) error {
	args := m.Called(sessionID)
	return args.Error(0)
}

func (m *MockTranscriber) Active(sessionID uuid.UUID) bool {
	args := m.Called(sessionID)
	return args.Bool(0)
}

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendCallInvitation(ctx context.Context, data *push.CallInvitationData, patientID uuid.UUID) error {
	args := m.Called(ctx, data, patientID)
	return args.Error(0)
}

func (m *MockNotifier) SendCallEndedNotification(ctx context.Context, sessionID uuid.UUID, duration int64, userIDs []uuid.UUID) error {
	args := m.Called(ctx, sessionID, duration, userIDs)
	return args.Error(0)
}

// fakeTransport is a channel-backed Transport double
type fakeTransport struct {
	mu sync.Mutex

	initErr   error
	toggleErr error
	shareErr  error
	sendErr   error

	videoOn  bool
	audioOn  bool
	sharing  bool
	cancelOS bool // user dismisses the screen picker

	sent       []string
	endCalls   int
	shareStops int

	initialized bool
	initDoctor  bool

	remotes chan *transport.RemoteStream
	msgs    chan *transport.InboundMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		videoOn: true,
		audioOn: true,
		remotes: make(chan *transport.RemoteStream, 4),
		msgs:    make(chan *transport.InboundMessage, 16),
	}
}

func (f *fakeTransport) InitializeSession(ctx context.Context, sessionID uuid.UUID, isDoctor bool) (*transport.MediaStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return nil, f.initErr
	}
	f.initialized = true
	f.initDoctor = isDoctor
	return transport.NewMediaStream("local",
		transport.NewTrack("audio-0", transport.TrackKindAudio),
		transport.NewTrack("video-0", transport.TrackKindVideo),
	), nil
}

func (f *fakeTransport) initializedAsDoctor() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized, f.initDoctor
}

func (f *fakeTransport) ToggleVideo(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return f.videoOn, f.toggleErr
	}
	f.videoOn = !f.videoOn
	return f.videoOn, nil
}

func (f *fakeTransport) ToggleAudio(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return f.audioOn, f.toggleErr
	}
	f.audioOn = !f.audioOn
	return f.audioOn, nil
}

func (f *fakeTransport) StartScreenShare(ctx context.Context) (*transport.MediaStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shareErr != nil {
		return nil, f.shareErr
	}
	if f.cancelOS {
		return nil, nil
	}
	f.sharing = true
	return transport.NewMediaStream("share",
		transport.NewTrack("share-0", transport.TrackKindVideo),
	), nil
}

func (f *fakeTransport) StopScreenShare(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sharing = false
	f.shareStops++
	return nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeTransport) HandleSignalingMessage(ctx context.Context, msg *transport.SignalingMessage) error {
	return nil
}

func (f *fakeTransport) RemoteStreams() <-chan *transport.RemoteStream {
	return f.remotes
}

func (f *fakeTransport) Messages() <-chan *transport.InboundMessage {
	return f.msgs
}

func (f *fakeTransport) End(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	if f.endCalls == 1 {
		close(f.remotes)
		close(f.msgs)
	}
	return nil
}

func (f *fakeTransport) EndCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endCalls
}

// fakeSubscription is an EventSubscription double
type fakeSubscription struct {
	mu           sync.Mutex
	signaling    chan *realtime.Event
	participants chan *realtime.Event
	closed       bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		signaling:    make(chan *realtime.Event, 16),
		participants: make(chan *realtime.Event, 16),
	}
}

func (s *fakeSubscription) Signaling() <-chan *realtime.Event {
	return s.signaling
}

func (s *fakeSubscription) ParticipantUpdates() <-chan *realtime.Event {
	return s.participants
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.signaling)
	close(s.participants)
	return nil
}

func (s *fakeSubscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeBus is an EventBus double tracking open subscriptions
type fakeBus struct {
	mu     sync.Mutex
	subErr error
	subs   []*fakeSubscription
}

func (b *fakeBus) Subscribe(ctx context.Context, sessionID uuid.UUID) (EventSubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return nil, b.subErr
	}
	sub := newFakeSubscription()
	b.subs = append(b.subs, sub)
	return sub, nil
}

func (b *fakeBus) PublishParticipantUpdate(ctx context.Context, sessionID uuid.UUID, participants []realtime.ParticipantInfo) error {
	return nil
}

// openSubscriptions counts subscriptions not yet closed
func (b *fakeBus) openSubscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := 0
	for _, sub := range b.subs {
		if !sub.Closed() {
			open++
		}
	}
	return open
}
