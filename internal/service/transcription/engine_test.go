package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthnexus-backend/internal/domain"
)

type memorySegmentStore struct {
	mu       sync.Mutex
	segments []*domain.TranscriptSegment
	saveErr  error
}

func (s *memorySegmentStore) SaveTranscriptSegment(ctx context.Context, seg *domain.TranscriptSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.segments = append(s.segments, seg)
	return nil
}

func (s *memorySegmentStore) all() []*domain.TranscriptSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.TranscriptSegment(nil), s.segments...)
}

func TestEngine_StartPersistsResults(t *testing.T) {
	speaker := uuid.New()
	recognizer := &ScriptedRecognizer{Script: []Result{
		{SpeakerUserID: speaker, Text: "how have you been feeling", TimestampInCall: 3},
		{SpeakerUserID: speaker, Text: "any chest pain", TimestampInCall: 9},
	}}
	store := &memorySegmentStore{}
	engine := NewEngine(recognizer, store, nil)

	sessionID := uuid.New()
	require.NoError(t, engine.Start(context.Background(), sessionID))
	assert.True(t, engine.Active(sessionID))

	assert.Eventually(t, func() bool {
		return len(store.all()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	segments := store.all()
	assert.Equal(t, sessionID, segments[0].SessionID)
	assert.Equal(t, "how have you been feeling", segments[0].Text)
	assert.Equal(t, 9, segments[1].TimestampInCall)

	require.NoError(t, engine.Stop(sessionID))
	assert.False(t, engine.Active(sessionID))
}

func TestEngine_StartIdempotent(t *testing.T) {
	engine := NewEngine(NewNoopRecognizer(), &memorySegmentStore{}, nil)
	sessionID := uuid.New()

	require.NoError(t, engine.Start(context.Background(), sessionID))
	require.NoError(t, engine.Start(context.Background(), sessionID))
	assert.True(t, engine.Active(sessionID))

	require.NoError(t, engine.Stop(sessionID))
}

func TestEngine_StartStreamFailure(t *testing.T) {
	recognizer := &ScriptedRecognizer{Err: errors.New("backend unavailable")}
	engine := NewEngine(recognizer, &memorySegmentStore{}, nil)
	sessionID := uuid.New()

	err := engine.Start(context.Background(), sessionID)

	assert.Error(t, err)
	assert.False(t, engine.Active(sessionID))
}

func TestEngine_StopIdleIsNoOp(t *testing.T) {
	engine := NewEngine(NewNoopRecognizer(), &memorySegmentStore{}, nil)

	assert.NoError(t, engine.Stop(uuid.New()))
}

func TestEngine_SaveFailureDoesNotStopWorker(t *testing.T) {
	speaker := uuid.New()
	recognizer := &ScriptedRecognizer{Script: []Result{
		{SpeakerUserID: speaker, Text: "first", TimestampInCall: 1},
		{SpeakerUserID: speaker, Text: "second", TimestampInCall: 2},
	}}
	store := &memorySegmentStore{saveErr: errors.New("db down")}
	engine := NewEngine(recognizer, store, nil)

	sessionID := uuid.New()
	require.NoError(t, engine.Start(context.Background(), sessionID))

	// The worker stays up through failed saves and drains cleanly
	time.Sleep(50 * time.Millisecond)
	assert.True(t, engine.Active(sessionID))
	require.NoError(t, engine.Stop(sessionID))
	assert.Empty(t, store.all())
}

func TestEngine_StopAll(t *testing.T) {
	engine := NewEngine(NewNoopRecognizer(), &memorySegmentStore{}, nil)

	first := uuid.New()
	second := uuid.New()
	require.NoError(t, engine.Start(context.Background(), first))
	require.NoError(t, engine.Start(context.Background(), second))

	engine.StopAll()

	assert.False(t, engine.Active(first))
	assert.False(t, engine.Active(second))
}
