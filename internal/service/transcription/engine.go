package transcription

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthnexus-backend/internal/domain"
	"healthnexus-backend/pkg/logger"
	"healthnexus-backend/pkg/metrics"
)

// Result is one recognized utterance
type Result struct {
	SpeakerUserID   uuid.UUID
	Text            string
	TimestampInCall int
}

// RecognitionStream delivers recognition results until closed
type RecognitionStream interface {
	Results() <-chan Result
	Close() error
}

// Recognizer opens a speech-to-text stream for a session's audio
type Recognizer interface {
	Stream(ctx context.Context, sessionID uuid.UUID) (RecognitionStream, error)
}

// SegmentStore persists transcript segments
type SegmentStore interface {
	SaveTranscriptSegment(ctx context.Context, seg *domain.TranscriptSegment) error
}

// Engine runs one recognition worker per transcribing session. Start and
// Stop are idempotent per session.
type Engine struct {
	recognizer Recognizer
	store      SegmentStore
	metrics    *metrics.Metrics

	mu      sync.Mutex
	workers map[uuid.UUID]*worker
}

type worker struct {
	stream RecognitionStream
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a transcription engine
func NewEngine(recognizer Recognizer, store SegmentStore, m *metrics.Metrics) *Engine {
	return &Engine{
		recognizer: recognizer,
		store:      store,
		metrics:    m,
		workers:    make(map[uuid.UUID]*worker),
	}
}

// Start begins transcription for a session. Starting an already
// transcribing session is a no-op.
func (e *Engine) Start(ctx context.Context, sessionID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, running := e.workers[sessionID]; running {
		return nil
	}

	workerCtx, cancel := context.WithCancel(context.Background())

	stream, err := e.recognizer.Stream(workerCtx, sessionID)
	if err != nil {
		cancel()
		if e.metrics != nil {
			e.metrics.RecordTranscriptionFailure()
		}
		return err
	}

	w := &worker{
		stream: stream,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.workers[sessionID] = w

	if e.metrics != nil {
		e.metrics.TranscriptionStarted()
	}

	go e.run(workerCtx, sessionID, w)

	logger.Info("Transcription started",
		zap.String("session_id", sessionID.String()))

	return nil
}

// run consumes recognition results and persists them. A failed save is
// logged and counted; recognition continues.
func (e *Engine) run(ctx context.Context, sessionID uuid.UUID, w *worker) {
	defer close(w.done)

	for result := range w.stream.Results() {
		seg := &domain.TranscriptSegment{
			SessionID:       sessionID,
			SpeakerUserID:   result.SpeakerUserID,
			Text:            result.Text,
			TimestampInCall: result.TimestampInCall,
		}

		if err := e.store.SaveTranscriptSegment(ctx, seg); err != nil {
			logger.Error("Failed to save transcript segment",
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
			if e.metrics != nil {
				e.metrics.RecordTranscriptionFailure()
			}
		}
	}
}

// Stop ends transcription for a session and waits for its worker to
// drain. Stopping a session that is not transcribing is a no-op.
func (e *Engine) Stop(sessionID uuid.UUID) error {
	e.mu.Lock()
	w, running := e.workers[sessionID]
	if running {
		delete(e.workers, sessionID)
	}
	e.mu.Unlock()

	if !running {
		return nil
	}

	err := w.stream.Close()
	w.cancel()
	<-w.done

	if e.metrics != nil {
		e.metrics.TranscriptionStopped()
	}

	logger.Info("Transcription stopped",
		zap.String("session_id", sessionID.String()))

	return err
}

// Active reports whether a session is currently transcribing
func (e *Engine) Active(sessionID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, running := e.workers[sessionID]
	return running
}

// StopAll stops every running worker, used during shutdown
func (e *Engine) StopAll() {
	e.mu.Lock()
	sessions := make([]uuid.UUID, 0, len(e.workers))
	for id := range e.workers {
		sessions = append(sessions, id)
	}
	e.mu.Unlock()

	for _, id := range sessions {
		if err := e.Stop(id); err != nil {
			logger.Warn("Failed to stop transcription worker",
				zap.String("session_id", id.String()),
				zap.Error(err))
		}
	}
}
