package transcription

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"

	"healthnexus-backend/pkg/logger"
)

// NewRecognizer creates a recognizer based on the TRANSCRIPTION_PROVIDER
// environment variable. The default keeps transcription wired without a
// speech backend; segments arrive only when a real provider is configured.
func NewRecognizer() Recognizer {
	provider := os.Getenv("TRANSCRIPTION_PROVIDER")

	switch provider {
	case "", "noop":
		logger.Info("Using noop transcription recognizer")
		return NewNoopRecognizer()
	default:
		logger.Warn("Unknown transcription provider, falling back to noop")
		return NewNoopRecognizer()
	}
}

// NoopRecognizer opens streams that never produce results. It keeps the
// transcription lifecycle exercisable without a speech-to-text backend.
type NoopRecognizer struct{}

// NewNoopRecognizer creates a recognizer with no speech backend
func NewNoopRecognizer() *NoopRecognizer {
	return &NoopRecognizer{}
}

// Stream opens an empty recognition stream
func (r *NoopRecognizer) Stream(ctx context.Context, sessionID uuid.UUID) (RecognitionStream, error) {
	return newScriptedStream(nil), nil
}

// ScriptedRecognizer replays a fixed result script per stream. Used in
// tests and local development.
type ScriptedRecognizer struct {
	Script []Result
	Err    error
}

// Stream opens a stream that delivers the script and stays open until
// closed
func (r *ScriptedRecognizer) Stream(ctx context.Context, sessionID uuid.UUID) (RecognitionStream, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return newScriptedStream(r.Script), nil
}

type scriptedStream struct {
	results chan Result

	closeOnce sync.Once
	closed    chan struct{}
}

func newScriptedStream(script []Result) *scriptedStream {
	s := &scriptedStream{
		results: make(chan Result, len(script)+1),
		closed:  make(chan struct{}),
	}
	for _, r := range script {
		s.results <- r
	}
	go func() {
		<-s.closed
		close(s.results)
	}()
	return s
}

func (s *scriptedStream) Results() <-chan Result {
	return s.results
}

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}
