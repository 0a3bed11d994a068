package consult

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"healthnexus-backend/pkg/logger"
)

// teardownStep is one named step of an ordered cleanup list
type teardownStep struct {
	name string
	run  func(ctx context.Context) error
}

// runTeardown executes every step in order. A failing step never stops
// the steps after it; failures are logged per step and returned as one
// aggregate error (nil when everything succeeded).
func runTeardown(ctx context.Context, sessionID string, steps []teardownStep) error {
	var failures []error

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			logger.Warn("Teardown step failed",
				zap.String("session_id", sessionID),
				zap.String("step", step.name),
				zap.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", step.name, err))
		}
	}

	return errors.Join(failures...)
}
