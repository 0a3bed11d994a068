package consult

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTeardown_AllStepsSucceed(t *testing.T) {
	var order []string
	steps := []teardownStep{
		{name: "first", run: func(ctx context.Context) error {
			order = append(order, "first")
			return nil
		}},
		{name: "second", run: func(ctx context.Context) error {
			order = append(order, "second")
			return nil
		}},
	}

	err := runTeardown(context.Background(), "session-1", steps)

	assert.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRunTeardown_FailureDoesNotStopLaterSteps(t *testing.T) {
	var order []string
	steps := []teardownStep{
		{name: "first", run: func(ctx context.Context) error {
			order = append(order, "first")
			return errors.New("boom")
		}},
		{name: "second", run: func(ctx context.Context) error {
			order = append(order, "second")
			return nil
		}},
		{name: "third", run: func(ctx context.Context) error {
			order = append(order, "third")
			return errors.New("also boom")
		}},
	}

	err := runTeardown(context.Background(), "session-1", steps)

	require.Error(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.ErrorContains(t, err, "first")
	assert.ErrorContains(t, err, "third")
	assert.NotContains(t, err.Error(), "second")
}

func TestRunTeardown_NoSteps(t *testing.T) {
	assert.NoError(t, runTeardown(context.Background(), "session-1", nil))
}
