package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSafeBeforeInit(t *testing.T) {
	// The package-level helpers must not panic when Init was never called
	require.NotNil(t, Log)
	require.NotNil(t, Sugar)

	assert.NotPanics(t, func() {
		Debug("debug before init")
		Info("info before init")
		Warn("warn before init")
		Error("error before init")
		With()
		_ = Sync()
	})
}

func TestInitReplacesNopLogger(t *testing.T) {
	previous := Log

	err := Init(&Config{Level: "debug", Format: "json"})
	require.NoError(t, err)

	assert.NotNil(t, Log)
	assert.NotNil(t, Sugar)
	assert.NotSame(t, previous, Log)
	assert.True(t, Log.Core().Enabled(0)) // InfoLevel
}
