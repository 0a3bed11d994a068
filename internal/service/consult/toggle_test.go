package consult

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaToggle_ConfirmCycle(t *testing.T) {
	toggle := newMediaToggle("video", true)

	assert.Equal(t, toggleIdle, toggle.State())
	assert.True(t, toggle.Enabled())

	require.NoError(t, toggle.begin())
	assert.Equal(t, togglePending, toggle.State())

	toggle.confirm(false)
	assert.Equal(t, toggleConfirmed, toggle.State())
	assert.False(t, toggle.Enabled())
}

func TestMediaToggle_PendingRejectsSecondRequest(t *testing.T) {
	toggle := newMediaToggle("audio", true)

	require.NoError(t, toggle.begin())
	assert.Error(t, toggle.begin())
}

func TestMediaToggle_FailKeepsPreviousState(t *testing.T) {
	toggle := newMediaToggle("video", true)

	require.NoError(t, toggle.begin())
	toggle.fail()

	assert.Equal(t, toggleFailed, toggle.State())
	assert.True(t, toggle.Enabled())

	// A failed toggle admits a fresh request
	require.NoError(t, toggle.begin())
	toggle.confirm(false)
	assert.False(t, toggle.Enabled())
}

func TestToggleState_String(t *testing.T) {
	assert.Equal(t, "idle", toggleIdle.String())
	assert.Equal(t, "pending", togglePending.String())
	assert.Equal(t, "confirmed", toggleConfirmed.String())
	assert.Equal(t, "failed", toggleFailed.String())
}
