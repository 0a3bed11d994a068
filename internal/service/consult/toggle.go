package consult

import "fmt"

// toggleState tracks one media toggle through its request cycle. A new
// request is only admitted from idle, confirmed or failed; while pending
// the toggle is busy and further requests are rejected.
type toggleState int

const (
	toggleIdle toggleState = iota
	togglePending
	toggleConfirmed
	toggleFailed
)

func (s toggleState) String() string {
	switch s {
	case toggleIdle:
		return "idle"
	case togglePending:
		return "pending"
	case toggleConfirmed:
		return "confirmed"
	case toggleFailed:
		return "failed"
	}
	return "unknown"
}

// mediaToggle is the state machine behind one video or audio control
type mediaToggle struct {
	name    string
	state   toggleState
	enabled bool
}

func newMediaToggle(name string, enabled bool) *mediaToggle {
	return &mediaToggle{name: name, state: toggleIdle, enabled: enabled}
}

// begin admits a new toggle request, rejecting concurrent ones
func (t *mediaToggle) begin() error {
	if t.state == togglePending {
		return fmt.Errorf("%s toggle already in progress", t.name)
	}
	t.state = togglePending
	return nil
}

// confirm records the state the transport reported back
func (t *mediaToggle) confirm(enabled bool) {
	t.state = toggleConfirmed
	t.enabled = enabled
}

// fail keeps the previous enabled state; the request did not take effect
func (t *mediaToggle) fail() {
	t.state = toggleFailed
}

// Enabled reads the last confirmed state
func (t *mediaToggle) Enabled() bool {
	return t.enabled
}

// State reads the current request state
func (t *mediaToggle) State() toggleState {
	return t.state
}
