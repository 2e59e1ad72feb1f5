package provision

import (
	"fmt"
	"time"
)

// State is a provisioning phase.
type State int

const (
	// ApActive: the setup access point and portal are up, waiting for
	// credentials.
	ApActive State = iota

	// AwaitingCredentials is reserved for a two-phase portal. The controller
	// moves from ApActive straight to Connecting.
	AwaitingCredentials

	// Connecting: station mode started, waiting for an address lease.
	Connecting

	// LeaseAcquired is terminal for a successful cycle.
	LeaseAcquired

	// LeaseTimedOut: joined but no lease within the deadline.
	LeaseTimedOut

	// ConnectionFailed: the radio refused or failed to join.
	ConnectionFailed
)

var stateNames = [...]string{
	ApActive:            "ap_active",
	AwaitingCredentials: "awaiting_credentials",
	Connecting:          "connecting",
	LeaseAcquired:       "lease_acquired",
	LeaseTimedOut:       "lease_timed_out",
	ConnectionFailed:    "connection_failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the snake_case name for JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Failed reports whether s ends a cycle without a lease.
func (s State) Failed() bool {
	return s == LeaseTimedOut || s == ConnectionFailed
}

// Transition is reported on every state change.
type Transition struct {
	From      State
	To        State
	SessionID string
	At        time.Time

	// Err is set when To is a failure state.
	Err error
}
