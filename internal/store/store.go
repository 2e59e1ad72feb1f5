package store

import "time"

// Reading is the last successful sensor sample, decoupled from the sensor
// package so the JSON shape can evolve independently.
type Reading struct {
	Temperature int       `json:"temperature"`
	Humidity    int       `json:"humidity"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Counters accumulate over the device's lifetime.
type Counters struct {
	Provisionings  int `json:"provisionings"`
	Samples        int `json:"samples"`
	SampleFailures int `json:"sample_failures"`
	Posts          int `json:"posts"`
	PostFailures   int `json:"post_failures"`
}

// Snapshot is the device status as served by the portal.
type Snapshot struct {
	// State is the provisioning state, or "reporting" while telemetry runs.
	State string `json:"state"`

	// SessionID identifies the current provisioning cycle.
	SessionID string `json:"session_id,omitempty"`

	// SSID is the network being joined or in use. Never the passphrase.
	SSID string `json:"ssid,omitempty"`

	// Addr is the leased station address.
	Addr string `json:"addr,omitempty"`

	// LastError is the most recent provisioning or reporting failure.
	LastError string `json:"last_error,omitempty"`

	LastSample     *Reading `json:"last_sample,omitempty"`
	LastPostStatus int      `json:"last_post_status,omitempty"`

	Counters Counters `json:"counters"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store holds a single snapshot and publishes every change.
//
// Implementations must be safe for concurrent access.
type Store interface {
	// Update applies fn to the current snapshot under the store's lock and
	// notifies subscribers with the result.
	Update(fn func(*Snapshot))

	// Snapshot returns a copy of the current snapshot.
	Snapshot() Snapshot

	// Subscribe returns a buffered channel of snapshots. Caller must call
	// Unsubscribe when done.
	Subscribe() <-chan Snapshot

	// Unsubscribe removes a subscription and closes the channel. Safe to
	// call with an unknown channel.
	Unsubscribe(ch <-chan Snapshot)
}
