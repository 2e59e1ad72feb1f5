// Package radio defines the network stack primitives the provisioning
// controller needs, and a simulated implementation for tests and the
// simulator CLI.
//
// The radio is a single shared interface: it is either hosting the setup
// access point or joined to a network as a station, never both.
package radio

import (
	"context"
	"errors"
	"net/netip"

	"github.com/jpalmerr/dhtlink/internal/credentials"
)

var (
	// ErrAuthRejected is returned by Connect when the network refuses the
	// passphrase.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrNetworkNotFound is returned by Connect when no network with the
	// requested SSID is in range.
	ErrNetworkNotFound = errors.New("network not found")

	// ErrBusy is returned when an operation needs the radio in a different
	// mode, e.g. Connect while the access point is still up.
	ErrBusy = errors.New("radio busy")
)

// APConfig describes the temporary setup access point.
type APConfig struct {
	SSID       string
	Passphrase string
	Channel    int
}

// Lease is an address assignment obtained in station mode.
type Lease struct {
	Addr    netip.Addr
	Gateway netip.Addr
}

// Radio is the network stack as seen by the provisioning controller.
type Radio interface {
	// StartAP brings up the setup access point.
	StartAP(ctx context.Context, cfg APConfig) error

	// StopAP tears the access point down. Safe to call when it is not up.
	StopAP() error

	// Connect starts station mode and joins the network. It returns once
	// association succeeded or failed; the lease arrives later.
	Connect(ctx context.Context, creds credentials.Credentials) error

	// Disconnect leaves the network and stops station mode. Safe to call
	// when not connected.
	Disconnect() error

	// Lease reports the current address assignment, if any.
	Lease() (Lease, bool)
}
