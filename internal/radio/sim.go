package radio

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/jpalmerr/dhtlink/internal/clock"
	"github.com/jpalmerr/dhtlink/internal/credentials"
)

// Mode is the radio's current role.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeAP      Mode = "ap"
	ModeStation Mode = "station"
)

// SimConfig controls the simulated network.
type SimConfig struct {
	// Networks maps reachable SSIDs to their passphrases. Nil accepts any
	// credentials.
	Networks map[string]string

	// LeaseDelay is how long after Connect the lease is granted. Negative
	// means never.
	LeaseDelay time.Duration

	// Addr is the leased address. Defaults to 192.168.1.50.
	Addr netip.Addr
}

// Sim is an in-memory [Radio]. It enforces the single-interface rule: Connect
// fails with [ErrBusy] while the access point is up.
type Sim struct {
	mu sync.Mutex

	clock clock.Clock
	cfg   SimConfig

	mode        Mode
	ap          APConfig
	joined      credentials.Credentials
	connectedAt time.Time
	linkDown    bool
	modes       []Mode
}

// NewSim returns a simulated radio that starts switched off.
func NewSim(c clock.Clock, cfg SimConfig) *Sim {
	if !cfg.Addr.IsValid() {
		cfg.Addr = netip.MustParseAddr("192.168.1.50")
	}
	return &Sim{clock: c, cfg: cfg, mode: ModeOff}
}

// StartAP switches to access point mode, stopping station mode first.
func (s *Sim) StartAP(_ context.Context, cfg APConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ap = cfg
	s.setMode(ModeAP)
	return nil
}

// StopAP switches the radio off if it is hosting the access point.
func (s *Sim) StopAP() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeAP {
		s.setMode(ModeOff)
	}
	return nil
}

// Connect joins a configured network.
func (s *Sim) Connect(_ context.Context, creds credentials.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeAP {
		return fmt.Errorf("%w: access point still active", ErrBusy)
	}
	if s.cfg.Networks != nil {
		pass, ok := s.cfg.Networks[creds.SSID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNetworkNotFound, creds.SSID)
		}
		if pass != creds.Passphrase {
			return fmt.Errorf("%w: %q", ErrAuthRejected, creds.SSID)
		}
	}

	s.joined = creds
	s.connectedAt = s.clock.Now()
	s.linkDown = false
	s.setMode(ModeStation)
	return nil
}

// Disconnect leaves station mode.
func (s *Sim) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeStation {
		s.setMode(ModeOff)
	}
	return nil
}

// Lease grants the configured address LeaseDelay after Connect, until the
// link is dropped.
func (s *Sim) Lease() (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeStation || s.linkDown || s.cfg.LeaseDelay < 0 {
		return Lease{}, false
	}
	if s.clock.Now().Sub(s.connectedAt) < s.cfg.LeaseDelay {
		return Lease{}, false
	}
	return Lease{Addr: s.cfg.Addr, Gateway: gatewayFor(s.cfg.Addr)}, true
}

// DropLink simulates losing the network: the lease disappears until the
// next Connect.
func (s *Sim) DropLink() {
	s.mu.Lock()
	s.linkDown = true
	s.mu.Unlock()
}

// Mode returns the current mode.
func (s *Sim) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Modes returns every mode the radio has entered, in order.
func (s *Sim) Modes() []Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mode(nil), s.modes...)
}

// AccessPoint returns the last access point configuration.
func (s *Sim) AccessPoint() APConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ap
}

// Joined returns the credentials of the last successful Connect.
func (s *Sim) Joined() credentials.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

func (s *Sim) setMode(m Mode) {
	s.mode = m
	s.modes = append(s.modes, m)
}

func gatewayFor(addr netip.Addr) netip.Addr {
	if !addr.Is4() {
		return netip.Addr{}
	}
	b := addr.As4()
	b[3] = 1
	return netip.AddrFrom4(b)
}
