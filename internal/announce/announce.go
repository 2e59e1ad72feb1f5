// Package announce advertises the setup portal on the local link over mDNS,
// so a phone joined to the setup access point can find it as
// <instance>._http._tcp.local.
package announce

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType is the DNS-SD service type of the portal.
	ServiceType = "_http._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultTTL is short because the portal only lives while the access
	// point is up.
	DefaultTTL = 60 * time.Second
)

// ErrInvalidService is returned by Announce for an unusable [Service].
var ErrInvalidService = errors.New("invalid service")

// Service describes what to advertise.
type Service struct {
	// Instance is the DNS-SD instance name, e.g. "dhtlink-setup".
	Instance string

	// Port is the portal's TCP port.
	Port int

	// Text becomes the TXT record, one key=value string per entry.
	Text map[string]string

	// Interface restricts advertisement to one interface. Empty means all.
	Interface string
}

// Validate reports whether s can be advertised.
func (s Service) Validate() error {
	switch {
	case s.Instance == "":
		return fmt.Errorf("%w: empty instance name", ErrInvalidService)
	case s.Port <= 0 || s.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidService, s.Port)
	}
	return nil
}

// TXT renders Text as sorted key=value strings.
func (s Service) TXT() []string {
	keys := make([]string, 0, len(s.Text))
	for k := range s.Text {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	txt := make([]string, 0, len(keys))
	for _, k := range keys {
		txt = append(txt, k+"="+s.Text[k])
	}
	return txt
}

// Announcer advertises a service until stopped.
type Announcer interface {
	Announce(ctx context.Context, svc Service) error
	Stop()
}

// MDNS is an [Announcer] backed by zeroconf.
type MDNS struct {
	ttl time.Duration

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewMDNS returns an mDNS announcer. ttl <= 0 selects [DefaultTTL].
func NewMDNS(ttl time.Duration) *MDNS {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MDNS{ttl: ttl}
}

// Announce registers svc, replacing any previous registration.
func (m *MDNS) Announce(_ context.Context, svc Service) error {
	if err := svc.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}

	ifaces, err := interfaces(svc.Interface)
	if err != nil {
		return err
	}

	server, err := zeroconf.Register(
		svc.Instance,
		ServiceType,
		Domain,
		svc.Port,
		svc.TXT(),
		ifaces,
		zeroconf.TTL(uint32(m.ttl.Seconds())),
	)
	if err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceType, err)
	}

	m.server = server
	return nil
}

// Stop withdraws the registration. Safe to call repeatedly.
func (m *MDNS) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}
}

// interfaces returns nil for all interfaces.
func interfaces(name string) ([]net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("mdns interface %q: %w", name, err)
	}
	return []net.Interface{*iface}, nil
}

// Nop discards announcements.
type Nop struct{}

func (Nop) Announce(context.Context, Service) error { return nil }
func (Nop) Stop()                                   {}
