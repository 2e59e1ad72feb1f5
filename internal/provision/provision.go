// Package provision runs one provisioning cycle: bring up the setup access
// point and portal, capture credentials, join the network and wait for an
// address lease.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/dhtlink/internal/announce"
	"github.com/jpalmerr/dhtlink/internal/clock"
	"github.com/jpalmerr/dhtlink/internal/credentials"
	"github.com/jpalmerr/dhtlink/internal/portal"
	"github.com/jpalmerr/dhtlink/internal/radio"
	"github.com/jpalmerr/dhtlink/internal/store"
)

// Defaults for [Config].
const (
	DefaultAPSSID            = "dhtlink-setup"
	DefaultAPChannel         = 6
	DefaultPortalAddr        = ":80"
	DefaultLeaseTimeout      = 20 * time.Second
	DefaultLeasePollInterval = 250 * time.Millisecond

	portalShutdownTimeout = 5 * time.Second
)

var (
	// ErrConnectionFailed wraps the radio's error when joining fails.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrLeaseTimedOut is returned when no lease arrives before the deadline.
	ErrLeaseTimedOut = errors.New("lease timed out")
)

// Config is the provisioning configuration.
type Config struct {
	AccessPoint       radio.APConfig
	PortalAddr        string
	PortalTitle       string
	LeaseTimeout      time.Duration
	LeasePollInterval time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		AccessPoint:       radio.APConfig{SSID: DefaultAPSSID, Channel: DefaultAPChannel},
		PortalAddr:        DefaultPortalAddr,
		LeaseTimeout:      DefaultLeaseTimeout,
		LeasePollInterval: DefaultLeasePollInterval,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.AccessPoint.SSID == "":
		return errors.New("access point ssid is required")
	case len(c.AccessPoint.SSID) > credentials.MaxSSIDLen:
		return fmt.Errorf("access point ssid longer than %d bytes", credentials.MaxSSIDLen)
	case c.AccessPoint.Passphrase != "" && (len(c.AccessPoint.Passphrase) < 8 || len(c.AccessPoint.Passphrase) > credentials.MaxPassphraseLen):
		return fmt.Errorf("access point passphrase must be empty or 8-%d bytes", credentials.MaxPassphraseLen)
	case c.LeaseTimeout <= 0:
		return fmt.Errorf("lease timeout must be positive, got %s", c.LeaseTimeout)
	case c.LeasePollInterval <= 0:
		return fmt.Errorf("lease poll interval must be positive, got %s", c.LeasePollInterval)
	}
	return nil
}

// Start selects where a cycle begins.
type Start struct {
	creds *credentials.Credentials
}

// FromAccessPoint starts a cycle by capturing new credentials.
func FromAccessPoint() Start { return Start{} }

// FromCredentials retries a connection with known credentials, skipping the
// access point.
func FromCredentials(c credentials.Credentials) Start { return Start{creds: &c} }

// Result is the outcome of a cycle.
type Result struct {
	State       State
	SessionID   string
	Credentials credentials.Credentials
	Lease       radio.Lease

	// Err explains a failed State.
	Err error
}

// Option configures a [Controller].
type Option func(*Controller)

// WithAnnouncer advertises the portal while the access point is up.
func WithAnnouncer(a announce.Announcer) Option {
	return func(c *Controller) { c.announcer = a }
}

// WithStatusStore records transitions in st and serves it from the portal.
func WithStatusStore(st store.Store) Option {
	return func(c *Controller) { c.status = st }
}

// WithTransitionHook calls fn synchronously on every transition.
func WithTransitionHook(fn func(Transition)) Option {
	return func(c *Controller) { c.onTransition = fn }
}

// WithPortalHook calls fn with the portal's bound address once it listens.
func WithPortalHook(fn func(net.Addr)) Option {
	return func(c *Controller) { c.onPortal = fn }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller runs provisioning cycles. Cycles must not overlap; the radio
// can either host the access point or be a station, not both.
type Controller struct {
	radio radio.Radio
	clock clock.Clock
	cfg   Config

	announcer    announce.Announcer
	status       store.Store
	onTransition func(Transition)
	onPortal     func(net.Addr)
	logger       *slog.Logger

	// mu guards state and notice, which are read from other goroutines.
	mu        sync.Mutex
	state     State
	sessionID string
	notice    string
}

// New returns a controller. It validates cfg.
func New(r radio.Radio, c clock.Clock, cfg Config, opts ...Option) (*Controller, error) {
	if r == nil {
		return nil, errors.New("radio is required")
	}
	if c == nil {
		return nil, errors.New("clock is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctrl := &Controller{
		radio:     r,
		clock:     c,
		cfg:       cfg,
		announcer: announce.Nop{},
		logger:    slog.Default(),
		state:     ApActive,
	}
	for _, opt := range opts {
		opt(ctrl)
	}
	return ctrl, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetNotice sets the message the next setup page shows, e.g. why the last
// attempt failed.
func (c *Controller) SetNotice(notice string) {
	c.mu.Lock()
	c.notice = notice
	c.mu.Unlock()
}

// Run executes one cycle. The returned error is non-nil only when the cycle
// could not run at all (ctx cancelled, access point or portal failure); a
// failed connection is reported through Result.State and Result.Err.
func (c *Controller) Run(ctx context.Context, start Start) (Result, error) {
	c.sessionID = uuid.NewString()
	res := Result{SessionID: c.sessionID}

	if start.creds != nil {
		res.Credentials = *start.creds
	} else {
		creds, err := c.capture(ctx)
		if err != nil {
			res.State = c.State()
			return res, err
		}
		res.Credentials = creds
	}

	lease, err := c.connect(ctx, res.Credentials)
	res.State = c.State()
	res.Lease = lease
	switch {
	case ctx.Err() != nil:
		return res, ctx.Err()
	case err != nil:
		res.Err = err
	}
	return res, nil
}

// capture hosts the access point until credentials arrive, then tears it
// down.
func (c *Controller) capture(ctx context.Context) (credentials.Credentials, error) {
	// a station left over from a failed cycle would hold the radio
	if err := c.radio.Disconnect(); err != nil {
		c.logger.Warn("failed to stop station mode", "session_id", c.sessionID, "error", err)
	}

	c.transition(ApActive, "", nil)

	if err := c.radio.StartAP(ctx, c.cfg.AccessPoint); err != nil {
		return credentials.Credentials{}, fmt.Errorf("start access point: %w", err)
	}

	p := portal.New(c.cfg.PortalAddr, c.cfg.PortalTitle, c.status, c.logger)
	c.mu.Lock()
	p.SetNotice(c.notice)
	c.mu.Unlock()
	if err := p.Start(ctx); err != nil {
		c.stopAP()
		return credentials.Credentials{}, err
	}
	if c.onPortal != nil {
		c.onPortal(p.Addr())
	}
	c.announce(ctx, p.Addr())

	defer c.teardown(p)

	select {
	case creds := <-p.Credentials():
		c.SetNotice("")
		return creds, nil
	case <-ctx.Done():
		return credentials.Credentials{}, ctx.Err()
	}
}

func (c *Controller) announce(ctx context.Context, addr net.Addr) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return
	}
	svc := announce.Service{
		Instance: c.cfg.AccessPoint.SSID,
		Port:     tcp.Port,
		Text:     map[string]string{"path": "/", "session": c.sessionID},
	}
	if err := c.announcer.Announce(ctx, svc); err != nil {
		c.logger.Warn("failed to announce portal", "session_id", c.sessionID, "error", err)
	}
}

// teardown flushes the portal before the access point goes away.
func (c *Controller) teardown(p *portal.Portal) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), portalShutdownTimeout)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("portal shutdown error", "session_id", c.sessionID, "error", err)
	}
	c.announcer.Stop()
	c.stopAP()
}

func (c *Controller) stopAP() {
	if err := c.radio.StopAP(); err != nil {
		c.logger.Warn("failed to stop access point", "session_id", c.sessionID, "error", err)
	}
}

func (c *Controller) connect(ctx context.Context, creds credentials.Credentials) (radio.Lease, error) {
	c.transition(Connecting, creds.SSID, nil)

	// reconfiguring a running station is not supported; stop it first
	if err := c.radio.Disconnect(); err != nil {
		c.logger.Warn("failed to stop station mode", "session_id", c.sessionID, "error", err)
	}

	if err := c.radio.Connect(ctx, creds); err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		c.transition(ConnectionFailed, creds.SSID, err)
		return radio.Lease{}, err
	}

	lease, err := c.AwaitLease(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return radio.Lease{}, err
		}
		c.transition(LeaseTimedOut, creds.SSID, err)
		return radio.Lease{}, err
	}

	c.transition(LeaseAcquired, creds.SSID, nil)
	if c.status != nil {
		c.status.Update(func(s *store.Snapshot) { s.Addr = lease.Addr.String() })
	}
	return lease, nil
}

// AwaitLease polls the radio every LeasePollInterval until a lease appears
// or LeaseTimeout elapses. The last sleep is clipped so the timeout lands on
// the deadline.
func (c *Controller) AwaitLease(ctx context.Context) (radio.Lease, error) {
	started := c.clock.Now()
	deadline := started.Add(c.cfg.LeaseTimeout)

	for {
		if lease, ok := c.radio.Lease(); ok {
			c.logger.Info("lease acquired",
				"session_id", c.sessionID,
				"addr", lease.Addr.String(),
				"wait_ms", c.clock.Now().Sub(started).Milliseconds())
			return lease, nil
		}

		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			return radio.Lease{}, fmt.Errorf("%w after %s", ErrLeaseTimedOut, c.cfg.LeaseTimeout)
		}
		if err := clock.SleepContext(ctx, c.clock, min(c.cfg.LeasePollInterval, remaining)); err != nil {
			return radio.Lease{}, err
		}
	}
}

func (c *Controller) transition(to State, ssid string, err error) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	t := Transition{From: from, To: to, SessionID: c.sessionID, At: c.clock.Now(), Err: err}

	if err != nil {
		c.logger.Warn("provisioning state changed",
			"from", from.String(), "to", to.String(), "session_id", c.sessionID, "error", err)
	} else {
		c.logger.Info("provisioning state changed",
			"from", from.String(), "to", to.String(), "session_id", c.sessionID)
	}

	if c.status != nil {
		c.status.Update(func(s *store.Snapshot) {
			s.State = to.String()
			s.SessionID = c.sessionID
			s.SSID = ssid
			if to == ApActive {
				s.Counters.Provisionings++
				s.Addr = ""
			}
			if err != nil {
				s.LastError = err.Error()
			}
		})
	}

	if c.onTransition != nil {
		c.onTransition(t)
	}
}
