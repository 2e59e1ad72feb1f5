package dhtlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/dhtlink/internal/announce"
	"github.com/jpalmerr/dhtlink/internal/clock"
	"github.com/jpalmerr/dhtlink/internal/provision"
	"github.com/jpalmerr/dhtlink/internal/sensor"
	"github.com/jpalmerr/dhtlink/internal/store"
	"github.com/jpalmerr/dhtlink/internal/telemetry"
)

const (
	defaultStationRetries = 2
	defaultRetryBackoff   = 2 * time.Second
	defaultVersion        = "dev"
)

// ErrAlreadyRunning is returned by Run when the device is already running.
var ErrAlreadyRunning = errors.New("device already running")

// Device provisions the network connection and relays sensor readings,
// forever: setup access point, station connection, telemetry, and back to
// setup when connectivity is lost.
//
// The typical lifecycle is:
//
//	dev, err := dhtlink.New(
//	    dhtlink.WithRadio(r),
//	    dhtlink.WithLine(line),
//	    dhtlink.WithCollectorURL("http://collector.local/ping"),
//	)
//	if err != nil {
//	    slog.Error("failed to create device", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	dev.Run(ctx) // blocks until ctx is cancelled
type Device struct {
	radio      Radio
	clock      Clock
	logger     *slog.Logger
	status     *store.MemoryStore
	controller *provision.Controller
	loop       *telemetry.Loop
	poster     Poster

	stationRetries int
	retryBackoff   time.Duration

	stateCallbacks  []func(Transition)
	sampleCallbacks []func(Sample)
	reportCallbacks []func(Report)
	portalCallbacks []func(net.Addr)

	running atomic.Bool
}

// New creates a [Device].
//
// [WithRadio], [WithLine] and [WithCollectorURL] are required. Defaults:
//   - Access point: open "dhtlink-setup", channel 6, portal on :80
//   - Lease timeout 20s, polled every 250ms
//   - 2 station retries, 2s apart
//   - Report interval 10s, post timeout 5s, JSON payload
//   - 3 consecutive unreachable POSTs count as lost connectivity
func New(opts ...Option) (*Device, error) {
	cfg := &deviceConfig{
		clock:          clock.Real{},
		sensor:         sensor.DefaultConfig(),
		provisioning:   provision.DefaultConfig(),
		telemetry:      telemetry.DefaultConfig(),
		version:        defaultVersion,
		stationRetries: defaultStationRetries,
		retryBackoff:   defaultRetryBackoff,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.radio == nil {
		return nil, errors.New("a radio is required")
	}
	if cfg.line == nil {
		return nil, errors.New("a sensor line is required")
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	poster := cfg.poster
	if poster == nil {
		poster = telemetry.NewClient()
	}

	d := &Device{
		radio:           cfg.radio,
		clock:           cfg.clock,
		logger:          logger,
		status:          store.NewMemoryStore(provision.ApActive.String(), cfg.clock.Now),
		poster:          poster,
		stationRetries:  cfg.stationRetries,
		retryBackoff:    cfg.retryBackoff,
		stateCallbacks:  cfg.stateCallbacks,
		sampleCallbacks: cfg.sampleCallbacks,
		reportCallbacks: cfg.reportCallbacks,
		portalCallbacks: cfg.portalCallbacks,
	}

	var announcer announce.Announcer = announce.Nop{}
	if cfg.mdns {
		announcer = announce.NewMDNS(0)
	}

	controller, err := provision.New(cfg.radio, cfg.clock, cfg.provisioning,
		provision.WithAnnouncer(announcer),
		provision.WithStatusStore(d.status),
		provision.WithTransitionHook(d.onTransition),
		provision.WithPortalHook(d.onPortal),
		provision.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid provisioning configuration: %w", err)
	}
	d.controller = controller

	cfg.telemetry.UserAgent = "dhtlink/" + cfg.version
	link := sensor.NewLink(cfg.line, cfg.clock, cfg.sensor)
	loop, err := telemetry.NewLoop(cfg.telemetry, link, cfg.radio, poster, cfg.clock,
		telemetry.WithLogger(logger),
		telemetry.WithReportHook(d.onReport),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	d.loop = loop

	return d, nil
}

// Run provisions and reports until ctx is cancelled, starting from the
// setup access point. It returns nil on cancellation; the only error is a
// failure to bring up the access point or portal on the first cycle.
func (d *Device) Run(ctx context.Context) error {
	return d.run(ctx, provision.FromAccessPoint())
}

// RunWithCredentials is Run starting with a connection attempt using creds.
// If that fails after the configured retries, the setup access point comes
// up as usual.
func (d *Device) RunWithCredentials(ctx context.Context, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	return d.run(ctx, provision.FromCredentials(creds))
}

func (d *Device) run(ctx context.Context, start provision.Start) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	if closer, ok := d.poster.(interface{ Close() }); ok {
		defer closer.Close()
	}

	d.logger.Info("device starting")
	defer d.logger.Info("device stopped")

	retries := 0
	firstCycle := true

	for ctx.Err() == nil {
		res, err := d.controller.Run(ctx, start)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if firstCycle {
				return fmt.Errorf("failed to start setup: %w", err)
			}
			d.logger.Error("provisioning cycle failed", "session_id", res.SessionID, "error", err)
			if clock.SleepContext(ctx, d.clock, d.retryBackoff) != nil {
				return nil
			}
			start = provision.FromAccessPoint()
			continue
		}
		firstCycle = false

		if res.State.Failed() {
			if retries < d.stationRetries {
				retries++
				d.logger.Warn("retrying connection",
					"session_id", res.SessionID,
					"attempt", retries,
					"max_retries", d.stationRetries,
					"backoff", d.retryBackoff.String())
				if clock.SleepContext(ctx, d.clock, d.retryBackoff) != nil {
					return nil
				}
				start = provision.FromCredentials(res.Credentials)
				continue
			}
			retries = 0
			d.controller.SetNotice(fmt.Sprintf("Could not join %q: %v", res.Credentials.SSID, res.Err))
			start = provision.FromAccessPoint()
			continue
		}

		retries = 0
		d.status.Update(func(s *store.Snapshot) {
			s.State = StateReporting
			s.LastError = ""
		})

		err = d.loop.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}

		d.logger.Warn("connectivity lost, returning to setup", "session_id", res.SessionID, "error", err)
		d.status.Update(func(s *store.Snapshot) { s.LastError = err.Error() })
		if derr := d.radio.Disconnect(); derr != nil {
			d.logger.Warn("failed to leave network", "error", derr)
		}
		d.controller.SetNotice(fmt.Sprintf("Lost connection to %q. Enter the network details again.", res.Credentials.SSID))
		start = provision.FromAccessPoint()
	}
	return nil
}

// Status returns a snapshot of the device status.
func (d *Device) Status() Status {
	return d.status.Snapshot()
}

// State returns the current provisioning state.
func (d *Device) State() State {
	return d.controller.State()
}

func (d *Device) onTransition(t Transition) {
	for _, cb := range d.stateCallbacks {
		invokeCallbackSafe(d.logger, "state", cb, t)
	}
}

func (d *Device) onPortal(addr net.Addr) {
	for _, cb := range d.portalCallbacks {
		invokeCallbackSafe(d.logger, "portal", cb, addr)
	}
}

func (d *Device) onReport(r Report) {
	// store update first, callbacks fire after data is recorded
	d.status.Update(func(s *store.Snapshot) {
		if r.SampleErr != nil {
			s.Counters.SampleFailures++
			s.LastError = r.SampleErr.Error()
			return
		}
		s.Counters.Samples++
		s.LastSample = &store.Reading{
			Temperature: r.Sample.TemperatureCelsius,
			Humidity:    r.Sample.HumidityPercent,
			CapturedAt:  r.Sample.CapturedAt,
		}
		if r.Posted {
			s.Counters.Posts++
			s.LastPostStatus = r.StatusCode
			if r.PostErr != nil {
				s.Counters.PostFailures++
				s.LastError = r.PostErr.Error()
			}
		}
	})

	if r.SampleErr == nil {
		for _, cb := range d.sampleCallbacks {
			invokeCallbackSafe(d.logger, "sample", cb, r.Sample)
		}
	}
	for _, cb := range d.reportCallbacks {
		invokeCallbackSafe(d.logger, "report", cb, r)
	}
}

// invokeCallbackSafe calls cb with panic recovery. Panics are logged with a
// correlation id and the stack, and do not propagate.
func invokeCallbackSafe[T any](logger *slog.Logger, kind string, cb func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked",
				"callback", kind,
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	cb(v)
}
