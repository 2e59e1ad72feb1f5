package dhtlink

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jpalmerr/dhtlink/internal/provision"
	"github.com/jpalmerr/dhtlink/internal/telemetry"
)

// deviceConfig holds mutable state during Device construction.
type deviceConfig struct {
	radio  Radio
	line   Line
	clock  Clock
	poster Poster
	logger *slog.Logger

	sensor       SensorTiming
	provisioning provision.Config
	telemetry    telemetry.Config
	version      string
	mdns         bool

	stationRetries int
	retryBackoff   time.Duration

	stateCallbacks  []func(Transition)
	sampleCallbacks []func(Sample)
	reportCallbacks []func(Report)
	portalCallbacks []func(net.Addr)
}

// Option is a function that configures a [Device] during construction.
// Options return an error if validation fails.
type Option func(*deviceConfig) error

// WithRadio sets the network stack. Required.
func WithRadio(r Radio) Option {
	return func(cfg *deviceConfig) error {
		if r == nil {
			return errors.New("radio cannot be nil")
		}
		cfg.radio = r
		return nil
	}
}

// WithLine sets the sensor's data line. Required.
func WithLine(l Line) Option {
	return func(cfg *deviceConfig) error {
		if l == nil {
			return errors.New("line cannot be nil")
		}
		cfg.line = l
		return nil
	}
}

// WithClock sets the time source. Defaults to the wall clock.
func WithClock(c Clock) Option {
	return func(cfg *deviceConfig) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithCollectorURL sets where readings are POSTed. Required.
//
// Example:
//
//	dev, err := dhtlink.New(
//	    dhtlink.WithRadio(r),
//	    dhtlink.WithLine(line),
//	    dhtlink.WithCollectorURL("http://collector.local/ping"),
//	)
func WithCollectorURL(url string) Option {
	return func(cfg *deviceConfig) error {
		cfg.telemetry.URL = url
		return nil
	}
}

// WithReportInterval sets the telemetry cadence. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithReportInterval(d time.Duration) Option {
	return func(cfg *deviceConfig) error {
		if d <= 0 {
			return errors.New("report interval must be positive")
		}
		cfg.telemetry.Interval = d
		return nil
	}
}

// WithPostTimeout bounds each POST. Defaults to 5 seconds.
func WithPostTimeout(d time.Duration) Option {
	return func(cfg *deviceConfig) error {
		if d <= 0 {
			return errors.New("post timeout must be positive")
		}
		cfg.telemetry.Timeout = d
		return nil
	}
}

// WithPayloadFormat selects JSON (default) or CBOR bodies.
func WithPayloadFormat(f PayloadFormat) Option {
	return func(cfg *deviceConfig) error {
		if f != FormatJSON && f != FormatCBOR {
			return fmt.Errorf("unknown payload format %q", f)
		}
		cfg.telemetry.Format = f
		return nil
	}
}

// WithHeaders adds headers to every POST as key/value pairs.
//
// Example:
//
//	dhtlink.WithHeaders("Authorization", "Bearer token", "X-Device", "attic")
//
// Returns an error for an odd number of arguments.
func WithHeaders(kv ...string) Option {
	return func(cfg *deviceConfig) error {
		if len(kv)%2 != 0 {
			return errors.New("headers must be key/value pairs")
		}
		if cfg.telemetry.Headers == nil {
			cfg.telemetry.Headers = make(map[string]string, len(kv)/2)
		}
		for i := 0; i < len(kv); i += 2 {
			if kv[i] == "" {
				return errors.New("header name cannot be empty")
			}
			cfg.telemetry.Headers[kv[i]] = kv[i+1]
		}
		return nil
	}
}

// WithMaxConnectivityFailures sets how many consecutive unreachable POSTs
// send the device back to setup. Defaults to 3.
func WithMaxConnectivityFailures(n int) Option {
	return func(cfg *deviceConfig) error {
		if n < 1 {
			return errors.New("max connectivity failures must be at least 1")
		}
		cfg.telemetry.MaxConnectivityFailures = n
		return nil
	}
}

// WithPoster replaces the HTTP client used for POSTs.
func WithPoster(p Poster) Option {
	return func(cfg *deviceConfig) error {
		if p == nil {
			return errors.New("poster cannot be nil")
		}
		cfg.poster = p
		return nil
	}
}

// WithVersion sets the version sent as User-Agent dhtlink/<version>.
func WithVersion(v string) Option {
	return func(cfg *deviceConfig) error {
		cfg.version = v
		return nil
	}
}

// WithSensorTiming overrides the protocol timings. Start from
// [DefaultSensorTiming].
func WithSensorTiming(t SensorTiming) Option {
	return func(cfg *deviceConfig) error {
		if err := t.Validate(); err != nil {
			return err
		}
		cfg.sensor = t
		return nil
	}
}

// WithAccessPoint configures the setup access point. An empty passphrase
// makes it open. Defaults to an open "dhtlink-setup" on channel 6.
func WithAccessPoint(ssid, passphrase string, channel int) Option {
	return func(cfg *deviceConfig) error {
		if channel < 1 || channel > 14 {
			return fmt.Errorf("access point channel must be between 1 and 14, got %d", channel)
		}
		cfg.provisioning.AccessPoint = APConfig{SSID: ssid, Passphrase: passphrase, Channel: channel}
		return nil
	}
}

// WithPortalAddr sets the setup portal's listen address. Defaults to ":80".
func WithPortalAddr(addr string) Option {
	return func(cfg *deviceConfig) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid portal address %q: %w", addr, err)
		}
		cfg.provisioning.PortalAddr = addr
		return nil
	}
}

// WithTitle sets the heading of the setup page.
func WithTitle(title string) Option {
	return func(cfg *deviceConfig) error {
		cfg.provisioning.PortalTitle = title
		return nil
	}
}

// WithMDNS advertises the setup portal over mDNS while the access point is
// up. Off by default.
func WithMDNS(enabled bool) Option {
	return func(cfg *deviceConfig) error {
		cfg.mdns = enabled
		return nil
	}
}

// WithLeaseTimeout bounds the wait for an address after joining. Defaults
// to 20 seconds.
func WithLeaseTimeout(d time.Duration) Option {
	return func(cfg *deviceConfig) error {
		if d <= 0 {
			return errors.New("lease timeout must be positive")
		}
		cfg.provisioning.LeaseTimeout = d
		return nil
	}
}

// WithLeasePollInterval sets how often the lease is checked while waiting.
// Defaults to 250 milliseconds.
func WithLeasePollInterval(d time.Duration) Option {
	return func(cfg *deviceConfig) error {
		if d <= 0 {
			return errors.New("lease poll interval must be positive")
		}
		cfg.provisioning.LeasePollInterval = d
		return nil
	}
}

// WithStationRetries sets how many times a failed connection is retried
// with the same credentials before the access point comes back. Defaults
// to 2; zero falls back immediately.
func WithStationRetries(n int) Option {
	return func(cfg *deviceConfig) error {
		if n < 0 {
			return errors.New("station retries cannot be negative")
		}
		cfg.stationRetries = n
		return nil
	}
}

// WithRetryBackoff sets the pause between connection retries. Defaults to
// 2 seconds.
func WithRetryBackoff(d time.Duration) Option {
	return func(cfg *deviceConfig) error {
		if d < 0 {
			return errors.New("retry backoff cannot be negative")
		}
		cfg.retryBackoff = d
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *deviceConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithStateCallback registers a function called on every provisioning
// transition.
//
// Callbacks run synchronously on the device goroutine and must not block.
// Panics are recovered and logged with a correlation id. Nil callbacks are
// ignored.
func WithStateCallback(cb func(Transition)) Option {
	return func(cfg *deviceConfig) error {
		if cb != nil {
			cfg.stateCallbacks = append(cfg.stateCallbacks, cb)
		}
		return nil
	}
}

// WithSampleCallback registers a function called with every successful
// reading once its POST has completed. Same rules as [WithStateCallback].
func WithSampleCallback(cb func(Sample)) Option {
	return func(cfg *deviceConfig) error {
		if cb != nil {
			cfg.sampleCallbacks = append(cfg.sampleCallbacks, cb)
		}
		return nil
	}
}

// WithReportCallback registers a function called after every telemetry
// tick that read the sensor. Same rules as [WithStateCallback].
func WithReportCallback(cb func(Report)) Option {
	return func(cfg *deviceConfig) error {
		if cb != nil {
			cfg.reportCallbacks = append(cfg.reportCallbacks, cb)
		}
		return nil
	}
}

// WithPortalCallback registers a function called with the portal's bound
// address each time the setup portal starts listening.
func WithPortalCallback(cb func(net.Addr)) Option {
	return func(cfg *deviceConfig) error {
		if cb != nil {
			cfg.portalCallbacks = append(cfg.portalCallbacks, cb)
		}
		return nil
	}
}
