// Package telemetry samples the sensor on a fixed cadence and relays each
// reading to the collector over HTTP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/dhtlink/internal/clock"
	"github.com/jpalmerr/dhtlink/internal/radio"
	"github.com/jpalmerr/dhtlink/internal/sensor"
)

// Defaults for [Config].
const (
	DefaultInterval                = 10 * time.Second
	DefaultTimeout                 = 5 * time.Second
	DefaultMaxConnectivityFailures = 3
	DefaultUserAgent               = "dhtlink"
)

var (
	// ErrConnectivityLost ends [Loop.Run]: the lease is gone or the
	// collector has been unreachable too many times in a row.
	ErrConnectivityLost = errors.New("connectivity lost")

	// ErrUnexpectedStatus marks a non-2xx collector reply. It is logged and
	// reported, never fatal.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Acquirer produces sensor readings.
type Acquirer interface {
	Acquire() (sensor.Sample, error)
}

// LinkMonitor reports whether the station still holds a lease.
type LinkMonitor interface {
	Lease() (radio.Lease, bool)
}

// Config is the telemetry configuration.
type Config struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Format   Format

	// Headers are added to every POST. Content-Type and X-Request-ID are
	// always set by the loop.
	Headers map[string]string

	// UserAgent is sent unless Headers sets one.
	UserAgent string

	// MaxConnectivityFailures consecutive transport failures end the loop.
	MaxConnectivityFailures int
}

// DefaultConfig returns the defaults; URL must still be set.
func DefaultConfig() Config {
	return Config{
		Interval:                DefaultInterval,
		Timeout:                 DefaultTimeout,
		Format:                  FormatJSON,
		UserAgent:               DefaultUserAgent,
		MaxConnectivityFailures: DefaultMaxConnectivityFailures,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("telemetry url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid telemetry url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("telemetry url must use http or https, got %q", c.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("telemetry url has no host: %q", c.URL)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("telemetry interval must be positive, got %s", c.Interval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("telemetry timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxConnectivityFailures < 1 {
		return fmt.Errorf("max connectivity failures must be at least 1, got %d", c.MaxConnectivityFailures)
	}
	if _, err := NewEncoder(c.Format); err != nil {
		return err
	}
	return nil
}

// Report describes one tick.
type Report struct {
	Tick int
	At   time.Time

	// Sample is valid when SampleErr is nil.
	Sample    sensor.Sample
	SampleErr error

	// Posted is true when a POST was attempted.
	Posted     bool
	RequestID  string
	StatusCode int
	Latency    time.Duration
	PostErr    error
}

// Delivered reports whether the collector accepted the reading.
func (r Report) Delivered() bool {
	return r.Posted && r.PostErr == nil
}

// LoopOption configures a [Loop].
type LoopOption func(*Loop)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) LoopOption {
	return func(lp *Loop) { lp.logger = l }
}

// WithReportHook calls fn synchronously after every tick.
func WithReportHook(fn func(Report)) LoopOption {
	return func(lp *Loop) { lp.onReport = fn }
}

// Loop is the telemetry loop. It is not safe to Run concurrently.
type Loop struct {
	cfg      Config
	acquirer Acquirer
	link     LinkMonitor
	poster   Poster
	encoder  Encoder
	clock    clock.Clock
	logger   *slog.Logger
	onReport func(Report)
}

// NewLoop validates cfg and returns a loop.
func NewLoop(cfg Config, a Acquirer, link LinkMonitor, p Poster, c clock.Clock, opts ...LoopOption) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if a == nil || link == nil || p == nil || c == nil {
		return nil, errors.New("acquirer, link monitor, poster and clock are required")
	}
	enc, err := NewEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	l := &Loop{
		cfg:      cfg,
		acquirer: a,
		link:     link,
		poster:   p,
		encoder:  enc,
		clock:    c,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run ticks immediately and then every Interval, measured from the first
// tick so processing time does not accumulate as drift. Ticks that are
// already past when the previous one finishes are skipped.
//
// Run returns ctx.Err() on cancellation, or an error wrapping
// [ErrConnectivityLost].
func (l *Loop) Run(ctx context.Context) error {
	start := l.clock.Now()
	failures := 0

	for tick := 0; ; tick++ {
		if tick > 0 {
			next := start.Add(time.Duration(tick) * l.cfg.Interval)
			if now := l.clock.Now(); now.After(next) {
				due := int(now.Sub(start)/l.cfg.Interval) + 1
				l.logger.Warn("telemetry ticks skipped", "skipped", due-tick)
				tick = due
				next = start.Add(time.Duration(tick) * l.cfg.Interval)
			}
			if err := clock.SleepContext(ctx, l.clock, next.Sub(l.clock.Now())); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		report, err := l.tick(ctx, tick, &failures)
		if l.onReport != nil && (report.Posted || report.SampleErr != nil) {
			l.onReport(report)
		}
		if err != nil {
			return err
		}
	}
}

func (l *Loop) tick(ctx context.Context, tick int, failures *int) (Report, error) {
	report := Report{Tick: tick, At: l.clock.Now()}

	if _, ok := l.link.Lease(); !ok {
		l.logger.Warn("station lease lost", "tick", tick)
		return report, fmt.Errorf("%w: station lease lost", ErrConnectivityLost)
	}

	sample, err := l.acquirer.Acquire()
	if err != nil {
		report.SampleErr = err
		l.logger.Warn("sensor read failed, skipping post", "tick", tick, "error", err)
		return report, nil
	}
	report.Sample = sample

	body, err := l.encoder.Encode(Payload{
		Ping:        true,
		Temperature: sample.TemperatureCelsius,
		Humidity:    sample.HumidityPercent,
	})
	if err != nil {
		report.SampleErr = fmt.Errorf("encode payload: %w", err)
		l.logger.Error("failed to encode payload", "tick", tick, "error", err)
		return report, nil
	}

	report.RequestID = uuid.NewString()
	resp := l.poster.Post(ctx, l.cfg.URL, body, l.headers(report.RequestID), l.cfg.Timeout)
	report.Posted = true
	report.StatusCode = resp.StatusCode
	report.Latency = resp.Latency

	attrs := []any{
		"tick", tick,
		"request_id", report.RequestID,
		"temperature", sample.TemperatureCelsius,
		"humidity", sample.HumidityPercent,
		"latency_ms", resp.Latency.Milliseconds(),
	}

	switch {
	case resp.Error != nil:
		report.PostErr = resp.Error
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !IsConnectivityError(resp.Error) {
			l.logger.Warn("telemetry post failed", append(attrs, "error", resp.Error)...)
			return report, nil
		}
		*failures++
		l.logger.Warn("collector unreachable",
			append(attrs, "consecutive_failures", *failures, "error", resp.Error)...)
		if *failures >= l.cfg.MaxConnectivityFailures {
			return report, fmt.Errorf("%w: %d consecutive delivery failures: %w",
				ErrConnectivityLost, *failures, resp.Error)
		}

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		// the collector answered, so the network is fine
		*failures = 0
		report.PostErr = fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		l.logger.Warn("collector rejected reading", append(attrs, "status_code", resp.StatusCode)...)

	default:
		*failures = 0
		l.logger.Debug("telemetry posted", append(attrs, "status_code", resp.StatusCode)...)
	}
	return report, nil
}

func (l *Loop) headers(requestID string) map[string]string {
	h := make(map[string]string, len(l.cfg.Headers)+3)
	h["User-Agent"] = l.cfg.UserAgent
	maps.Copy(h, l.cfg.Headers)
	h["Content-Type"] = l.encoder.ContentType()
	h["X-Request-ID"] = requestID
	return h
}

// IsConnectivityError reports whether err means the collector could not be
// reached at all (dial, DNS, timeout, unreachable network) as opposed to a
// malformed request or a bad reply.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ENETUNREACH,
		syscall.EHOSTUNREACH,
		syscall.ENETDOWN,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
