// Package config provides YAML configuration parsing for dhtlink.
//
// This package lets the CLI run a device from a configuration file, as an
// alternative to assembling options in code.
//
// Example configuration:
//
//	access_point:
//	  ssid: dhtlink-setup
//	  channel: 6
//
//	portal:
//	  addr: ":80"
//	  mdns: true
//
//	telemetry:
//	  url: http://collector.local/ping
//	  interval: 10s
//	  headers:
//	    Authorization: "Bearer ${COLLECTOR_TOKEN}"
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Parse].
const (
	DefaultAPSSID                  = "dhtlink-setup"
	DefaultAPChannel               = 6
	DefaultPortalAddr              = ":80"
	DefaultInterval                = 10 * time.Second
	DefaultTimeout                 = 5 * time.Second
	DefaultFormat                  = "json"
	DefaultMaxConnectivityFailures = 3
	DefaultLeaseTimeout            = 20 * time.Second
	DefaultLeasePollInterval       = 250 * time.Millisecond
	DefaultStationRetries          = 2
	DefaultRetryBackoff            = 2 * time.Second
)

// minInterval keeps a misconfigured device from flooding the collector.
const minInterval = time.Second

// Config is the root configuration structure for a device.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	AccessPoint  AccessPointConfig  `yaml:"access_point"`
	Portal       PortalConfig       `yaml:"portal"`
	Sensor       SensorConfig       `yaml:"sensor"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
}

// AccessPointConfig describes the setup access point.
type AccessPointConfig struct {
	// SSID defaults to "dhtlink-setup".
	SSID string `yaml:"ssid"`

	// Passphrase is empty for an open access point, otherwise 8-64 bytes.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	Passphrase string `yaml:"passphrase"`

	// Channel is 1-14. Defaults to 6.
	Channel int `yaml:"channel"`
}

// PortalConfig configures the setup portal.
type PortalConfig struct {
	// Addr is the listen address. Defaults to ":80".
	Addr string `yaml:"addr"`

	// Title is the heading of the setup page.
	Title string `yaml:"title"`

	// MDNS advertises the portal while the access point is up.
	MDNS bool `yaml:"mdns"`
}

// SensorConfig holds the data pin and protocol timings. Zero timings keep
// the datasheet defaults.
type SensorConfig struct {
	// Pin is the GPIO number of the data line, passed to the line driver.
	Pin int `yaml:"pin"`

	StartSignal     Duration `yaml:"start_signal"`
	ResponseTimeout Duration `yaml:"response_timeout"`
	BitTimeout      Duration `yaml:"bit_timeout"`
	BitThreshold    Duration `yaml:"bit_threshold"`
	MinInterval     Duration `yaml:"min_interval"`
}

// TelemetryConfig configures the reporting loop.
type TelemetryConfig struct {
	// URL is the collector endpoint. Required.
	// Supports environment variable substitution.
	URL string `yaml:"url"`

	// Interval is the time between readings. Defaults to 10s, at least 1s.
	Interval Duration `yaml:"interval"`

	// Timeout bounds each POST. Defaults to 5s.
	Timeout Duration `yaml:"timeout"`

	// Format is "json" (default) or "cbor".
	Format string `yaml:"format"`

	// Headers are sent with every POST. Values support environment
	// variable substitution.
	Headers map[string]string `yaml:"headers"`

	// MaxConnectivityFailures consecutive unreachable POSTs send the device
	// back to setup. Defaults to 3.
	MaxConnectivityFailures int `yaml:"max_connectivity_failures"`
}

// ProvisioningConfig configures joining the network.
type ProvisioningConfig struct {
	// LeaseTimeout bounds the wait for an address. Defaults to 20s.
	LeaseTimeout Duration `yaml:"lease_timeout"`

	// LeasePollInterval defaults to 250ms.
	LeasePollInterval Duration `yaml:"lease_poll_interval"`

	// StationRetries is how often a failed connection is retried before the
	// access point comes back. Defaults to 2; 0 is honoured.
	StationRetries *int `yaml:"station_retries"`

	// RetryBackoff is the pause between retries. Defaults to 2s.
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part, present when a default was given
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := sub[1], sub[2] != "", sub[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before validation.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the telemetry URL, header values and
// the access point passphrase. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AccessPoint.SSID == "" {
		c.AccessPoint.SSID = DefaultAPSSID
	}
	if c.AccessPoint.Channel == 0 {
		c.AccessPoint.Channel = DefaultAPChannel
	}
	if c.Portal.Addr == "" {
		c.Portal.Addr = DefaultPortalAddr
	}
	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = Duration(DefaultInterval)
	}
	if c.Telemetry.Timeout == 0 {
		c.Telemetry.Timeout = Duration(DefaultTimeout)
	}
	if c.Telemetry.Format == "" {
		c.Telemetry.Format = DefaultFormat
	}
	if c.Telemetry.MaxConnectivityFailures == 0 {
		c.Telemetry.MaxConnectivityFailures = DefaultMaxConnectivityFailures
	}
	if c.Provisioning.LeaseTimeout == 0 {
		c.Provisioning.LeaseTimeout = Duration(DefaultLeaseTimeout)
	}
	if c.Provisioning.LeasePollInterval == 0 {
		c.Provisioning.LeasePollInterval = Duration(DefaultLeasePollInterval)
	}
	if c.Provisioning.StationRetries == nil {
		n := DefaultStationRetries
		c.Provisioning.StationRetries = &n
	}
	if c.Provisioning.RetryBackoff == 0 {
		c.Provisioning.RetryBackoff = Duration(DefaultRetryBackoff)
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	ap := &c.AccessPoint
	expanded, err := expandEnvVars(ap.Passphrase)
	if err != nil {
		return fmt.Errorf("access_point.passphrase: %w", err)
	}
	ap.Passphrase = expanded
	if len(ap.SSID) > 32 {
		return fmt.Errorf("access_point.ssid must be at most 32 bytes, got %d", len(ap.SSID))
	}
	if ap.Passphrase != "" && (len(ap.Passphrase) < 8 || len(ap.Passphrase) > 64) {
		return fmt.Errorf("access_point.passphrase must be empty or 8-64 bytes, got %d", len(ap.Passphrase))
	}
	if ap.Channel < 1 || ap.Channel > 14 {
		return fmt.Errorf("access_point.channel must be between 1 and 14, got %d", ap.Channel)
	}

	if _, _, err := net.SplitHostPort(c.Portal.Addr); err != nil {
		return fmt.Errorf("portal.addr: invalid address %q: %w", c.Portal.Addr, err)
	}

	if c.Sensor.Pin < 0 {
		return fmt.Errorf("sensor.pin cannot be negative, got %d", c.Sensor.Pin)
	}
	for _, f := range []struct {
		name string
		d    Duration
	}{
		{"start_signal", c.Sensor.StartSignal},
		{"response_timeout", c.Sensor.ResponseTimeout},
		{"bit_timeout", c.Sensor.BitTimeout},
		{"bit_threshold", c.Sensor.BitThreshold},
		{"min_interval", c.Sensor.MinInterval},
	} {
		if f.d < 0 {
			return fmt.Errorf("sensor.%s cannot be negative, got %s", f.name, f.d.Duration())
		}
	}
	if err := buildSensorTiming(c.Sensor).Validate(); err != nil {
		return fmt.Errorf("sensor: %w", err)
	}

	if err := c.Telemetry.expandAndValidate(); err != nil {
		return err
	}

	p := c.Provisioning
	switch {
	case p.LeaseTimeout.Duration() < 0:
		return fmt.Errorf("provisioning.lease_timeout cannot be negative, got %s", p.LeaseTimeout.Duration())
	case p.LeasePollInterval.Duration() < 0:
		return fmt.Errorf("provisioning.lease_poll_interval cannot be negative, got %s", p.LeasePollInterval.Duration())
	case p.LeasePollInterval.Duration() > p.LeaseTimeout.Duration():
		return fmt.Errorf("provisioning.lease_poll_interval (%s) must not exceed lease_timeout (%s)",
			p.LeasePollInterval.Duration(), p.LeaseTimeout.Duration())
	case *p.StationRetries < 0:
		return fmt.Errorf("provisioning.station_retries cannot be negative, got %d", *p.StationRetries)
	case p.RetryBackoff.Duration() < 0:
		return fmt.Errorf("provisioning.retry_backoff cannot be negative, got %s", p.RetryBackoff.Duration())
	}
	return nil
}

func (t *TelemetryConfig) expandAndValidate() error {
	if t.URL == "" {
		return errors.New("telemetry.url is required")
	}
	expanded, err := expandEnvVars(t.URL)
	if err != nil {
		return fmt.Errorf("telemetry.url: %w", err)
	}
	t.URL = expanded

	parsedURL, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("telemetry.url: invalid url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return errors.New("telemetry.url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("telemetry.url scheme must be http or https, got %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("telemetry.url has no host: %q", t.URL)
	}

	for k, v := range t.Headers {
		if k == "" {
			return errors.New("telemetry.headers: header name cannot be empty")
		}
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("telemetry.headers[%s]: %w", k, err)
		}
		t.Headers[k] = expanded
	}

	if t.Interval.Duration() < minInterval {
		return fmt.Errorf("telemetry.interval must be at least %s, got %s", minInterval, t.Interval.Duration())
	}
	if t.Timeout.Duration() <= 0 {
		return fmt.Errorf("telemetry.timeout must be positive, got %s", t.Timeout.Duration())
	}
	if t.Timeout.Duration() > t.Interval.Duration() {
		return fmt.Errorf("telemetry.timeout (%s) must not exceed interval (%s)", t.Timeout.Duration(), t.Interval.Duration())
	}
	if t.Format != "json" && t.Format != "cbor" {
		return fmt.Errorf("telemetry.format must be json or cbor, got %q", t.Format)
	}
	if t.MaxConnectivityFailures < 1 {
		return fmt.Errorf("telemetry.max_connectivity_failures must be at least 1, got %d", t.MaxConnectivityFailures)
	}
	return nil
}
