package config

import (
	"sort"

	"github.com/jpalmerr/dhtlink"
)

// BuildOptions converts parsed configuration into device options.
//
// The radio, sensor line, clock and logger are platform concerns and are not
// part of the file; callers append them. Option validation runs when the
// options are passed to [dhtlink.New].
func BuildOptions(cfg *Config) []dhtlink.Option {
	opts := []dhtlink.Option{
		dhtlink.WithAccessPoint(cfg.AccessPoint.SSID, cfg.AccessPoint.Passphrase, cfg.AccessPoint.Channel),
		dhtlink.WithPortalAddr(cfg.Portal.Addr),
		dhtlink.WithMDNS(cfg.Portal.MDNS),
		dhtlink.WithSensorTiming(buildSensorTiming(cfg.Sensor)),
		dhtlink.WithCollectorURL(cfg.Telemetry.URL),
		dhtlink.WithReportInterval(cfg.Telemetry.Interval.Duration()),
		dhtlink.WithPostTimeout(cfg.Telemetry.Timeout.Duration()),
		dhtlink.WithPayloadFormat(dhtlink.PayloadFormat(cfg.Telemetry.Format)),
		dhtlink.WithMaxConnectivityFailures(cfg.Telemetry.MaxConnectivityFailures),
		dhtlink.WithLeaseTimeout(cfg.Provisioning.LeaseTimeout.Duration()),
		dhtlink.WithLeasePollInterval(cfg.Provisioning.LeasePollInterval.Duration()),
		dhtlink.WithRetryBackoff(cfg.Provisioning.RetryBackoff.Duration()),
	}

	if cfg.Portal.Title != "" {
		opts = append(opts, dhtlink.WithTitle(cfg.Portal.Title))
	}
	if cfg.Provisioning.StationRetries != nil {
		opts = append(opts, dhtlink.WithStationRetries(*cfg.Provisioning.StationRetries))
	}
	if len(cfg.Telemetry.Headers) > 0 {
		opts = append(opts, dhtlink.WithHeaders(mapToKeyValuePairs(cfg.Telemetry.Headers)...))
	}
	return opts
}

// buildSensorTiming overlays the configured timings on the defaults.
func buildSensorTiming(sc SensorConfig) dhtlink.SensorTiming {
	t := dhtlink.DefaultSensorTiming()
	if sc.StartSignal != 0 {
		t.StartSignal = sc.StartSignal.Duration()
	}
	if sc.ResponseTimeout != 0 {
		t.ResponseTimeout = sc.ResponseTimeout.Duration()
	}
	if sc.BitTimeout != 0 {
		t.BitTimeout = sc.BitTimeout.Duration()
	}
	if sc.BitThreshold != 0 {
		t.BitThreshold = sc.BitThreshold.Duration()
	}
	if sc.MinInterval != 0 {
		t.MinInterval = sc.MinInterval.Duration()
	}
	return t
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
