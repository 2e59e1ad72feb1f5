// Package dhtlink runs a temperature and humidity sensor node: it gets the
// node onto a wireless network and relays a reading to a collector on a
// fixed cadence.
//
// A [Device] owns the whole lifecycle. It starts a setup access point with a
// small web form, joins the network submitted there, waits for an address,
// and then POSTs {"ping":true,"temperature":T,"humidity":H} every interval.
// When the address is lost or the collector stays unreachable, the device
// leaves the network and brings the access point back.
//
// # Quick Start
//
// The platform supplies the radio and the sensor's data line:
//
//	dev, _ := dhtlink.New(
//	    dhtlink.WithRadio(r),
//	    dhtlink.WithLine(line),
//	    dhtlink.WithCollectorURL("http://collector.local/ping"),
//	)
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	dev.Run(ctx) // blocks until context is cancelled
//
// # Configuration
//
// dhtlink uses the functional options pattern for configuration:
//
//	dev, err := dhtlink.New(
//	    dhtlink.WithRadio(r),
//	    dhtlink.WithLine(line),
//	    dhtlink.WithCollectorURL("https://collector.example.com/ping"),
//	    dhtlink.WithReportInterval(30*time.Second),
//	    dhtlink.WithAccessPoint("attic-setup", "letmein123", 11),
//	    dhtlink.WithHeaders("Authorization", "Bearer token"),
//	    dhtlink.WithPayloadFormat(dhtlink.FormatCBOR),
//	    dhtlink.WithMDNS(true),
//	)
//
// The config package builds the same options from a YAML file.
//
// # Provisioning
//
// Each provisioning cycle moves through [ApActive], [Connecting] and then
// one of [LeaseAcquired], [LeaseTimedOut] or [ConnectionFailed]. A failed
// cycle is retried with the same credentials (see [WithStationRetries])
// before the access point returns, with the failure shown on the setup page.
// [WithStateCallback] observes every [Transition].
//
// # Observability
//
// [Device.Status] returns a snapshot of the state, the last reading and
// delivery counters. The setup portal serves the same snapshot at
// /api/status and streams changes as Server-Sent Events at /api/events.
// Every telemetry POST carries an X-Request-ID that also appears in the
// logs and in the [Report] passed to [WithReportCallback].
//
// # Thread Safety
//
// [Device.Status] and [Device.State] are safe to call concurrently with
// [Device.Run]. Callbacks run on the device goroutine and must not block;
// panics inside them are recovered and logged.
package dhtlink
