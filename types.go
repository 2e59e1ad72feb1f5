package dhtlink

import (
	"github.com/jpalmerr/dhtlink/internal/clock"
	"github.com/jpalmerr/dhtlink/internal/credentials"
	"github.com/jpalmerr/dhtlink/internal/provision"
	"github.com/jpalmerr/dhtlink/internal/pulse"
	"github.com/jpalmerr/dhtlink/internal/radio"
	"github.com/jpalmerr/dhtlink/internal/sensor"
	"github.com/jpalmerr/dhtlink/internal/store"
	"github.com/jpalmerr/dhtlink/internal/telemetry"
)

// Collaborators supplied by the platform.
type (
	// Radio is the network stack: setup access point and station mode.
	Radio = radio.Radio

	// APConfig describes the setup access point.
	APConfig = radio.APConfig

	// Lease is a station address assignment.
	Lease = radio.Lease

	// Line is the sensor's data line.
	Line = pulse.Line

	// Level is a line level.
	Level = pulse.Level

	// Clock is the monotonic time source.
	Clock = clock.Clock

	// Poster delivers encoded readings to the collector.
	Poster = telemetry.Poster

	// PostResponse is what a [Poster] returns.
	PostResponse = telemetry.Response
)

// Values observed through callbacks and [Device.Status].
type (
	// Credentials identify the network to join.
	Credentials = credentials.Credentials

	// Sample is one decoded sensor reading.
	Sample = sensor.Sample

	// SensorTiming holds the single-wire protocol timings.
	SensorTiming = sensor.Config

	// State is a provisioning phase.
	State = provision.State

	// Transition is a provisioning state change.
	Transition = provision.Transition

	// Report describes one telemetry tick.
	Report = telemetry.Report

	// Status is the device status snapshot served at /api/status.
	Status = store.Snapshot

	// PayloadFormat selects the telemetry encoding.
	PayloadFormat = telemetry.Format
)

// Provisioning states.
const (
	ApActive            = provision.ApActive
	AwaitingCredentials = provision.AwaitingCredentials
	Connecting          = provision.Connecting
	LeaseAcquired       = provision.LeaseAcquired
	LeaseTimedOut       = provision.LeaseTimedOut
	ConnectionFailed    = provision.ConnectionFailed
)

// Payload formats.
const (
	FormatJSON = telemetry.FormatJSON
	FormatCBOR = telemetry.FormatCBOR
)

// Line levels.
const (
	Low  = pulse.Low
	High = pulse.High
)

// StateReporting is the status state while telemetry runs.
const StateReporting = "reporting"

// Errors callers may classify with errors.Is.
var (
	ErrLineTimeout      = pulse.ErrLineTimeout
	ErrNotResponding    = sensor.ErrNotResponding
	ErrChecksumMismatch = sensor.ErrChecksumMismatch
	ErrMalformedRequest = credentials.ErrMalformedRequest
	ErrConnectionFailed = provision.ErrConnectionFailed
	ErrLeaseTimedOut    = provision.ErrLeaseTimedOut
	ErrUnexpectedStatus = telemetry.ErrUnexpectedStatus
	ErrConnectivityLost = telemetry.ErrConnectivityLost
)

// RealClock returns the wall clock.
func RealClock() Clock { return clock.Real{} }

// DefaultSensorTiming returns DHT11 datasheet timings.
func DefaultSensorTiming() SensorTiming { return sensor.DefaultConfig() }
