// Package sensor drives the single-wire handshake of DHT11-class
// temperature and humidity sensors and decodes their 40-bit frames.
//
// A transaction is synchronous: the host holds the line low for the start
// signal, releases it, waits through the sensor's presence and ready pulses,
// then times 40 low/high pulse pairs. Each high pulse encodes one bit by its
// length. Every wait is bounded, so a disconnected sensor yields
// [ErrNotResponding] or [pulse.ErrLineTimeout] instead of hanging.
//
// Failures are reported, never retried within [Link.Acquire]; the caller's
// schedule is the retry policy.
package sensor

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/jpalmerr/dhtlink/internal/clock"
	"github.com/jpalmerr/dhtlink/internal/pulse"
)

// FrameBits is the number of data bits in one transaction.
const FrameBits = 40

var (
	// ErrNotResponding is returned when the sensor does not answer the start
	// signal with its presence and ready pulses.
	ErrNotResponding = errors.New("sensor not responding")

	// ErrChecksumMismatch is returned when the frame's checksum byte does not
	// match the sum of the four data bytes.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Sample is one decoded reading.
type Sample struct {
	TemperatureCelsius int       `json:"temperature"`
	HumidityPercent    int       `json:"humidity"`
	CapturedAt         time.Time `json:"captured_at"`
}

// Bit holds the measured separator and data pulse of one bit.
type Bit struct {
	Low  time.Duration
	High time.Duration
}

// PulseTrain is the raw timing of one frame, most significant bit first.
type PulseTrain [FrameBits]Bit

// Config holds protocol timings. The zero value is not usable; start from
// [DefaultConfig].
type Config struct {
	// StartSignal is how long the host holds the line low to wake the sensor.
	StartSignal time.Duration

	// ResponseTimeout bounds each handshake phase.
	ResponseTimeout time.Duration

	// BitTimeout bounds each separator and data pulse.
	BitTimeout time.Duration

	// BitThreshold separates short (0) from long (1) data pulses.
	BitThreshold time.Duration

	// MinInterval is the minimum spacing between transactions the sensor
	// tolerates. Acquire waits out the remainder if called early.
	MinInterval time.Duration
}

// DefaultConfig returns DHT11 datasheet timings.
func DefaultConfig() Config {
	return Config{
		StartSignal:     18 * time.Millisecond,
		ResponseTimeout: 200 * time.Microsecond,
		BitTimeout:      200 * time.Microsecond,
		BitThreshold:    28 * time.Microsecond,
		MinInterval:     time.Second,
	}
}

// MinStartSignal is the shortest start signal the sensor reliably detects.
const MinStartSignal = 18 * time.Millisecond

// Validate reports the first unusable timing.
func (c Config) Validate() error {
	switch {
	case c.StartSignal < MinStartSignal:
		return fmt.Errorf("start signal must be at least %s, got %s", MinStartSignal, c.StartSignal)
	case c.ResponseTimeout <= 0:
		return fmt.Errorf("response timeout must be positive, got %s", c.ResponseTimeout)
	case c.BitTimeout <= 0:
		return fmt.Errorf("bit timeout must be positive, got %s", c.BitTimeout)
	case c.BitThreshold <= 0 || c.BitThreshold >= c.BitTimeout:
		return fmt.Errorf("bit threshold must be between 0 and the bit timeout (%s), got %s", c.BitTimeout, c.BitThreshold)
	case c.MinInterval < 0:
		return fmt.Errorf("min interval must not be negative, got %s", c.MinInterval)
	}
	return nil
}

// Link talks to one sensor over one line. A Link is not safe for concurrent
// use; the protocol has a single owner by construction.
type Link struct {
	line  pulse.Line
	timer *pulse.Timer
	clock clock.Clock
	cfg   Config
	last  time.Time
}

// NewLink returns a Link on line timed by c.
func NewLink(line pulse.Line, c clock.Clock, cfg Config) *Link {
	return &Link{
		line:  line,
		timer: pulse.NewTimer(line, c),
		clock: c,
		cfg:   cfg,
	}
}

// Acquire performs one transaction and returns the decoded sample.
//
// Errors wrap [ErrNotResponding], [pulse.ErrLineTimeout] or
// [ErrChecksumMismatch]. No sample is returned alongside an error.
func (l *Link) Acquire() (Sample, error) {
	if !l.last.IsZero() {
		if wait := l.cfg.MinInterval - l.clock.Now().Sub(l.last); wait > 0 {
			l.clock.Sleep(wait)
		}
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	train, err := l.read()
	l.last = l.clock.Now()
	if err != nil {
		return Sample{}, err
	}

	sample, err := Decode(train, l.cfg.BitThreshold)
	if err != nil {
		return Sample{}, err
	}
	sample.CapturedAt = l.last
	return sample, nil
}

var handshake = []struct {
	name  string
	level pulse.Level
}{
	{"release", pulse.High},
	{"presence", pulse.Low},
	{"ready", pulse.High},
}

// read runs the start signal, handshake and bit timing.
func (l *Link) read() (PulseTrain, error) {
	var train PulseTrain

	if err := l.line.Drive(pulse.Low); err != nil {
		return train, fmt.Errorf("drive start signal: %w", err)
	}
	l.clock.Sleep(l.cfg.StartSignal)

	// mask interrupts only for the timed part; never across the sleep
	if cs, ok := l.line.(pulse.CriticalSection); ok {
		cs.Enter()
		defer cs.Exit()
	}

	if err := l.line.Release(); err != nil {
		return train, fmt.Errorf("release line: %w", err)
	}

	for _, phase := range handshake {
		if _, err := l.timer.MeasureLevelDuration(phase.level, l.cfg.ResponseTimeout); err != nil {
			return train, fmt.Errorf("%w: %s pulse: %w", ErrNotResponding, phase.name, err)
		}
	}

	for i := range train {
		low, err := l.timer.MeasureLevelDuration(pulse.Low, l.cfg.BitTimeout)
		if err != nil {
			return train, fmt.Errorf("bit %d separator: %w", i, err)
		}
		high, err := l.timer.MeasureLevelDuration(pulse.High, l.cfg.BitTimeout)
		if err != nil {
			return train, fmt.Errorf("bit %d data: %w", i, err)
		}
		train[i] = Bit{Low: low, High: high}
	}

	return train, nil
}

// Decode classifies each data pulse against threshold, assembles the five
// frame bytes and validates the checksum.
//
// Byte order is humidity integer, humidity fraction, temperature integer,
// temperature fraction, checksum. Fraction bytes are ignored. Decode is pure:
// the same train always yields the same result.
func Decode(train PulseTrain, threshold time.Duration) (Sample, error) {
	data := Bytes(train, threshold)

	if sum := data[0] + data[1] + data[2] + data[3]; sum != data[4] {
		return Sample{}, fmt.Errorf("%w: computed 0x%02x, frame carries 0x%02x", ErrChecksumMismatch, sum, data[4])
	}

	return Sample{
		TemperatureCelsius: int(data[2]),
		HumidityPercent:    int(data[0]),
	}, nil
}

// Bytes assembles the raw frame bytes without validating the checksum.
func Bytes(train PulseTrain, threshold time.Duration) [5]byte {
	var data [5]byte
	for i, b := range train {
		data[i/8] <<= 1
		if b.High > threshold {
			data[i/8] |= 1
		}
	}
	return data
}
