// Package pulse measures how long a single data line holds a logic level.
//
// The hardware line is abstracted behind [Line] so the decode logic built on
// top of [Timer] can be exercised with synthetic waveforms ([SimLine]).
package pulse

import (
	"errors"
	"fmt"
	"time"

	"github.com/jpalmerr/dhtlink/internal/clock"
)

// ErrLineTimeout is returned when the line does not change level within the
// allowed window.
var ErrLineTimeout = errors.New("line timeout")

// Level is a logic level on the data line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// String returns "low" or "high".
func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Line is a bidirectional open-drain data line.
type Line interface {
	// Drive switches the line to output and holds level.
	Drive(level Level) error

	// Release switches the line to input; the pull-up takes it high unless
	// the peripheral holds it low.
	Release() error

	// Level samples the current level.
	Level() Level
}

// CriticalSection is implemented by lines that can mask interrupts for the
// duration of a timing-sensitive transaction.
type CriticalSection interface {
	Enter()
	Exit()
}

// Timer measures level durations on a [Line] against a monotonic clock.
type Timer struct {
	line  Line
	clock clock.Clock
}

// NewTimer returns a Timer reading line and timing with c.
func NewTimer(line Line, c clock.Clock) *Timer {
	return &Timer{line: line, clock: c}
}

// MeasureLevelDuration busy-waits while the line holds level and returns how
// long it was held. If the level has not changed once timeout has elapsed it
// returns [ErrLineTimeout].
//
// The deadline is checked against the clock on every sample; there is no
// buffering, so each call observes exactly one edge.
func (t *Timer) MeasureLevelDuration(level Level, timeout time.Duration) (time.Duration, error) {
	start := t.clock.Now()
	for t.line.Level() == level {
		if elapsed := t.clock.Now().Sub(start); elapsed > timeout {
			return elapsed, fmt.Errorf("%w: line %s for more than %s", ErrLineTimeout, level, timeout)
		}
	}
	return t.clock.Now().Sub(start), nil
}
