// Package clock provides the monotonic time source used for pulse timing,
// lease deadlines and the telemetry cadence.
//
// Production code uses [Real]. Tests use [Fake], whose time only moves when
// something sleeps on it or advances it explicitly, so deadline behaviour
// can be asserted exactly.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock is a monotonic time source.
type Clock interface {
	// Now returns the current time. Only differences between values are
	// meaningful.
	Now() time.Time

	// Sleep blocks the calling goroutine for d.
	Sleep(d time.Duration)

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Advancer is implemented by clocks whose time can be moved forward by hand.
type Advancer interface {
	Advance(d time.Duration)
}

// Real is the wall clock. time.Now carries a monotonic reading, so
// subtraction between two Real timestamps is immune to wall clock steps.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Sleep calls time.Sleep.
func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// After calls time.After.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a manually driven clock. Sleep and After advance the clock by the
// requested duration and return immediately.
//
// Fake is safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d. Negative values are ignored.
func (f *Fake) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Sleep advances the clock by d.
func (f *Fake) Sleep(d time.Duration) {
	f.Advance(d)
}

// After advances the clock by d and returns a channel that is already ready.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- f.Now()
	return ch
}

// SleepContext waits for d on c, returning early with ctx.Err() if ctx is
// cancelled first. A non-positive d returns immediately.
func SleepContext(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}
