package pulse

import (
	"sync"
	"time"

	"github.com/jpalmerr/dhtlink/internal/clock"
)

// Segment is one stretch of a scripted waveform.
type Segment struct {
	Level    Level
	Duration time.Duration
}

// SimLine is a [Line] whose level, once released, follows a scripted
// waveform measured from the moment of release. While driven it reads back
// the driven level. After the script ends the line idles at its idle level.
//
// When the clock implements [clock.Advancer] every Level call advances it by
// Step, standing in for the cost of reading a GPIO register. This keeps busy
// waits on a fake clock finite and deterministic.
type SimLine struct {
	mu sync.Mutex

	clock  clock.Clock
	step   time.Duration
	idle   Level
	source func() []Segment

	driven     Level
	released   bool
	releasedAt time.Time
	script     []Segment

	drives   int
	releases int
}

// NewSimLine returns a released line idling at idle. Step is the simulated
// cost of each read; zero means reads are free.
func NewSimLine(c clock.Clock, step time.Duration, idle Level) *SimLine {
	return &SimLine{
		clock:    c,
		step:     step,
		idle:     idle,
		released: true,
	}
}

// Script sets a fixed waveform replayed on every release.
func (s *SimLine) Script(segments ...Segment) {
	cp := append([]Segment(nil), segments...)
	s.SetSource(func() []Segment { return cp })
}

// SetSource installs a generator called on every release to produce the
// waveform for that transaction.
func (s *SimLine) SetSource(fn func() []Segment) {
	s.mu.Lock()
	s.source = fn
	s.mu.Unlock()
}

// Drive holds the line at level.
func (s *SimLine) Drive(level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = false
	s.driven = level
	s.drives++
	return nil
}

// Release starts replaying the waveform.
func (s *SimLine) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.releasedAt = s.clock.Now()
	s.releases++
	s.script = nil
	if s.source != nil {
		s.script = s.source()
	}
	return nil
}

// Level returns the level at the current clock time.
func (s *SimLine) Level() Level {
	if a, ok := s.clock.(clock.Advancer); ok && s.step > 0 {
		a.Advance(s.step)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.released {
		return s.driven
	}
	elapsed := s.clock.Now().Sub(s.releasedAt)
	for _, seg := range s.script {
		if elapsed < seg.Duration {
			return seg.Level
		}
		elapsed -= seg.Duration
	}
	return s.idle
}

// Transactions returns how many times the line was driven and released.
func (s *SimLine) Transactions() (drives, releases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drives, s.releases
}
