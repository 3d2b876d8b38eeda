// Package sched implements the output clock scheduler at the heart of the
// playback engine: a jitter-absorbing playhead that commits each decoded
// buffer to start exactly when the previous one ends, resynchronizing to the
// device clock on underrun instead of compressing audio to catch up.
package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// DefaultMaxLead is how far the playhead may run ahead of the device clock
// before incoming buffers are dropped. The feed is real time, so steady-state
// lead is about one chunk; only a burst after a network stall can push the
// lead past this bound, and dropping the burst keeps the listener near-live.
const DefaultMaxLead = 500 * time.Millisecond

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithMaxLead sets the look-ahead cap. A value of zero disables the cap
// entirely, letting the playhead run arbitrarily far ahead of real time.
func WithMaxLead(d time.Duration) Option {
	return func(s *Scheduler) {
		s.maxLead = d
	}
}

// Placement describes where one buffer landed on the device timeline.
type Placement struct {
	// Start is the committed start time on the device timeline.
	// Meaningless when Dropped is true.
	Start time.Duration

	// Lead is how far ahead of the device clock the buffer was committed
	// (Start minus the device time read at scheduling). Zero after underrun.
	Lead time.Duration

	// Underrun reports that the device had already played past the previous
	// playhead and the schedule was resynchronized to "now".
	Underrun bool

	// Dropped reports that the buffer exceeded the look-ahead cap and was
	// discarded without advancing the playhead.
	Dropped bool
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	// Scheduled counts buffers committed to the clock.
	Scheduled uint64

	// Underruns counts resynchronizations to the device clock.
	Underruns uint64

	// Dropped counts buffers discarded by the look-ahead cap.
	Dropped uint64

	// Playhead is the device-timeline position where the next buffer will be
	// scheduled. Monotonically non-decreasing.
	Playhead time.Duration
}

// Scheduler tracks a monotonically advancing playhead on an [audio.OutputClock]'s
// timeline and schedules each buffer back-to-back with the previous one.
//
// Per buffer of duration d:
//
//  1. Read the current device time.
//  2. If the playhead is unset, or the device has already played past it
//     (underrun), resynchronize the playhead to the device time. Late frames
//     are skipped forward in time, never queued — the gap is audible once but
//     does not compound.
//  3. If the playhead already leads the device clock by more than the cap,
//     drop the buffer without advancing.
//  4. Commit the buffer at the playhead and advance it by d.
//
// One scheduler exists per playback session; schedulers are never shared.
// All exported methods are safe for concurrent use, though buffers must be
// scheduled in arrival order by a single caller.
type Scheduler struct {
	clock   audio.OutputClock
	maxLead time.Duration

	mu       sync.Mutex
	playhead time.Duration
	primed   bool
	stats    Stats
}

// New creates a Scheduler committing buffers to clock. The look-ahead cap
// defaults to [DefaultMaxLead]; use [WithMaxLead] to change or disable it.
func New(clock audio.OutputClock, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:   clock,
		maxLead: DefaultMaxLead,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule commits buf to the clock per the algorithm above and reports its
// placement. An empty buffer is a no-op. A clock error leaves the playhead
// untouched and is returned wrapped; the caller decides whether one failed
// commit is recoverable or the output resource is gone.
func (s *Scheduler) Schedule(buf audio.Buffer) (Placement, error) {
	d := buf.Duration()
	if d <= 0 {
		return Placement{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	var p Placement
	if !s.primed {
		s.playhead = now
	} else if s.playhead < now {
		s.playhead = now
		p.Underrun = true
		s.stats.Underruns++
	}

	p.Lead = s.playhead - now
	if s.maxLead > 0 && p.Lead > s.maxLead {
		p.Dropped = true
		s.stats.Dropped++
		return p, nil
	}

	if err := s.clock.PlayAt(buf, s.playhead); err != nil {
		return Placement{}, fmt.Errorf("sched: commit buffer at %v: %w", s.playhead, err)
	}

	p.Start = s.playhead
	s.playhead += d
	s.primed = true
	s.stats.Scheduled++
	s.stats.Playhead = s.playhead
	return p, nil
}

// Playhead returns the device-timeline position where the next buffer will be
// scheduled. Zero until the first buffer is committed.
func (s *Scheduler) Playhead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playhead
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Playhead = s.playhead
	return st
}
