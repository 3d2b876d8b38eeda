// Package mock provides an in-memory mock implementation of the
// [audio.OutputClock] interface for use in unit tests.
//
// The mock clock never advances on its own: tests control the device timeline
// with [Clock.SetNow] and [Clock.Advance], and inspect every committed buffer
// through the recorded [Entry] values. Advancing the clock across an entry's
// start time latches the gain for that entry, mirroring how a real device
// reads the gain source once at render start.
//
// Typical usage:
//
//	clock := mock.NewClock()
//	s := sched.New(clock)
//	s.Schedule(buf)
//	clock.Advance(20 * time.Millisecond)
//	entries := clock.Entries()
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.OutputClock = (*Clock)(nil)

// Entry records a single buffer committed via [Clock.PlayAt].
type Entry struct {
	// Buffer is the committed buffer.
	Buffer audio.Buffer

	// Start is the device-timeline start time the buffer was committed at.
	Start time.Duration

	// Started reports whether the clock has been advanced past Start.
	Started bool

	// LatchedGain is the gain read from the gain source at the moment the
	// entry started. Zero until Started, and 1 when no gain source is set.
	LatchedGain float64
}

// Clock is a mock implementation of [audio.OutputClock] with a manually
// advanced timeline. Set the exported fields before use; inspect recorded
// entries after. Safe for concurrent use.
type Clock struct {
	mu sync.Mutex

	// GainSource is read once per entry when [Clock.Advance] crosses its
	// start time. When nil, a gain of 1 is latched.
	GainSource audio.GainSource

	// PlayErr, when non-nil, is returned by every PlayAt call.
	PlayErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CloseCount records how many times Close was called.
	CloseCount int

	now     time.Duration
	entries []Entry
}

// NewClock creates a mock clock with the timeline at zero.
func NewClock() *Clock {
	return &Clock{}
}

// Now implements [audio.OutputClock]. Returns the manually set device time.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// PlayAt implements [audio.OutputClock]. Records the commit, or returns
// PlayErr when set.
func (c *Clock) PlayAt(buf audio.Buffer, start time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PlayErr != nil {
		return c.PlayErr
	}
	c.entries = append(c.entries, Entry{Buffer: buf, Start: start})
	return nil
}

// Close implements [audio.OutputClock]. Increments CloseCount and returns
// CloseErr.
func (c *Clock) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	return c.CloseErr
}

// SetNow moves the device timeline to d, latching gain for every entry whose
// start time has now been reached. The timeline never moves backwards.
func (c *Clock) SetNow(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > c.now {
		c.now = d
	}
	c.latchStarted()
}

// Advance moves the device timeline forward by d. See [Clock.SetNow].
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
	c.latchStarted()
}

// Entries returns a snapshot of all recorded commits in commit order.
func (c *Clock) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// latchStarted marks entries whose start time has been reached and latches
// their gain. Must be called with c.mu held.
func (c *Clock) latchStarted() {
	for i := range c.entries {
		e := &c.entries[i]
		if e.Started || e.Start > c.now {
			continue
		}
		e.Started = true
		e.LatchedGain = 1
		if c.GainSource != nil {
			e.LatchedGain = c.GainSource.Gain()
		}
	}
}
