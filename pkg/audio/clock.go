// Package audio defines the types and interfaces of the listen-feed playback
// pipeline: decoded sample buffers, the PCM16 decoder, the conditioning chain,
// and the [OutputClock] abstraction over a platform audio backend.
//
// The two primary abstractions are:
//
//   - [OutputClock] — a playback device with its own monotonic timeline, to
//     which buffers are committed at explicit start times.
//   - [GainSource] — the live gain value an output clock latches once at each
//     buffer's render start.
//
// Implementations of [OutputClock] are provided by backend-specific packages
// (audio/device for real hardware, audio/mock for tests). The interface is
// intentionally narrow so the scheduler stays decoupled from any one platform
// audio API.
package audio

import "time"

// GainSource supplies the current effective gain in [0, 1]. An [OutputClock]
// reads it exactly once per scheduled buffer, at the moment that buffer
// starts rendering — never retroactively for a buffer already playing.
//
// Implementations must be safe for concurrent use.
type GainSource interface {
	Gain() float64
}

// OutputClock is a playback device exposing its own output timeline.
//
// The device clock advances continuously in real time regardless of when
// buffers arrive; reconciling it with irregular network delivery is the
// scheduler's job. A clock is exclusively owned by one playback session and
// must be released via Close before another session may acquire a device.
//
// Implementations must be safe for concurrent use.
type OutputClock interface {
	// Now returns the current position on the device output timeline,
	// measured from the moment the clock was created. Monotonically
	// non-decreasing.
	Now() time.Duration

	// PlayAt commits buf to begin rendering at start on the device timeline.
	// start must not be in the past. Committed buffers cannot be cancelled
	// short of closing the clock; a few tens of milliseconds may drain
	// through the hardware after Close returns.
	//
	// Returns an error if the device is closed or otherwise unable to accept
	// audio. A failed PlayAt never affects previously committed buffers.
	PlayAt(buf Buffer, start time.Duration) error

	// Close releases the device. Safe to call more than once; subsequent
	// calls are no-ops and return nil.
	Close() error
}

// ClockFactory creates an [OutputClock] for streams of the given format,
// latching gain from gain at each buffer's render start. Sessions call the
// factory once at start and own the returned clock until stop.
type ClockFactory func(format Format, gain GainSource) (OutputClock, error)
