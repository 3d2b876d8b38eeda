// Package device implements [audio.OutputClock] on real hardware through
// malgo (miniaudio). The device timeline is derived from the number of
// samples the audio callback has rendered, so it advances exactly as fast as
// the hardware consumes audio.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.OutputClock = (*Clock)(nil)

// ErrClosed is returned by [Clock.PlayAt] after the clock has been closed.
var ErrClosed = errors.New("device: output clock is closed")

// entry is one committed buffer awaiting (or mid-way through) rendering.
type entry struct {
	start   int64 // start position in samples on the device timeline
	samples []float32
	offset  int
	started bool
	gain    float32 // latched from the gain source at render start
}

// Clock is a malgo-backed playback [audio.OutputClock].
//
// Committed buffers are rendered in commit order; gaps between them are
// filled with silence. The gain source is read once per buffer, at the sample
// where that buffer starts rendering. Safe for concurrent use.
type Clock struct {
	malgoCtx *malgo.AllocatedContext
	dev      *malgo.Device
	gain     audio.GainSource
	rate     int

	mu       sync.Mutex
	queue    []*entry
	rendered int64 // samples rendered since the device started
	closed   bool

	closeOnce sync.Once
}

// New creates and starts a playback clock for mono float32 output at the
// given format's sample rate. The returned clock owns the underlying device
// exclusively; release it with Close before creating another.
//
// New is an [audio.ClockFactory].
func New(format audio.Format, gain audio.GainSource) (audio.OutputClock, error) {
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("device: invalid sample rate %d", format.SampleRate)
	}
	if format.Channels != 1 {
		return nil, fmt.Errorf("device: unsupported channel count %d (mono only)", format.Channels)
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}

	c := &Clock{
		malgoCtx: malgoCtx,
		gain:     gain,
		rate:     format.SampleRate,
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(format.SampleRate)

	dev, err := malgo.InitDevice(malgoCtx.Context, cfg, malgo.DeviceCallbacks{Data: c.render})
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, fmt.Errorf("device: open playback device: %w", err)
	}
	c.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, fmt.Errorf("device: start playback device: %w", err)
	}

	return c, nil
}

// Now implements [audio.OutputClock]. Returns the rendered-sample position
// converted to the device timeline.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.rendered) * time.Second / time.Duration(c.rate)
}

// PlayAt implements [audio.OutputClock]. Commits buf to begin rendering at
// start. The buffer's samples are taken over by the clock; the caller must
// not reuse them.
func (c *Clock) PlayAt(buf audio.Buffer, start time.Duration) error {
	if buf.SampleRate != c.rate {
		return fmt.Errorf("device: buffer rate %d does not match device rate %d", buf.SampleRate, c.rate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.queue = append(c.queue, &entry{
		start:   int64(start) * int64(c.rate) / int64(time.Second),
		samples: buf.Samples,
	})
	return nil
}

// Close implements [audio.OutputClock]. Stops the device and releases the
// audio context. Audio already handed to the hardware may keep playing for a
// few tens of milliseconds while the device drains. Idempotent.
func (c *Clock) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.queue = nil
		c.mu.Unlock()

		c.dev.Uninit()
		_ = c.malgoCtx.Uninit()
		c.malgoCtx.Free()
	})
	return nil
}

// render is the malgo data callback. It fills out with the committed buffers
// due at the current timeline position, latching gain at each buffer's first
// rendered sample, and silence everywhere else.
func (c *Clock) render(out, _ []byte, frameCount uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.rendered
	for i := uint32(0); i < frameCount; i++ {
		var v float32
		if len(c.queue) > 0 {
			head := c.queue[0]
			if head.start <= pos {
				if !head.started {
					head.started = true
					head.gain = 1
					if c.gain != nil {
						head.gain = float32(c.gain.Gain())
					}
				}
				v = head.samples[head.offset] * head.gain
				head.offset++
				if head.offset == len(head.samples) {
					c.queue = c.queue[1:]
				}
			}
		}
		bits := math.Float32bits(v)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
		pos++
	}
	c.rendered = pos
}

// Check probes whether a playback backend is available on this host by
// initialising and immediately releasing an audio context. Intended for
// readiness checks.
func Check(_ context.Context) error {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("device: no playback backend available: %w", err)
	}
	err = malgoCtx.Uninit()
	malgoCtx.Free()
	return err
}
