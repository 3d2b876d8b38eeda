package audio

import "sync"

// Default conditioning parameters for narrow-band telephony audio. The fixed
// low-pass softens the harsh high-frequency artifacts typical of call feeds.
const (
	// DefaultCutoff is the low-pass cutoff frequency in Hz.
	DefaultCutoff = 6000.0

	// DefaultQ is the low-pass resonance.
	DefaultQ = 0.7
)

// ChainOption configures a [Chain] during construction.
type ChainOption func(*Chain)

// WithCutoff overrides the low-pass cutoff frequency in Hz.
func WithCutoff(hz float64) ChainOption {
	return func(c *Chain) {
		if hz > 0 {
			c.cutoff = hz
		}
	}
}

// WithVolume sets the initial volume. Values are clamped to [0, 1].
func WithVolume(v float64) ChainOption {
	return func(c *Chain) {
		c.volume = clampUnit(v)
	}
}

// Chain is the two-stage conditioning path applied to all decoded audio
// before output: a fixed low-pass filter followed by a gain stage.
//
// Both stages are created once per session and reused for every buffer; their
// parameters are live-mutable. The filter runs on the receive path (it is
// stateful, so buffers must pass through in arrival order), while the gain is
// not baked into the samples — the output clock reads [Chain.Gain] once at
// each buffer's render start, so volume and mute changes reach every buffer
// that has not started rendering yet and never re-attenuate one that has.
//
// All exported methods are safe for concurrent use.
type Chain struct {
	mu     sync.Mutex
	lp     *biquad
	cutoff float64
	volume float64
	muted  bool
}

// NewChain creates a conditioning chain for streams at the given sample rate.
// The initial volume is 1 and the chain starts unmuted.
func NewChain(sampleRate int, opts ...ChainOption) *Chain {
	c := &Chain{
		cutoff: DefaultCutoff,
		volume: 1,
	}
	for _, o := range opts {
		o(c)
	}
	c.lp = newLowPass(sampleRate, c.cutoff, DefaultQ)
	return c
}

// Process runs the low-pass stage over buf in place and returns it.
// Must be called once per buffer, in arrival order.
func (c *Chain) Process(buf Buffer) Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lp.process(buf.Samples)
	return buf
}

// SetVolume sets the gain stage's volume, clamped to [0, 1]. Takes effect for
// every buffer whose rendering has not yet started.
func (c *Chain) SetVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = clampUnit(v)
}

// SetMuted mutes or unmutes the gain stage. While muted, [Chain.Gain] reports
// zero regardless of volume.
func (c *Chain) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// Volume returns the current volume setting, independent of mute.
func (c *Chain) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Muted reports whether the gain stage is muted.
func (c *Chain) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Gain returns the effective gain: volume when unmuted, 0 when muted.
// Implements [GainSource] for the output clock's render-start latch.
func (c *Chain) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.muted {
		return 0
	}
	return c.volume
}

// Reset clears the filter state. Call between sessions, never mid-stream.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lp.reset()
}

// clampUnit clamps v to [0, 1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
