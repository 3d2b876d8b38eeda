package audio

import "math"

// biquad is a second-order IIR filter section in transposed direct form II.
// One instance carries the filter state across buffers, so a single biquad
// must only ever process one stream, in arrival order.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64

	// State (two delay registers).
	z1, z2 float64
}

// newLowPass returns a biquad configured as a low-pass filter with the given
// cutoff frequency and Q, using the Audio EQ Cookbook coefficients.
func newLowPass(sampleRate int, cutoff, q float64) *biquad {
	w0 := 2 * math.Pi * cutoff / float64(sampleRate)
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)

	a0 := 1 + alpha
	f := &biquad{
		b0: (1 - cosw0) / 2,
		b1: 1 - cosw0,
		b2: (1 - cosw0) / 2,
		a1: -2 * cosw0,
		a2: 1 - alpha,
	}
	f.b0 /= a0
	f.b1 /= a0
	f.b2 /= a0
	f.a1 /= a0
	f.a2 /= a0
	return f
}

// process filters samples in place.
func (f *biquad) process(samples []float32) {
	for i, x := range samples {
		in := float64(x)
		out := f.b0*in + f.z1
		f.z1 = f.b1*in - f.a1*out + f.z2
		f.z2 = f.b2*in - f.a2*out
		samples[i] = float32(out)
	}
}

// reset clears the filter state. Call between streams, never mid-stream.
func (f *biquad) reset() {
	f.z1 = 0
	f.z2 = 0
}
