package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Buffer holds decoded audio ready for scheduling: normalized float32 samples
// in [-1, 1]. Buffers are the atomic unit of the playback pipeline — produced
// by the decoder, shaped by the conditioning chain, and consumed exactly once
// by the scheduler.
type Buffer struct {
	// Samples are interleaved normalized samples. The listen feed is mono,
	// so interleaving is trivial, but the field layout follows the wire.
	Samples []float32

	// SampleRate in Hz (e.g., 32000 for the backend listen feed).
	SampleRate int

	// Channels: 1 for the mono listen feed.
	Channels int
}

// Duration returns the playback duration of the buffer. Returns zero for an
// empty buffer or an unset sample rate.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 || b.Channels <= 0 || len(b.Samples) == 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}
