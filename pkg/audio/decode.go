package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOddFrame is returned by [DecodePCM16] when a binary frame's length is not
// a multiple of 2 and therefore cannot hold whole int16 samples.
var ErrOddFrame = errors.New("audio: frame length is not a multiple of 2")

// DecodePCM16 converts a raw binary frame of little-endian signed 16-bit mono
// PCM into a normalized [Buffer]. Each sample is mapped to int16/32768 so the
// result lies in [-1, 1].
//
// The function is pure: a rejected frame has no side effects, and the input
// slice is never retained.
func DecodePCM16(data []byte, sampleRate int) (Buffer, error) {
	if sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	if len(data)%2 != 0 {
		return Buffer{}, fmt.Errorf("audio: decode %d bytes: %w", len(data), ErrOddFrame)
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / 32768.0
	}

	return Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   1,
	}, nil
}
