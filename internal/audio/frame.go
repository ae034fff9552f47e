package audio

import (
	"encoding/binary"
	"math"
)

// Frame is one chunk of mono samples normalized to [-1, 1].
type Frame []float32

// DecodePCM16 converts little-endian signed 16-bit PCM to a Frame.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) Frame {
	n := len(data) / 2
	samples := make(Frame, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / 32768
	}
	return samples
}

// RMS returns the root-mean-square energy of the frame, 0 when empty.
func (f Frame) RMS() float64 {
	if len(f) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(f)))
}

// toPCM16 clamps and scales samples to signed 16-bit integers.
func toPCM16(s float32) int16 {
	clamped := max(-1.0, min(1.0, s))
	return int16(clamped * math.MaxInt16)
}
