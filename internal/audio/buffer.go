package audio

// Buffer accumulates the frames of the utterance currently open.
type Buffer struct {
	frames  []Frame
	samples int
}

// Append adds a frame. The frame is retained, not copied; frames are
// immutable once produced.
func (b *Buffer) Append(f Frame) {
	b.frames = append(b.frames, f)
	b.samples += len(f)
}

// Samples returns the total buffered sample count.
func (b *Buffer) Samples() int { return b.samples }

// Drain concatenates the buffered frames in arrival order and empties the
// buffer in the same step. Returns nil when nothing is buffered.
func (b *Buffer) Drain() []float32 {
	if b.samples == 0 {
		b.frames = nil
		return nil
	}
	out := make([]float32, 0, b.samples)
	for _, f := range b.frames {
		out = append(out, f...)
	}
	b.frames = nil
	b.samples = 0
	return out
}
