package audio

import (
	"math"
	"time"
)

// fallbackFramesPerSecond is used when a frame carries no samples.
const fallbackFramesPerSecond = 10

// SegmenterConfig controls voice activity detection behavior.
type SegmenterConfig struct {
	SampleRate          int
	SilenceThresholdRMS float64
	Padding             time.Duration
}

// DefaultSegmenterConfig mirrors the gateway defaults.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SampleRate:          16000,
		SilenceThresholdRMS: 0.01,
		Padding:             700 * time.Millisecond,
	}
}

// State is the segmenter's speech state.
type State int

const (
	Idle State = iota
	Speaking
)

func (s State) String() string {
	if s == Speaking {
		return "speaking"
	}
	return "idle"
}

// SpeechStart is reported on the first speech frame after Idle.
type SpeechStart struct {
	RMS       float64
	Threshold float64
}

// SpeechEnd is reported once the trailing silence reaches the padding.
type SpeechEnd struct {
	SpeechFrames  int
	SilenceFrames int
}

// SegmentResult holds what a single frame produced. At most one of Start
// and End is set; Utterance is non-nil only alongside End.
type SegmentResult struct {
	Start     *SpeechStart
	End       *SpeechEnd
	Utterance []float32
}

// Segmenter implements energy-based voice activity detection with a
// frame-counted hangover. It is not safe for concurrent use; each session
// feeds its own segmenter sequentially.
type Segmenter struct {
	cfg           SegmenterConfig
	state         State
	silenceFrames int
	speechFrames  int
	buf           Buffer
}

// NewSegmenter creates a segmenter in the Idle state.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// State reports whether the segmenter is inside an utterance.
func (s *Segmenter) State() State { return s.state }

// Buffered returns the number of samples held for the open utterance.
func (s *Segmenter) Buffered() int { return s.buf.Samples() }

// Push feeds one frame through the state machine.
func (s *Segmenter) Push(f Frame) SegmentResult {
	rms := f.RMS()
	if rms > s.cfg.SilenceThresholdRMS {
		return s.handleSpeech(f, rms)
	}
	if s.state == Idle {
		return SegmentResult{}
	}
	return s.handleSilence(f)
}

func (s *Segmenter) handleSpeech(f Frame, rms float64) SegmentResult {
	var res SegmentResult
	if s.state == Idle {
		s.state = Speaking
		s.speechFrames = 0
		res.Start = &SpeechStart{RMS: rms, Threshold: s.cfg.SilenceThresholdRMS}
	}
	s.buf.Append(f)
	s.speechFrames++
	s.silenceFrames = 0
	return res
}

func (s *Segmenter) handleSilence(f Frame) SegmentResult {
	s.buf.Append(f)
	s.silenceFrames++

	if s.silenceFrames < s.RequiredSilenceFrames(len(f)) {
		return SegmentResult{}
	}

	s.state = Idle
	end := &SpeechEnd{SpeechFrames: s.speechFrames, SilenceFrames: s.silenceFrames}
	s.silenceFrames = 0
	return SegmentResult{End: end, Utterance: s.buf.Drain()}
}

// RequiredSilenceFrames is the hangover length in frames for the given frame
// length. It is evaluated per frame since clients may vary chunk sizes.
func (s *Segmenter) RequiredSilenceFrames(frameLen int) int {
	fps := float64(fallbackFramesPerSecond)
	if frameLen > 0 {
		fps = float64(s.cfg.SampleRate) / float64(frameLen)
	}
	return int(math.Round(s.cfg.Padding.Seconds() * fps))
}
