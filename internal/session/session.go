// Package session owns one connection's voice state: its segmenter, its
// agent, and the goroutine that feeds utterances to the pipeline in order.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/voice-agent/gateway/internal/audio"
	"github.com/hubenschmidt/voice-agent/gateway/internal/metrics"
	"github.com/hubenschmidt/voice-agent/gateway/internal/pipeline"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// DefaultQueueSize is the number of utterances a session may have waiting.
const DefaultQueueSize = 4

// Conversation is the per-session agent.
type Conversation interface {
	pipeline.Responder
	Reset()
}

// Processor runs one utterance through the pipeline stages.
type Processor interface {
	Process(ctx context.Context, u pipeline.Utterance, r pipeline.Responder, emit pipeline.EventSink) error
}

// Config holds the settings shared by every session.
type Config struct {
	Segmenter audio.SegmenterConfig
	MinSpeech time.Duration
	QueueSize int
}

// item is one entry of the pipeline queue: an utterance or a reset marker.
type item struct {
	utterance *pipeline.Utterance
	reset     bool
}

// Session is a single client's voice conversation. HandleFrame must be
// called from one goroutine; Reset and Close may be called from any.
type Session struct {
	id         string
	emit       pipeline.EventSink
	seg        *audio.Segmenter
	minSamples int
	conv       Conversation
	proc       Processor

	queue     chan item
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, cfg Config, conv Conversation, proc Processor, emit pipeline.EventSink) *Session {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		emit:       emit,
		seg:        audio.NewSegmenter(cfg.Segmenter),
		minSamples: int(cfg.MinSpeech.Seconds() * float64(cfg.Segmenter.SampleRate)),
		conv:       conv,
		proc:       proc,
		queue:      make(chan item, size),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// HandleFrame runs one frame through the segmenter, emits the resulting
// speech events, and queues a finished utterance. When the queue is full it
// blocks until the pipeline catches up or the session closes.
func (s *Session) HandleFrame(f audio.Frame) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	metrics.AudioFrames.Inc()

	res := s.seg.Push(f)
	if res.Start != nil {
		slog.Debug("speech start", "session_id", s.id, "rms", res.Start.RMS)
		s.emit(pipeline.Event{
			Type:               pipeline.EventSpeechStart,
			SessionID:          s.id,
			SpeechStartPayload: &pipeline.SpeechStartPayload{RMS: res.Start.RMS, Threshold: res.Start.Threshold},
		})
	}
	if res.End == nil {
		return nil
	}

	metrics.SpeechSegments.Inc()
	s.emit(pipeline.Event{
		Type:             pipeline.EventSpeechEnd,
		SessionID:        s.id,
		SpeechEndPayload: &pipeline.SpeechEndPayload{SpeechChunks: res.End.SpeechFrames, SilenceChunks: res.End.SilenceFrames},
	})

	if len(res.Utterance) < s.minSamples {
		metrics.UtterancesDiscarded.WithLabelValues("too_short").Inc()
		slog.Info("utterance too short", "session_id", s.id, "samples", len(res.Utterance), "min_samples", s.minSamples)
		s.emit(pipeline.NotificationEvent(s.id, pipeline.AudioTooShort))
		return nil
	}

	u := &pipeline.Utterance{SessionID: s.id, Samples: res.Utterance, EndedAt: time.Now()}
	return s.enqueue(item{utterance: u})
}

// Reset clears the conversation once the utterances queued before it have
// been answered.
func (s *Session) Reset() error {
	return s.enqueue(item{reset: true})
}

func (s *Session) enqueue(it item) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.queue <- it:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// Close stops the session. Queued utterances are dropped and an in-flight
// run is abandoned; Close returns once the pipeline goroutine has exited.
func (s *Session) Close() {
	s.closeOnce.Do(s.cancel)
	<-s.done
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case it := <-s.queue:
			s.handle(it)
		}
	}
}

func (s *Session) handle(it item) {
	if it.reset {
		s.conv.Reset()
		slog.Info("conversation reset", "session_id", s.id)
		s.emit(pipeline.NotificationEvent(s.id, pipeline.ConversationReset))
		return
	}
	if err := s.proc.Process(s.ctx, *it.utterance, s.conv, s.emit); err != nil && s.ctx.Err() == nil {
		slog.Warn("utterance failed", "session_id", s.id, "error", err)
	}
}
