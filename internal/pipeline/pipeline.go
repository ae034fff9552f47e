// Package pipeline turns one utterance into a spoken reply: transcription,
// the session agent's response, then speech synthesis.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/hubenschmidt/voice-agent/gateway/internal/metrics"
)

// DefaultStageTimeout bounds each collaborator call.
const DefaultStageTimeout = 60 * time.Second

// Responder answers a transcript within a session's conversation.
type Responder interface {
	Invoke(ctx context.Context, text string) (string, error)
}

// Executor runs blocking work off the caller's goroutine and waits for it.
type Executor interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// UtteranceSaver persists raw utterance audio and returns the file name.
type UtteranceSaver interface {
	Save(sessionID string, samples []float32) (string, error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Transcriber  Transcriber
	Synthesizer  Synthesizer
	Store        UtteranceSaver
	Executor     Executor
	SampleRate   int
	StageTimeout time.Duration
}

// Utterance is one extracted speech segment.
type Utterance struct {
	SessionID string
	Samples   []float32
	EndedAt   time.Time
}

// Orchestrator runs the stages for each utterance. It holds no per-session
// state and is shared by all sessions.
type Orchestrator struct {
	cfg Config
}

// NewOrchestrator validates cfg and applies defaults.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Transcriber == nil:
		return nil, errors.New("pipeline: transcriber is required")
	case cfg.Synthesizer == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	case cfg.Executor == nil:
		return nil, errors.New("pipeline: executor is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Process runs one utterance to completion and emits its events. A stage
// fault emits the generic error event and is returned. When ctx ends (the
// session closed) nothing more is emitted.
func (o *Orchestrator) Process(ctx context.Context, u Utterance, responder Responder, emit EventSink) error {
	runID, _ := nanoid.New()
	log := slog.With("session_id", u.SessionID, "run_id", runID)
	e2eStart := time.Now()

	audioFile := o.persist(ctx, log, u)

	var asr *ASRResult
	err := o.stage(ctx, "asr", func(ctx context.Context) error {
		var err error
		asr, err = o.cfg.Transcriber.Transcribe(ctx, u.Samples, o.cfg.SampleRate)
		return err
	})
	if err != nil {
		return o.fail(ctx, log, u.SessionID, "asr", err, emit)
	}

	if asr == nil || asr.Text == "" {
		log.Info("no speech detected", "samples", len(u.Samples))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(responseEvent(u.SessionID, ResponsePayload{STT: NoSpeechMarker, AudioFile: audioFile}))
		return nil
	}
	log.Info("transcript", "text", asr.Text, "asr_ms", asr.LatencyMs)

	var reply string
	llmStart := time.Now()
	err = o.stage(ctx, "llm", func(ctx context.Context) error {
		var err error
		reply, err = responder.Invoke(ctx, asr.Text)
		return err
	})
	if err != nil {
		return o.fail(ctx, log, u.SessionID, "llm", err, emit)
	}
	llmMs := time.Since(llmStart).Milliseconds()
	log.Info("agent response", "text", reply, "llm_ms", llmMs)

	var speech []byte
	ttsStart := time.Now()
	err = o.stage(ctx, "tts", func(ctx context.Context) error {
		var err error
		speech, err = o.synthesize(ctx, reply)
		return err
	})
	if err != nil {
		return o.fail(ctx, log, u.SessionID, "tts", err, emit)
	}

	tts := AudioUnavailable
	if len(speech) > 0 {
		tts = base64.StdEncoding.EncodeToString(speech)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	emit(responseEvent(u.SessionID, ResponsePayload{STT: asr.Text, LLM: reply, TTS: tts, AudioFile: audioFile}))

	e2e := time.Since(e2eStart)
	if !u.EndedAt.IsZero() {
		e2e = time.Since(u.EndedAt)
	}
	metrics.E2EDuration.Observe(e2e.Seconds())
	log.Info("pipeline done",
		"e2e_ms", e2e.Milliseconds(),
		"asr_ms", asr.LatencyMs,
		"llm_ms", llmMs,
		"tts_ms", time.Since(ttsStart).Milliseconds(),
		"audio_bytes", len(speech),
	)
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) ([]byte, error) {
	clean := SanitizeForSpeech(text)
	if clean == "" {
		return nil, nil
	}
	return o.cfg.Synthesizer.SynthesizeAudio(ctx, clean)
}

// persist writes the audit copy. A failed write is logged and leaves the
// file name empty; it never stops the run.
func (o *Orchestrator) persist(ctx context.Context, log *slog.Logger, u Utterance) string {
	if o.cfg.Store == nil {
		return ""
	}
	var name string
	err := o.stage(ctx, "persist", func(context.Context) error {
		var err error
		name, err = o.cfg.Store.Save(u.SessionID, u.Samples)
		return err
	})
	if err != nil {
		metrics.Errors.WithLabelValues("persist", "write").Inc()
		log.Error("persist utterance", "error", err)
		return ""
	}
	log.Debug("utterance saved", "file", name, "samples", len(u.Samples))
	return name
}

// stage runs fn on the executor under the stage timeout.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	err := o.cfg.Executor.Do(stageCtx, fn)
	if err == nil {
		metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		return nil
	}
	if ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: timed out after %s: %w", name, o.cfg.StageTimeout, err)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, sessionID, stage string, err error, emit EventSink) error {
	if ctx.Err() != nil {
		log.Debug("run abandoned", "stage", stage, "error", err)
		return ctx.Err()
	}
	errType := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		errType = "timeout"
	}
	metrics.Errors.WithLabelValues(stage, errType).Inc()
	log.Error("pipeline stage failed", "stage", stage, "error", err)
	emit(ErrorEvent(sessionID))
	return err
}

func responseEvent(sessionID string, p ResponsePayload) Event {
	return Event{Type: EventResponse, SessionID: sessionID, ResponsePayload: &p}
}
