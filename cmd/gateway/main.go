package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/hubenschmidt/voice-agent/gateway/internal/audio"
	"github.com/hubenschmidt/voice-agent/gateway/internal/models"
	"github.com/hubenschmidt/voice-agent/gateway/internal/pipeline"
	"github.com/hubenschmidt/voice-agent/gateway/internal/session"
	"github.com/hubenschmidt/voice-agent/gateway/internal/workpool"
	"github.com/hubenschmidt/voice-agent/gateway/internal/ws"
)

func main() {
	cfg := loadConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel})))

	if err := run(cfg); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}

func run(cfg config) error {
	store, err := audio.NewUtteranceStore(cfg.outputDir, cfg.segmenter.SampleRate)
	if err != nil {
		return err
	}

	asrHTTP := pipeline.NewPooledHTTPClient(cfg.httpPoolSize, cfg.stageTimeout)
	llmHTTP := pipeline.NewPooledHTTPClient(cfg.httpPoolSize, cfg.stageTimeout)
	ttsHTTP := pipeline.NewPooledHTTPClient(cfg.httpPoolSize, cfg.stageTimeout)

	whisper := pipeline.NewWhisperClient(cfg.whisperURL, asrHTTP)
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := whisper.Warmup(warmCtx, cfg.segmenter.SampleRate); err != nil {
		slog.Warn("asr warmup failed", "url", cfg.whisperURL, "error", err)
	}
	warmCancel()

	synth, ttsEngine, err := buildEngine("tts", synthesizerRouter(cfg, ttsHTTP), cfg.ttsEngine)
	if err != nil {
		return err
	}
	completer, llmEngine, err := buildEngine("llm", completerRouter(cfg, llmHTTP), cfg.llmEngine)
	if err != nil {
		return err
	}
	newConv, err := conversationFactory(cfg, completer, llmHTTP)
	if err != nil {
		return err
	}

	var ollama *models.Ollama
	if llmEngine == "ollama" {
		ollama = models.NewOllama(cfg.ollamaURL, nil)
		go preloadModel(ollama, cfg.llmModel)
	}

	pool := workpool.New(cfg.workers, cfg.workerQueue)
	orch, err := pipeline.NewOrchestrator(pipeline.Config{
		Transcriber:  whisper,
		Synthesizer:  pipeline.WithMetrics(ttsEngine, synth),
		Store:        store,
		Executor:     pool,
		SampleRate:   cfg.segmenter.SampleRate,
		StageTimeout: cfg.stageTimeout,
	})
	if err != nil {
		return err
	}

	registry := session.NewRegistry(cfg.sessionConfig(), newConv, orch)

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		wsHandler: ws.NewHandler(ws.HandlerConfig{Registry: registry, MaxConcurrent: cfg.maxConcurrent}),
		registry:  registry,
		pool:      pool,
		llmEngine: llmEngine,
		ttsEngine: ttsEngine,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig, "sessions", registry.Len())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		registry.Drain()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		if err := pool.Close(ctx); err != nil {
			slog.Warn("worker pool close", "error", err)
		}
		if ollama != nil {
			slog.Info("unloading ollama model", "model", cfg.llmModel)
			if err := ollama.Unload(ctx, cfg.llmModel); err != nil {
				slog.Warn("ollama unload", "error", err)
			}
		}
	}()

	slog.Info("gateway starting",
		"addr", addr,
		"llm", llmEngine,
		"model", cfg.llmModel,
		"tts", ttsEngine,
		"workers", cfg.workers,
		"max_concurrent", cfg.maxConcurrent,
		"output_dir", store.Dir(),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	return nil
}

func preloadModel(o *models.Ollama, model string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	installed, err := o.Installed(ctx)
	if err != nil {
		slog.Warn("list ollama models", "error", err)
		return
	}
	if !slices.Contains(installed, model) {
		slog.Warn("ollama model not installed", "model", model, "installed", installed)
		return
	}
	start := time.Now()
	if err := o.Preload(ctx, model); err != nil {
		slog.Warn("ollama preload", "error", err)
		return
	}
	slog.Info("ollama model loaded", "model", model, "ms", time.Since(start).Milliseconds())
}
