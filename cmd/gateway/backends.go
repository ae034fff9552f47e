package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hubenschmidt/voice-agent/gateway/internal/agent"
	"github.com/hubenschmidt/voice-agent/gateway/internal/pipeline"
	"github.com/hubenschmidt/voice-agent/gateway/internal/prompts"
	"github.com/hubenschmidt/voice-agent/gateway/internal/session"
	"github.com/hubenschmidt/voice-agent/gateway/internal/tools"
)

// buildEngine builds the configured backend, warning when the name is not
// registered and the router's default is used instead.
func buildEngine[T any](kind string, r *pipeline.Router[T], engine string) (T, string, error) {
	if !r.Has(engine) {
		slog.Warn("unknown engine, using default", "kind", kind, "requested", engine, "available", r.Engines())
	}
	return r.Build(engine)
}

func synthesizerRouter(cfg config, client *http.Client) *pipeline.Router[pipeline.Synthesizer] {
	return pipeline.NewRouter[pipeline.Synthesizer]("piper").
		Register("piper", func() (pipeline.Synthesizer, error) {
			return pipeline.NewPiperSynthesizer(cfg.piperURL, cfg.piperVoice, client), nil
		}).
		Register("openai", func() (pipeline.Synthesizer, error) {
			return pipeline.NewOpenAISynthesizer(cfg.openaiTTSURL, cfg.llmAPIKey, cfg.openaiTTSModel, cfg.openaiTTSVoice, client), nil
		}).
		Register("elevenlabs", func() (pipeline.Synthesizer, error) {
			if cfg.elevenlabsAPIKey == "" {
				return nil, errors.New("ELEVENLABS_API_KEY is not set")
			}
			return pipeline.NewElevenLabsSynthesizer(cfg.elevenlabsAPIKey, cfg.elevenlabsVoiceID, cfg.elevenlabsModelID, client), nil
		}).
		Register("polly", func() (pipeline.Synthesizer, error) {
			return pipeline.NewPollySynthesizer(cfg.polly, nil), nil
		})
}

func completerRouter(cfg config, client *http.Client) *pipeline.Router[agent.Completer] {
	return pipeline.NewRouter[agent.Completer]("openai").
		Register("openai", func() (agent.Completer, error) {
			return agent.NewOpenAICompleter(agent.OpenAIConfig{
				APIKey:      cfg.llmAPIKey,
				BaseURL:     cfg.llmBaseURL,
				Model:       cfg.llmModel,
				MaxTokens:   cfg.llmMaxTokens,
				Temperature: 0.1,
				HTTPClient:  client,
			}), nil
		}).
		Register("ollama", func() (agent.Completer, error) {
			return agent.NewOllamaCompleter(cfg.ollamaURL, cfg.llmModel, cfg.llmMaxTokens, client), nil
		})
}

// conversationFactory builds one agent per session. Tools are resolved once
// and shared; they hold no per-session state.
func conversationFactory(cfg config, completer agent.Completer, client *http.Client) (session.ConversationFactory, error) {
	toolset, err := tools.Build(cfg.agentTools, tools.Deps{
		HTTPClient:   client,
		GeocodingURL: cfg.geocodingURL,
		ForecastURL:  cfg.forecastURL,
	})
	if err != nil {
		return nil, err
	}

	return func(systemPrompt string) (session.Conversation, error) {
		a, err := agent.New(completer, agent.Config{
			Name:          cfg.agentName,
			Model:         cfg.llmModel,
			SystemPrompt:  prompts.ForSession(systemPrompt, cfg.llmSystemPrompt),
			Tools:         toolset,
			BreakTool:     cfg.agentBreakTool,
			MaxToolRounds: cfg.agentMaxRounds,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	}, nil
}
