package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/voice-agent/gateway/internal/agent"
	"github.com/hubenschmidt/voice-agent/gateway/internal/audio"
	"github.com/hubenschmidt/voice-agent/gateway/internal/env"
	"github.com/hubenschmidt/voice-agent/gateway/internal/pipeline"
	"github.com/hubenschmidt/voice-agent/gateway/internal/session"
)

type config struct {
	port          string
	logLevel      slog.Level
	outputDir     string
	segmenter     audio.SegmenterConfig
	minSpeech     time.Duration
	utteranceQ    int
	maxConcurrent int

	workers      int
	workerQueue  int
	stageTimeout time.Duration
	httpPoolSize int

	llmEngine       string
	llmModel        string
	llmAPIKey       string
	llmBaseURL      string
	ollamaURL       string
	llmMaxTokens    int
	llmSystemPrompt string

	agentName      string
	agentBreakTool string
	agentMaxRounds int
	agentTools     []string
	geocodingURL   string
	forecastURL    string

	whisperURL string

	ttsEngine         string
	piperURL          string
	piperVoice        string
	openaiTTSURL      string
	openaiTTSModel    string
	openaiTTSVoice    string
	elevenlabsAPIKey  string
	elevenlabsVoiceID string
	elevenlabsModelID string
	polly             pipeline.PollyConfig
}

func loadConfig() config {
	seg := audio.DefaultSegmenterConfig()
	seg.SampleRate = env.Int("SAMPLE_RATE", seg.SampleRate)
	seg.SilenceThresholdRMS = env.Float("SILENCE_THRESHOLD_RMS", seg.SilenceThresholdRMS)
	seg.Padding = env.Duration("VAD_PADDING_MS", seg.Padding)

	return config{
		port:          env.Str("GATEWAY_PORT", "8000"),
		logLevel:      parseLevel(env.Str("LOG_LEVEL", "info")),
		outputDir:     env.Str("OUTPUT_DIR", "realtime_audio_output"),
		segmenter:     seg,
		minSpeech:     env.Duration("MIN_SPEECH_DURATION_MS", 300*time.Millisecond),
		utteranceQ:    env.Int("UTTERANCE_QUEUE", session.DefaultQueueSize),
		maxConcurrent: env.Int("MAX_CONCURRENT_SESSIONS", 100),

		workers:      env.Int("WORKER_POOL_SIZE", 8),
		workerQueue:  env.Int("WORKER_QUEUE_SIZE", 64),
		stageTimeout: env.Duration("STAGE_TIMEOUT", pipeline.DefaultStageTimeout),
		httpPoolSize: env.Int("HTTP_POOL_SIZE", 50),

		llmEngine:       strings.ToLower(env.Str("LLM_ENGINE", "openai")),
		llmModel:        env.Str("LLM_MODEL", "gpt-4o-mini"),
		llmAPIKey:       env.Str("LLM_API_KEY", ""),
		llmBaseURL:      env.Str("LLM_BASE_URL", ""),
		ollamaURL:       env.Str("OLLAMA_URL", "http://localhost:11434"),
		llmMaxTokens:    env.Int("LLM_MAX_TOKENS", 150),
		llmSystemPrompt: env.Str("LLM_SYSTEM_PROMPT", ""),

		agentName:      env.Str("AGENT_NAME", "voice-agent"),
		agentBreakTool: env.Str("AGENT_BREAK_TOOL", ""),
		agentMaxRounds: env.Int("AGENT_MAX_TOOL_ROUNDS", agent.DefaultMaxToolRounds),
		agentTools:     env.List("AGENT_TOOLS", []string{"get_weather"}),
		geocodingURL:   env.Str("WEATHER_GEOCODING_URL", ""),
		forecastURL:    env.Str("WEATHER_FORECAST_URL", ""),

		whisperURL: env.Str("WHISPER_URL", "http://localhost:8080"),

		ttsEngine:         strings.ToLower(env.Str("TTS_ENGINE", "piper")),
		piperURL:          env.Str("PIPER_URL", "http://localhost:5100"),
		piperVoice:        env.Str("PIPER_VOICE", "en_US-lessac-medium"),
		openaiTTSURL:      env.Str("OPENAI_TTS_URL", "https://api.openai.com"),
		openaiTTSModel:    env.Str("OPENAI_TTS_MODEL", "tts-1"),
		openaiTTSVoice:    env.Str("OPENAI_TTS_VOICE", "alloy"),
		elevenlabsAPIKey:  env.Str("ELEVENLABS_API_KEY", ""),
		elevenlabsVoiceID: env.Str("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		elevenlabsModelID: env.Str("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
		polly: pipeline.PollyConfig{
			Region: env.Str("POLLY_REGION", "us-east-1"),
			Voice:  env.Str("POLLY_VOICE", ""),
			Engine: env.Str("POLLY_ENGINE", ""),
		},
	}
}

func (c config) sessionConfig() session.Config {
	return session.Config{
		Segmenter: c.segmenter,
		MinSpeech: c.minSpeech,
		QueueSize: c.utteranceQ,
	}
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
