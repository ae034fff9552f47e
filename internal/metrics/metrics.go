package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sessions_active",
		Help: "Currently connected voice sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_sessions_total",
		Help: "Total voice sessions accepted",
	})

	AudioFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_frames_processed_total",
		Help: "Total audio frames received",
	})

	SpeechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_speech_segments_total",
		Help: "Speech segments closed by the VAD",
	})

	UtterancesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vad_utterances_discarded_total",
		Help: "Utterances dropped before the pipeline",
	}, []string{"reason"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	E2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_e2e_duration_seconds",
		Help:    "Latency from speech end to the final response event",
		Buckets: []float64{0.2, 0.5, 1.0, 1.5, 2.0, 3.0, 5.0, 10.0, 20.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	BackendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backend_request_duration_seconds",
		Help:    "Latency of individual requests to ASR, LLM and TTS backends",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0, 10.0},
	}, []string{"backend"})

	BackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_errors_total",
		Help: "Failed backend requests by backend and cause",
	}, []string{"backend", "error_type"})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_tool_calls_total",
		Help: "Tool invocations by tool and outcome",
	}, []string{"tool", "outcome"})

	ToolRoundsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_tool_rounds_exhausted_total",
		Help: "Turns that hit the tool round limit",
	})

	PoolInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "workpool_jobs_in_flight",
		Help: "Collaborator calls currently executing",
	})

	PoolWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "workpool_queue_wait_seconds",
		Help:    "Time a job spent queued before a worker picked it up",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
	})
)
