package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/voice-agent/gateway/internal/session"
	"github.com/hubenschmidt/voice-agent/gateway/internal/workpool"
)

type deps struct {
	wsHandler http.Handler
	registry  *session.Registry
	pool      *workpool.Pool
	llmEngine string
	ttsEngine string
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("GET /ws", d.wsHandler)
	mux.HandleFunc("GET /health", d.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	LLM      string `json:"llm"`
	TTS      string `json:"tts"`
	InFlight int64  `json:"in_flight"`
	Queued   int    `json:"queued"`
}

func (d deps) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := d.pool.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:   "ok",
		Sessions: d.registry.Len(),
		LLM:      d.llmEngine,
		TTS:      d.ttsEngine,
		InFlight: stats.InFlight,
		Queued:   stats.Queued,
	})
}
