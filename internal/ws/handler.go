package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voice-agent/gateway/internal/audio"
	"github.com/hubenschmidt/voice-agent/gateway/internal/pipeline"
	"github.com/hubenschmidt/voice-agent/gateway/internal/session"
)

const (
	writeWait    = 5 * time.Second
	maxFrameSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig holds what every voice session shares.
type HandlerConfig struct {
	Registry      *session.Registry
	MaxConcurrent int
}

// Handler manages WebSocket voice sessions with admission control.
type Handler struct {
	registry *session.Registry
	sem      chan struct{}
}

// NewHandler creates a WebSocket handler with a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Handler{
		registry: cfg.Registry,
		sem:      make(chan struct{}, maxConc),
	}
}

// controlMessage is a client text frame.
type controlMessage struct {
	Type string `json:"type"`
}

// ServeHTTP upgrades the connection and runs the voice session.
// Returns 503 if at max concurrent session capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	h.runSession(conn, r.URL.Query().Get("system_prompt"))
}

func (h *Handler) runSession(conn *websocket.Conn, systemPrompt string) {
	sessionID := uuid.NewString()
	sendEvent := newEventSender(conn)

	sess, err := h.registry.Create(sessionID, session.Options{SystemPrompt: systemPrompt, Emit: sendEvent})
	if err != nil {
		slog.Error("create session", "session_id", sessionID, "error", err)
		sendEvent(pipeline.ErrorEvent(sessionID))
		return
	}
	defer h.registry.Remove(sessionID)

	slog.Info("session started", "session_id", sessionID, "custom_prompt", systemPrompt != "", "active", h.registry.Len())
	sendEvent(pipeline.Event{
		Type:      pipeline.EventConnection,
		SessionID: sessionID,
		Status:    pipeline.ConnectionConnected,
		Message:   pipeline.ConnectionReady,
	})

	processMessages(conn, sess)
	slog.Info("session ended", "session_id", sessionID)
}

// processMessages reads frames until the client disconnects. Binary frames
// are int16 PCM audio; text frames are control messages.
func processMessages(conn *websocket.Conn, sess *session.Session) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "session_id", sess.ID(), "error", err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			err = sess.HandleFrame(audio.DecodePCM16(data))
		case websocket.TextMessage:
			err = handleControl(sess, data)
		}
		if errors.Is(err, session.ErrClosed) {
			return
		}
		if err != nil {
			slog.Warn("client message", "session_id", sess.ID(), "error", err)
		}
	}
}

func handleControl(sess *session.Session, data []byte) error {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.Type != "reset" {
		slog.Debug("ignoring control message", "session_id", sess.ID(), "type", msg.Type)
		return nil
	}
	return sess.Reset()
}

// newEventSender serializes writes to conn. Write failures are logged and
// dropped; the read loop notices a dead connection.
func newEventSender(conn *websocket.Conn) pipeline.EventSink {
	var mu sync.Mutex
	return func(ev pipeline.Event) {
		jsonBytes, err := json.Marshal(ev)
		if err != nil {
			slog.Error("marshal event", "type", ev.Type, "error", err)
			return
		}

		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err = conn.WriteMessage(websocket.TextMessage, jsonBytes); err != nil {
			slog.Debug("write event", "type", ev.Type, "error", err)
		}
	}
}
