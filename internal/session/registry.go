package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hubenschmidt/voice-agent/gateway/internal/metrics"
	"github.com/hubenschmidt/voice-agent/gateway/internal/pipeline"
)

var (
	// ErrSessionExists is returned when Create is given an id already in use.
	ErrSessionExists = errors.New("session already exists")
	// ErrDraining is returned by Create once shutdown has begun.
	ErrDraining = errors.New("registry is draining")
)

// ConversationFactory builds a fresh agent for a new session. An empty
// systemPrompt selects the configured default.
type ConversationFactory func(systemPrompt string) (Conversation, error)

// Options are per-session settings supplied at creation.
type Options struct {
	SystemPrompt string
	Emit         pipeline.EventSink
}

// Registry tracks live sessions by id. Map mutation happens under mu; the
// draining check is done under the same lock so no session is created after
// Drain returns.
type Registry struct {
	cfg     Config
	newConv ConversationFactory
	proc    Processor

	mu       sync.Mutex
	sessions map[string]*Session
	draining bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, newConv ConversationFactory, proc Processor) *Registry {
	return &Registry{
		cfg:      cfg,
		newConv:  newConv,
		proc:     proc,
		sessions: make(map[string]*Session),
	}
}

// Create builds and registers a session with its own agent and segmenter.
func (r *Registry) Create(id string, opts Options) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.draining {
		return nil, ErrDraining
	}
	if _, ok := r.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	conv, err := r.newConv(opts.SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	emit := opts.Emit
	if emit == nil {
		emit = func(pipeline.Event) {}
	}

	s := newSession(id, r.cfg, conv, r.proc, emit)
	r.sessions[id] = s
	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	return s, nil
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove unregisters and closes the session. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	metrics.SessionsActive.Dec()
	s.Close()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Drain rejects new sessions and closes every live one.
func (r *Registry) Drain() {
	r.mu.Lock()
	r.draining = true
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id)
	}
}
