package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hubenschmidt/voice-agent/gateway/internal/metrics"
	"github.com/hubenschmidt/voice-agent/gateway/internal/prompts"
)

// DefaultMaxToolRounds bounds how many tool batches one turn may execute.
const DefaultMaxToolRounds = 8

const skippedToolOutput = "Skipped: the turn already completed."

// CompletionRequest is one call to the completion backend.
type CompletionRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolSchema
}

// Completer produces the next assistant message for a conversation.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Message, error)
}

// Config describes one agent.
type Config struct {
	Name         string
	Model        string
	SystemPrompt string
	Tools        []Tool
	// BreakTool names a tool whose output ends the turn as the answer.
	BreakTool     string
	MaxToolRounds int
}

// Agent holds one session's conversation and drives the tool-calling loop.
type Agent struct {
	mu sync.Mutex

	name          string
	model         string
	systemPrompt  string
	breakTool     string
	maxToolRounds int
	completer     Completer
	tools         *toolset
	messages      []Message
}

// New builds an agent with its tool registry resolved up front.
func New(completer Completer, cfg Config) (*Agent, error) {
	if completer == nil {
		return nil, fmt.Errorf("agent %q: completer is required", cfg.Name)
	}
	tools, err := newToolset(cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", cfg.Name, err)
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = DefaultMaxToolRounds
	}
	a := &Agent{
		name:          cfg.Name,
		model:         cfg.Model,
		systemPrompt:  cfg.SystemPrompt,
		breakTool:     cfg.BreakTool,
		maxToolRounds: rounds,
		completer:     completer,
		tools:         tools,
	}
	a.resetLocked()
	return a, nil
}

// Invoke appends text as a user message and runs the turn to its answer.
// Turns of the same agent are serialized.
func (a *Agent) Invoke(ctx context.Context, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	slog.Debug("agent invoke", "agent", a.name, "history_len", len(a.messages))
	a.messages = append(a.messages, Message{Role: RoleUser, Content: text})
	return a.execute(ctx)
}

// Reset drops the conversation back to the system prompt.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Agent) resetLocked() {
	a.messages = nil
	if a.systemPrompt != "" {
		a.messages = []Message{{Role: RoleSystem, Content: a.systemPrompt}}
	}
}

// History returns a copy of the conversation.
func (a *Agent) History() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.messages))
	copy(out, a.messages)
	return out
}

func (a *Agent) execute(ctx context.Context) (string, error) {
	for round := 0; ; round++ {
		reply, err := a.complete(ctx)
		if err != nil {
			return "", err
		}
		if len(reply.ToolCalls) == 0 {
			return reply.Content, nil
		}
		if round >= a.maxToolRounds {
			metrics.ToolRoundsExhausted.Inc()
			slog.Warn("agent tool rounds exhausted", "agent", a.name, "rounds", round)
			a.closeTurn(reply.ToolCalls, prompts.RoundsExhausted)
			return prompts.RoundsExhausted, nil
		}
		if answer, done := a.runTools(ctx, reply.ToolCalls); done {
			return answer, nil
		}
	}
}

func (a *Agent) complete(ctx context.Context) (Message, error) {
	history := make([]Message, len(a.messages))
	copy(history, a.messages)

	reply, err := a.completer.Complete(ctx, CompletionRequest{
		Model:    a.model,
		Messages: history,
		Tools:    a.tools.schemas,
	})
	if err != nil {
		return Message{}, fmt.Errorf("completion: %w", err)
	}
	reply.Role = RoleAssistant
	a.messages = append(a.messages, reply)
	return reply, nil
}

// runTools executes a batch in order. It reports done when a call ends the
// turn, returning the cleaned answer.
func (a *Agent) runTools(ctx context.Context, calls []ToolCall) (string, bool) {
	for i, call := range calls {
		slog.Info("agent tool call", "agent", a.name, "tool", call.Name, "call_id", call.ID)
		res := a.tools.run(ctx, call)
		metrics.ToolCalls.WithLabelValues(call.Name, res.outcome).Inc()
		if res.outcome != "ok" {
			slog.Warn("agent tool failed", "agent", a.name, "tool", call.Name, "outcome", res.outcome, "output", res.output.Text)
		}

		a.messages = append(a.messages, Message{
			Role:       RoleTool,
			Content:    res.output.Text,
			ToolName:   call.Name,
			ToolCallID: call.ID,
		})

		if !a.endsTurn(call, res) {
			continue
		}
		answer := stripFinalOutput(res.output.Text)
		a.closeTurn(calls[i+1:], answer)
		return answer, true
	}
	return "", false
}

func (a *Agent) endsTurn(call ToolCall, res toolResult) bool {
	if a.breakTool != "" && call.Name == a.breakTool {
		return true
	}
	return res.outcome == "ok" && res.output.Final
}

// closeTurn answers calls that will not run and records the final assistant
// message, keeping the history acceptable to the backend on the next turn.
func (a *Agent) closeTurn(unanswered []ToolCall, answer string) {
	for _, call := range unanswered {
		a.messages = append(a.messages, Message{
			Role:       RoleTool,
			Content:    skippedToolOutput,
			ToolName:   call.Name,
			ToolCallID: call.ID,
		})
	}
	a.messages = append(a.messages, Message{Role: RoleAssistant, Content: answer})
}
