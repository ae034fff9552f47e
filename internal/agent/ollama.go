package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hubenschmidt/voice-agent/gateway/internal/metrics"
)

// OllamaCompleter requests chat completions from Ollama's native /api/chat
// endpoint, which supports function tools without streaming.
type OllamaCompleter struct {
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewOllamaCompleter creates an Ollama HTTP client.
func NewOllamaCompleter(url, model string, maxTokens int, client *http.Client) *OllamaCompleter {
	return &OllamaCompleter{url: url, model: model, maxTokens: maxTokens, client: client}
}

// Complete sends the conversation and returns the assistant reply.
func (c *OllamaCompleter) Complete(ctx context.Context, req CompletionRequest) (Message, error) {
	start := time.Now()

	resp, err := c.postChatRequest(ctx, req)
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.BackendErrors.WithLabelValues("ollama", "status").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Message{}, fmt.Errorf("ollama status %d: %s", resp.StatusCode, body)
	}

	var chat ollamaChatResponse
	if err = json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return Message{}, fmt.Errorf("decode ollama response: %w", err)
	}
	metrics.BackendDuration.WithLabelValues("ollama").Observe(time.Since(start).Seconds())

	out := Message{Role: RoleAssistant, Content: chat.Message.Content}
	for _, tc := range chat.Message.ToolCalls {
		args := string(tc.Function.Arguments)
		if args == "" || args == "null" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func (c *OllamaCompleter) postChatRequest(ctx context.Context, req CompletionRequest) (*http.Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	reqBody := ollamaChatRequest{
		Model:    model,
		Stream:   false,
		Messages: toOllamaMessages(req.Messages),
		Options:  ollamaOptions{NumPredict: c.maxTokens, Temperature: 0.1},
	}
	for _, t := range req.Tools {
		reqBody.Tools = append(reqBody.Tools, ollamaTool{
			Type:     "function",
			Function: ollamaFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.BackendErrors.WithLabelValues("ollama", "http").Inc()
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	return resp, nil
}

func toOllamaMessages(msgs []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == RoleTool {
			om.ToolName = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			args := json.RawMessage(tc.Arguments)
			if !json.Valid(args) {
				args = json.RawMessage("{}")
			}
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				ID:       tc.ID,
				Function: ollamaCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, om)
	}
	return out
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Function ollamaCallFunction `json:"function"`
}

type ollamaCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}
