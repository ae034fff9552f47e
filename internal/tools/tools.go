// Package tools holds the functions the conversational agent may call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hubenschmidt/voice-agent/gateway/internal/agent"
)

// Deps carries what tool constructors need.
type Deps struct {
	HTTPClient   *http.Client
	GeocodingURL string
	ForecastURL  string
}

// Build resolves tool names into tools, in order. Unknown names are an error.
func Build(names []string, deps Deps) ([]agent.Tool, error) {
	out := make([]agent.Tool, 0, len(names))
	for _, name := range names {
		switch name {
		case "get_weather":
			out = append(out, NewWeatherClient(deps.GeocodingURL, deps.ForecastURL, deps.HTTPClient).Tool())
		case "respond":
			out = append(out, Respond())
		default:
			return nil, fmt.Errorf("unknown tool %q", name)
		}
	}
	return out, nil
}

type respondArgs struct {
	Message string `json:"message"`
}

// Respond is a tool the model calls to speak its final answer directly.
// Its output ends the turn.
func Respond() agent.Tool {
	return &respondTool{}
}

type respondTool struct{}

func (respondTool) Schema() agent.ToolSchema {
	return agent.ToolSchema{
		Name:        "respond",
		Description: "Say the final answer to the user and end the turn.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string", "description": "What to say"},
			},
			"required": []string{"message"},
		},
	}
}

func (respondTool) Execute(_ context.Context, args json.RawMessage) (agent.ToolOutput, error) {
	var in respondArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return agent.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}
	return agent.ToolOutput{Text: in.Message, Final: true}, nil
}
