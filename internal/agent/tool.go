package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolSchema describes a tool to the completion backend. Parameters is a
// JSON Schema object for the tool's arguments.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolOutput is the text a tool produced. Final asks the agent to end the
// turn with Text as the answer, skipping further completions.
type ToolOutput struct {
	Text  string
	Final bool
}

// Tool is a function the model may call.
type Tool interface {
	Schema() ToolSchema
	Execute(ctx context.Context, args json.RawMessage) (ToolOutput, error)
}

// Func adapts a typed function into a Tool. Arguments are decoded into T
// after they pass schema validation.
func Func[T any](schema ToolSchema, fn func(ctx context.Context, in T) (string, error)) Tool {
	return &funcTool[T]{schema: schema, fn: fn}
}

type funcTool[T any] struct {
	schema ToolSchema
	fn     func(ctx context.Context, in T) (string, error)
}

func (f *funcTool[T]) Schema() ToolSchema { return f.schema }

func (f *funcTool[T]) Execute(ctx context.Context, args json.RawMessage) (ToolOutput, error) {
	var in T
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
		}
	}
	text, err := f.fn(ctx, in)
	if err != nil {
		return ToolOutput{}, err
	}
	return ToolOutput{Text: text}, nil
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// toolset is the static name → tool registry of one agent, with argument
// schemas compiled up front.
type toolset struct {
	byName  map[string]registeredTool
	names   []string
	schemas []ToolSchema
}

func newToolset(tools []Tool) (*toolset, error) {
	ts := &toolset{byName: make(map[string]registeredTool, len(tools))}
	for _, t := range tools {
		s := t.Schema()
		if s.Name == "" {
			return nil, fmt.Errorf("tool without a name")
		}
		if _, dup := ts.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", s.Name)
		}
		compiled, err := compileSchema(s)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", s.Name, err)
		}
		ts.byName[s.Name] = registeredTool{tool: t, schema: compiled}
		ts.names = append(ts.names, s.Name)
		ts.schemas = append(ts.schemas, s)
	}
	return ts, nil
}

func compileSchema(s ToolSchema) (*jsonschema.Schema, error) {
	if len(s.Parameters) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(s.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := "mem://tools/" + s.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err = compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// toolResult is the outcome of one call as fed back into the conversation.
type toolResult struct {
	output  ToolOutput
	outcome string // ok, not_found, invalid_args, error
}

// run resolves and executes a call. Every failure becomes textual output;
// nothing here aborts the turn.
func (ts *toolset) run(ctx context.Context, call ToolCall) toolResult {
	rt, ok := ts.byName[call.Name]
	if !ok {
		return toolResult{
			output:  ToolOutput{Text: fmt.Sprintf("Error: Function %s not found. Available functions: [%s]", call.Name, strings.Join(ts.names, ", "))},
			outcome: "not_found",
		}
	}

	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}
	if err := validateArgs(rt.schema, args); err != nil {
		return toolResult{output: ToolOutput{Text: "Error: invalid arguments: " + err.Error()}, outcome: "invalid_args"}
	}

	out, err := rt.tool.Execute(ctx, json.RawMessage(args))
	if err != nil {
		return toolResult{output: ToolOutput{Text: "Error: " + err.Error()}, outcome: "error"}
	}
	return toolResult{output: out, outcome: "ok"}
}

func validateArgs(schema *jsonschema.Schema, args string) error {
	var payload any
	if err := json.Unmarshal([]byte(args), &payload); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if schema == nil {
		return nil
	}
	return schema.Validate(payload)
}

const (
	emptyToolUsePrefix = `<tool-use>{"tool_calls":[]}</tool-use>`
	separatorPrefix    = "---"
)

// stripFinalOutput removes the wrapper a terminating tool may prepend to its
// answer: an empty tool-use envelope, then a leading separator.
func stripFinalOutput(text string) string {
	if strings.HasPrefix(text, emptyToolUsePrefix) {
		text = strings.TrimSpace(text[len(emptyToolUsePrefix):])
	}
	if strings.HasPrefix(text, separatorPrefix) {
		text = text[len(separatorPrefix):]
	}
	return strings.TrimSpace(text)
}
