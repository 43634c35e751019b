package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/felixgeelhaar/parley/internal/observe"
	"github.com/felixgeelhaar/parley/internal/provider"
	"github.com/felixgeelhaar/parley/internal/session"
)

// MaxToolOutput bounds how many bytes of one tool result reach the model.
const MaxToolOutput = 24000

// ErrUnknownTool is folded into the result when the model names a tool that
// was not offered.
var ErrUnknownTool = errors.New("unknown tool")

// ToolResult is the processed outcome of one tool call.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
	IsError    bool
}

// Message converts r into the tool message fed back to the model.
func (r ToolResult) Message() provider.Message {
	return provider.Message{
		Role:       provider.RoleTool,
		Content:    r.Content,
		ToolCallID: r.ToolCallID,
		Name:       r.Name,
	}
}

// Dispatcher executes tool calls sequentially. Tool failures never abort
// the batch; they become {"error": ...} observations.
type Dispatcher struct {
	observe *observe.Observer
}

func NewDispatcher(o *observe.Observer) *Dispatcher {
	return &Dispatcher{observe: o}
}

// HandleToolCalls runs calls in order against the offered tools.
func (d *Dispatcher) HandleToolCalls(ctx context.Context, sess *session.Session, offered []Tool, calls []provider.ToolCall) []ToolResult {
	byName := make(map[string]Tool, len(offered))
	for _, t := range offered {
		byName[t.Name()] = t
	}

	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, d.execute(ctx, sess, byName[call.Name], call))
	}
	return results
}

func (d *Dispatcher) execute(ctx context.Context, sess *session.Session, tool Tool, call provider.ToolCall) ToolResult {
	ctx, span := d.observe.StartSpan(ctx, "tool."+call.Name, "tool_call_id", call.ID)
	defer span.End()

	res := ToolResult{ToolCallID: call.ID, Name: call.Name}

	var out any
	var err error
	if tool == nil {
		err = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	} else {
		args := json.RawMessage(call.Args)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		out, err = tool.Call(ctx, sess, args)
	}

	if err != nil {
		observe.Fail(span, err)
		d.observe.Log().Warn().Str("tool", call.Name).Err(err).Msg("tool call failed")
		res.IsError = true
		res.Content = errorJSON(err)
		return res
	}

	content, err := encode(out)
	if err != nil {
		res.IsError = true
		res.Content = errorJSON(err)
		return res
	}
	res.Content = truncate(content, MaxToolOutput)
	d.observe.Log().Debug().Str("tool", call.Name).Int("bytes", len(content)).Msg("tool call finished")
	return res
}

func encode(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool output: %w", err)
	}
	return string(b), nil
}

func errorJSON(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...[truncated]"
}
