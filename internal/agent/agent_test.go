package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/parley/internal/guard"
	"github.com/felixgeelhaar/parley/internal/observe"
	"github.com/felixgeelhaar/parley/internal/provider"
	"github.com/felixgeelhaar/parley/internal/session"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"required,description=Text to echo"`
}

type echoTool struct {
	calls []string
}

func (e *echoTool) Name() string           { return "echo" }
func (e *echoTool) Description() string    { return "Echo text back" }
func (e *echoTool) Schema() map[string]any { return SchemaFor[echoArgs]() }
func (e *echoTool) Call(ctx context.Context, sess *session.Session, args json.RawMessage) (any, error) {
	var a echoArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	e.calls = append(e.calls, a.Text)
	return map[string]string{"echo": a.Text}, nil
}

type failTool struct{}

func (failTool) Name() string           { return "fail" }
func (failTool) Description() string    { return "Always fails" }
func (failTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (failTool) Call(ctx context.Context, sess *session.Session, args json.RawMessage) (any, error) {
	return nil, errors.New("boom")
}

type webOnlyTool struct{ echoTool }

func (w *webOnlyTool) Name() string                        { return "web_only" }
func (w *webOnlyTool) Enabled(sess *session.Session) bool { return sess.Options.WebSearch }

func testSession() *session.Session {
	return &session.Session{UserID: "alice", Options: session.DefaultOptions}
}

func newTestAgent(t *testing.T, p provider.Provider, policy guard.Policy, tools ...Tool) *Agent {
	t.Helper()
	reg, err := NewRegistry(tools...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	a := New(p, reg, guard.New(policy), observe.Discard())
	a.SetClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) })
	return a
}

func userInput(text string) []provider.Message {
	return []provider.Message{{Role: provider.RoleUser, Content: text}}
}

func TestAgent_PlainAnswer(t *testing.T) {
	stub := provider.NewStubProvider(provider.Response{Content: "  Hello there!  "})
	a := newTestAgent(t, stub, guard.DefaultPolicy, &echoTool{})

	reply, err := a.Respond(context.Background(), testSession(), userInput("hi"))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if reply.Content != "Hello there!" {
		t.Errorf("Expected trimmed content, got %q", reply.Content)
	}

	call, _ := stub.LastCall()
	if call.Messages[0].Role != provider.RoleSystem || !strings.Contains(call.Messages[0].Content, "search_memory") {
		t.Errorf("Expected system prompt first, got %+v", call.Messages[0])
	}
	if call.Messages[1].Content != "hi" {
		t.Errorf("Expected user input after system prompt, got %+v", call.Messages[1])
	}
	if len(call.Tools) != 1 || call.Tools[0].Name != "echo" {
		t.Errorf("Expected echo tool offered, got %+v", call.Tools)
	}
}

func TestAgent_ToolLoop(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "echo", Args: `{"text":"one"}`},
			{ID: "c2", Name: "echo", Args: `{"text":"two"}`},
		}},
		provider.Response{Content: "done"},
	)
	echo := &echoTool{}
	a := newTestAgent(t, stub, guard.DefaultPolicy, echo)

	var hooked []string
	a.SetToolHook(func(ctx context.Context, call provider.ToolCall) { hooked = append(hooked, call.ID) })

	reply, err := a.Respond(context.Background(), testSession(), userInput("echo twice"))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if reply.Content != "done" || reply.ToolCalls != 2 || reply.Iterations != 2 {
		t.Errorf("Unexpected reply: %+v", reply)
	}
	if strings.Join(echo.calls, ",") != "one,two" {
		t.Errorf("Expected sequential calls in order, got %v", echo.calls)
	}
	if strings.Join(hooked, ",") != "c1,c2" {
		t.Errorf("Expected hook for each call, got %v", hooked)
	}

	call, _ := stub.LastCall()
	msgs := call.Messages
	// system, user, assistant(tool calls), tool, tool
	if len(msgs) != 5 {
		t.Fatalf("Expected 5 messages in second request, got %d", len(msgs))
	}
	if msgs[3].Role != provider.RoleTool || msgs[3].ToolCallID != "c1" || msgs[3].Content != `{"echo":"one"}` {
		t.Errorf("Unexpected tool message: %+v", msgs[3])
	}
}

func TestAgent_ToolErrorsAreObservations(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "fail", Args: `{}`},
			{ID: "c2", Name: "missing", Args: `{}`},
		}},
		provider.Response{Content: "recovered"},
	)
	a := newTestAgent(t, stub, guard.DefaultPolicy, failTool{})

	reply, err := a.Respond(context.Background(), testSession(), userInput("go"))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if reply.Content != "recovered" {
		t.Errorf("Expected recovered, got %q", reply.Content)
	}

	call, _ := stub.LastCall()
	if got := call.Messages[3].Content; got != `{"error":"boom"}` {
		t.Errorf("Expected folded error, got %s", got)
	}
	if got := call.Messages[4].Content; !strings.Contains(got, "unknown tool") {
		t.Errorf("Expected unknown tool error, got %s", got)
	}
}

func TestAgent_IterationGuard(t *testing.T) {
	loop := provider.Response{ToolCalls: []provider.ToolCall{{ID: "c", Name: "echo", Args: `{"text":"again"}`}}}
	var responses []provider.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, loop)
	}
	stub := provider.NewStubProvider(responses...)
	echo := &echoTool{}
	a := newTestAgent(t, stub, guard.Policy{MaxToolIterations: 3}, echo)

	_, err := a.Respond(context.Background(), testSession(), userInput("loop"))
	if !errors.Is(err, ErrToolLoopExceeded) {
		t.Fatalf("Expected ErrToolLoopExceeded, got %v", err)
	}
	if len(echo.calls) != 3 {
		t.Errorf("Expected 3 executed rounds, got %d", len(echo.calls))
	}
	if stub.CallCount() != 4 {
		t.Errorf("Expected 4 model calls, got %d", stub.CallCount())
	}
}

func TestAgent_NoAssistantMessage(t *testing.T) {
	stub := provider.NewStubProvider(provider.Response{Content: "   "})
	a := newTestAgent(t, stub, guard.DefaultPolicy)

	if _, err := a.Respond(context.Background(), testSession(), userInput("hi")); !errors.Is(err, ErrNoAssistantMessage) {
		t.Errorf("Expected ErrNoAssistantMessage, got %v", err)
	}
}

func TestAgent_ProviderError(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.ChatErr = errors.New("connection refused")
	a := newTestAgent(t, stub, guard.DefaultPolicy)

	_, err := a.Respond(context.Background(), testSession(), userInput("hi"))
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Expected wrapped provider error, got %v", err)
	}
}

func TestAgent_ConditionalTools(t *testing.T) {
	stub := provider.NewStubProvider(provider.Response{Content: "a"}, provider.Response{Content: "b"})
	a := newTestAgent(t, stub, guard.DefaultPolicy, &echoTool{}, &webOnlyTool{})

	sess := testSession()
	if _, err := a.Respond(context.Background(), sess, userInput("hi")); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	call, _ := stub.LastCall()
	if len(call.Tools) != 1 {
		t.Errorf("Expected only echo without web search, got %d tools", len(call.Tools))
	}
	if strings.Contains(call.Messages[0].Content, "search_web") {
		t.Error("System prompt should not mention search_web when disabled")
	}

	sess.Options.WebSearch = true
	if _, err := a.Respond(context.Background(), sess, userInput("hi")); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	call, _ = stub.LastCall()
	if len(call.Tools) != 2 {
		t.Errorf("Expected 2 tools with web search, got %d", len(call.Tools))
	}
	if !strings.Contains(call.Messages[0].Content, "2026-01-02 03:04:05") {
		t.Errorf("Expected current time in prompt, got %q", call.Messages[0].Content)
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(&echoTool{})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if err := reg.Register(&echoTool{}); err == nil {
		t.Error("Expected error registering duplicate tool")
	}
	if _, ok := reg.Get("echo"); !ok {
		t.Error("Expected echo to be registered")
	}
	reg.Unregister("echo")
	if reg.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", reg.Count())
	}
}

func TestSchemaFor(t *testing.T) {
	s := SchemaFor[echoArgs]()
	if s["type"] != "object" {
		t.Errorf("Expected object schema, got %v", s["type"])
	}
	props, ok := s["properties"].(map[string]any)
	if !ok || props["text"] == nil {
		t.Fatalf("Expected text property, got %v", s["properties"])
	}
	req, ok := s["required"].([]any)
	if !ok || len(req) != 1 || req[0] != "text" {
		t.Errorf("Expected text required, got %v", s["required"])
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Unexpected %q", got)
	}
	got := truncate("héllo wörld", 2)
	if !strings.HasPrefix(got, "h") || !strings.HasSuffix(got, "[truncated]") {
		t.Errorf("Unexpected truncation %q", got)
	}
}
