// Package agent runs the tool-augmented response loop for one turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/parley/internal/guard"
	"github.com/felixgeelhaar/parley/internal/observe"
	"github.com/felixgeelhaar/parley/internal/provider"
	"github.com/felixgeelhaar/parley/internal/session"
)

var (
	// ErrNoAssistantMessage is returned when the model finishes without text.
	ErrNoAssistantMessage = errors.New("model produced no assistant message")
	// ErrToolLoopExceeded is returned when the model keeps calling tools past
	// the policy's iteration limit.
	ErrToolLoopExceeded = errors.New("tool iteration limit exceeded")
	// ErrBudgetExceeded is returned when token usage passes the policy.
	ErrBudgetExceeded = errors.New("token budget exceeded")
)

// Reply is the terminal assistant message of a turn plus its accounting.
type Reply struct {
	Content    string
	Iterations int
	ToolCalls  int
	Usage      provider.Usage
}

// ToolHook observes each tool call before it runs. ctx is the turn's
// context.
type ToolHook func(ctx context.Context, call provider.ToolCall)

// Agent is the model + tools interpreter.
type Agent struct {
	provider   provider.Provider
	registry   *Registry
	dispatcher *Dispatcher
	guard      *guard.Guard
	observe    *observe.Observer
	hook       ToolHook
	now        func() time.Time
}

func New(p provider.Provider, reg *Registry, g *guard.Guard, o *observe.Observer) *Agent {
	return &Agent{
		provider:   p,
		registry:   reg,
		dispatcher: NewDispatcher(o),
		guard:      g,
		observe:    o,
		now:        time.Now,
	}
}

// SetToolHook registers a callback invoked before each tool call.
func (a *Agent) SetToolHook(h ToolHook) {
	a.hook = h
}

// SetClock overrides the time source used in the system prompt.
func (a *Agent) SetClock(now func() time.Time) {
	a.now = now
}

// Respond runs system prompt + input through the model, executing requested
// tools until the model answers in plain text.
func (a *Agent) Respond(ctx context.Context, sess *session.Session, input []provider.Message) (*Reply, error) {
	ctx, span := a.observe.StartSpan(ctx, "agent.Respond", "user", sess.UserID)
	defer span.End()

	offered := a.registry.Available(sess)
	specs := Specs(offered)

	history := make([]provider.Message, 0, len(input)+1)
	history = append(history, provider.Message{Role: provider.RoleSystem, Content: SystemPrompt(sess.Options, a.now())})
	history = append(history, input...)

	reply := &Reply{}
	rounds := 0

	for {
		reply.Iterations++
		iterLog := a.observe.Log().With().Int("iteration", reply.Iterations).Logger()

		resp, err := a.provider.Chat(ctx, history, specs)
		if err != nil {
			observe.Fail(span, err)
			iterLog.Error().Err(err).Msg("provider call failed")
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		reply.Usage.PromptTokens += resp.Usage.PromptTokens
		reply.Usage.CompletionTokens += resp.Usage.CompletionTokens
		reply.Usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 {
			content := strings.TrimSpace(resp.Content)
			if content == "" {
				observe.Fail(span, ErrNoAssistantMessage)
				return nil, ErrNoAssistantMessage
			}
			reply.Content = content
			return reply, nil
		}

		rounds++
		if v := a.guard.CheckBudget(rounds, reply.Usage.PromptTokens, reply.Usage.CompletionTokens); v != nil {
			iterLog.Warn().Str("violation", v.Rule).Msg("guard violation, stopping")
			sentinel := ErrBudgetExceeded
			if v.Rule == "max_tool_iterations" {
				sentinel = ErrToolLoopExceeded
			}
			observe.Fail(span, sentinel)
			return nil, fmt.Errorf("%w: %s", sentinel, v.Message)
		}

		history = append(history, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		iterLog.Info().Int("tool_calls", len(resp.ToolCalls)).Msg("executing tool calls")
		if a.hook != nil {
			for _, call := range resp.ToolCalls {
				a.hook(ctx, call)
			}
		}
		reply.ToolCalls += len(resp.ToolCalls)

		for _, res := range a.dispatcher.HandleToolCalls(ctx, sess, offered, resp.ToolCalls) {
			history = append(history, res.Message())
		}
	}
}
