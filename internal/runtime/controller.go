package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/parley/internal/agent"
	"github.com/felixgeelhaar/parley/internal/conversation"
	"github.com/felixgeelhaar/parley/internal/observe"
	"github.com/felixgeelhaar/parley/internal/provider"
	"github.com/felixgeelhaar/parley/internal/session"
	"github.com/felixgeelhaar/parley/internal/store"
)

// Responder produces the assistant reply for a prepared input window.
type Responder interface {
	Respond(ctx context.Context, sess *session.Session, input []provider.Message) (*agent.Reply, error)
}

// WindowConfig shapes the agent input and the summarization trigger.
type WindowConfig struct {
	// RecentMessages is how many trailing messages the agent sees.
	RecentMessages int
	// SummarizeAfter triggers summarization when the thread holds more
	// messages than this after a reply.
	SummarizeAfter int
	// ExcludeSummarized drops already-summarized messages from the recent
	// window so they are not seen twice.
	ExcludeSummarized bool
}

// DefaultWindow sends the last 5 messages and summarizes past 6.
var DefaultWindow = WindowConfig{RecentMessages: 5, SummarizeAfter: 6}

// TurnResult describes a completed turn.
type TurnResult struct {
	ThreadID   string
	Reply      conversation.Message
	Summarized bool
	State      *conversation.State
	Usage      provider.Usage
	ToolCalls  int
	Trail      []Phase
}

// Controller runs conversation turns: respond, maybe summarize, checkpoint.
type Controller struct {
	store      store.Checkpointer
	agent      Responder
	summarizer *Summarizer
	locks      *ThreadLocks
	bus        *EventBus
	observe    *observe.Observer
	window     WindowConfig
}

func NewController(st store.Checkpointer, r Responder, s *Summarizer, bus *EventBus, o *observe.Observer, window WindowConfig) *Controller {
	if window.RecentMessages <= 0 {
		window.RecentMessages = DefaultWindow.RecentMessages
	}
	if window.SummarizeAfter <= 0 {
		window.SummarizeAfter = DefaultWindow.SummarizeAfter
	}
	return &Controller{
		store:      st,
		agent:      r,
		summarizer: s,
		locks:      NewThreadLocks(),
		bus:        bus,
		observe:    o,
		window:     window,
	}
}

// Turn processes one user message on threadID. On any error nothing is
// saved and the thread keeps its last checkpoint.
func (c *Controller) Turn(ctx context.Context, sess *session.Session, threadID, userText string) (*TurnResult, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, ErrEmptyMessage
	}

	ctx = WithThread(ctx, threadID)
	ctx, span := c.observe.StartSpan(ctx, "runtime.Turn", "thread", threadID, "user", sess.UserID)
	defer span.End()
	turnLog := c.observe.Log().With().Str("thread", threadID).Logger()

	release, err := c.locks.Acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	m := newMachine(threadID, c.bus)
	c.bus.PublishSimple(EventTurnStart, threadID)

	fail := func(err error) (*TurnResult, error) {
		observe.Fail(span, err)
		turnLog.Error().Err(err).Msg("turn aborted")
		m.abort()
		c.bus.PublishWithData(EventTurnError, threadID, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	stored, err := c.store.LoadState(ctx, sess.UserID, threadID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		stored = &conversation.State{}
	case err != nil:
		return fail(&PersistenceError{Op: "load", ThreadID: threadID, Err: err})
	}
	work := stored.Clone()

	// AwaitingInput -> Responding
	if err := m.to(Responding); err != nil {
		return fail(err)
	}
	work.Append(conversation.NewMessage(conversation.RoleUser, userText))

	reply, err := c.agent.Respond(ctx, sess, c.Input(work))
	if err != nil {
		return fail(&GenerationError{Kind: generationKind(err), Err: err})
	}
	assistant := work.Append(conversation.NewMessage(conversation.RoleAssistant, reply.Content))

	// Responding -> MaybeSummarizing
	if err := m.to(MaybeSummarizing); err != nil {
		return fail(err)
	}

	summarized := false
	if work.Len() > c.window.SummarizeAfter {
		update, err := c.summarizer.Summarize(ctx, work.Summary, work.Messages[work.SummarizedThrough:])
		if err != nil {
			return fail(&GenerationError{Kind: KindSummarize, Err: err})
		}
		work.Summary = update.Summary
		work.SummarizedThrough += update.Folded
		summarized = update.Called
		if summarized {
			c.bus.PublishWithData(EventSummarized, threadID, map[string]interface{}{
				"summarized_through": work.SummarizedThrough,
			})
		}
	}

	// MaybeSummarizing -> Done, then checkpoint.
	if err := m.to(Done); err != nil {
		return fail(err)
	}
	if err := c.store.SaveState(ctx, sess.UserID, threadID, work); err != nil {
		return fail(&PersistenceError{Op: "save", ThreadID: threadID, Err: err})
	}
	c.bus.PublishWithData(EventCheckpointed, threadID, map[string]interface{}{"messages": work.Len()})

	_ = m.to(AwaitingInput)
	c.bus.PublishSimple(EventTurnComplete, threadID)

	turnLog.Info().Int("messages", work.Len()).Int("tool_calls", reply.ToolCalls).Msg("turn complete")
	return &TurnResult{
		ThreadID:   threadID,
		Reply:      assistant,
		Summarized: summarized,
		State:      work,
		Usage:      reply.Usage,
		ToolCalls:  reply.ToolCalls,
		Trail:      m.trail,
	}, nil
}

// Input builds the agent input: the summary as a system message when
// present, then the recent window ending with the newest message.
func (c *Controller) Input(state *conversation.State) []provider.Message {
	var input []provider.Message
	if state.Summary != "" {
		input = append(input, provider.Message{
			Role:    provider.RoleSystem,
			Content: fmt.Sprintf("Here is a summary of the conversation so far: %s. Use this to inform your response.", state.Summary),
		})
	}
	for _, msg := range state.Tail(c.window.RecentMessages) {
		if c.window.ExcludeSummarized && msg.Position < state.SummarizedThrough {
			continue
		}
		input = append(input, msg.ProviderMessage())
	}
	return input
}

// Overlap counts messages that are both folded into the summary and inside
// the recent window of state.
func (c *Controller) Overlap(state *conversation.State) int {
	n := 0
	for _, msg := range state.Tail(c.window.RecentMessages) {
		if msg.Position < state.SummarizedThrough {
			n++
		}
	}
	return n
}

// NewThread creates an empty thread for the session's user.
func (c *Controller) NewThread(ctx context.Context, sess *session.Session) (*store.Thread, error) {
	now := time.Now().UTC()
	th := &store.Thread{ID: session.NewThreadID(sess.UserID, now), UserID: sess.UserID, CreatedAt: now}
	if err := c.store.CreateThread(ctx, th); err != nil {
		return nil, &PersistenceError{Op: "create", ThreadID: th.ID, Err: err}
	}
	return th, nil
}

// Threads lists the user's threads, newest first.
func (c *Controller) Threads(ctx context.Context, sess *session.Session) ([]*store.Thread, error) {
	return c.store.ListThreads(ctx, sess.UserID)
}

// Resume loads a thread's full transcript and summary for display.
func (c *Controller) Resume(ctx context.Context, sess *session.Session, threadID string) (*conversation.State, error) {
	st, err := c.store.LoadState(ctx, sess.UserID, threadID)
	if err != nil {
		return nil, &PersistenceError{Op: "load", ThreadID: threadID, Err: err}
	}
	return st, nil
}

func generationKind(err error) string {
	switch {
	case errors.Is(err, agent.ErrNoAssistantMessage):
		return KindNoAssistantMessage
	case errors.Is(err, agent.ErrToolLoopExceeded):
		return KindToolLoop
	case errors.Is(err, agent.ErrBudgetExceeded):
		return KindBudget
	default:
		return KindModel
	}
}
