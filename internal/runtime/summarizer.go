package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/parley/internal/conversation"
	"github.com/felixgeelhaar/parley/internal/observe"
	"github.com/felixgeelhaar/parley/internal/provider"
)

const (
	// DefaultSummarizeCap is the most messages folded in one pass.
	DefaultSummarizeCap = 10
	// DefaultMaxSummaryChars bounds the stored summary in runes.
	DefaultMaxSummaryChars = 4000

	// keepRecent messages (the triggering user message and its reply) are
	// never folded.
	keepRecent = 2
)

// SummaryUpdate is the summarizer's output. Messages is always empty:
// folded messages are never re-added to the live window.
type SummaryUpdate struct {
	Summary  string
	Messages []conversation.Message

	// Folded counts the input messages now covered by Summary.
	Folded int
	// Called reports whether the model was invoked.
	Called bool
}

// Summarizer folds older messages into the running summary.
type Summarizer struct {
	provider provider.Provider
	observe  *observe.Observer
	cap      int
	maxChars int
}

func NewSummarizer(p provider.Provider, o *observe.Observer) *Summarizer {
	return &Summarizer{
		provider: p,
		observe:  o,
		cap:      DefaultSummarizeCap,
		maxChars: DefaultMaxSummaryChars,
	}
}

// SetLimits overrides the fold cap and the summary length bound. Zero keeps
// the current value. Every message before the last two counts as folded
// even when the cap left it out of the prompt, so a trigger larger than
// cap+2 drops the oldest unsummarized messages from the summary.
func (s *Summarizer) SetLimits(cap, maxChars int) {
	if cap > 0 {
		s.cap = cap
	}
	if maxChars > 0 {
		s.maxChars = maxChars
	}
}

// Select returns the messages that would be folded: everything before the
// last two, capped to the most recent cap of those.
func (s *Summarizer) Select(messages []conversation.Message) []conversation.Message {
	if len(messages) <= keepRecent {
		return nil
	}
	selected := messages[:len(messages)-keepRecent]
	if len(selected) > s.cap {
		selected = selected[len(selected)-s.cap:]
	}
	return selected
}

// Summarize returns the updated summary. With nothing to fold it returns
// summary unchanged without calling the model.
func (s *Summarizer) Summarize(ctx context.Context, summary string, messages []conversation.Message) (*SummaryUpdate, error) {
	selected := s.Select(messages)
	if len(selected) == 0 {
		return &SummaryUpdate{Summary: summary}, nil
	}

	ctx, span := s.observe.StartSpan(ctx, "runtime.Summarize")
	defer span.End()

	prompt := BuildSummaryPrompt(summary, selected)
	resp, err := s.provider.Chat(ctx, []provider.Message{{Role: provider.RoleUser, Content: prompt}}, nil)
	if err != nil {
		observe.Fail(span, err)
		return nil, fmt.Errorf("summary call failed: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		err := fmt.Errorf("summary call returned no text")
		observe.Fail(span, err)
		return nil, err
	}

	s.observe.Log().Info().Int("folded", len(selected)).Int("chars", len(text)).Msg("conversation summarized")
	return &SummaryUpdate{
		Summary: clampRunes(text, s.maxChars),
		Folded:  len(messages) - keepRecent,
		Called:  true,
	}, nil
}

// BuildSummaryPrompt renders the prior summary and a transcript of
// messages. System messages are left out of the transcript.
func BuildSummaryPrompt(summary string, messages []conversation.Message) string {
	var parts []string
	if summary != "" {
		parts = append(parts, fmt.Sprintf("This is the current summary of the conversation: %s\n", summary))
	}
	parts = append(parts, "Based on the following recent messages:\n")
	for _, m := range messages {
		switch m.Role {
		case conversation.RoleUser:
			parts = append(parts, "User: "+m.Content)
		case conversation.RoleAssistant:
			parts = append(parts, "Assistant: "+m.Content)
		}
	}
	parts = append(parts, "\nPlease update or create a concise summary of the entire conversation.")
	return strings.Join(parts, "\n")
}

func clampRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
