// Package conversation holds the per-thread message log and running summary.
package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/parley/internal/provider"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one immutable entry in a thread. Position is its index in the
// thread's log and never changes once assigned.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds an unpositioned message; Append assigns the position.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Position:  -1,
		CreatedAt: time.Now().UTC(),
	}
}

// ProviderMessage converts m into the provider wire shape.
func (m Message) ProviderMessage() provider.Message {
	return provider.Message{Role: string(m.Role), Content: m.Content}
}

// State is the durable record for a thread.
type State struct {
	Messages []Message `json:"messages"`
	Summary  string    `json:"summary"`

	// SummarizedThrough is the count of leading messages already folded
	// into Summary.
	SummarizedThrough int `json:"summarized_through"`
}

// Clone returns a deep copy so a turn can work on scratch state and commit
// only on success.
func (s *State) Clone() *State {
	if s == nil {
		return &State{}
	}
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return &State{
		Messages:          msgs,
		Summary:           s.Summary,
		SummarizedThrough: s.SummarizedThrough,
	}
}

// Append adds m at the end of the log, assigning its position.
func (s *State) Append(m Message) Message {
	m.Position = len(s.Messages)
	s.Messages = append(s.Messages, m)
	return m
}

// Len returns the number of messages in the log.
func (s *State) Len() int {
	return len(s.Messages)
}

// Tail returns (a copy of) the last n messages.
func (s *State) Tail(n int) []Message {
	if n <= 0 {
		return nil
	}
	start := len(s.Messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(s.Messages)-start)
	copy(out, s.Messages[start:])
	return out
}

// Count returns how many messages in the log have the given role.
func (s *State) Count(role Role) int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == role {
			n++
		}
	}
	return n
}
