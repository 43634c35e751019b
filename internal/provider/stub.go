package provider

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// stubDims is the width of the stub's bag-of-words embedding.
const stubDims = 64

// StubProvider replays scripted responses and records every request.
// Its embeddings are a hashed bag of words, so similar texts score close
// under cosine similarity.
type StubProvider struct {
	mu        sync.Mutex
	Responses []Response
	Calls     []StubCall

	// ChatErr, when set, is returned by every Chat call.
	ChatErr error
}

// StubCall is one recorded Chat request.
type StubCall struct {
	Messages []Message
	Tools    []ToolSpec
}

func NewStubProvider(responses ...Response) *StubProvider {
	return &StubProvider{Responses: responses}
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	m.Calls = append(m.Calls, StubCall{Messages: msgs, Tools: tools})

	if m.ChatErr != nil {
		return nil, m.ChatErr
	}

	if len(m.Responses) == 0 {
		return &Response{Content: "OK.", Usage: Usage{}}, nil
	}

	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	return &resp, nil
}

// CallCount returns how many Chat requests were made.
func (m *StubProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent Chat request.
func (m *StubProvider) LastCall() (StubCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return StubCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, stubDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%stubDims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

func (m *StubProvider) Name() string {
	return "stub"
}
