package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

var searchTool = ToolSpec{
	Name:        "search_memory",
	Description: "Search stored memories",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "What to look for"},
		},
		"required": []string{"query"},
	},
}

func TestOpenAIProvider(t *testing.T) {
	var gotTools []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotTools, _ = body["tools"].([]any)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "hello", "role": "assistant"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider("test-key", server.URL, "gpt-4")
	if p.Name() != "openai" {
		t.Errorf("Expected 'openai', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, []ToolSpec{searchTool})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Expected 'hello', got '%s'", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if len(gotTools) != 1 {
		t.Errorf("Expected 1 tool in request, got %d", len(gotTools))
	}
}

func TestOpenAIProvider_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "",
				"tool_calls": [{"id": "call_1", "type": "function",
					"function": {"name": "search_memory", "arguments": "{\"query\":\"name\"}"}}]}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider("test-key", server.URL, "gpt-4")
	resp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "what is my name?"}}, []ToolSpec{searchTool})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "search_memory" || resp.ToolCalls[0].ID != "call_1" {
		t.Errorf("Unexpected tool call: %+v", resp.ToolCalls[0])
	}
}

func TestOpenAIProvider_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object": "list", "data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2, 0.3]}]}`))
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider("test-key", server.URL, "gpt-4")
	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("Expected 3 dims, got %d", len(vec))
	}
}

func TestOllamaProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": {"content": "hi from ollama"}, "done": true, "eval_count": 10, "prompt_eval_count": 5}`))
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "llama3")
	if err != nil {
		t.Fatalf("NewOllamaProvider failed: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Expected 'ollama', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hi from ollama" {
		t.Errorf("Expected 'hi from ollama', got '%s'", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestAnthropicProvider(t *testing.T) {
	var req anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_123",
			"content": [{"type": "text", "text": "hello from claude"}],
			"usage": {"input_tokens": 5, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider("test-key", "claude-3")
	p.SetBaseURL(server.URL)
	if p.Name() != "anthropic" {
		t.Errorf("Expected 'anthropic', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleUser, Content: "again"},
	}, []ToolSpec{searchTool})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello from claude" {
		t.Errorf("Expected 'hello from claude', got '%s'", resp.Content)
	}
	if req.System != "be brief" {
		t.Errorf("Expected system prompt to be lifted, got %q", req.System)
	}
	if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
		t.Errorf("Expected consecutive user turns merged, got %+v", req.Messages)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "search_memory" {
		t.Errorf("Expected search_memory tool, got %+v", req.Tools)
	}
}

func TestAnthropicProvider_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_123",
			"content": [
				{"type": "text", "text": "Let me check"},
				{"type": "tool_use", "id": "tc_1", "name": "search_memory", "input": {"query": "name"}}
			],
			"usage": {"input_tokens": 5, "output_tokens": 10}
		}`))
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider("test-key", "claude-3")
	p.SetBaseURL(server.URL)

	resp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "what is my name"}}, []ToolSpec{searchTool})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "search_memory" {
		t.Errorf("Expected 'search_memory', got '%s'", resp.ToolCalls[0].Name)
	}
}

func TestGeminiProvider_Name(t *testing.T) {
	p, err := NewGeminiProvider("fake-key", "gemini-pro")
	if err != nil {
		t.Logf("Skipping Gemini Name test due to client init error: %v", err)
		return
	}
	if p.Name() != "gemini" {
		t.Errorf("Expected 'gemini', got '%s'", p.Name())
	}
}

func TestGeminiSchema(t *testing.T) {
	s := geminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"urls":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"timelimit": map[string]any{"type": "string", "enum": []any{"d", "w"}},
		},
		"required": []any{"urls"},
	})
	if len(s.Properties) != 2 {
		t.Fatalf("Expected 2 properties, got %d", len(s.Properties))
	}
	if s.Properties["urls"].Items == nil {
		t.Error("Expected array items to be converted")
	}
	if len(s.Properties["timelimit"].Enum) != 2 {
		t.Errorf("Expected enum values, got %v", s.Properties["timelimit"].Enum)
	}
	if len(s.Required) != 1 || s.Required[0] != "urls" {
		t.Errorf("Expected required [urls], got %v", s.Required)
	}
}

func TestStubProvider(t *testing.T) {
	p := NewStubProvider(Response{Content: "scripted"})
	if p.Name() != "stub" {
		t.Errorf("Expected 'stub', got '%s'", p.Name())
	}
	resp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "scripted" {
		t.Errorf("Expected 'scripted', got '%s'", resp.Content)
	}
	if p.CallCount() != 1 {
		t.Errorf("Expected 1 recorded call, got %d", p.CallCount())
	}
}

func TestStubProvider_Canceled(t *testing.T) {
	p := NewStubProvider()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Chat(ctx, []Message{{Content: "hi"}}, nil); err == nil {
		t.Error("Expected error on canceled context")
	}
}

func TestStubProvider_ChatErr(t *testing.T) {
	boom := errors.New("boom")
	p := NewStubProvider()
	p.ChatErr = boom
	if _, err := p.Chat(context.Background(), nil, nil); !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
}

func TestStubProvider_EmbedSimilarity(t *testing.T) {
	p := NewStubProvider()
	ctx := context.Background()
	a, _ := p.Embed(ctx, "my favourite colour is green")
	b, _ := p.Embed(ctx, "favourite colour green")
	c, _ := p.Embed(ctx, "the weather in paris tomorrow")

	dot := func(x, y []float32) float32 {
		var s float32
		for i := range x {
			s += x[i] * y[i]
		}
		return s
	}
	if dot(a, b) <= dot(a, c) {
		t.Errorf("Expected related texts to score higher: ab=%f ac=%f", dot(a, b), dot(a, c))
	}
}

func TestProvider_Errors(t *testing.T) {
	t.Run("OpenAI Error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(500)
		}))
		defer server.Close()
		p, _ := NewOpenAIProvider("key", server.URL, "")
		if _, err := p.Chat(context.Background(), []Message{{Content: "hi"}}, nil); err == nil {
			t.Error("Expected error")
		}
	})

	t.Run("Anthropic Error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(401)
		}))
		defer server.Close()
		p, _ := NewAnthropicProvider("key", "")
		p.SetBaseURL(server.URL)
		if _, err := p.Chat(context.Background(), []Message{{Content: "hi"}}, nil); err == nil {
			t.Error("Expected error")
		}
	})

	t.Run("Missing Keys", func(t *testing.T) {
		if _, err := NewOpenAIProvider("", "", ""); err == nil {
			t.Error("Expected error for empty OpenAI key")
		}
		if _, err := NewAnthropicProvider("", ""); err == nil {
			t.Error("Expected error for empty Anthropic key")
		}
		if _, err := New("bogus", "k", "", ""); err == nil {
			t.Error("Expected error for unknown provider kind")
		}
	})
}

func TestOpenAIProvider_Temperature(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body = nil
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [{"message": {"content": "ok", "role": "assistant"}}]}`))
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider("test-key", server.URL, "gpt-4")
	if _, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	temp, ok := body["temperature"].(float64)
	if !ok {
		t.Fatalf("Expected temperature in request, got %v", body)
	}
	if temp > 1e-6 {
		t.Errorf("Expected temperature ~0 by default, got %v", temp)
	}

	p.SetTemperature(0.7)
	if _, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if temp, _ := body["temperature"].(float64); temp < 0.69 || temp > 0.71 {
		t.Errorf("Expected temperature 0.7, got %v", body["temperature"])
	}
}

func TestOpenAIProvider_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("Expected /models, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object": "list", "data": [{"id": "gpt-4o", "object": "model"}, {"id": "gpt-4o-mini", "object": "model"}]}`))
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider("test-key", server.URL, "")
	var lister ModelLister = p
	ids, err := lister.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "gpt-4o" || ids[1] != "gpt-4o-mini" {
		t.Errorf("Unexpected models: %v", ids)
	}
}

func TestNewEmbedder(t *testing.T) {
	t.Run("OpenAI", func(t *testing.T) {
		var model string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			model, _ = body["model"].(string)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"object": "list", "data": [{"object": "embedding", "index": 0, "embedding": [0.5, 0.5]}]}`))
		}))
		defer server.Close()

		e, err := NewEmbedder("openai", "test-key", server.URL, "text-embedding-3-small")
		if err != nil {
			t.Fatalf("NewEmbedder failed: %v", err)
		}
		vec, err := e.Embed(context.Background(), "hello")
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		if len(vec) != 2 {
			t.Errorf("Expected 2 dims, got %d", len(vec))
		}
		if model != "text-embedding-3-small" {
			t.Errorf("Expected embedding model in request, got %q", model)
		}
	})

	t.Run("Ollama", func(t *testing.T) {
		var model string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			model, _ = body["model"].(string)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
		}))
		defer server.Close()

		e, err := NewEmbedder("ollama", "", server.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("NewEmbedder failed: %v", err)
		}
		vec, err := e.Embed(context.Background(), "hello")
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		if len(vec) != 3 || model != "nomic-embed-text" {
			t.Errorf("Unexpected embed: %v via %q", vec, model)
		}
	})

	t.Run("Anthropic", func(t *testing.T) {
		if _, err := NewEmbedder("anthropic", "key", "", ""); err == nil {
			t.Error("Expected error for anthropic embedder")
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if _, err := NewEmbedder("nope", "key", "", ""); err == nil {
			t.Error("Expected error for unknown embedder")
		}
	})
}
