package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
)

type OllamaProvider struct {
	client         *api.Client
	model          string
	embeddingModel string
}

func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if model == "" {
		model = "llama3.2"
	}

	if baseURL == "" {
		baseURL = "http://localhost:11434"
		if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
			baseURL = envURL
		}
	}
	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	client := api.NewClient(uri, http.DefaultClient)

	return &OllamaProvider{
		client:         client,
		model:          model,
		embeddingModel: model,
	}, nil
}

// SetEmbeddingModel embeds with a different local model than the one
// used for chat, e.g. nomic-embed-text.
func (p *OllamaProvider) SetEmbeddingModel(model string) {
	if model != "" {
		p.embeddingModel = model
	}
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (*Response, error) {
	var apiMsgs []api.Message
	for _, m := range messages {
		apiMsgs = append(apiMsgs, api.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	apiTools, err := ollamaTools(tools)
	if err != nil {
		return nil, err
	}

	req := &api.ChatRequest{
		Model:    p.model,
		Messages: apiMsgs,
		Stream:   new(bool), // false
		Tools:    apiTools,
	}

	var respContent string
	var totalTokens int
	var toolCalls []ToolCall

	err = p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		respContent += resp.Message.Content
		if resp.Done {
			totalTokens = resp.EvalCount + resp.PromptEvalCount
		}

		for _, tc := range resp.Message.ToolCalls {
			argsBytes, _ := json.Marshal(tc.Function.Arguments)
			toolCalls = append(toolCalls, ToolCall{
				ID:   fmt.Sprintf("call_%s_%d", tc.Function.Name, len(toolCalls)),
				Name: tc.Function.Name,
				Args: string(argsBytes),
			})
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}

	return &Response{
		Content:   respContent,
		ToolCalls: toolCalls,
		Usage:     usageFromTokens(totalTokens),
	}, nil
}

// ollamaTools converts JSON-schema tool specs by round-tripping them through
// the api package's own JSON encoding.
func ollamaTools(tools []ToolSpec) ([]api.Tool, error) {
	out := make([]api.Tool, 0, len(tools))
	for _, t := range tools {
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("encode %s parameters: %w", t.Name, err)
		}
		var params api.ToolFunctionParameters
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("decode %s parameters: %w", t.Name, err)
		}
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func usageFromTokens(total int) Usage {
	return Usage{
		TotalTokens:      total,
		PromptTokens:     0,
		CompletionTokens: total,
	}
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbeddingRequest{
		Model:  p.embeddingModel,
		Prompt: text,
	}
	resp, err := p.client.Embeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
