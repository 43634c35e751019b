package provider

import (
	"context"
	"fmt"
)

// New builds a provider by kind. openai is used for any OpenAI-compatible
// endpoint, which is what per-user settings usually point at.
func New(kind, apiKey, baseURL, model string) (Provider, error) {
	switch kind {
	case "", "openai":
		return NewOpenAIProvider(apiKey, baseURL, model)
	case "ollama":
		return NewOllamaProvider(baseURL, model)
	case "gemini":
		return NewGeminiProvider(apiKey, model)
	case "anthropic":
		p, err := NewAnthropicProvider(apiKey, model)
		if err != nil {
			return nil, err
		}
		if baseURL != "" {
			p.SetBaseURL(baseURL)
		}
		return p, nil
	case "stub":
		return NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", kind)
	}
}

// Embedder is the part of a provider the memory store needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder builds a provider used only for embeddings. model is the
// embedding model id; empty keeps the provider default. anthropic has no
// embeddings API and is rejected.
func NewEmbedder(kind, apiKey, baseURL, model string) (Embedder, error) {
	switch kind {
	case "", "openai":
		p, err := NewOpenAIProvider(apiKey, baseURL, "")
		if err != nil {
			return nil, err
		}
		p.SetEmbeddingModel(model)
		return p, nil
	case "ollama":
		p, err := NewOllamaProvider(baseURL, model)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "gemini":
		p, err := NewGeminiProvider(apiKey, "")
		if err != nil {
			return nil, err
		}
		p.SetEmbeddingModel(model)
		return p, nil
	case "stub":
		return NewStubProvider(), nil
	case "anthropic":
		return nil, fmt.Errorf("provider %q cannot embed; use openai, ollama or gemini", kind)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", kind)
	}
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}
