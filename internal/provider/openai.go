package provider

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultEmbeddingModel matches the 3072-dim index the memory store is sized for.
const DefaultEmbeddingModel = openai.LargeEmbedding3

type OpenAIProvider struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
	temperature    float32
}

// NewOpenAIProvider talks to any OpenAI-compatible endpoint. baseURL may be
// empty for api.openai.com.
func NewOpenAIProvider(apiKey, baseURL, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	client := openai.NewClientWithConfig(config)
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIProvider{
		client:         client,
		model:          model,
		embeddingModel: DefaultEmbeddingModel,
		temperature:    math.SmallestNonzeroFloat32,
	}, nil
}

// SetTemperature sets the sampling temperature. go-openai omits a zero
// value from the request, so 0 is sent as the smallest non-zero float.
func (p *OpenAIProvider) SetTemperature(t float32) {
	if t <= 0 {
		t = math.SmallestNonzeroFloat32
	}
	p.temperature = t
}

// SetEmbeddingModel overrides the embedding model id.
func (p *OpenAIProvider) SetEmbeddingModel(model string) {
	if model != "" {
		p.embeddingModel = openai.EmbeddingModel(model)
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// ListModels returns the model ids served by the endpoint.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai list models failed: %w", err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (*Response, error) {
	reqMsgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}

		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Args,
				},
			})
		}

		if m.ToolCallID != "" {
			msg.ToolCallID = m.ToolCallID
		}

		reqMsgs[i] = msg
	}

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    reqMsgs,
		Temperature: p.temperature,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai completion returned no choices")
	}

	choice := resp.Choices[0]

	result := &Response{
		Content: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}

	return result, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(
		ctx,
		openai.EmbeddingRequest{
			Input: []string{text},
			Model: p.embeddingModel,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}
