package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

func NewGeminiProvider(apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	if model == "" {
		model = "gemini-1.5-pro-latest"
	}

	return &GeminiProvider{
		client:         client,
		model:          model,
		embeddingModel: "text-embedding-004",
	}, nil
}

// SetEmbeddingModel overrides the embedding model id.
func (p *GeminiProvider) SetEmbeddingModel(model string) {
	if model != "" {
		p.embeddingModel = model
	}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (*Response, error) {
	if len(messages) == 0 {
		return nil, errors.New("no messages to send")
	}

	geminiModel := p.client.GenerativeModel(p.model)

	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  geminiSchema(t.Parameters),
			})
		}
		geminiModel.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	var history []*genai.Content
	for _, m := range messages {
		if m.Role == RoleSystem {
			if geminiModel.SystemInstruction == nil {
				geminiModel.SystemInstruction = &genai.Content{}
			}
			geminiModel.SystemInstruction.Parts = append(geminiModel.SystemInstruction.Parts, genai.Text(m.Content))
			continue
		}
		history = append(history, geminiContent(m))
	}
	if len(history) == 0 {
		return nil, errors.New("no non-system messages to send")
	}

	cs := geminiModel.StartChat()
	cs.History = history[:len(history)-1]

	last := history[len(history)-1]
	resp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini completion failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates returned")
	}
	cand := resp.Candidates[0]

	var contentStr string
	var toolCalls []ToolCall

	for _, part := range cand.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			contentStr += string(v)
		case genai.FunctionCall:
			argsBytes, _ := json.Marshal(v.Args)
			toolCalls = append(toolCalls, ToolCall{
				ID:   v.Name,
				Name: v.Name,
				Args: string(argsBytes),
			})
		}
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return &Response{
		Content:   contentStr,
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}

func geminiContent(m Message) *genai.Content {
	role := "user"
	if m.Role == RoleAssistant {
		role = "model"
	}
	content := &genai.Content{Role: role}

	if m.ToolCallID != "" {
		// Gemini keys function responses by function name.
		name := m.Name
		if name == "" {
			name = m.ToolCallID
		}
		content.Role = "user"
		content.Parts = append(content.Parts, genai.FunctionResponse{
			Name:     name,
			Response: map[string]any{"result": m.Content},
		})
		return content
	}

	if m.Content != "" {
		content.Parts = append(content.Parts, genai.Text(m.Content))
	}
	for _, tc := range m.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Args), &args)
		content.Parts = append(content.Parts, genai.FunctionCall{
			Name: tc.Name,
			Args: args,
		})
	}
	return content
}

// geminiSchema converts a JSON schema object into the genai schema subset.
func geminiSchema(s map[string]any) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{}
	switch s["type"] {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
	}
	if d, ok := s["description"].(string); ok {
		out.Description = d
	}
	if enum, ok := s["enum"].([]any); ok {
		for _, e := range enum {
			out.Enum = append(out.Enum, fmt.Sprint(e))
		}
	}
	if items, ok := s["items"].(map[string]any); ok {
		out.Items = geminiSchema(items)
	}
	if props, ok := s["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if ps, ok := raw.(map[string]any); ok {
				out.Properties[name] = geminiSchema(ps)
			}
		}
	}
	switch req := s["required"].(type) {
	case []string:
		out.Required = req
	case []any:
		for _, r := range req {
			out.Required = append(out.Required, fmt.Sprint(r))
		}
	}
	return out
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	em := p.client.EmbeddingModel(p.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("no embedding returned")
	}
	return res.Embedding.Values, nil
}
