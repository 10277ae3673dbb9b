package llms

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// GeminiProvider calls the Gemini API through the official SDK.
type GeminiProvider struct {
	config *config.LLMProviderConfig
	client *genai.Client
}

// NewGeminiProvider builds a Gemini provider from config.
func NewGeminiProvider(ctx context.Context, cfg *config.LLMProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{config: cfg, client: client}, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) ContextWindow() int {
	return p.config.ContextWindow
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) buildContents(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case protocol.RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case protocol.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		case protocol.RoleTool:
			// Tool results re-enter the conversation as user turns; call
			// ids are not persisted across turns.
			contents = append(contents, genai.NewContentFromText(msg.ToolResult, genai.RoleUser))
		}
	}

	temp := float32(p.config.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(p.config.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return contents, cfg
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, []*protocol.ToolCall, int, error) {
	contents, cfg := p.buildContents(req)

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, cfg)
	if err != nil {
		return "", nil, 0, fmt.Errorf("gemini request failed: %w", err)
	}

	var toolCalls []*protocol.ToolCall
	for _, fc := range resp.FunctionCalls() {
		toolCalls = append(toolCalls, &protocol.ToolCall{
			ID:   fc.ID,
			Name: fc.Name,
			Args: fc.Args,
		})
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return resp.Text(), toolCalls, tokens, nil
}

func (p *GeminiProvider) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	contents, cfg := p.buildContents(req)

	outputCh := make(chan StreamChunk, 100)
	go func() {
		defer close(outputCh)

		var totalTokens int
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.config.Model, contents, cfg) {
			if err != nil {
				outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("gemini stream failed: %w", err)}
				return
			}

			if resp.UsageMetadata != nil {
				totalTokens = int(resp.UsageMetadata.TotalTokenCount)
			}

			if text := resp.Text(); text != "" {
				outputCh <- StreamChunk{Type: "text", Text: text}
			}
			for _, fc := range resp.FunctionCalls() {
				outputCh <- StreamChunk{Type: "tool_call", ToolCall: &protocol.ToolCall{
					ID:   fc.ID,
					Name: fc.Name,
					Args: fc.Args,
				}}
			}
		}

		outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	}()

	return outputCh, nil
}
