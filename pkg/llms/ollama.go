package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// OllamaProvider calls a local Ollama instance via /api/chat.
type OllamaProvider struct {
	config *config.LLMProviderConfig
	client *http.Client
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Tools    []map[string]any    `json:"tools,omitempty"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message       ollamaChatMessage `json:"message"`
	Done          bool              `json:"done"`
	EvalCount     int               `json:"eval_count"`
	PromptEvalCnt int               `json:"prompt_eval_count"`
	Error         string            `json:"error,omitempty"`
}

// NewOllamaProvider builds an Ollama provider from config.
func NewOllamaProvider(cfg *config.LLMProviderConfig) (*OllamaProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for Ollama")
	}

	return &OllamaProvider{
		config: cfg,
		// Streaming generations can exceed any sane per-request timeout,
		// so rely on context deadlines instead.
		client: &http.Client{},
	}, nil
}

func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

func (p *OllamaProvider) ContextWindow() int {
	return p.config.ContextWindow
}

func (p *OllamaProvider) Close() error {
	return nil
}

func (p *OllamaProvider) buildRequest(req Request, stream bool) ollamaChatRequest {
	messages := make([]ollamaChatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case protocol.RoleUser:
			messages = append(messages, ollamaChatMessage{Role: "user", Content: msg.Content})
		case protocol.RoleAssistant:
			messages = append(messages, ollamaChatMessage{Role: "assistant", Content: msg.Content})
		case protocol.RoleTool:
			messages = append(messages, ollamaChatMessage{Role: "tool", Content: msg.ToolResult})
		}
	}

	request := ollamaChatRequest{
		Model:    p.config.Model,
		Messages: messages,
		Stream:   stream,
		Options: map[string]any{
			"temperature": p.config.Temperature,
			"num_predict": p.config.MaxTokens,
		},
	}

	for _, tool := range req.Tools {
		request.Tools = append(request.Tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  tool.Parameters,
			},
		})
	}

	return request
}

func (p *OllamaProvider) post(ctx context.Context, request ollamaChatRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to Ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

func (p *OllamaProvider) Generate(ctx context.Context, req Request) (string, []*protocol.ToolCall, int, error) {
	resp, err := p.post(ctx, p.buildRequest(req, false))
	if err != nil {
		return "", nil, 0, err
	}
	defer resp.Body.Close()

	var response ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", nil, 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != "" {
		return "", nil, 0, fmt.Errorf("ollama error: %s", response.Error)
	}

	toolCalls := convertOllamaToolCalls(response.Message.ToolCalls)
	tokens := response.EvalCount + response.PromptEvalCnt

	return response.Message.Content, toolCalls, tokens, nil
}

func (p *OllamaProvider) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	outputCh := make(chan StreamChunk, 100)
	go func() {
		defer close(outputCh)
		defer resp.Body.Close()

		var totalTokens int
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			var chunk ollamaChatResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("failed to decode chunk: %w", err)}
				return
			}
			if chunk.Error != "" {
				outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("ollama error: %s", chunk.Error)}
				return
			}

			if chunk.Message.Content != "" {
				outputCh <- StreamChunk{Type: "text", Text: chunk.Message.Content}
			}
			for _, tc := range convertOllamaToolCalls(chunk.Message.ToolCalls) {
				outputCh <- StreamChunk{Type: "tool_call", ToolCall: tc}
			}

			if chunk.Done {
				totalTokens = chunk.EvalCount + chunk.PromptEvalCnt
				outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("failed to read stream: %w", err)}
			return
		}
		outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	}()

	return outputCh, nil
}

func convertOllamaToolCalls(calls []ollamaToolCall) []*protocol.ToolCall {
	var toolCalls []*protocol.ToolCall
	for i, tc := range calls {
		toolCalls = append(toolCalls, &protocol.ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}
	return toolCalls
}
