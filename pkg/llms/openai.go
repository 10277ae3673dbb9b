package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/httpclient"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// OpenAIProvider calls the OpenAI Chat Completions API. It also serves any
// OpenAI-compatible endpoint (Groq, Together, vLLM) via the host setting.
type OpenAIProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openAIRequest struct {
	Model         string          `json:"model"`
	Messages      []openAIMessage `json:"messages"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   float64         `json:"temperature,omitempty"`
	Stream        bool            `json:"stream"`
	Tools         []openAITool    `json:"tools,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta        openAIMessage `json:"delta"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage,omitempty"`
}

// NewOpenAIProvider builds an OpenAI provider from config.
func NewOpenAIProvider(cfg *config.LLMProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI")
	}
	if cfg.Host == "" {
		cfg.Host = "https://api.openai.com"
	}

	return &OpenAIProvider{
		config:     cfg,
		httpClient: createHTTPClient(cfg, httpclient.ParseOpenAIHeaders),
	}, nil
}

func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

func (p *OpenAIProvider) ContextWindow() int {
	return p.config.ContextWindow
}

func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) buildRequest(req Request, stream bool) openAIRequest {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)

	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case protocol.RoleUser:
			messages = append(messages, openAIMessage{Role: "user", Content: msg.Content})

		case protocol.RoleAssistant:
			m := openAIMessage{Role: "assistant", Content: msg.Content}
			if msg.ToolName != "" {
				tc := openAIToolCall{ID: toolUseID(msg), Type: "function"}
				tc.Function.Name = msg.ToolName
				if args, err := json.Marshal(msg.ToolArgs); err == nil {
					tc.Function.Arguments = string(args)
				}
				m.ToolCalls = []openAIToolCall{tc}
			}
			messages = append(messages, m)

		case protocol.RoleTool:
			messages = append(messages, openAIMessage{
				Role:       "tool",
				Content:    msg.ToolResult,
				ToolCallID: toolUseID(msg),
				Name:       msg.ToolName,
			})
		}
	}

	request := openAIRequest{
		Model:       p.config.Model,
		Messages:    messages,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
		Stream:      stream,
	}
	if stream {
		request.StreamOptions = &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true}
	}

	for _, tool := range req.Tools {
		var t openAITool
		t.Type = "function"
		t.Function.Name = tool.Name
		t.Function.Description = tool.Description
		t.Function.Parameters = tool.Parameters
		request.Tools = append(request.Tools, t)
	}

	return request
}

func (p *OpenAIProvider) newRequest(ctx context.Context, request openAIRequest) (*http.Request, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	return req, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, []*protocol.ToolCall, int, error) {
	httpReq, err := p.newRequest(ctx, p.buildRequest(req, false))
	if err != nil {
		return "", nil, 0, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", nil, 0, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", nil, 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != nil {
		return "", nil, 0, fmt.Errorf("OpenAI API error: %s", response.Error.Message)
	}
	if len(response.Choices) == 0 {
		return "", nil, 0, fmt.Errorf("OpenAI returned no choices")
	}

	choice := response.Choices[0]
	var toolCalls []*protocol.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		toolCalls = append(toolCalls, &protocol.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	tokens := 0
	if response.Usage != nil {
		tokens = response.Usage.TotalTokens
	}

	return choice.Message.Content, toolCalls, tokens, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	httpReq, err := p.newRequest(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	outputCh := make(chan StreamChunk, 100)
	go func() {
		defer close(outputCh)
		if err := p.streamResponse(httpReq, outputCh); err != nil {
			outputCh <- StreamChunk{Type: "error", Error: err}
		}
	}()

	return outputCh, nil
}

func (p *OpenAIProvider) streamResponse(httpReq *http.Request, outputCh chan<- StreamChunk) error {
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	// Tool call deltas arrive fragmented; accumulate per index.
	type pendingCall struct {
		id   string
		name string
		args string
	}
	pending := make(map[int]*pendingCall)
	var totalTokens int

	flushCalls := func() {
		for _, pc := range pending {
			args := make(map[string]any)
			if pc.args != "" {
				_ = json.Unmarshal([]byte(pc.args), &args)
			}
			outputCh <- StreamChunk{Type: "tool_call", ToolCall: &protocol.ToolCall{
				ID:   pc.id,
				Name: pc.name,
				Args: args,
			}}
		}
		pending = make(map[int]*pendingCall)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			flushCalls()
			outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
			return nil
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal([]byte(payload), &streamResp); err != nil {
			return fmt.Errorf("failed to decode streaming response: %w, data: %s", err, payload)
		}

		if streamResp.Usage != nil {
			totalTokens = streamResp.Usage.TotalTokens
		}

		for _, choice := range streamResp.Choices {
			if choice.Delta.Content != "" {
				outputCh <- StreamChunk{Type: "text", Text: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				pc, ok := pending[tc.Index]
				if !ok {
					pc = &pendingCall{}
					pending[tc.Index] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args += tc.Function.Arguments
			}
			if choice.FinishReason == "tool_calls" {
				flushCalls()
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read streaming response: %w", err)
	}

	outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	return nil
}
