package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/httpclient"
)

const defaultVisionModel = "gpt-4o-mini"

// VisionAnalyzeArgs is the model-facing schema for vision_analyze.
type VisionAnalyzeArgs struct {
	URI    string `json:"uri" jsonschema:"required,description=HTTP(S) URL of the image to analyze"`
	Prompt string `json:"prompt,omitempty" jsonschema:"description=Optional question about the image"`
}

// VisionAnalyzeTool describes an image with a multimodal model. Documents
// shared by users (permits, receipts, screenshots) arrive as URLs.
type VisionAnalyzeTool struct {
	client  *httpclient.Client
	apiKey  string
	model   string
	baseURL string
	timeout time.Duration
}

func NewVisionAnalyzeTool(cfg *config.ToolConfig) (*VisionAnalyzeTool, error) {
	var vc struct {
		APIKey string `mapstructure:"api_key"`
		Model  string `mapstructure:"model"`
		Host   string `mapstructure:"host"`
	}
	if err := decodeToolConfig(cfg.Config, &vc); err != nil {
		return nil, fmt.Errorf("invalid vision_analyze config: %w", err)
	}
	if vc.APIKey == "" {
		return nil, fmt.Errorf("vision_analyze requires an api_key")
	}
	if vc.Model == "" {
		vc.Model = defaultVisionModel
	}
	if vc.Host == "" {
		vc.Host = "https://api.openai.com/v1"
	}

	return &VisionAnalyzeTool{
		client: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
			httpclient.WithMaxRetries(2),
		),
		apiKey:  vc.APIKey,
		model:   vc.Model,
		baseURL: strings.TrimSuffix(vc.Host, "/"),
		timeout: time.Duration(cfg.Timeout) * time.Second,
	}, nil
}

func (t *VisionAnalyzeTool) Name() string { return "vision_analyze" }

func (t *VisionAnalyzeTool) Description() string {
	return "Analyze an image at a URL and describe its contents, or answer a question about it."
}

func (t *VisionAnalyzeTool) InputSchema() map[string]any { return schemaFor(&VisionAnalyzeArgs{}) }
func (t *VisionAnalyzeTool) Timeout() time.Duration      { return t.timeout }
func (t *VisionAnalyzeTool) Idempotent() bool            { return true }

func (t *VisionAnalyzeTool) Execute(ctx context.Context, rawArgs map[string]any) (string, error) {
	var args VisionAnalyzeArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return "", err
	}

	parsed, err := url.Parse(args.URI)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("uri must be an http(s) URL")
	}

	prompt := args.Prompt
	if prompt == "" {
		prompt = "Describe this image in detail, including any visible text."
	}

	body, err := json.Marshal(map[string]any{
		"model": t.model,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
				{"type": "image_url", "image_url": map[string]any{"url": args.URI}},
			},
		}},
		"max_tokens": 1024,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("vision request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var parsedResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsedResp); err != nil {
		return "", fmt.Errorf("failed to decode vision response: %w", err)
	}
	if len(parsedResp.Choices) == 0 {
		return "", fmt.Errorf("vision response contained no choices")
	}
	return parsedResp.Choices[0].Message.Content, nil
}
