// Package llms contains the model providers and the gateway that maps
// model tiers onto provider cascades with retry and fallback.
package llms

import (
	"context"

	"github.com/balizero/nuzantara/pkg/protocol"
)

// ToolDefinition describes a callable tool in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one provider invocation. The system prompt is carried apart
// from the message history because providers encode it differently.
type Request struct {
	System   string
	Messages []protocol.Message
	Tools    []ToolDefinition
}

// StreamChunk type values.
const (
	ChunkText     = "text"
	ChunkToolCall = "tool_call"
	ChunkDone     = "done"
	ChunkError    = "error"
)

// StreamChunk is one unit of a streaming model response.
type StreamChunk struct {
	Type     string // text, tool_call, done, error
	Text     string
	ToolCall *protocol.ToolCall
	Tokens   int
	Error    error
}

// Provider is a single model endpoint.
type Provider interface {
	// Generate runs a blocking completion.
	Generate(ctx context.Context, req Request) (string, []*protocol.ToolCall, int, error)

	// GenerateStreaming starts a completion and returns a channel of
	// chunks. The channel is closed after a done or error chunk.
	GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error)

	ModelName() string
	ContextWindow() int
	Close() error
}
