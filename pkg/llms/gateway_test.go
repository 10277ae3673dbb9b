package llms

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/httpclient"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// mockProvider scripts provider behavior for gateway tests.
type mockProvider struct {
	name      string
	text      string
	err       error
	chunks    []StreamChunk
	streamErr error
	calls     int
}

func (m *mockProvider) Generate(ctx context.Context, req Request) (string, []*protocol.ToolCall, int, error) {
	m.calls++
	if m.err != nil {
		return "", nil, 0, m.err
	}
	return m.text, nil, 10, nil
}

func (m *mockProvider) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	m.calls++
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	ch := make(chan StreamChunk, len(m.chunks))
	for _, c := range m.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (m *mockProvider) ModelName() string  { return m.name }
func (m *mockProvider) ContextWindow() int { return 128000 }
func (m *mockProvider) Close() error       { return nil }

func newTestGateway(t *testing.T, cascade []string, providers map[string]Provider) *Gateway {
	t.Helper()
	reg := NewRegistry()
	for name, p := range providers {
		require.NoError(t, reg.Register(name, p))
	}
	gw, err := NewGateway(&config.LLMConfig{
		TierCascades: map[string][]string{"pro": cascade},
	}, reg, slog.Default())
	require.NoError(t, err)
	return gw
}

func transientErr() error {
	return &httpclient.RetryableError{StatusCode: 429, Message: "rate limited"}
}

func TestGateway_FallsBackOnTransientError(t *testing.T) {
	primary := &mockProvider{name: "primary", err: transientErr()}
	backup := &mockProvider{name: "backup", text: "answer"}
	gw := newTestGateway(t, []string{"a", "b"}, map[string]Provider{"a": primary, "b": backup})

	text, _, tokens, err := gw.Generate(context.Background(), "pro", Request{})
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
	assert.Equal(t, 10, tokens)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestGateway_TerminalErrorAbortsCascade(t *testing.T) {
	// A policy rejection on the first provider must surface as a terminal
	// error, not get retried on a healthy backup.
	primary := &mockProvider{name: "primary", err: errors.New("content policy rejection")}
	backup := &mockProvider{name: "backup", text: "should not appear"}
	gw := newTestGateway(t, []string{"a", "b"}, map[string]Provider{"a": primary, "b": backup})

	_, _, _, err := gw.Generate(context.Background(), "pro", Request{})
	require.Error(t, err)
	assert.Equal(t, protocol.ErrModelTerminal, protocol.KindOf(err))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, backup.calls)
}

func TestGateway_StreamingTerminalErrorAbortsCascade(t *testing.T) {
	primary := &mockProvider{name: "primary", chunks: []StreamChunk{
		{Type: "error", Error: errors.New("content policy rejection")},
	}}
	backup := &mockProvider{name: "backup", chunks: []StreamChunk{
		{Type: "text", Text: "should not appear"},
		{Type: "done"},
	}}
	gw := newTestGateway(t, []string{"a", "b"}, map[string]Provider{"a": primary, "b": backup})

	ch, err := gw.GenerateStreaming(context.Background(), "pro", Request{})
	require.NoError(t, err)

	var chunks []StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 1)
	assert.Equal(t, "error", chunks[0].Type)
	assert.Equal(t, protocol.ErrModelTerminal, protocol.KindOf(chunks[0].Error))
	assert.Equal(t, 0, backup.calls)
}

func TestGateway_AllProvidersFail(t *testing.T) {
	gw := newTestGateway(t, []string{"a", "b"}, map[string]Provider{
		"a": &mockProvider{name: "a", err: transientErr()},
		"b": &mockProvider{name: "b", err: transientErr()},
	})

	_, _, _, err := gw.Generate(context.Background(), "pro", Request{})
	require.Error(t, err)
	assert.Equal(t, protocol.ErrModelTransient, protocol.KindOf(err))
}

func TestGateway_UnknownTier(t *testing.T) {
	gw := newTestGateway(t, []string{"a"}, map[string]Provider{"a": &mockProvider{name: "a"}})

	_, _, _, err := gw.Generate(context.Background(), "mystery", Request{})
	require.Error(t, err)
	assert.Equal(t, protocol.ErrModelTerminal, protocol.KindOf(err))
}

func TestGateway_StreamingFallsBackBeforeOutput(t *testing.T) {
	primary := &mockProvider{name: "primary", chunks: []StreamChunk{
		{Type: "error", Error: transientErr()},
	}}
	backup := &mockProvider{name: "backup", chunks: []StreamChunk{
		{Type: "text", Text: "hello"},
		{Type: "done", Tokens: 5},
	}}
	gw := newTestGateway(t, []string{"a", "b"}, map[string]Provider{"a": primary, "b": backup})

	ch, err := gw.GenerateStreaming(context.Background(), "pro", Request{})
	require.NoError(t, err)

	var chunks []StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "hello", chunks[0].Text)
	assert.Equal(t, "done", chunks[1].Type)
}

func TestGateway_StreamingNoRestartAfterOutput(t *testing.T) {
	midFail := errors.New("connection reset")
	primary := &mockProvider{name: "primary", chunks: []StreamChunk{
		{Type: "text", Text: "partial"},
		{Type: "error", Error: midFail},
	}}
	backup := &mockProvider{name: "backup", chunks: []StreamChunk{
		{Type: "text", Text: "should not appear"},
		{Type: "done"},
	}}
	gw := newTestGateway(t, []string{"a", "b"}, map[string]Provider{"a": primary, "b": backup})

	ch, err := gw.GenerateStreaming(context.Background(), "pro", Request{})
	require.NoError(t, err)

	var chunks []StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "partial", chunks[0].Text)
	assert.Equal(t, "error", chunks[1].Type)
	assert.Equal(t, 0, backup.calls)
}
