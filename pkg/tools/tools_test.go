package tools

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/protocol"
)

type stubTool struct {
	name    string
	timeout time.Duration
	execute func(ctx context.Context, args map[string]any) (string, error)
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub" }
func (s *stubTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) Timeout() time.Duration      { return s.timeout }
func (s *stubTool) Idempotent() bool            { return true }

func (s *stubTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return s.execute(ctx, args)
}

func newTestExecutor(t *testing.T, reg *Registry) *Executor {
	t.Helper()
	limits := &config.LimitsConfig{ToolTimeoutDefault: 1, ToolGracePeriod: 1}
	limits.SetDefaults()
	return NewExecutor(reg, limits, slog.Default())
}

func TestExecutorSuccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("echo", &stubTool{
		name: "echo",
		execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "echoed", nil
		},
	}))

	inv := newTestExecutor(t, reg).Execute(context.Background(), protocol.ToolCall{Name: "echo"})
	assert.Equal(t, protocol.ToolOutcomeOK, inv.Outcome)
	assert.Equal(t, "echoed", inv.Result)
	assert.Empty(t, inv.Err)
}

func TestExecutorUnknownTool(t *testing.T) {
	inv := newTestExecutor(t, NewRegistry()).Execute(context.Background(), protocol.ToolCall{Name: "nope"})
	assert.Equal(t, protocol.ToolOutcomeError, inv.Outcome)
	assert.Contains(t, inv.Err, "unknown tool")
}

func TestExecutorToolErrorBecomesObservation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("broken", &stubTool{
		name: "broken",
		execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}))

	inv := newTestExecutor(t, reg).Execute(context.Background(), protocol.ToolCall{Name: "broken"})
	assert.Equal(t, protocol.ToolOutcomeError, inv.Outcome)
	assert.Contains(t, inv.Err, "backend unavailable")
}

func TestExecutorTimeout(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("slow", &stubTool{
		name:    "slow",
		timeout: 50 * time.Millisecond,
		execute: func(ctx context.Context, args map[string]any) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "too late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}))

	inv := newTestExecutor(t, reg).Execute(context.Background(), protocol.ToolCall{Name: "slow"})
	assert.Equal(t, protocol.ToolOutcomeTimeout, inv.Outcome)
}

func TestExecutorCancellationGrace(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("finishing", &stubTool{
		name:    "finishing",
		timeout: 5 * time.Second,
		execute: func(ctx context.Context, args map[string]any) (string, error) {
			time.Sleep(100 * time.Millisecond)
			return "made it", nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	// The tool outlives the caller's cancellation but fits in the grace
	// window, so its result is kept.
	inv := newTestExecutor(t, reg).Execute(ctx, protocol.ToolCall{Name: "finishing"})
	assert.Equal(t, protocol.ToolOutcomeOK, inv.Outcome)
	assert.Equal(t, "made it", inv.Result)
}

func TestRegistryFreeze(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("a", &stubTool{name: "a"}))
	reg.Freeze()

	err := reg.Register("b", &stubTool{name: "b"})
	assert.Error(t, err)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistryDefinitions(t *testing.T) {
	reg := NewRegistry()
	pricing, err := NewPricingLookupTool(&config.ToolConfig{Config: map[string]any{
		"services": map[string]any{
			"kitas": map[string]any{"service": "KITAS", "price": "12000000", "currency": "IDR"},
		},
	}})
	require.NoError(t, err)
	require.NoError(t, reg.Register(pricing.Name(), pricing))

	defs := reg.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "pricing_lookup", defs[0].Name)
	assert.True(t, defs[0].Idempotent)
	assert.Equal(t, "object", defs[0].InputSchema["type"])

	props, ok := defs[0].InputSchema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "service_key")
}

func TestPricingLookup(t *testing.T) {
	tool, err := NewPricingLookupTool(&config.ToolConfig{Config: map[string]any{
		"services": map[string]any{
			"kitas_investor": map[string]any{
				"service": "Investor KITAS", "price": "17000000", "currency": "IDR", "notes": "2-year validity",
			},
		},
	}})
	require.NoError(t, err)

	out, err := tool.Execute(context.Background(), map[string]any{"service_key": "KITAS_INVESTOR"})
	require.NoError(t, err)
	assert.Contains(t, out, "17000000")
	assert.Contains(t, out, "Investor KITAS")

	_, err = tool.Execute(context.Background(), map[string]any{"service_key": "yacht_license"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kitas_investor")
}

func TestPricingLookupRequiresServices(t *testing.T) {
	_, err := NewPricingLookupTool(&config.ToolConfig{})
	assert.Error(t, err)
}

func TestTeamLookup(t *testing.T) {
	tool, err := NewTeamLookupTool(&config.ToolConfig{Config: map[string]any{
		"members": []any{
			map[string]any{"name": "Dewi", "role": "Visa specialist", "languages": []any{"Indonesian", "English"}},
			map[string]any{"name": "Luca", "role": "Tax consultant", "languages": []any{"Italian", "English"}},
		},
	}})
	require.NoError(t, err)

	out, err := tool.Execute(context.Background(), map[string]any{"criteria": "italian"})
	require.NoError(t, err)
	assert.Contains(t, out, "Luca")
	assert.NotContains(t, out, "Dewi")

	out, err = tool.Execute(context.Background(), map[string]any{"criteria": "skydiving"})
	require.NoError(t, err)
	assert.Contains(t, out, "no team member matches")
}

func TestDiagnostics(t *testing.T) {
	tool := NewDiagnosticsTool("1.2.3", map[string]HealthCheck{
		"database":     func(ctx context.Context) error { return nil },
		"vector_store": func(ctx context.Context) error { return errors.New("connection refused") },
	}, 0)

	out, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"degraded"`)
	assert.Contains(t, out, `"database":"ok"`)
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, `"version":"1.2.3"`)
}

func TestDecodeArgsWeakTyping(t *testing.T) {
	var args VectorSearchArgs
	// JSON numbers arrive as float64
	require.NoError(t, decodeArgs(map[string]any{"query": "visa", "k": float64(5)}, &args))
	assert.Equal(t, "visa", args.Query)
	assert.Equal(t, 5, args.K)
}

func TestVectorSearchHonorsTurnAuthorization(t *testing.T) {
	// The tool is built over every enabled collection; each call narrows
	// to what the router authorized for the turn.
	tool := NewVectorSearchTool(nil, []string{"visa_oracle", "internal_ops"}, 0)

	ctx := protocol.WithAuthorizedCollections(context.Background(), []string{"visa_oracle"})
	_, err := tool.Execute(ctx, map[string]any{"query": "internal sop", "collections": []string{"internal_ops"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no authorized collections")

	// A turn pinned to no collections fails closed rather than widening
	// back to the enabled set.
	none := protocol.WithAuthorizedCollections(context.Background(), nil)
	_, err = tool.Execute(none, map[string]any{"query": "internal sop"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no authorized collections")
}

func TestIntersectCollections(t *testing.T) {
	allowed := []string{"visa_oracle", "pricing"}
	assert.Equal(t, allowed, intersect(nil, allowed))
	assert.Equal(t, []string{"pricing"}, intersect([]string{"pricing", "internal_ops"}, allowed))
	assert.Empty(t, intersect([]string{"internal_ops"}, allowed))
}
