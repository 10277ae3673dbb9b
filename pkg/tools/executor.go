package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/observability"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// Executor dispatches tool calls with per-call timeouts. Tool failures are
// returned as observations, never as turn-aborting errors; the orchestrator
// decides what to do with a failed observation.
type Executor struct {
	registry       *Registry
	defaultTimeout time.Duration
	grace          time.Duration
	logger         *slog.Logger
}

func NewExecutor(reg *Registry, limits *config.LimitsConfig, logger *slog.Logger) *Executor {
	return &Executor{
		registry:       reg,
		defaultTimeout: limits.ToolTimeoutDuration(),
		grace:          limits.ToolGraceDuration(),
		logger:         logger,
	}
}

type executeResult struct {
	text string
	err  error
}

// Execute runs one tool call and returns the invocation record. On caller
// cancellation the in-flight tool gets a bounded grace window to finish
// before it is aborted.
func (e *Executor) Execute(ctx context.Context, call protocol.ToolCall) protocol.ToolInvocation {
	inv := protocol.ToolInvocation{
		Name:      call.Name,
		Args:      call.Args,
		StartedAt: time.Now(),
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		inv.FinishedAt = time.Now()
		inv.Outcome = protocol.ToolOutcomeError
		inv.Err = fmt.Sprintf("unknown tool: %s", call.Name)
		return inv
	}

	timeout := tool.Timeout()
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	// The tool context is detached from the caller so cancellation does
	// not kill the tool instantly; the grace window below does that.
	toolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan executeResult, 1)
	go func() {
		text, err := tool.Execute(toolCtx, call.Args)
		done <- executeResult{text: text, err: err}
	}()

	var res executeResult
	select {
	case res = <-done:
	case <-ctx.Done():
		select {
		case res = <-done:
		case <-time.After(e.grace):
			cancel()
			res = executeResult{err: fmt.Errorf("aborted after cancellation grace period: %w", ctx.Err())}
		}
	}

	inv.FinishedAt = time.Now()
	observability.GetGlobalMetrics().RecordToolExecution(ctx, call.Name, inv.FinishedAt.Sub(inv.StartedAt), res.err)

	switch {
	case res.err == nil:
		inv.Outcome = protocol.ToolOutcomeOK
		inv.Result = res.text
	case errors.Is(res.err, context.DeadlineExceeded):
		inv.Outcome = protocol.ToolOutcomeTimeout
		inv.Err = fmt.Sprintf("tool timed out after %s", timeout)
	default:
		inv.Outcome = protocol.ToolOutcomeError
		inv.Err = res.err.Error()
	}

	e.logger.InfoContext(ctx, "Tool executed",
		"tool", call.Name,
		"outcome", inv.Outcome,
		"duration", inv.FinishedAt.Sub(inv.StartedAt))
	return inv
}
