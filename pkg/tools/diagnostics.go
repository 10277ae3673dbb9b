package tools

import (
	"context"
	"encoding/json"
	"runtime"
	"sort"
	"time"
)

// HealthCheck probes one dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

// DiagnosticsTool reports process and dependency health. Registered so
// staff-facing sessions can ask the agent to check the system itself.
type DiagnosticsTool struct {
	version string
	started time.Time
	checks  map[string]HealthCheck
	timeout time.Duration
}

func NewDiagnosticsTool(version string, checks map[string]HealthCheck, timeout time.Duration) *DiagnosticsTool {
	return &DiagnosticsTool{
		version: version,
		started: time.Now(),
		checks:  checks,
		timeout: timeout,
	}
}

func (t *DiagnosticsTool) Name() string { return "diagnostics" }

func (t *DiagnosticsTool) Description() string {
	return "Report service version, uptime and the health of backing dependencies."
}

func (t *DiagnosticsTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *DiagnosticsTool) Timeout() time.Duration { return t.timeout }
func (t *DiagnosticsTool) Idempotent() bool       { return true }

func (t *DiagnosticsTool) Execute(ctx context.Context, rawArgs map[string]any) (string, error) {
	components := make(map[string]string, len(t.checks))
	healthy := true

	names := make([]string, 0, len(t.checks))
	for name := range t.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := t.checks[name](ctx); err != nil {
			components[name] = "error: " + err.Error()
			healthy = false
		} else {
			components[name] = "ok"
		}
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	out, err := json.Marshal(map[string]any{
		"status":     status,
		"version":    t.version,
		"uptime":     time.Since(t.started).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"components": components,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
