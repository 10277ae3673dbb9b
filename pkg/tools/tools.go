// Package tools declares the tool registry and the tools the orchestrator
// can dispatch during a turn. The registry is frozen after boot; the
// serving path never observes mutation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/balizero/nuzantara/pkg/registry"
)

// Tool is one dispatchable capability. Execute returns the observation
// text handed back to the model.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	// Timeout returns the per-call budget; zero means the configured
	// default applies.
	Timeout() time.Duration
	Idempotent() bool
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the declared tools.
type Registry struct {
	*registry.BaseRegistry[Tool]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Tool](),
	}
}

// Definition is the schema record exposed for documentation and handed to
// the LLM as the tool palette.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	Idempotent  bool           `json:"idempotent"`
}

// Definitions lists every registered tool's schema, sorted by name.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, r.Count())
	for _, name := range r.Names() {
		t, _ := r.Get(name)
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
			Idempotent:  t.Idempotent(),
		})
	}
	return defs
}

// schemaFor reflects a JSON schema from an args struct.
func schemaFor(v any) map[string]any {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	return out
}

// decodeArgs maps loosely-typed JSON args onto a typed struct. Numbers
// arrive as float64 from JSON, so weak typing is on.
func decodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// decodeToolConfig maps a YAML tool config subtree onto a typed value.
func decodeToolConfig(raw any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}
