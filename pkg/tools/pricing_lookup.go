package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/balizero/nuzantara/pkg/config"
)

// PriceEntry is one row of the official price book. Prices are strings on
// purpose: the book carries ranges and conditional notes, not arithmetic.
type PriceEntry struct {
	Service  string `json:"service" mapstructure:"service"`
	Price    string `json:"price" mapstructure:"price"`
	Currency string `json:"currency" mapstructure:"currency"`
	Notes    string `json:"notes,omitempty" mapstructure:"notes"`
}

// PricingLookupArgs is the model-facing schema for pricing_lookup.
type PricingLookupArgs struct {
	ServiceKey string `json:"service_key" jsonschema:"required,description=Key of the service to price"`
}

// PricingLookupTool answers pricing questions from the configured price
// book only. It never estimates: an unknown key is an error listing the
// known keys.
type PricingLookupTool struct {
	prices  map[string]PriceEntry
	timeout time.Duration
}

func NewPricingLookupTool(cfg *config.ToolConfig) (*PricingLookupTool, error) {
	var prices map[string]PriceEntry
	if raw, ok := cfg.Config["services"]; ok {
		if err := decodeToolConfig(raw, &prices); err != nil {
			return nil, fmt.Errorf("invalid pricing services config: %w", err)
		}
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("pricing_lookup requires a non-empty services map")
	}
	return &PricingLookupTool{
		prices:  prices,
		timeout: time.Duration(cfg.Timeout) * time.Second,
	}, nil
}

func (t *PricingLookupTool) Name() string { return "pricing_lookup" }

func (t *PricingLookupTool) Description() string {
	return "Look up the official price for a service by its service key. Returns exact configured prices, never estimates."
}

func (t *PricingLookupTool) InputSchema() map[string]any { return schemaFor(&PricingLookupArgs{}) }
func (t *PricingLookupTool) Timeout() time.Duration      { return t.timeout }
func (t *PricingLookupTool) Idempotent() bool            { return true }

func (t *PricingLookupTool) Execute(ctx context.Context, rawArgs map[string]any) (string, error) {
	var args PricingLookupArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return "", err
	}

	key := strings.ToLower(strings.TrimSpace(args.ServiceKey))
	entry, ok := t.prices[key]
	if !ok {
		return "", fmt.Errorf("unknown service key %q; known keys: %s", args.ServiceKey, strings.Join(t.Keys(), ", "))
	}

	out, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Keys returns the known service keys, sorted.
func (t *PricingLookupTool) Keys() []string {
	keys := make([]string, 0, len(t.prices))
	for k := range t.prices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
