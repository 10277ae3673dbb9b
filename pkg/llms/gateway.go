package llms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/httpclient"
	"github.com/balizero/nuzantara/pkg/observability"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// Gateway maps model tiers onto provider cascades. Each tier names an
// ordered list of providers; a transient failure on one moves to the next.
// Provider identity is never exposed to callers beyond the model name.
type Gateway struct {
	registry *Registry
	cascades map[string][]string
	budgeter *Budgeter
	logger   *slog.Logger

	// ReservedOutput is subtracted from each provider's context window
	// before history trimming.
	reservedOutput int
}

// NewGateway wires a gateway over registered providers.
func NewGateway(cfg *config.LLMConfig, reg *Registry, logger *slog.Logger) (*Gateway, error) {
	return &Gateway{
		registry:       reg,
		cascades:       cfg.TierCascades,
		budgeter:       NewBudgeter(),
		logger:         logger,
		reservedOutput: 4096,
	}, nil
}

// cascade resolves the provider list for a model tier.
func (g *Gateway) cascade(modelTier string) ([]Provider, []string, error) {
	names, ok := g.cascades[modelTier]
	if !ok || len(names) == 0 {
		return nil, nil, protocol.NewTurnError(protocol.ErrModelTerminal, "llm",
			fmt.Sprintf("no cascade configured for model tier %q", modelTier), nil)
	}

	providers := make([]Provider, 0, len(names))
	for _, name := range names {
		p, exists := g.registry.Get(name)
		if !exists {
			return nil, nil, protocol.NewTurnError(protocol.ErrModelTerminal, "llm",
				fmt.Sprintf("cascade references unknown provider %q", name), nil)
		}
		providers = append(providers, p)
	}
	return providers, names, nil
}

// fit trims the request history to the provider's context window.
func (g *Gateway) fit(p Provider, req Request) Request {
	req.Messages = g.budgeter.Fit(req.System, req.Messages, p.ContextWindow(), g.reservedOutput)
	return req
}

// Generate runs a blocking completion through the tier's cascade.
func (g *Gateway) Generate(ctx context.Context, modelTier string, req Request) (string, []*protocol.ToolCall, int, error) {
	providers, names, err := g.cascade(modelTier)
	if err != nil {
		return "", nil, 0, err
	}

	var lastErr error
	for i, p := range providers {
		start := time.Now()
		text, toolCalls, tokens, err := p.Generate(ctx, g.fit(p, req))
		observability.GetGlobalMetrics().RecordLLMCall(ctx, p.ModelName(), time.Since(start), 0, tokens, err)

		if err == nil {
			return text, toolCalls, tokens, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", nil, 0, protocol.NewTurnError(protocol.ErrCancelled, "llm", "generation cancelled", ctx.Err())
		}
		if !httpclient.IsRetryable(err) {
			// Policy rejections and other terminal failures must not be
			// papered over by a healthy backup provider.
			break
		}

		g.logger.Warn("Provider failed, falling back",
			"tier", modelTier, "provider", names[i], "error", err)
	}

	kind := protocol.ErrModelTerminal
	if httpclient.IsRetryable(lastErr) {
		kind = protocol.ErrModelTransient
	}
	return "", nil, 0, protocol.NewTurnError(kind, "llm",
		fmt.Sprintf("all providers in tier %q failed", modelTier), lastErr)
}

// GenerateStreaming streams a completion through the tier's cascade. A
// provider that fails before producing any text falls through to the next;
// once text has been emitted, failures propagate on the channel because the
// partial output has already reached the caller.
func (g *Gateway) GenerateStreaming(ctx context.Context, modelTier string, req Request) (<-chan StreamChunk, error) {
	providers, names, err := g.cascade(modelTier)
	if err != nil {
		return nil, err
	}

	outputCh := make(chan StreamChunk, 100)
	go func() {
		defer close(outputCh)

		var lastErr error
		for i, p := range providers {
			start := time.Now()
			upstream, err := p.GenerateStreaming(ctx, g.fit(p, req))
			if err != nil {
				lastErr = err
				if !httpclient.IsRetryable(err) {
					break
				}
				g.logger.Warn("Provider stream failed to start, falling back",
					"tier", modelTier, "provider", names[i], "error", err)
				continue
			}

			emitted := false
			failed := false
			var tokens int
			for chunk := range upstream {
				switch chunk.Type {
				case "error":
					lastErr = chunk.Error
					failed = true
					if emitted {
						// Partial output already delivered; do not
						// restart on another provider.
						outputCh <- chunk
						observability.GetGlobalMetrics().RecordLLMCall(ctx, p.ModelName(), time.Since(start), 0, tokens, chunk.Error)
						return
					}
				case "done":
					tokens = chunk.Tokens
					outputCh <- chunk
					observability.GetGlobalMetrics().RecordLLMCall(ctx, p.ModelName(), time.Since(start), 0, tokens, nil)
					return
				default:
					emitted = true
					outputCh <- chunk
				}
			}

			if failed {
				if ctx.Err() != nil || !httpclient.IsRetryable(lastErr) {
					break
				}
				g.logger.Warn("Provider stream failed before output, falling back",
					"tier", modelTier, "provider", names[i], "error", lastErr)
				continue
			}
			// Channel closed without done or error; treat as done.
			outputCh <- StreamChunk{Type: "done", Tokens: tokens}
			return
		}

		kind := protocol.ErrModelTerminal
		if httpclient.IsRetryable(lastErr) || ctx.Err() != nil {
			kind = protocol.ErrModelTransient
		}
		if ctx.Err() != nil {
			kind = protocol.ErrCancelled
		}
		outputCh <- StreamChunk{Type: "error", Error: protocol.NewTurnError(kind, "llm",
			fmt.Sprintf("all providers in tier %q failed", modelTier), lastErr)}
	}()

	return outputCh, nil
}
