package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/embedders"
	"github.com/balizero/nuzantara/pkg/evidence"
	"github.com/balizero/nuzantara/pkg/llms"
	"github.com/balizero/nuzantara/pkg/logger"
	"github.com/balizero/nuzantara/pkg/memory"
	"github.com/balizero/nuzantara/pkg/observability"
	"github.com/balizero/nuzantara/pkg/orchestrator"
	"github.com/balizero/nuzantara/pkg/retrieval"
	"github.com/balizero/nuzantara/pkg/router"
	"github.com/balizero/nuzantara/pkg/server"
	"github.com/balizero/nuzantara/pkg/tools"
	"github.com/balizero/nuzantara/pkg/vector"
)

// ServeCmd starts the HTTP gateway.
type ServeCmd struct {
	Port int `help:"Override the configured listen port."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cleanup, err := setupLogging(cli)
	if err != nil {
		return err
	}
	defer cleanup()
	log := logger.GetLogger()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Shutting down...")
		cancel()
	}()

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close(log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.server.Start()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return rt.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runtimeComponents holds everything serve wires together, for teardown.
type runtimeComponents struct {
	server   *server.Server
	pool     *config.DBPool
	embedder embedders.Provider
	store    vector.Provider
	llmReg   *llms.Registry
	obs      *observability.Manager
}

func (rt *runtimeComponents) Close(log *slog.Logger) {
	for name, closer := range map[string]func() error{
		"embedder":     rt.embedder.Close,
		"vector store": rt.store.Close,
		"database":     rt.pool.Close,
	} {
		if err := closer(); err != nil {
			log.Warn("Teardown failed", "component", name, "error", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.obs.Shutdown(shutdownCtx); err != nil {
		log.Warn("Observability shutdown failed", "error", err)
	}
}

// buildRuntime wires every component from configuration: storage, models,
// retrieval, tools, the orchestrator and the gateway.
func buildRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (*runtimeComponents, error) {
	obs := observability.NewManager(observability.Config{
		Tracing: observability.TracerConfig{
			Enabled:     cfg.Observability.TracingEnabled,
			ServiceName: "nuzantara",
		},
		Metrics: observability.MetricsConfig{
			Enabled: cfg.Observability.MetricsEnabled,
		},
	})
	if err := obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	pool := config.NewDBPool()
	db, err := pool.Get(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sessions, err := memory.NewSQLSessionService(db, cfg.Database.Dialect())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	parents, err := retrieval.NewSQLParentStore(db, cfg.Database.Dialect())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize parent store: %w", err)
	}

	embedder, err := embedders.NewProvider(&cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	store, err := vector.NewProvider(&cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	llmReg, err := llms.BuildRegistry(ctx, &cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to build LLM registry: %w", err)
	}
	gateway, err := llms.NewGateway(&cfg.LLM, llmReg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build LLM gateway: %w", err)
	}

	var reranker retrieval.Reranker
	if len(cfg.Retrieval.RerankerEnabledTiers) > 0 {
		reranker = retrieval.NewLLMReranker(gateway, "fast")
	}
	pipeline := retrieval.NewPipeline(&cfg.Retrieval, cfg.Collections, embedder, store, reranker, parents, log)

	toolReg, err := buildTools(cfg, pipeline, db)
	if err != nil {
		return nil, err
	}
	executor := tools.NewExecutor(toolReg, &cfg.Limits, log)

	ev, err := evidence.NewPipeline(&cfg.PII, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build evidence pipeline: %w", err)
	}

	rtr, err := router.New(&cfg.Router, &cfg.Orchestrator, cfg.Collections, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build router: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Config:     &cfg.Orchestrator,
		Limits:     &cfg.Limits,
		Memory:     &cfg.Memory,
		Router:     rtr,
		Gateway:    gateway,
		Retriever:  pipeline,
		Executor:   executor,
		ToolDefs:   toolReg.Definitions(),
		Sessions:   sessions,
		Summarizer: memory.NewSummarizer(sessions, gateway, &cfg.Memory, log),
		Evidence:   ev,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}

	auth, err := server.NewAuthenticator(ctx, &cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to build authenticator: %w", err)
	}

	srv := server.New(server.Options{
		Config:   &cfg.Server,
		Limits:   &cfg.Limits,
		Orch:     orch,
		Sessions: sessions,
		ToolDefs: toolReg.Definitions(),
		Auth:     auth,
		Redactor: ev,
		Logger:   log,
		Version:  buildVersion(),
	})

	return &runtimeComponents{
		server:   srv,
		pool:     pool,
		embedder: embedder,
		store:    store,
		llmReg:   llmReg,
		obs:      obs,
	}, nil
}

// buildTools registers every enabled tool from configuration and freezes
// the registry for the serving phase.
func buildTools(cfg *config.Config, pipeline *retrieval.Pipeline, db *sql.DB) (*tools.Registry, error) {
	reg := tools.NewRegistry()

	for name, tc := range cfg.Tools {
		if tc == nil || !tc.IsEnabled() {
			continue
		}
		kind := tc.Type
		if kind == "" {
			kind = name
		}
		timeout := time.Duration(tc.Timeout) * time.Second

		var (
			tool tools.Tool
			err  error
		)
		switch kind {
		case "vector_search":
			// Every enabled collection; each call narrows further to the
			// authorized-collections pin on the call context.
			var allowed []string
			for colName, col := range cfg.Collections {
				if col != nil && col.IsEnabled() {
					allowed = append(allowed, colName)
				}
			}
			tool = tools.NewVectorSearchTool(pipeline, allowed, timeout)
		case "pricing_lookup":
			tool, err = tools.NewPricingLookupTool(tc)
		case "team_lookup":
			tool, err = tools.NewTeamLookupTool(tc)
		case "vision_analyze":
			tool, err = tools.NewVisionAnalyzeTool(tc)
		case "diagnostics":
			checks := map[string]tools.HealthCheck{
				"database": db.PingContext,
			}
			tool = tools.NewDiagnosticsTool(buildVersion(), checks, timeout)
		default:
			return nil, fmt.Errorf("tool %q: unknown type %q", name, kind)
		}
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		if err := reg.Register(tool.Name(), tool); err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
	}

	reg.Freeze()
	return reg, nil
}
