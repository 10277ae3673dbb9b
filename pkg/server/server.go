// Package server is the HTTP gateway: request validation, principal
// extraction, the SSE event stream and the session and tool endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/memory"
	"github.com/balizero/nuzantara/pkg/protocol"
	"github.com/balizero/nuzantara/pkg/tools"
)

// TurnHandler runs one conversational turn; satisfied by
// *orchestrator.Orchestrator.
type TurnHandler interface {
	HandleTurn(ctx context.Context, q protocol.Query, sink func(protocol.Event) error)
}

// Redactor prepares externally supplied text for storage; satisfied by
// *evidence.Pipeline.
type Redactor interface {
	RedactForStorage(text string) string
}

// Server is the HTTP gateway.
type Server struct {
	cfg      *config.ServerConfig
	limits   *config.LimitsConfig
	orch     TurnHandler
	sessions memory.SessionService
	toolDefs []tools.Definition
	auth     *Authenticator
	redactor Redactor
	logger   *slog.Logger
	version  string

	httpServer *http.Server
}

type Options struct {
	Config   *config.ServerConfig
	Limits   *config.LimitsConfig
	Orch     TurnHandler
	Sessions memory.SessionService
	ToolDefs []tools.Definition
	Auth     *Authenticator
	Redactor Redactor
	Logger   *slog.Logger
	Version  string
}

func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		limits:   opts.Limits,
		orch:     opts.Orch,
		sessions: opts.Sessions,
		toolDefs: opts.ToolDefs,
		auth:     opts.Auth,
		redactor: opts.Redactor,
		logger:   opts.Logger,
		version:  opts.Version,
	}
	s.httpServer = &http.Server{
		Addr:              opts.Config.Address(),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogging)
	r.Use(s.corsMiddleware)

	// Operational endpoints are open; everything else goes through auth.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/v1/query", s.handleQuery)
		// Alias kept for clients written against the streaming name.
		r.Post("/v1/chat/stream", s.handleQuery)

		r.Get("/v1/history", s.handleHistory)
		r.Post("/v1/history", s.handleHistoryAppend)
		r.Get("/v1/tools", s.handleTools)
	})

	return r
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("HTTP gateway listening", "address", s.cfg.Address())
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.DebugContext(r.Context(), "Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
