// Package api exposes the coordinator over HTTP. The contract is poll-based:
// clients start a run, then repeatedly read its log and completion flag.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/animus-labs/loadrunner/internal/coordinator"
	"github.com/animus-labs/loadrunner/internal/dispatch"
	"github.com/animus-labs/loadrunner/internal/ledger"
	"github.com/animus-labs/loadrunner/internal/platform/httpserver"
)

// Runs is the coordinator surface used by the handlers.
type Runs interface {
	Start(ctx context.Context, scenario string) (coordinator.Started, error)
	TailLog(runID string) (string, error)
	IsFinished(runID string) (bool, error)
	Status(ctx context.Context, runID string) (coordinator.RunStatus, error)
	ReportLink(ctx context.Context, runID string) (string, error)
	ListScenarios() ([]string, error)
	ListRuns(ctx context.Context, limit int) ([]ledger.Entry, error)
	InspectJob(ctx context.Context, runID string) (dispatch.Observation, error)
}

var _ Runs = (*coordinator.Service)(nil)

type Options struct {
	Service        string
	Checks         []httpserver.ReadinessCheck
	AllowedOrigins []string
	// JobInspectTimeout bounds calls to the execution platform.
	JobInspectTimeout time.Duration
}

type Server struct {
	router *chi.Mux
	runs   Runs
	logger *slog.Logger
	opts   Options
}

func NewServer(runs Runs, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Service == "" {
		opts.Service = "loadrunner"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.JobInspectTimeout <= 0 {
		opts.JobInspectTimeout = 5 * time.Second
	}

	s := &Server{router: chi.NewRouter(), runs: runs, logger: logger, opts: opts}
	s.router.Use(metricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", httpserver.RequestIDHeader},
		ExposedHeaders:   []string{httpserver.RequestIDHeader, runFinishedHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", httpserver.Healthz(s.opts.Service))
	s.router.Get("/readyz", httpserver.ReadyzWithChecks(s.opts.Service, s.opts.Checks...))
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/scenarios", s.handleListScenarios)
	s.router.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", s.handleStartRun)
		r.Get("/", s.handleListRuns)
		r.Get("/{runID}", s.handleGetRun)
		r.Get("/{runID}/log", s.handleTailLog)
		r.Get("/{runID}/finished", s.handleFinished)
		r.Get("/{runID}/report", s.handleReport)
		r.Get("/{runID}/job", s.handleJob)
	})
}

// Handler returns the router wrapped with request id, logging and recovery.
func (s *Server) Handler() http.Handler {
	return httpserver.Wrap(s.logger, s.opts.Service, s.router)
}
