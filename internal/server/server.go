// Package server exposes the lineage engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/leapstack-labs/leaplineage/internal/config"
	"github.com/leapstack-labs/leaplineage/internal/engine"
	"github.com/leapstack-labs/leaplineage/internal/reconcile"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Engine is the lineage engine surface served over HTTP.
type Engine interface {
	Graph(ctx context.Context, opts engine.GraphOptions) (*core.GraphResponse, error)
	AssetLineage(ctx context.Context, id string, depth int) (*core.AssetLineage, error)
	Snapshots(ctx context.Context) ([]core.Snapshot, error)
	SnapshotAt(ctx context.Context, t time.Time) (core.Snapshot, error)
	Ingest(ctx context.Context, kind core.BatchKind, payload json.RawMessage) (core.RawBatch, error)
	IngestQueryLog(ctx context.Context, entries []core.QueryLogEntry) error
	Reconcile(ctx context.Context) (reconcile.Report, error)
	Propose(ctx context.Context, role string, p core.CurationProposal) (core.CurationProposal, error)
	Approve(ctx context.Context, role, source, target string) (core.Edge, error)
	Proposals(ctx context.Context) ([]core.CurationProposal, error)
}

// watcher is implemented by engines whose sources can hot-reload.
type watcher interface {
	Watch(ctx context.Context, onChange func(sourceID string)) error
}

// Config holds configuration for the HTTP server.
type Config struct {
	Engine Engine
	Server config.ServerConfig
	// Watch enables hot reload of watched file sources.
	Watch  bool
	Logger *slog.Logger
}

// Server is the lineage HTTP API.
type Server struct {
	engine   Engine
	cfg      config.ServerConfig
	watch    bool
	logger   *slog.Logger
	notifier *Notifier
	limiter  *rateLimiter
	roles    *roleResolver
	router   chi.Router
}

// New creates a server and builds its router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Server.RoleHeader == "" {
		cfg.Server.RoleHeader = config.DefaultRoleHeader
	}
	if cfg.Server.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Server.ReconcileSchedule); err != nil {
			return nil, fmt.Errorf("invalid reconcile schedule %q: %w", cfg.Server.ReconcileSchedule, err)
		}
	}

	s := &Server{
		engine:   cfg.Engine,
		cfg:      cfg.Server,
		watch:    cfg.Watch,
		logger:   logger,
		notifier: NewNotifier(),
		limiter:  newRateLimiter(cfg.Server.RateLimit),
		roles:    newRoleResolver(cfg.Server.RoleHeader, cfg.Server.JWTSecret),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Notifier returns the server's event broadcaster.
func (s *Server) Notifier() *Notifier {
	return s.notifier
}

func (s *Server) routes() chi.Router {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(s.logger),
		middleware.Recoverer,
	)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", s.cfg.RoleHeader},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(s.limiter.middleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.roles.middleware)

		r.Get("/health", s.handleHealth)
		r.Get("/lineage", s.handleGraph)
		r.Get("/lineage/{id}", s.handleAssetLineage)
		r.Get("/snapshots", s.handleSnapshots)
		r.Get("/sources", s.handleSources)
		r.Post("/ingest/{kind}", s.handleIngest)
		r.Post("/reconcile", s.handleReconcile)
		r.Get("/curation/proposals", s.handleListProposals)
		r.Post("/curation/proposals", s.handlePropose)
		r.Post("/curation/approve", s.handleApprove)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Serve starts the server on cfg.Addr and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting lineage API", "addr", ln.Addr().String())

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.router,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		s.limiter.cleanup(egctx)
		return nil
	})

	if w, ok := s.engine.(watcher); ok && s.watch {
		eg.Go(func() error {
			err := w.Watch(egctx, func(sourceID string) {
				s.notifier.Broadcast(Event{Type: EventSourceReloaded, Source: sourceID})
			})
			if err != nil {
				s.logger.Warn("source watch stopped", "error", err)
			}
			return nil
		})
	}

	if s.cfg.ReconcileSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.cfg.ReconcileSchedule, func() { s.scheduledReconcile(egctx) }); err != nil {
			return fmt.Errorf("schedule reconcile: %w", err)
		}
		c.Start()
		s.logger.Info("reconcile scheduler started", "schedule", s.cfg.ReconcileSchedule)
		eg.Go(func() error {
			<-egctx.Done()
			<-c.Stop().Done()
			return nil
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down lineage API")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) scheduledReconcile(ctx context.Context) {
	report, err := s.engine.Reconcile(ctx)
	if err != nil {
		s.logger.Error("scheduled reconcile failed", "error", err)
		return
	}
	s.logger.Info("scheduled reconcile", "edges", report.TotalEdges)
	s.notifier.Broadcast(Event{Type: EventReconciled})
}
