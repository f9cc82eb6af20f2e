package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/bytewatch/internal/metrics"
	"github.com/JakeFAU/bytewatch/internal/resolver"
	"github.com/JakeFAU/bytewatch/internal/source"
	"github.com/JakeFAU/bytewatch/internal/store"
	"github.com/JakeFAU/bytewatch/internal/stream"
)

const defaultRequestTimeout = 60 * time.Second

// Resolver is the orchestrator surface the handlers need.
type Resolver interface {
	ResolveDetailed(ctx context.Context, key stream.ContentKey) (resolver.Resolution, error)
}

// Config controls middleware behavior.
type Config struct {
	// AuthEnabled guards the /v1 routes with APIKey. Addon routes stay open
	// because addon clients cannot send custom headers.
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	// Version is reported in the addon manifest.
	Version string
}

// ReadyFunc reports whether downstream dependencies can serve traffic.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the resolver and history repository.
type Server struct {
	router   chi.Router
	resolver Resolver
	registry *source.Registry
	history  *HistoryHandler
	ready    ReadyFunc
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. repo may be nil,
// in which case history routes answer 503. ready may be nil.
func NewServer(
	res Resolver,
	registry *source.Registry,
	repo store.ResolutionRepository,
	ready ReadyFunc,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	s := &Server{
		resolver: res,
		registry: registry,
		history:  NewHistoryHandler(repo, logger),
		ready:    ready,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(corsMiddleware)
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Get("/manifest.json", s.manifest)
		r.Get("/stream/{type}/{id}.json", s.streams)
	})

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Get("/resolve", s.resolve)
		r.Get("/sources", s.sources)
		r.Route("/resolutions", func(r chi.Router) {
			r.Get("/", s.history.ListResolutions)
			r.Route("/{resolution_id}", func(r chi.Router) {
				r.Get("/", s.history.GetResolution)
				r.Get("/sources", s.history.ListSourceOutcomes)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
