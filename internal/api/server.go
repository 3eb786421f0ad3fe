package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"video-pipeline/internal/models"
	"video-pipeline/internal/ratelimit"
	"video-pipeline/internal/storage"
	"video-pipeline/internal/telemetry"
	"video-pipeline/internal/vault"
)

// JobService is the part of the job manager the facade drives.
type JobService interface {
	Submit(ctx context.Context, req models.Request) (string, error)
	Status(ctx context.Context, id string) (models.Job, error)
	ListRecent(ctx context.Context, limit int) ([]models.Job, error)
}

// ServerConfig wires the facade to the rest of the service. Limiter is optional.
type ServerConfig struct {
	Addr           string
	Jobs           JobService
	Credentials    *vault.Resolver
	Layout         *storage.Layout
	Limiter        ratelimit.Limiter
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

// Server wires HTTP handlers for the video generation API.
type Server struct {
	cfg        ServerConfig
	logger     zerolog.Logger
	httpServer *http.Server
}

// NewServer constructs the API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "api").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverer(s.logger))
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/download/{id}", s.handleDownload)
		r.Get("/captions/{id}", s.handleCaptions)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
	})
	return r
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
