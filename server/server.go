// Package server exposes the brand voice pipeline over HTTP and a websocket
// query stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xhad/brandvoice/internal/models"
	"github.com/xhad/brandvoice/internal/types"
	"github.com/xhad/brandvoice/pkg/pipeline"
)

// Service is the part of pipeline.Service the handlers depend on.
type Service interface {
	GenerateBrandVoice(ctx context.Context, req pipeline.BrandVoiceRequest, progress types.ProgressFunc) (pipeline.BrandVoiceResult, error)
	IngestURL(ctx context.Context, index, rawURL string, progress types.ProgressFunc) (models.IngestResult, error)
	Query(ctx context.Context, index, question string) (models.Answer, error)
	QueryStream(ctx context.Context, index, question string, onChunk func(chunk string) error) (models.Answer, error)
	DeleteIndex(ctx context.Context, index string) (bool, error)
	ListIndexes(ctx context.Context) ([]string, error)
}

type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

type Server struct {
	config   Config
	service  Service
	logger   *zap.Logger
	validate *validator.Validate
	router   chi.Router
}

func New(service Service, config Config, logger *zap.Logger) *Server {
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"http://localhost:*", "https://*"}
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 120 * time.Second
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = 32 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:   config,
		service:  service,
		logger:   logger,
		validate: newValidator(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	// The websocket outlives any single request timeout.
	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.RequestTimeout))

		r.Post("/generate-content/", s.handleGenerateContent)
		r.Post("/handle-query/", s.handleQuery)
		r.Post("/embed-and-store/", s.handleEmbedAndStore)
		r.Post("/delete-index/", s.handleDeleteIndex)
		r.Get("/indexes/", s.handleListIndexes)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Not Found"})
	})

	return r
}

// Handler returns the root handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
