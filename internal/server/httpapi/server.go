// Package httpapi exposes the file lifecycle service over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wraps the HTTP server with routing and graceful shutdown.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// New constructs the server. All /api/v1 routes require a bearer token;
// /healthz and /metrics stay open for probes and scrapers.
func New(addr string, handler *Handler, signKey []byte, log *zap.Logger) *Server {
	router := chi.NewRouter()
	router.Use(
		RecoverMiddleware(log),
		LoggingMiddleware(log),
		MetricsMiddleware(),
	)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(AuthMiddleware(signKey))

		api.Post("/password/check", handler.CheckPassword)

		api.Route("/files", func(files chi.Router) {
			files.Post("/", handler.Upload)
			files.Get("/", handler.ListVisible)
			files.Get("/all", handler.ListAll)
			files.Post("/{id}/download", handler.Download)
			files.Post("/{id}/share", handler.Share)
			files.Post("/{id}/content", handler.UpdateContent)
			files.Post("/{id}/retry", handler.Retry)
			files.Patch("/{id}", handler.UpdateMetadata)
			files.Delete("/{id}", handler.Delete)
			files.Delete("/{id}/purge", handler.Purge)
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		log: log,
	}
}

// ListenAndServe starts serving; it returns http.ErrServerClosed on shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
