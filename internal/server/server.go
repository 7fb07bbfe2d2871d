// Package server exposes the enrichment engine over HTTP: a trigger for
// batch runs, the observation hook for the log pipeline, the statistics
// snapshot and a health probe. The surface is internal; there is no
// authentication layer.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"threat-enricher/internal/common/logging"
)

// Server wraps the HTTP server around the enrichment handlers.
type Server struct {
	srv *http.Server
}

// New builds the server with its routes and middleware.
func New(port string, handlers *Handlers) *Server {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/enrich", handlers.Enrich).Methods(http.MethodPost)
	api.HandleFunc("/observe", handlers.Observe).Methods(http.MethodPost)
	api.HandleFunc("/stats", handlers.Stats).Methods(http.MethodGet)
	api.HandleFunc("/ips/{ip}", handlers.GetIP).Methods(http.MethodGet)

	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute, // batch runs answer synchronously
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("http server failed", err)
		}
	}()
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
