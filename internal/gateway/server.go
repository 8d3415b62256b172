// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"kronos/internal/config"
	"kronos/internal/gateway/handlers"
	"kronos/internal/gateway/middleware"
	"kronos/pkg/logger"
)

// Server represents the HTTP gateway server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	watcher    *Watcher
	config     config.GatewayConfig
}

// NewServer creates a gateway server over svc.
func NewServer(cfg config.GatewayConfig, svc handlers.ChatService, version string) *Server {
	router := mux.NewRouter()

	router.HandleFunc("/", handlers.HomeHandler).Methods(http.MethodGet)
	router.HandleFunc("/health", handlers.HealthHandler(version)).Methods(http.MethodGet)
	handlers.NewChatHandler(svc).RegisterRoutes(router)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.SendError(w, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})

	// Recovery -> RequestID -> Logging -> CORS
	handler := middleware.Chain(router,
		middleware.Recovery,
		middleware.RequestID,
		middleware.Logging,
		middleware.CORS(cfg.CORSOrigins),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			// A turn can wait through several backoff rounds.
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
		router: router,
		config: cfg,
	}
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	handlers.InitStartTime()
	logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("Shutting down gateway server")

	if s.watcher != nil {
		s.watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// SetWatcher sets the config watcher stopped on shutdown.
func (s *Server) SetWatcher(w *Watcher) {
	s.watcher = w
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}
