package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"arbscan/internal/config"
)

// Server runs the HTTP/WebSocket API for the dashboard and operator controls
type Server struct {
	cfg      config.DashboardConfig
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg config.Config, operator Operator, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(operator, cfg, hub, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Dashboard.Port),
		Handler:      newMux(handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg.Dashboard,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

func newMux(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	// Read routes
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /api/snapshot", h.HandleSnapshot)
	mux.HandleFunc("GET /api/commissions", h.HandleCommissions)
	mux.HandleFunc("/ws", h.HandleWebSocket)

	// Operator controls
	mux.HandleFunc("POST /api/mode", h.guardWrite(h.HandleMode))
	mux.HandleFunc("POST /api/killswitch", h.guardWrite(h.HandleKillSwitch))
	mux.HandleFunc("POST /api/confirmations/{token}/confirm", h.guardWrite(h.HandleConfirm))
	mux.HandleFunc("POST /api/confirmations/{token}/reject", h.guardWrite(h.HandleReject))
	mux.HandleFunc("POST /api/settlements", h.guardWrite(h.HandleSettle))
	mux.HandleFunc("PUT /api/commissions", h.guardWrite(h.HandleCommissions))

	return mux
}

// Hub returns the WebSocket hub so it can be registered as an alert sender.
func (s *Server) Hub() *Hub { return s.hub }

// Start starts the API server and hub
func (s *Server) Start() error {
	// Start WebSocket hub
	go s.hub.Run()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.hub.Stop()
	return err
}
