// Package http exposes a session to local presentation layers over REST and
// streams its lifecycle events over WebSocket.
package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger reports whether an optional dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the local control API.
type Server struct {
	server  *http.Server
	handler *Handler
	hub     *Hub
	db      Pinger
	logger  *zap.Logger
}

// NewServer wires routes for handler and hub. db may be nil.
func NewServer(address string, handler *Handler, hub *Hub, db Pinger, logger *zap.Logger) *Server {
	s := &Server{
		handler: handler,
		hub:     hub,
		db:      db,
		logger:  logger.With(zap.String("component", "http")),
	}

	s.server = &http.Server{
		Addr:        address,
		Handler:     s.Routes(),
		ReadTimeout: 30 * time.Second,
		// Optimization submits and uploads can take a while upstream.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Routes returns the request multiplexer.
func (s *Server) Routes() http.Handler {
	h := s.handler
	sess := h.session

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)

	mux.HandleFunc("/api/v1/session", h.HandleGetSession)
	mux.HandleFunc("/api/v1/session/load", h.HandleLoad)
	mux.HandleFunc("/api/v1/session/mode", h.HandleSetMode)
	mux.HandleFunc("/api/v1/session/exchange", h.selectionHandler(sess.SetExchange, "invalid exchange"))
	mux.HandleFunc("/api/v1/session/market", h.selectionHandler(sess.SetMarket, "invalid market"))
	mux.HandleFunc("/api/v1/session/timeframe", h.selectionHandler(sess.SetTimeframe, "invalid timeframe"))
	mux.HandleFunc("/api/v1/session/strategy", h.selectionHandler(sess.SetStrategy, "invalid strategy"))
	mux.HandleFunc("/api/v1/session/dates", h.HandleSetDates)
	mux.HandleFunc("/api/v1/session/params", h.HandleSetParam)
	mux.HandleFunc("/api/v1/session/ranges", h.HandleSetRange)
	mux.HandleFunc("/api/v1/session/submit", h.HandleSubmit)

	mux.HandleFunc("/api/v1/strategies/upload", h.HandleUploadStrategy)

	mux.HandleFunc("/api/v1/runs", h.HandleListRuns)
	mux.HandleFunc("/api/v1/runs/", h.HandleGetRun)

	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.ServeWS)
	}
	return mux
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("address", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
	Clients  int               `json:"ws_clients"`
}

// Version is reported by /health.
var Version = "dev"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   "healthy",
		Version:  Version,
		Services: map[string]string{"session": "healthy"},
	}

	if s.handler.session.Error() != "" {
		response.Services["session"] = "degraded: " + s.handler.session.Error()
	}

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			response.Services["postgres"] = "unhealthy: " + err.Error()
			response.Status = "unhealthy"
		} else {
			response.Services["postgres"] = "healthy"
		}
	} else {
		response.Services["postgres"] = "not configured"
	}

	if s.hub != nil {
		response.Clients = s.hub.ClientCount()
	}

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
