package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/previewd/previewd/internal/capture"
	"github.com/previewd/previewd/internal/config"
	"github.com/previewd/previewd/internal/logger"
	"github.com/previewd/previewd/internal/monitor"
	"github.com/previewd/previewd/internal/session"
)

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	sessionMgr *session.Manager
	configMgr  *config.Manager
	locator    *monitor.Locator
	guard      *capture.Guard
	upgrader   websocket.Upgrader

	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(sessionMgr *session.Manager, configMgr *config.Manager, locator *monitor.Locator, guard *capture.Guard) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		sessionMgr: sessionMgr,
		configMgr:  configMgr,
		locator:    locator,
		guard:      guard,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Monitor discovery
	api.HandleFunc("/monitors", s.handleGetMonitors).Methods("GET")

	// Preview sessions
	api.HandleFunc("/sessions", s.handleGetSessions).Methods("GET")
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/metrics", s.handleSessionMetrics)

	// Capture backend state
	api.HandleFunc("/capture/status", s.handleCaptureStatus).Methods("GET")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Live MJPEG streams
	s.router.HandleFunc("/stream/{id}", s.handleStream).Methods("GET")
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.enableCORS(s.router),
	}
	logger.WithComponent("api").Info().
		Str("addr", addr).
		Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

func (s *Server) handleGetMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := s.locator.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, monitors)
}

func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sessionMgr.List())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MonitorID string `json:"monitor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := s.sessionMgr.Create(r.Context(), req.MonitorID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, capture.ErrMonitorNotFound) || errors.Is(err, monitor.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, sess.Status())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionMgr.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, sess.Status())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessionMgr.Delete(mux.Vars(r)["id"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionMgr.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	sess.Stream().ServeHTTP(w, r)
}

// handleSessionMetrics streams session status over a websocket, one
// update per second, until the client disconnects.
func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionMgr.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(sess.Status()); err != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	reason, disabled := s.guard.DisabledReason()
	writeJSON(w, map[string]interface{}{
		"compositor_allowed":   s.guard.CanUseCompositor(),
		"permanently_disabled": disabled,
		"disabled_reason":      reason,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.configMgr.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.configMgr.Update(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
