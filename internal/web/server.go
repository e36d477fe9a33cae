// Package web exposes the HTTP control API: status and configuration,
// raw command passthrough, switcher diagnostics, receiver discovery and a
// websocket event stream.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"avbridge/internal/bridge"
	"avbridge/internal/config"
	"avbridge/internal/receiver"
	"avbridge/internal/telemetry"
	"avbridge/internal/trigger"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// recentLinesDefault is how many switcher lines GET /api/switcher/recent
// returns when no count is given.
const recentLinesDefault = 20

// Server is the HTTP API. Register HandleEvent as a bridge listener so the
// websocket stream sees every event.
type Server struct {
	bridge  *bridge.Bridge
	logger  *zap.Logger
	hub     *hub
	cfgPath string

	mu  sync.Mutex
	cfg *config.Config
}

// NewServer creates the API around an existing bridge and configuration.
func NewServer(b *bridge.Bridge, cfg *config.Config, cfgPath string, logger *zap.Logger) *Server {
	l := logger.Named("web")
	return &Server{
		bridge:  b,
		logger:  l,
		hub:     newHub(l),
		cfgPath: cfgPath,
		cfg:     cfg,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.handlePutConfig).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/api/command", s.handleCommand).Methods(http.MethodPost)
	r.HandleFunc("/api/switcher/recent", s.handleRecentLines).Methods(http.MethodGet)
	r.HandleFunc("/api/switcher/autoswitch", s.handleAutoSwitch).Methods(http.MethodPost)
	r.HandleFunc("/api/receiver/discover", s.handleStartDiscovery).Methods(http.MethodPost)
	r.HandleFunc("/api/receiver/discover", s.handleDiscoveryResults).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.hub.serveWS)
	return r
}

// HandleEvent forwards a bridge event to websocket subscribers.
func (s *Server) HandleEvent(ev telemetry.Event) {
	s.hub.broadcast(ev)
}

// Close drops all websocket subscribers.
func (s *Server) Close() {
	s.hub.closeAll()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Status())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	redacted := *s.cfg
	s.mu.Unlock()
	if redacted.Wifi.Password != "" {
		redacted.Wifi.Password = "********"
	}
	writeJSON(w, http.StatusOK, redacted)
}

// handlePutConfig persists a new configuration. Most settings need a
// restart to take effect; auto_switch applies immediately.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}

	if err := cfg.Save(s.cfgPath); err != nil {
		s.logger.Error("Config save failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}

	s.mu.Lock()
	s.cfg = &cfg
	s.mu.Unlock()

	// Trigger edits and the auto-switch flag apply immediately; device
	// links need a restart.
	s.bridge.SetTriggerTable(trigger.NewTable(cfg.ToMappings(), s.logger))
	s.bridge.SetAutoSwitch(cfg.Switcher.AutoSwitch)
	s.logger.Info("Configuration updated", zap.String("path", s.cfgPath))
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "note": "restart required for device settings"})
}

type commandRequest struct {
	Target  string `json:"target"`
	Command string `json:"command"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	var err error
	switch req.Target {
	case "switcher":
		err = s.bridge.SendSwitcherCommand(req.Command)
	case "processor":
		err = s.bridge.SendProcessorCommand(req.Command)
	case "receiver":
		err = s.bridge.SendReceiverCommand(req.Command)
	default:
		writeError(w, http.StatusBadRequest, "unknown target: "+req.Target)
		return
	}

	if errors.Is(err, bridge.ErrReceiverDisabled) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleRecentLines(w http.ResponseWriter, r *http.Request) {
	n := recentLinesDefault
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}
	lines := s.bridge.RecentSwitcherLines(n)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"lines": lines})
}

type autoSwitchRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleAutoSwitch(w http.ResponseWriter, r *http.Request) {
	var req autoSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.bridge.SetAutoSwitch(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleStartDiscovery(w http.ResponseWriter, _ *http.Request) {
	err := s.bridge.StartReceiverDiscovery()
	switch {
	case errors.Is(err, bridge.ErrReceiverDisabled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, receiver.ErrDiscoveryBusy):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning"})
	}
}

func (s *Server) handleDiscoveryResults(w http.ResponseWriter, _ *http.Request) {
	complete, devices := s.bridge.ReceiverDiscovery()
	if devices == nil {
		devices = []receiver.DiscoveredDevice{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"complete": complete,
		"devices":  devices,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
