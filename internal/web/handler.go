// Package web holds the HTTP surface that is not WebSocket traffic:
// health and status endpoints plus their security headers.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Lumiport-Network/relay/internal/logger"
	"go.uber.org/zap"
)

// EngineStats is what the HTTP handlers need to know about the running
// session engine.
type EngineStats interface {
	ConnectionCount() int
	SessionCount() int
}

// Handler serves the relay's HTTP endpoints.
type Handler struct {
	name      string
	version   string
	features  []string
	engine    EngineStats
	startTime time.Time
	log       *zap.Logger
}

// NewHandler builds the HTTP handler around the engine's stats.
func NewHandler(name, version string, features []string, engine EngineStats) *Handler {
	return &Handler{
		name:      name,
		version:   version,
		features:  features,
		engine:    engine,
		startTime: time.Now(),
		log:       logger.New("web"),
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
	Uptime      string `json:"uptime"`
}

// HandleHealth serves GET /health for load balancers and directory
// probes.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Sessions:    h.engine.SessionCount(),
		Connections: h.engine.ConnectionCount(),
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
	})
}

type statusResponse struct {
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Features []string `json:"features"`
	Sessions int      `json:"sessions"`
}

// HandleStatus serves GET /api/status with instance metadata.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Type:     "lumiport-relay",
		Name:     h.name,
		Version:  h.version,
		Features: h.features,
		Sessions: h.engine.SessionCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
