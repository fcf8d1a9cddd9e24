// Package server provides HTTP server construction for notify-relay.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/notify-relay/internal/auth"
)

// Health is the /healthz body.
type Health struct {
	Status     string `json:"status"`
	Connected  bool   `json:"connected"`
	Sessions   int    `json:"sessions"`
	Suppressed bool   `json:"suppressed"`
	UIClients  int    `json:"ui_clients"`
}

// StatusSource reports relay liveness for /healthz.
type StatusSource interface {
	Connected() bool
	Sessions() int
	Suppressed() bool
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Events     http.Handler
	MCPHandler http.Handler
	Metrics    http.Handler
	Status     StatusSource
	// UIClients returns the number of connected event subscribers.
	UIClients func() int
	Verifier  *auth.Verifier
	Logger    *slog.Logger
}

// NewMux builds the HTTP mux with the UI event stream, MCP and metrics
// endpoints behind the token middleware, and an open health check.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()

	protect := auth.Middleware(cfg.Verifier, cfg.Logger)

	mux.Handle("/events", protect(cfg.Events))
	mux.Handle("/mcp", protect(cfg.MCPHandler))
	mux.Handle("/metrics", protect(cfg.Metrics))
	mux.HandleFunc("/healthz", healthHandler(cfg))

	return mux
}

func healthHandler(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		h := Health{
			Status:     "ok",
			Connected:  cfg.Status.Connected(),
			Sessions:   cfg.Status.Sessions(),
			Suppressed: cfg.Status.Suppressed(),
		}

		if cfg.UIClients != nil {
			h.UIClients = cfg.UIClients()
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(h); err != nil {
			cfg.Logger.Debug("writing health response", slog.String("error", err.Error()))
		}
	}
}

// New returns an http.Server for the mux. Writes are not bounded
// because /events and /mcp hold long-lived streams.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
