package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"courtline/server/internal/logging"
)

// Gauges snapshots the server's live entity counts for health and metrics.
type Gauges struct {
	Sessions    int
	Clients     int
	Queued      int
	Tournaments int
}

// GaugesFunc supplies current gauge values.
type GaugesFunc func() Gauges

// Options configures the HandlerSet.
type Options struct {
	Logger     *logging.Logger
	Gauges     GaugesFunc
	TimeSource func() time.Time
}

// HandlerSet bundles the operational HTTP handlers.
type HandlerSet struct {
	logger  *logging.Logger
	gauges  GaugesFunc
	now     func() time.Time
	started time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:  logger,
		gauges:  opts.Gauges,
		now:     now,
		started: now(),
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports the server's live entity counts.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Sessions      int     `json:"sessions"`
		Clients       int     `json:"clients"`
		Queued        int     `json:"queued"`
		Tournaments   int     `json:"tournaments"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{
			Status:        "ok",
			UptimeSeconds: h.now().Sub(h.started).Seconds(),
		}
		if h.gauges != nil {
			g := h.gauges()
			resp.Sessions = g.Sessions
			resp.Clients = g.Clients
			resp.Queued = g.Queued
			resp.Tournaments = g.Tournaments
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var g Gauges
		if h.gauges != nil {
			g = h.gauges()
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP gameserver_uptime_seconds Server uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE gameserver_uptime_seconds gauge\n")
		fmt.Fprintf(w, "gameserver_uptime_seconds %.0f\n", h.now().Sub(h.started).Seconds())

		fmt.Fprintf(w, "# HELP gameserver_sessions Live game sessions.\n")
		fmt.Fprintf(w, "# TYPE gameserver_sessions gauge\n")
		fmt.Fprintf(w, "gameserver_sessions %d\n", g.Sessions)

		fmt.Fprintf(w, "# HELP gameserver_clients Clients attached to sessions.\n")
		fmt.Fprintf(w, "# TYPE gameserver_clients gauge\n")
		fmt.Fprintf(w, "gameserver_clients %d\n", g.Clients)

		fmt.Fprintf(w, "# HELP gameserver_matchmaking_waiting Clients waiting in the matchmaking queue.\n")
		fmt.Fprintf(w, "# TYPE gameserver_matchmaking_waiting gauge\n")
		fmt.Fprintf(w, "gameserver_matchmaking_waiting %d\n", g.Queued)

		fmt.Fprintf(w, "# HELP gameserver_tournaments Registered tournaments.\n")
		fmt.Fprintf(w, "# TYPE gameserver_tournaments gauge\n")
		fmt.Fprintf(w, "gameserver_tournaments %d\n", g.Tournaments)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
