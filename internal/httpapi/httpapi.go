// Package httpapi is the operator-facing, read-only HTTP status surface:
// /health, /api/v1/stats, /api/v1/config. It never mutates simulation
// state — the core's write path is the spawn coordinator and the
// conductor/driver loops, not this package.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/citytransit/simcore/config"
	"github.com/citytransit/simcore/internal/reservoirstats"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider exposes named reservoir statistics for the /stats endpoint.
type StatsProvider interface {
	Snapshots() map[string]reservoirstats.Snapshot
}

// HealthResponse is the /health endpoint's body.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// NewRouter builds the status-surface router. deps maps a dependency label
// ("postgres", "redis", "bus") to its checker; a nil map still serves
// /stats and /config.
func NewRouter(cfg *config.Config, deps map[string]HealthChecker, stats StatsProvider) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler(deps)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stats", statsHandler(stats)).Methods(http.MethodGet)
	api.HandleFunc("/config", configHandler(cfg)).Methods(http.MethodGet)

	return router
}

func healthHandler(deps map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Services: make(map[string]string)}

		for name, checker := range deps {
			if err := checker.HealthCheck(r.Context()); err != nil {
				resp.Status = "degraded"
				resp.Services[name] = "unhealthy: " + err.Error()
			} else {
				resp.Services[name] = "healthy"
			}
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func statsHandler(stats StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if stats == nil {
			writeJSON(w, http.StatusOK, map[string]reservoirstats.Snapshot{})
			return
		}
		writeJSON(w, http.StatusOK, stats.Snapshots())
	}
}

func configHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"spawner":         cfg.Spawner,
			"conductor":       cfg.Conductor,
			"reservoir":       cfg.Reservoir,
			"route_reservoir": cfg.RouteReservoir,
			"rider":           cfg.Rider,
			"bus":             cfg.Bus,
			"ridesurge":       cfg.RideSurge,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
