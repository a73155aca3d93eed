package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/hubconn/internal/connection"
	"github.com/rickgao/hubconn/internal/recorder"
)

type statsSource interface {
	Stats() connection.ManagerStats
}

type recorderStats interface {
	Stats() recorder.Metrics
}

type pinger interface {
	Ping(ctx context.Context) error
}

// newHealthHandler serves /health. rec and pool are nil when the recorder
// is disabled.
func newHealthHandler(mgr statsSource, rec *recorder.Recorder, pool *pgxpool.Pool) http.Handler {
	var (
		rs recorderStats
		db pinger
	)
	if rec != nil {
		rs = rec
	}
	if pool != nil {
		db = pool
	}
	return healthHandler(mgr, rs, db)
}

func healthHandler(mgr statsSource, rec recorderStats, db pinger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		stats := mgr.Stats()
		health.Components["connection"] = map[string]any{
			"state":               stats.State.String(),
			"epoch":               stats.Epoch,
			"pending_requests":    stats.PendingRequests,
			"reconnect_campaigns": stats.ReconnectCampaigns,
			"reconnect_attempts":  stats.ReconnectAttempts,
		}
		switch stats.State {
		case connection.Connected:
		case connection.Disconnected:
			health.Status = "unhealthy"
		default:
			health.Status = "degraded"
		}

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		if rec != nil {
			m := rec.Stats()
			health.Components["recorder"] = map[string]any{
				"inserts": m.Inserts,
				"errors":  m.Errors,
				"dropped": m.Dropped,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
