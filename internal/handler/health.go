package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/motorctl/motor-bot/internal/bus"
	"github.com/motorctl/motor-bot/internal/config"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type BusState interface {
	State() bus.State
	Len() int
}

// HealthHandler reports database reachability and the receive loop state.
// An idle loop is healthy; it only runs while something is subscribed.
func HealthHandler(db Pinger, loop BusState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := db.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("health check: database unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
		}

		writeJSON(w, code, map[string]any{
			"status":        status,
			"bus":           loop.State().String(),
			"subscriptions": loop.Len(),
			"timestamp":     time.Now().UnixMilli(),
		})
	}
}
