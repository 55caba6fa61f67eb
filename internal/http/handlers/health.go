package handlers

import (
	"context"
	"net/http"
	"time"
)

// Healthz reports liveness of the backing services.
func (a *App) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if a.Health != nil {
		if err := a.Health(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("health: dependency check failed")
			a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
