package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	report, err := a.Jobs.Health(r.Context())
	if err != nil {
		a.Logger.Warn().Err(err).Msg("http: health check failed")
		a.json(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "checks": report})
		return
	}
	a.json(w, http.StatusOK, map[string]any{"status": "ok", "checks": report})
}
