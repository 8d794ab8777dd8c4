package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/domain"
	"mediagen/internal/middleware"
)

// Status handles GET /status/{job_id}. The id is the capability; no
// identity is required.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	st, err := a.Jobs.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, st)
}

func (a *App) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}
	cancelled, err := a.Jobs.Cancel(r.Context(), userID, chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// History handles GET /history?kind=&limit=.
func (a *App) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}
	q := r.URL.Query()
	var kind domain.Kind
	if raw := q.Get("kind"); raw != "" {
		k, ok := domain.ParseRouteKind(raw)
		if !ok {
			a.error(w, http.StatusBadRequest, string(domain.ErrorKindSchemaInvalid), "kind must be photo, video or voice")
			return
		}
		kind = k
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			a.error(w, http.StatusBadRequest, string(domain.ErrorKindSchemaInvalid), "limit must be a positive integer")
			return
		}
		limit = n
	}
	jobs, err := a.Jobs.History(r.Context(), userID, kind, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": jobs})
}
