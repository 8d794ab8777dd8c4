package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/domain"
	"mediagen/internal/middleware"
)

const maxBodyBytes = 64 << 10

// Generate handles POST /generate/{kind}.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}
	kind, ok := domain.ParseRouteKind(chi.URLParam(r, "kind"))
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "unknown generation kind")
		return
	}
	var req domain.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		msg := "invalid JSON body"
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			msg = typeErr.Field + " has the wrong type"
		}
		a.error(w, http.StatusBadRequest, string(domain.ErrorKindSchemaInvalid), msg)
		return
	}
	sub, err := a.Jobs.Submit(r.Context(), userID, kind, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, sub)
}
