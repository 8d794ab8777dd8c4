package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/middleware"
	"mediagen/internal/orchestrator"
)

// Orchestrator is the service behind the handlers.
type Orchestrator interface {
	Submit(ctx context.Context, userID string, kind domain.Kind, req domain.Request) (*orchestrator.Submission, error)
	Status(ctx context.Context, jobID string) (*orchestrator.JobStatus, error)
	Cancel(ctx context.Context, userID, jobID string) (bool, error)
	History(ctx context.Context, userID string, kind domain.Kind, limit int) ([]domain.JobSummary, error)
	Health(ctx context.Context) (*orchestrator.HealthReport, error)
}

type App struct {
	Jobs   Orchestrator
	Logger *infra.Logger
}

func NewApp(jobs Orchestrator, logger *infra.Logger) *App {
	return &App{Jobs: jobs, Logger: infra.LoggerOrNop(logger)}
}

type errorResponse struct {
	Kind    string `json:"error_kind"`
	Message string `json:"error"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, msg string) {
	a.json(w, code, errorResponse{Kind: kind, Message: msg})
}

// fail maps err onto a status code and a redacted body. Internal details
// only reach the log.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}
	kind := domain.KindOf(err)
	code := statusFor(kind)
	if code >= http.StatusInternalServerError {
		log := middleware.LoggerFrom(r.Context(), *a.Logger)
		log.Error().
			Err(err).
			Str("error_kind", string(kind)).
			Msg("http: request failed")
	}
	a.error(w, code, string(kind), domain.PublicMessage(err))
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindSchemaInvalid:
		return http.StatusBadRequest
	case domain.ErrorKindInsufficientTokens:
		return http.StatusPaymentRequired
	case domain.ErrorKindEntitlementDenied:
		return http.StatusForbidden
	case domain.ErrorKindQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
