package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/http/handlers"
	"mediagen/internal/orchestrator"
)

type stubJobs struct {
	submitErr error
	gotUser   string
	gotKind   domain.Kind
	gotReq    domain.Request
	gotLimit  int
	cancelled bool
	healthErr error
}

func (s *stubJobs) Submit(_ context.Context, userID string, kind domain.Kind, req domain.Request) (*orchestrator.Submission, error) {
	s.gotUser, s.gotKind, s.gotReq = userID, kind, req
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &orchestrator.Submission{JobID: "J1", Status: domain.StateQueued, EstimatedSeconds: 3}, nil
}

func (s *stubJobs) Status(_ context.Context, jobID string) (*orchestrator.JobStatus, error) {
	if jobID != "J1" {
		return nil, domain.ErrNotFound
	}
	return &orchestrator.JobStatus{JobID: "J1", Kind: "photo", Status: domain.StateFailed, ErrorKind: domain.ErrorKindUpstreamRejected, Error: "generator rejected the request"}, nil
}

func (s *stubJobs) Cancel(_ context.Context, userID, jobID string) (bool, error) {
	s.gotUser = userID
	if jobID != "J1" {
		return false, domain.ErrNotFound
	}
	return s.cancelled, nil
}

func (s *stubJobs) History(_ context.Context, userID string, kind domain.Kind, limit int) ([]domain.JobSummary, error) {
	s.gotUser, s.gotKind, s.gotLimit = userID, kind, limit
	return []domain.JobSummary{{ID: "J2", Kind: domain.KindVoice, State: domain.StateCompleted, CreatedAt: time.Unix(0, 0).UTC()}}, nil
}

func (s *stubJobs) Health(context.Context) (*orchestrator.HealthReport, error) {
	return &orchestrator.HealthReport{Store: "ok", Ledger: "ok"}, s.healthErr
}

func serve(t *testing.T, jobs *stubJobs, method, target, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(handlers.NewApp(jobs, nil), RouterOptions{})
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestGenerateAccepted(t *testing.T) {
	jobs := &stubJobs{}
	rec := serve(t, jobs, http.MethodPost, "/generate/photo", "U1", `{"subject_id":"S1","nsfw_level":40,"high_quality":false}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["job_id"] != "J1" || body["status"] != "queued" || body["estimated_time"] != float64(3) {
		t.Fatalf("body = %v", body)
	}
	if jobs.gotUser != "U1" || jobs.gotKind != domain.KindImage || jobs.gotReq.NSFWLevel == nil || *jobs.gotReq.NSFWLevel != 40 {
		t.Fatalf("submit got user=%q kind=%q req=%+v", jobs.gotUser, jobs.gotKind, jobs.gotReq)
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"schema", domain.NewError(domain.ErrorKindSchemaInvalid, "nsfw_level is required"), http.StatusBadRequest, "schema_invalid"},
		{"tokens", domain.NewError(domain.ErrorKindInsufficientTokens, "video costs 15 tokens"), http.StatusPaymentRequired, "insufficient_tokens"},
		{"entitlement", domain.NewError(domain.ErrorKindEntitlementDenied, "video generation requires a higher subscription"), http.StatusForbidden, "entitlement_denied"},
		{"queue full", domain.WrapError(domain.ErrorKindQueueFull, errors.New("queue: full")), http.StatusServiceUnavailable, "queue_full"},
		{"internal", errors.New("redis: connection refused"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, &stubJobs{submitErr: tc.err}, http.MethodPost, "/generate/video", "U2", `{"subject_id":"S1","num_frames":16,"fps":8}`)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
			body := decode(t, rec)
			if body["error_kind"] != tc.kind {
				t.Fatalf("error_kind = %v, want %s", body["error_kind"], tc.kind)
			}
			if strings.Contains(rec.Body.String(), "redis") {
				t.Fatalf("internal detail leaked: %s", rec.Body.String())
			}
		})
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		target string
		user   string
		body   string
		code   int
	}{
		{"no identity", "/generate/photo", "", `{}`, http.StatusUnauthorized},
		{"unknown kind", "/generate/music", "U1", `{}`, http.StatusNotFound},
		{"malformed json", "/generate/photo", "U1", `{"subject_id":`, http.StatusBadRequest},
		{"wrong type", "/generate/photo", "U1", `{"subject_id":"S1","nsfw_level":"high"}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			jobs := &stubJobs{}
			rec := serve(t, jobs, http.MethodPost, tc.target, tc.user, tc.body)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.code, rec.Body.String())
			}
			if jobs.gotUser != "" {
				t.Fatalf("Submit was called")
			}
		})
	}
}

func TestStatusAndCancel(t *testing.T) {
	jobs := &stubJobs{cancelled: true}

	rec := serve(t, jobs, http.MethodGet, "/status/J1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "failed" || body["error_kind"] != "upstream_rejected" {
		t.Fatalf("status body = %v", body)
	}
	if rec := serve(t, jobs, http.MethodGet, "/status/nope", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing job code = %d, want 404", rec.Code)
	}

	rec = serve(t, jobs, http.MethodPost, "/cancel/J1", "U6", "")
	if rec.Code != http.StatusOK || decode(t, rec)["cancelled"] != true {
		t.Fatalf("cancel = %d %s", rec.Code, rec.Body.String())
	}
	if jobs.gotUser != "U6" {
		t.Fatalf("cancel user = %q", jobs.gotUser)
	}
	if rec := serve(t, jobs, http.MethodPost, "/cancel/nope", "U6", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("cancel missing code = %d, want 404", rec.Code)
	}
	if rec := serve(t, jobs, http.MethodPost, "/cancel/J1", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous cancel code = %d, want 401", rec.Code)
	}
}

func TestHistoryQuery(t *testing.T) {
	jobs := &stubJobs{}
	rec := serve(t, jobs, http.MethodGet, "/history?kind=voice&limit=5", "U1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if jobs.gotKind != domain.KindVoice || jobs.gotLimit != 5 {
		t.Fatalf("history got kind=%q limit=%d", jobs.gotKind, jobs.gotLimit)
	}
	list, ok := decode(t, rec)["jobs"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("jobs = %v", rec.Body.String())
	}

	for _, target := range []string{"/history?kind=gif", "/history?limit=0", "/history?limit=abc"} {
		if rec := serve(t, &stubJobs{}, http.MethodGet, target, "U1", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s code = %d, want 400", target, rec.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	if rec := serve(t, &stubJobs{}, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthy code = %d", rec.Code)
	}
	rec := serve(t, &stubJobs{healthErr: errors.New("store: down")}, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded code = %d, want 503", rec.Code)
	}
}
