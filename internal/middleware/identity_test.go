package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestIdentity(t *testing.T) {
	var seen string
	h := Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		code   int
		want   string
	}{
		{name: "present", header: "U1", code: http.StatusOK, want: "U1"},
		{name: "trimmed", header: "  U2 ", code: http.StatusOK, want: "U2"},
		{name: "missing", header: "", code: http.StatusUnauthorized},
		{name: "oversized", header: strings.Repeat("x", maxUserIDLen+1), code: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/history", nil)
			if tc.header != "" {
				req.Header.Set(UserIDHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
			if seen != tc.want {
				t.Fatalf("user id = %q, want %q", seen, tc.want)
			}
		})
	}
}

func TestCorrelateEchoesOrMints(t *testing.T) {
	var seen string
	h := Correlate(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "caller id", header: "abc-123:retry.1", keep: true},
		{name: "missing", header: ""},
		{name: "oversized", header: strings.Repeat("z", maxRequestIDLen+1)},
		{name: "log injection", header: "abc\nlevel=error"},
		{name: "spaces", header: "abc 123"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, tc.header)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if echoed := rec.Header().Get(RequestIDHeader); echoed != seen {
				t.Fatalf("echoed %q, context holds %q", echoed, seen)
			}
			if tc.keep && seen != tc.header {
				t.Fatalf("request id = %q, want %q", seen, tc.header)
			}
			if !tc.keep {
				if _, err := uuid.Parse(seen); err != nil {
					t.Fatalf("request id %q was not replaced by a uuid", seen)
				}
			}
		})
	}
}

func TestCorrelateAttachesRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	h := Correlate(base)(Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := LoggerFrom(r.Context(), zerolog.Nop())
		log.Info().Msg("inside")
	})))

	req := httptest.NewRequest(http.MethodPost, "/generate/photo", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	req.Header.Set(UserIDHeader, "U7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if line["request_id"] != "req-42" || line["user_id"] != "U7" || line["message"] != "inside" {
		t.Fatalf("log line = %v", line)
	}

	if got := LoggerFrom(context.Background(), base); got.GetLevel() != base.GetLevel() {
		t.Fatalf("LoggerFrom outside a request did not return the fallback")
	}
}
