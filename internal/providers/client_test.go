package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediagen/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{Name: "test", BaseURL: srv.URL + "/", APIKey: "k", Model: "m1"})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return c
}

func TestClientPostJSONSendsHeaders(t *testing.T) {
	var gotAuth, gotType, gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	resp, err := c.PostJSON(context.Background(), "/v1/run", map[string]string{"prompt": "hi"})
	if err != nil {
		t.Fatalf("PostJSON returned error: %v", err)
	}
	if gotAuth != "Bearer k" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Fatalf("Content-Type = %q", gotType)
	}
	if !strings.Contains(gotBody, `"prompt":"hi"`) {
		t.Fatalf("body = %s", gotBody)
	}
	if resp.ContentType != "application/json" || string(resp.Body) != `{"ok":true}` {
		t.Fatalf("unexpected response %+v", resp)
	}
	if c.Model() != "m1" {
		t.Fatalf("Model() = %q", c.Model())
	}
}

func TestClientClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		want   domain.ErrorKind
	}{
		{http.StatusBadRequest, domain.ErrorKindUpstreamRejected},
		{http.StatusUnprocessableEntity, domain.ErrorKindUpstreamRejected},
		{http.StatusRequestTimeout, domain.ErrorKindUpstreamUnavailable},
		{http.StatusTooManyRequests, domain.ErrorKindUpstreamUnavailable},
		{http.StatusInternalServerError, domain.ErrorKindUpstreamUnavailable},
		{http.StatusServiceUnavailable, domain.ErrorKindUpstreamUnavailable},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"content policy"}`))
		})
		_, err := c.PostJSON(context.Background(), "/x", struct{}{})
		if got := domain.KindOf(err); got != tc.want {
			t.Fatalf("status %d classified as %q, want %q", tc.status, got, tc.want)
		}
		if !strings.Contains(err.Error(), "content policy") {
			t.Fatalf("error %q lost the upstream detail", err)
		}
	}
}

func TestClientClassifiesDeadline(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.PostJSON(ctx, "/slow", struct{}{})
	if domain.KindOf(err) != domain.ErrorKindTimeout {
		t.Fatalf("error = %v, want timeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error %v does not wrap context.DeadlineExceeded", err)
	}
}

func TestClientClassifiesTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Options{Name: "dead", BaseURL: url})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	_, err = c.PostJSON(context.Background(), "/x", struct{}{})
	if domain.KindOf(err) != domain.ErrorKindUpstreamUnavailable {
		t.Fatalf("error = %v, want upstream_unavailable", err)
	}
}

func TestClientDownloadResolvesRelativeURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/a.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("bytes"))
	})
	resp, err := c.Download(context.Background(), "/files/a.png")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if string(resp.Body) != "bytes" {
		t.Fatalf("body = %q", resp.Body)
	}
}

func TestClientDownloadAcceptsAbsoluteAndRejectsOtherSchemes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("cdn"))
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })

	resp, err := c.Download(context.Background(), srv.URL+"/x.png")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if string(resp.Body) != "cdn" {
		t.Fatalf("body = %q", resp.Body)
	}
	for _, bad := range []string{"", "   ", "file:///etc/passwd"} {
		if _, err := c.Download(context.Background(), bad); err == nil {
			t.Fatalf("Download(%q) succeeded", bad)
		}
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{Name: "x"}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

func TestDecodeBase64Variants(t *testing.T) {
	for _, in := range []string{"aGVsbG8=", "aGVsbG8", "data:text/plain;base64,aGVsbG8="} {
		got, err := DecodeBase64(in)
		if err != nil || string(got) != "hello" {
			t.Fatalf("DecodeBase64(%q) = %q, %v", in, got, err)
		}
	}
}
