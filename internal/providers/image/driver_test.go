package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stdimage "image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

func samplePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, stdimage.NewRGBA(stdimage.Rect(0, 0, 8, 12))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newDriver(t *testing.T, handler http.HandlerFunc) *Driver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := providers.NewClient(providers.Options{Name: "image", BaseURL: srv.URL, Model: "flux-rp"})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return New(client)
}

func TestGenerateBase64Image(t *testing.T) {
	pngData := samplePNG(t)
	var got generateRequest
	d := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != generatePath {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(generateResponse{ImageBase64: base64.StdEncoding.EncodeToString(pngData)})
	})

	res, err := d.Generate(context.Background(), providers.Request{
		JobID: "J1",
		Kind:  domain.KindImage,
		Params: domain.Request{
			SubjectID:   "S1",
			Context:     "beach",
			NSFWLevel:   domain.IntPtr(40),
			HighQuality: true,
		},
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if res.MIME != "image/png" || res.Metadata.Width != 8 || res.Metadata.Height != 12 {
		t.Fatalf("result = %q %+v", res.MIME, res.Metadata)
	}
	if !bytes.Equal(res.Data, pngData) {
		t.Fatalf("artifact bytes differ")
	}
	if got.Model != "flux-rp" || got.RequestID != "J1" || got.NSFWLevel != 40 {
		t.Fatalf("payload = %+v", got)
	}
	if got.Width != hqWidth || got.Height != hqHeight || got.Steps != hqSteps {
		t.Fatalf("high quality preset not applied: %+v", got)
	}
	if !strings.Contains(got.Prompt, "beach") || !strings.Contains(got.Prompt, "suggestive") {
		t.Fatalf("prompt = %q", got.Prompt)
	}
}

func TestGenerateDownloadsImageURL(t *testing.T) {
	pngData := samplePNG(t)
	d := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case generatePath:
			_, _ = w.Write([]byte(`{"image_url":"/out/J2.png"}`))
		case "/out/J2.png":
			_, _ = w.Write(pngData)
		default:
			http.NotFound(w, r)
		}
	})
	res, err := d.Generate(context.Background(), providers.Request{JobID: "J2", Params: domain.Request{SubjectID: "S1", NSFWLevel: domain.IntPtr(0)}})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if !bytes.Equal(res.Data, pngData) {
		t.Fatalf("downloaded bytes differ")
	}
}

func TestGenerateRejectsUndecodableBytes(t *testing.T) {
	d := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"image_base64":"` + base64.StdEncoding.EncodeToString([]byte("nope")) + `"}`))
	})
	_, err := d.Generate(context.Background(), providers.Request{JobID: "J3", Params: domain.Request{SubjectID: "S1", NSFWLevel: domain.IntPtr(0)}})
	if domain.KindOf(err) != domain.ErrorKindUpstreamUnavailable {
		t.Fatalf("error = %v, want upstream_unavailable", err)
	}
}

func TestGeneratePassesRejection(t *testing.T) {
	d := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"prompt blocked"}`, http.StatusBadRequest)
	})
	_, err := d.Generate(context.Background(), providers.Request{JobID: "J4", Params: domain.Request{SubjectID: "S1", NSFWLevel: domain.IntPtr(0)}})
	if domain.KindOf(err) != domain.ErrorKindUpstreamRejected {
		t.Fatalf("error = %v, want upstream_rejected", err)
	}
}

func TestBuildPromptPrefersCustomPrompt(t *testing.T) {
	p := BuildPrompt(domain.Request{SubjectID: "S1", Context: "ignored", CustomPrompt: "in Paris", NSFWLevel: domain.IntPtr(0)})
	if !strings.Contains(p, "in Paris") || strings.Contains(p, "ignored") {
		t.Fatalf("prompt = %q", p)
	}
	if !strings.Contains(p, "safe for work") {
		t.Fatalf("nsfw 0 label missing: %q", p)
	}
}
