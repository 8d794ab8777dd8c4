package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

var sampleMP3 = []byte("ID3\x04\x00\x00\x00\x00\x00\x00audio")

func newDriver(t *testing.T, handler http.HandlerFunc) *Driver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := providers.NewClient(providers.Options{Name: "voice", BaseURL: srv.URL, Model: "tts-fr"})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return New(client)
}

func voiceRequest() providers.Request {
	return providers.Request{
		JobID:  "J1",
		Kind:   domain.KindVoice,
		Params: domain.Request{SubjectID: "S1", Text: "Coucou, tu m'as manqué", Archetype: "douce"},
	}
}

func TestGenerateRawAudio(t *testing.T) {
	var got synthesizeRequest
	d := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("X-Audio-Duration", "2.5")
		_, _ = w.Write(sampleMP3)
	})
	res, err := d.Generate(context.Background(), voiceRequest())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if got.Voice != "douce" || got.Language != "fr" || got.Format != "mp3" || got.Emotion != defaultEmotion {
		t.Fatalf("payload = %+v", got)
	}
	if res.MIME != "audio/mpeg" || res.Metadata.DurationSeconds != 2.5 {
		t.Fatalf("result = %q %+v", res.MIME, res.Metadata)
	}
}

func TestGenerateJSONEnvelope(t *testing.T) {
	d := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(synthesizeResponse{
			AudioBase64:     base64.StdEncoding.EncodeToString(sampleMP3),
			DurationSeconds: 1.2,
		})
	})
	res, err := d.Generate(context.Background(), voiceRequest())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if res.MIME != "audio/mpeg" || res.Metadata.DurationSeconds != 1.2 {
		t.Fatalf("result = %q %+v", res.MIME, res.Metadata)
	}
}

func TestGenerateRejectsNonAudio(t *testing.T) {
	d := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	})
	_, err := d.Generate(context.Background(), voiceRequest())
	if domain.KindOf(err) != domain.ErrorKindUpstreamUnavailable {
		t.Fatalf("error = %v, want upstream_unavailable", err)
	}
}
