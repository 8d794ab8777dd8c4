// Package video drives the short clip generator.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

const generatePath = "/v1/videos/generations"

type generateRequest struct {
	Model     string `json:"model,omitempty"`
	Prompt    string `json:"prompt"`
	NumFrames int    `json:"num_frames"`
	FPS       int    `json:"fps"`
	RequestID string `json:"request_id"`
}

type generateResponse struct {
	VideoBase64  string `json:"video_base64"`
	VideoURL     string `json:"video_url"`
	MIME         string `json:"mime"`
	Frames       int    `json:"frames"`
	PosterBase64 string `json:"poster_base64"`
}

// Driver produces short clips. The upstream may take minutes; the caller's
// context carries the deadline.
type Driver struct {
	client *providers.Client
}

func New(client *providers.Client) *Driver {
	return &Driver{client: client}
}

func (d *Driver) Kind() domain.Kind { return domain.KindVideo }

func (d *Driver) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	if d == nil || d.client == nil {
		return nil, domain.WrapError(domain.ErrorKindInternal, errors.New("video: driver not configured"))
	}
	frames, fps := domain.MinNumFrames, domain.MinFPS
	if req.Params.NumFrames != nil {
		frames = *req.Params.NumFrames
	}
	if req.Params.FPS != nil {
		fps = *req.Params.FPS
	}
	payload := generateRequest{
		Model:     d.client.Model(),
		Prompt:    buildPrompt(req.Params),
		NumFrames: frames,
		FPS:       fps,
		RequestID: req.JobID,
	}
	resp, err := d.client.PostJSON(ctx, generatePath, payload)
	if err != nil {
		return nil, err
	}

	var decoded generateResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, providers.Invalid(d.client.Name(), fmt.Errorf("decode response: %w", err))
	}

	var data []byte
	switch {
	case decoded.VideoBase64 != "":
		data, err = providers.DecodeBase64(decoded.VideoBase64)
		if err != nil {
			return nil, providers.Invalid(d.client.Name(), fmt.Errorf("decode base64: %w", err))
		}
	case decoded.VideoURL != "":
		dl, err := d.client.Download(ctx, decoded.VideoURL)
		if err != nil {
			return nil, err
		}
		data = dl.Body
	default:
		return nil, providers.Invalid(d.client.Name(), providers.ErrEmptyArtifact)
	}

	mime, err := providers.VerifyVideo(data)
	if err != nil {
		return nil, providers.Invalid(d.client.Name(), err)
	}

	meta := providers.Metadata{FrameCount: frames}
	if decoded.Frames > 0 {
		meta.FrameCount = decoded.Frames
	}
	meta.DurationSeconds = float64(meta.FrameCount) / float64(fps)
	if decoded.PosterBase64 != "" {
		// A broken poster only costs the thumbnail.
		if poster, err := providers.DecodeBase64(decoded.PosterBase64); err == nil {
			meta.Poster = poster
		}
	}
	return &providers.Result{Data: data, MIME: mime, Metadata: meta}, nil
}

func buildPrompt(req domain.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Short looping clip of companion %q, consistent appearance.", req.SubjectID)
	if ctx := strings.TrimSpace(req.Context); ctx != "" {
		b.WriteString(" Scene inspired by the conversation: ")
		b.WriteString(ctx)
		b.WriteString(".")
	}
	b.WriteString(" Adult subject only, smooth motion.")
	return b.String()
}

var _ providers.Generator = (*Driver)(nil)
