// Package voice drives the French text-to-speech generator.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

const (
	synthesizePath = "/v1/audio/speech"
	language       = "fr"
	format         = "mp3"
	defaultEmotion = "neutral"
)

type synthesizeRequest struct {
	Model     string `json:"model,omitempty"`
	Text      string `json:"text"`
	Voice     string `json:"voice"`
	Emotion   string `json:"emotion"`
	Format    string `json:"format"`
	Language  string `json:"language"`
	RequestID string `json:"request_id"`
}

type synthesizeResponse struct {
	AudioBase64     string  `json:"audio_base64"`
	AudioURL        string  `json:"audio_url"`
	MIME            string  `json:"mime"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Driver synthesizes speech. The upstream answers either with raw audio
// bytes or with a JSON envelope.
type Driver struct {
	client *providers.Client
}

func New(client *providers.Client) *Driver {
	return &Driver{client: client}
}

func (d *Driver) Kind() domain.Kind { return domain.KindVoice }

func (d *Driver) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	if d == nil || d.client == nil {
		return nil, domain.WrapError(domain.ErrorKindInternal, errors.New("voice: driver not configured"))
	}
	emotion := strings.ToLower(strings.TrimSpace(req.Params.Emotion))
	if emotion == "" {
		emotion = defaultEmotion
	}
	payload := synthesizeRequest{
		Model:     d.client.Model(),
		Text:      req.Params.Text,
		Voice:     req.Params.Archetype,
		Emotion:   emotion,
		Format:    format,
		Language:  language,
		RequestID: req.JobID,
	}
	resp, err := d.client.PostJSON(ctx, synthesizePath, payload)
	if err != nil {
		return nil, err
	}

	data := resp.Body
	var duration float64
	if strings.HasPrefix(resp.ContentType, "application/json") {
		var decoded synthesizeResponse
		if err := json.Unmarshal(resp.Body, &decoded); err != nil {
			return nil, providers.Invalid(d.client.Name(), fmt.Errorf("decode response: %w", err))
		}
		duration = decoded.DurationSeconds
		switch {
		case decoded.AudioBase64 != "":
			data, err = providers.DecodeBase64(decoded.AudioBase64)
			if err != nil {
				return nil, providers.Invalid(d.client.Name(), fmt.Errorf("decode base64: %w", err))
			}
		case decoded.AudioURL != "":
			dl, err := d.client.Download(ctx, decoded.AudioURL)
			if err != nil {
				return nil, err
			}
			data = dl.Body
		default:
			return nil, providers.Invalid(d.client.Name(), providers.ErrEmptyArtifact)
		}
	} else if v := resp.Header.Get("X-Audio-Duration"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			duration = f
		}
	}

	mime, sniffed, err := providers.VerifyAudio(data)
	if err != nil {
		return nil, providers.Invalid(d.client.Name(), err)
	}
	if duration <= 0 {
		duration = sniffed
	}
	return &providers.Result{Data: data, MIME: mime, Metadata: providers.Metadata{DurationSeconds: duration}}, nil
}

var _ providers.Generator = (*Driver)(nil)
