// Package image drives the photo generator.
package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

const generatePath = "/v1/images/generations"

// Size presets.
const (
	standardWidth  = 768
	standardHeight = 1152
	standardSteps  = 25
	hqWidth        = 1024
	hqHeight       = 1536
	hqSteps        = 40
)

type generateRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	NSFWLevel      int    `json:"nsfw_level"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	RequestID      string `json:"request_id"`
}

type generateResponse struct {
	ImageBase64 string `json:"image_base64"`
	ImageURL    string `json:"image_url"`
	MIME        string `json:"mime"`
}

// Driver produces still images.
type Driver struct {
	client *providers.Client
}

// New wraps a configured upstream client.
func New(client *providers.Client) *Driver {
	return &Driver{client: client}
}

func (d *Driver) Kind() domain.Kind { return domain.KindImage }

// Generate requests one image and verifies the returned bytes decode.
func (d *Driver) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	if d == nil || d.client == nil {
		return nil, domain.WrapError(domain.ErrorKindInternal, errors.New("image: driver not configured"))
	}
	payload := buildRequest(d.client.Model(), req)
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
	case decoded.ImageBase64 != "":
		data, err = providers.DecodeBase64(decoded.ImageBase64)
		if err != nil {
			return nil, providers.Invalid(d.client.Name(), fmt.Errorf("decode base64: %w", err))
		}
	case decoded.ImageURL != "":
		dl, err := d.client.Download(ctx, decoded.ImageURL)
		if err != nil {
			return nil, err
		}
		data = dl.Body
	default:
		return nil, providers.Invalid(d.client.Name(), providers.ErrEmptyArtifact)
	}

	mime, meta, err := providers.VerifyImage(data)
	if err != nil {
		return nil, providers.Invalid(d.client.Name(), err)
	}
	return &providers.Result{Data: data, MIME: mime, Metadata: meta}, nil
}

func buildRequest(model string, req providers.Request) generateRequest {
	out := generateRequest{
		Model:          model,
		Prompt:         BuildPrompt(req.Params),
		NegativePrompt: DefaultNegativePrompt,
		Width:          standardWidth,
		Height:         standardHeight,
		Steps:          standardSteps,
		RequestID:      req.JobID,
	}
	if req.Params.NSFWLevel != nil {
		out.NSFWLevel = *req.Params.NSFWLevel
	}
	if req.Params.HighQuality {
		out.Width, out.Height, out.Steps = hqWidth, hqHeight, hqSteps
	}
	return out
}

var _ providers.Generator = (*Driver)(nil)
