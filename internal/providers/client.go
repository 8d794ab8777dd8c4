package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// maxArtifactBytes bounds how much of an upstream response is read.
const maxArtifactBytes = 64 << 20

// Options configures the HTTP client shared by the drivers.
type Options struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs one upstream call per generation and classifies failures.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// Response is a raw upstream answer.
type Response struct {
	Status      int
	ContentType string
	Header      http.Header
	Body        []byte
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// NewClient constructs a client. Deadlines come from the caller's context,
// so the default HTTP client has no timeout of its own.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("providers: %s base url is required", opts.Name)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("providers: %s base url: %w", opts.Name, err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport}
	}
	return &Client{
		name:       opts.Name,
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      strings.TrimSpace(opts.Model),
		httpClient: httpClient,
		logger:     infra.LoggerOrNop(opts.Logger),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Name identifies the upstream in logs.
func (c *Client) Name() string { return c.name }

// PostJSON sends payload to path and returns the answer when it is 2xx.
// Non-2xx answers and transport failures come back classified.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorKindInternal, fmt.Errorf("%s: encode request: %w", c.name, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, domain.WrapError(domain.ErrorKindInternal, fmt.Errorf("%s: build request: %w", c.name, err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.send(ctx, req)
}

// Download fetches an artifact the upstream returned by URL.
func (c *Client) Download(ctx context.Context, rawURL string) (*Response, error) {
	raw := strings.TrimSpace(rawURL)
	parsed, err := url.Parse(raw)
	if err != nil || raw == "" {
		return nil, domain.WrapError(domain.ErrorKindUpstreamUnavailable, fmt.Errorf("%s: invalid artifact url %q", c.name, rawURL))
	}
	// Relative artifact paths hang off the provider base, keeping its path prefix.
	if !parsed.IsAbs() {
		parsed, err = url.Parse(c.baseURL + "/" + strings.TrimLeft(raw, "/"))
		if err != nil {
			return nil, domain.WrapError(domain.ErrorKindUpstreamUnavailable, fmt.Errorf("%s: invalid artifact url %q", c.name, rawURL))
		}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, domain.WrapError(domain.ErrorKindUpstreamUnavailable, fmt.Errorf("%s: unsupported artifact url %q", c.name, rawURL))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorKindInternal, fmt.Errorf("%s: build download: %w", c.name, err))
	}
	return c.send(ctx, req)
}

func (c *Client) send(ctx context.Context, req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return nil, c.classifyTransport(ctx, err)
	}
	if len(raw) > maxArtifactBytes {
		return nil, domain.WrapError(domain.ErrorKindUpstreamRejected, fmt.Errorf("%s: response exceeds %d bytes", c.name, maxArtifactBytes))
	}

	c.logger.Debug().
		Str("upstream", c.name).
		Str("url", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("providers: upstream call")

	if resp.StatusCode >= 300 {
		return nil, c.classifyStatus(resp.StatusCode, raw)
	}
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        raw,
	}, nil
}

func (c *Client) classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrorKindTimeout, fmt.Errorf("%s: %w", c.name, err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.WrapError(domain.ErrorKindTimeout, fmt.Errorf("%s: %w", c.name, err))
	}
	return domain.WrapError(domain.ErrorKindUpstreamUnavailable, fmt.Errorf("%s: http request: %w", c.name, err))
}

// classifyStatus maps upstream answers: 408, 425, 429 and 5xx are worth a
// retry, any other 4xx is a rejection of this request.
func (c *Client) classifyStatus(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	var decoded errorBody
	if err := json.Unmarshal(body, &decoded); err == nil {
		for _, s := range []string{decoded.Error, decoded.Message, decoded.Detail} {
			if s != "" {
				detail = s
				break
			}
		}
	}
	if len(detail) > 200 {
		detail = detail[:200]
	}
	cause := fmt.Errorf("%s: status %d: %s", c.name, status, detail)
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooEarly || status == http.StatusTooManyRequests:
		return domain.WrapError(domain.ErrorKindUpstreamUnavailable, cause)
	case status >= 400 && status < 500:
		return &domain.Error{Kind: domain.ErrorKindUpstreamRejected, Msg: fmt.Sprintf("generator rejected the request (status %d)", status), Err: cause}
	default:
		return domain.WrapError(domain.ErrorKindUpstreamUnavailable, cause)
	}
}

// DecodeBase64 accepts standard or URL-safe base64, with or without a
// data: URI prefix.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	if data, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// Invalid classifies an artifact that failed verification. The upstream
// answered but produced garbage, which is usually transient.
func Invalid(name string, err error) error {
	return domain.WrapError(domain.ErrorKindUpstreamUnavailable, fmt.Errorf("%s: invalid artifact: %w", name, err))
}
