package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediagen/internal/backoff"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// HTTPOptions configures the accounts service client.
type HTTPOptions struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *infra.Logger
	MaxRetries int
	Backoff    backoff.Strategy
}

// HTTPClient talks to the accounts service:
//
//	GET  /v1/accounts/{user_id}/entitlements
//	POST /v1/ledger/debit   {user_id, job_id, kind, amount}
//	POST /v1/ledger/refund  {user_id, job_id, kind, amount}
//	GET  /healthz
//
// Mutations carry an Idempotency-Key header; the service answers 409 when
// the key was already applied.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *infra.Logger
	maxRetries int
	backoff    backoff.Strategy
}

type entryPayload struct {
	UserID string `json:"user_id"`
	JobID  string `json:"job_id"`
	Kind   string `json:"kind"`
	Amount int    `json:"amount"`
}

type entitlementResponse struct {
	Tier    string         `json:"tier"`
	Balance int            `json:"balance"`
	Daily   map[string]int `json:"daily"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPClient constructs a client with sane defaults.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ledger: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	strategy := opts.Backoff
	if strategy == nil {
		strategy = backoff.Jitter{Strategy: backoff.Geometric{Base: 100 * time.Millisecond, Factor: 2, Max: 2 * time.Second}}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		logger:     infra.LoggerOrNop(opts.Logger),
		maxRetries: retries,
		backoff:    strategy,
	}, nil
}

func (c *HTTPClient) Debit(ctx context.Context, e Entry) error {
	return c.mutate(ctx, OpDebit, e)
}

func (c *HTTPClient) Refund(ctx context.Context, e Entry) error {
	return c.mutate(ctx, OpRefund, e)
}

func (c *HTTPClient) Snapshot(ctx context.Context, userID string) (domain.Entitlement, error) {
	endpoint := c.baseURL + "/v1/accounts/" + url.PathEscape(userID) + "/entitlements"
	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return domain.Entitlement{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return domain.Entitlement{}, ErrUnknownAccount
	case status >= 300:
		return domain.Entitlement{}, statusError("snapshot", status, body)
	}
	var decoded entitlementResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.Entitlement{}, fmt.Errorf("ledger: decode entitlements: %w", err)
	}
	ent := domain.Entitlement{
		UserID:  userID,
		Tier:    domain.Tier(strings.ToLower(decoded.Tier)),
		Balance: decoded.Balance,
		Daily:   make(map[domain.Kind]int, len(decoded.Daily)),
	}
	for k, n := range decoded.Daily {
		if kind, ok := domain.ParseKind(k); ok {
			ent.Daily[kind] = n
		}
	}
	return ent, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodGet, c.baseURL+"/healthz", nil, "")
	if err != nil {
		return err
	}
	if status >= 300 {
		return statusError("ping", status, body)
	}
	return nil
}

func (c *HTTPClient) mutate(ctx context.Context, op Op, e Entry) error {
	payload, err := json.Marshal(entryPayload{UserID: e.UserID, JobID: e.JobID, Kind: string(e.Kind), Amount: e.Amount})
	if err != nil {
		return fmt.Errorf("ledger: encode %s: %w", op, err)
	}
	status, body, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/ledger/"+string(op), payload, e.IdempotencyKey(op))
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusConflict:
		c.logger.Debug().Str("job_id", e.JobID).Str("op", string(op)).Msg("ledger: operation already applied")
		return nil
	case status == http.StatusPaymentRequired:
		return ErrInsufficientTokens
	case status == http.StatusNotFound && op == OpRefund:
		return ErrNoDebit
	case status == http.StatusNotFound:
		return ErrUnknownAccount
	case status >= 300:
		return statusError(string(op), status, body)
	}
	return nil
}

// do performs the request, retrying transport errors and 5xx answers.
// Retrying mutations is safe because they are keyed.
func (c *HTTPClient) do(ctx context.Context, method, endpoint string, payload []byte, idemKey string) (int, []byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff.Delay(attempt)
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		status, body, err := c.once(ctx, method, endpoint, payload, idemKey)
		if err == nil && status < 500 {
			return status, body, nil
		}
		if err == nil {
			lastErr = statusError(method, status, body)
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		c.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Str("url", endpoint).Msg("ledger: request failed")
	}
	return 0, nil, lastErr
}

func (c *HTTPClient) once(ctx context.Context, method, endpoint string, payload []byte, idemKey string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("ledger: read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func statusError(op string, status int, body []byte) error {
	var detail errorResponse
	if err := json.Unmarshal(body, &detail); err == nil && detail.Error != "" {
		return fmt.Errorf("ledger: %s: status %d: %s", op, status, detail.Error)
	}
	return fmt.Errorf("ledger: %s: status %d", op, status)
}

var _ Accounts = (*HTTPClient)(nil)
