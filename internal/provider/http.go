package provider

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

	"golang.org/x/time/rate"

	"github.com/yeoskin/backend/internal/models"
)

type HTTPConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// HTTPClient is the JSON-over-HTTP adapter. Calls are throttled client-side so batch
// fan-out stays under the provider's rate limit.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) Initiate(ctx context.Context, req TransferRequest) (*Transfer, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal transfer request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/v1/transfers", body, req.IdempotencyKey)
}

func (c *HTTPClient) Get(ctx context.Context, transferID string) (*Transfer, error) {
	return c.do(ctx, http.MethodGet, "/v1/transfers/"+url.PathEscape(transferID), nil, "")
}

func (c *HTTPClient) Lookup(ctx context.Context, idempotencyKey string) (*Transfer, error) {
	t, err := c.do(ctx, http.MethodGet, "/v1/transfers?idempotency_key="+url.QueryEscape(idempotencyKey), nil, "")
	var pe *models.ProviderError
	if errors.As(err, &pe) && pe.HTTPStatus == http.StatusNotFound {
		return nil, ErrTransferNotFound
	}
	return t, err
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, idempotencyKey string) (*Transfer, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("provider rate limiter: %w", err)
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// A canceled caller is not a provider failure.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, &models.ProviderError{Class: models.ProviderTransient, Code: "network", Message: err.Error()}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &models.ProviderError{Class: models.ProviderTransient, Code: "network", Message: err.Error(), HTTPStatus: resp.StatusCode}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var t Transfer
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, &models.ProviderError{Class: models.ProviderTransient, Code: "bad_response", Message: err.Error(), HTTPStatus: resp.StatusCode}
		}
		if !ValidStatus(t.Status) {
			return nil, &models.ProviderError{Class: models.ProviderTransient, Code: "bad_response", Message: fmt.Sprintf("unknown transfer status %q", t.Status), HTTPStatus: resp.StatusCode}
		}
		return &t, nil
	}

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	if eb.Message == "" {
		eb.Message = http.StatusText(resp.StatusCode)
	}
	return nil, &models.ProviderError{
		Class:      Classify(resp.StatusCode),
		Code:       eb.Code,
		Message:    eb.Message,
		HTTPStatus: resp.StatusCode,
	}
}

// Classify maps a provider HTTP status to an error class.
func Classify(status int) models.ProviderErrorClass {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly, status == http.StatusTooManyRequests:
		return models.ProviderTransient
	case status >= 500:
		return models.ProviderTransient
	default:
		return models.ProviderPermanent
	}
}
