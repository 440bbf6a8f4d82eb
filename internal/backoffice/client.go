package backoffice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/metrics"
)

const (
	defaultBaseURL         = "http://127.0.0.1:3000"
	defaultTimeout         = 15 * time.Second
	responseBodyReadLimit  = 64 * 1024
	errorSnippetReadLimit  = 1024
	salesPath              = "/api/pos/sales"
	stkPushPath            = "/api/payments/mpesa/stkpush"
	stkQueryPath           = "/api/payments/mpesa/stkquery"
	pesapalSubmitOrderPath = "/api/payments/pesapal/submitorder"
	pesapalStatusPath      = "/api/payments/pesapal/status"
	expensesPath           = "/api/expenses"
)

// Client talks to the back-office collaborator endpoints: sale commit, the
// M-PESA and Pesapal payment proxies and the expense ledger.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	metrics    *metrics.POSMetrics
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sends the token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout replaces the timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithMetrics records per-operation request durations.
func WithMetrics(m *metrics.POSMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client
}

// envelope is the error shape shared by every collaborator response.
type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e envelope) failed() bool {
	return e.Success != nil && !*e.Success
}

func (e envelope) reason(fallback string) string {
	if msg := strings.TrimSpace(e.Error); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	return fallback
}

type requestOptions struct {
	idempotencyKey string
}

// post sends payload as JSON and decodes a 2xx body into out. Transport
// failures, non-2xx answers and undecodable bodies all surface as gateway
// errors.
func (c *Client) post(ctx context.Context, gateway string, operation string, path string, payload any, out any, ro requestOptions) error {
	started := time.Now()
	defer func() {
		c.metrics.ObserveGatewayRequest(gateway, operation, time.Since(started))
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "encode "+operation+" request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "build "+operation+" request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if ro.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", ro.idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.Gateway(err, operation+" request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return apperror.Gateway(err, "read "+operation+" response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env envelope
		_ = json.Unmarshal(raw, &env)
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > errorSnippetReadLimit {
			snippet = snippet[:errorSnippetReadLimit]
		}
		return apperror.Gateway(
			fmt.Errorf("status %d: %s", resp.StatusCode, snippet),
			env.reason(operation+" rejected by back-office"),
		)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperror.Gateway(err, "decode "+operation+" response")
	}
	return nil
}

var errMissingField = errors.New("required field missing")
