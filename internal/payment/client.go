// Package payment is a thin HTTP client for the hosted payment gateway
// (Stripe-compatible REST surface). It deliberately avoids the full SDK:
// the backend only creates payment intents and looks up promotion codes, and
// a small client keeps the request surface auditable.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.stripe.com"
	defaultVersion = "2024-06-20"
)

// Client is a thin HTTP client for the gateway API. All requests are
// authenticated with the secret key and pinned to an API version.
type Client struct {
	BaseURL string
	Version string
	secret  string
	httpc   *http.Client
}

// NewClient creates a gateway client with the given secret key.
func NewClient(secret string, opts ...Option) *Client {
	c := &Client{
		BaseURL: defaultBaseURL,
		Version: defaultVersion,
		secret:  secret,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host (test server, mock).
func WithBaseURL(u string) Option { return func(c *Client) { c.BaseURL = strings.TrimRight(u, "/") } }

// WithVersion pins a specific gateway API version.
func WithVersion(v string) Option { return func(c *Client) { c.Version = v } }

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpc = h } }

// Error is a decoded gateway API error.
type Error struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error (%d %s): %s", e.HTTPStatus, e.Code, e.Message)
}

// Post sends a form-encoded POST. An Idempotency-Key header is set when
// idemKey is non-empty so retries cannot double-create resources.
func (c *Client) Post(ctx context.Context, path string, params Params, idemKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	return c.do(req)
}

// Get sends a GET with the params encoded into the query string.
func (c *Client) Get(ctx context.Context, path string, params Params) (*http.Response, error) {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Stripe-Version", c.Version)
	return c.httpc.Do(req)
}

// decode reads the response body into out, converting non-2xx responses into
// *Error values.
func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var wrapper struct {
			Error Error `json:"error"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.Error.Message == "" {
			return &Error{Type: "api_error", Message: strings.TrimSpace(string(body)), HTTPStatus: resp.StatusCode}
		}
		wrapper.Error.HTTPStatus = resp.StatusCode
		return &wrapper.Error
	}
	return json.Unmarshal(body, out)
}
