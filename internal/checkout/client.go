package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SessionRequest describes a checkout the frontend wants to start.
type SessionRequest struct {
	UserID  string
	PriceID string
	Mode    string // "subscription" (default) or "payment"
}

// Session is the provider's created checkout session, reduced to what the
// frontend needs to redirect the user.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Client creates checkout sessions at the payment provider. The user ID is
// threaded through as client_reference_id so the completed-payment event can
// be correlated back to an account.
type Client struct {
	http      HTTPClient
	baseURL   string
	secretKey string
	siteURL   string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used to reach the provider.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURL overrides the provider API base URL. Useful for tests.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// NewClient constructs a checkout client.
func NewClient(secretKey, siteURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, errors.New("checkout: provider secret key is required")
	}
	if strings.TrimSpace(siteURL) == "" {
		return nil, errors.New("checkout: site URL is required")
	}
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		baseURL:   "https://api.stripe.com",
		secretKey: strings.TrimSpace(secretKey),
		siteURL:   strings.TrimRight(siteURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateSession starts a checkout at the provider and returns the session
// the user should be redirected to. One request, no retry: the browser
// re-submits on failure.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if req.UserID == "" {
		return nil, errors.New("checkout: user id is required")
	}
	if req.PriceID == "" {
		return nil, errors.New("checkout: price id is required")
	}
	mode := "subscription"
	if req.Mode == "payment" {
		mode = "payment"
	}

	params := url.Values{}
	params.Set("mode", mode)
	params.Set("payment_method_types[0]", "card")
	params.Set("line_items[0][price]", req.PriceID)
	params.Set("line_items[0][quantity]", "1")
	params.Set("client_reference_id", req.UserID)
	params.Set("success_url", c.siteURL+"/?checkout=success")
	params.Set("cancel_url", c.siteURL+"/?checkout=cancel")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("checkout: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("checkout: create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("checkout: provider responded %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var session Session
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&session); err != nil {
		return nil, fmt.Errorf("checkout: decode session: %w", err)
	}
	if session.URL == "" {
		return nil, errors.New("checkout: provider returned session without redirect url")
	}
	return &session, nil
}
