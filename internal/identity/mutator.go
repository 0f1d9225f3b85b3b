package identity

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

	"github.com/gyaneshwarpardhi/rolegrant/internal/retry"
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// EndpointResolver turns a user ID into the per-user resource URL. Which
// address scheme is in effect (per-site admin API, per-account API, proxy)
// is a deployment concern; the mutator stays agnostic.
type EndpointResolver func(userID string) string

// BaseEndpointResolver resolves users under a fixed base URL, e.g.
// "https://example.com/.netlify/identity/admin/users".
func BaseEndpointResolver(base string) EndpointResolver {
	base = strings.TrimRight(base, "/")
	return func(userID string) string {
		return base + "/" + url.PathEscape(userID)
	}
}

// Mutation is the desired target role set for a user. Applying it twice
// yields the same end state: it sets the role list, it does not append.
type Mutation struct {
	Roles []string
}

// GrantRoles builds a mutation that sets the given roles.
func GrantRoles(roles ...string) Mutation {
	return Mutation{Roles: append([]string(nil), roles...)}
}

// Client issues role mutations against the identity store. A single Apply
// call performs exactly one request; looping on transient failures belongs
// to the retry controller, not here.
type Client struct {
	http         HTTPClient
	resolve      EndpointResolver
	tokens       TokenProvider
	maxBodyBytes int64
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used to reach the store.
func WithHTTPClient(hc HTTPClient) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBodyLimit adjusts how many bytes of an error response body are read
// for diagnostics.
func WithBodyLimit(limit int64) ClientOption {
	return func(c *Client) {
		if limit > 0 {
			c.maxBodyBytes = limit
		}
	}
}

// NewClient constructs a store client.
func NewClient(resolve EndpointResolver, tokens TokenProvider, opts ...ClientOption) (*Client, error) {
	if resolve == nil {
		return nil, errors.New("identity: endpoint resolver is required")
	}
	if tokens == nil {
		return nil, errors.New("identity: token provider is required")
	}
	c := &Client{
		http:         &http.Client{Timeout: 30 * time.Second},
		resolve:      resolve,
		tokens:       tokens,
		maxBodyBytes: 4 * 1024,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type mutationBody struct {
	AppMetadata struct {
		Roles []string `json:"roles"`
	} `json:"app_metadata"`
}

// Apply issues one PUT to the user's resource and classifies the response.
//
// Classification encodes what we know about the store's behavior: a 404 may
// just mean the freshly created account has not propagated yet, and a 429
// means back off — both are worth retrying. Credential rejections and any
// other unexpected status are terminal and surfaced for operator attention.
func (c *Client) Apply(ctx context.Context, userID string, m Mutation) retry.Outcome {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return retry.Outcome{Class: retry.ClassTerminal, Reason: fmt.Sprintf("mint admin token: %v", err)}
	}

	body := mutationBody{}
	body.AppMetadata.Roles = m.Roles
	if body.AppMetadata.Roles == nil {
		body.AppMetadata.Roles = []string{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return retry.Outcome{Class: retry.ClassTerminal, Reason: fmt.Sprintf("encode mutation: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resolve(userID), bytes.NewReader(payload))
	if err != nil {
		return retry.Outcome{Class: retry.ClassTerminal, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return retry.Outcome{Class: retry.ClassRetryable, Reason: fmt.Sprintf("transport: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodyBytes))
		return retry.Outcome{Class: retry.ClassSuccess, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return retry.Outcome{Class: retry.ClassRetryable, Status: resp.StatusCode, Reason: "user not found (may not have propagated yet)"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.Outcome{Class: retry.ClassRetryable, Status: resp.StatusCode, Reason: "rate limited"}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return retry.Outcome{Class: retry.ClassTerminal, Status: resp.StatusCode, Reason: "store rejected admin credentials"}
	default:
		return retry.Outcome{Class: retry.ClassTerminal, Status: resp.StatusCode, Reason: readSnippet(resp.Body, c.maxBodyBytes)}
	}
}

// readSnippet pulls a bounded chunk of an error body for logs.
func readSnippet(r io.Reader, limit int64) string {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil || len(data) == 0 {
		return "unexpected status"
	}
	return string(data)
}
