// Package upstream implements the HTTP client for the professional-network
// API.
//
// The client issues authenticated GET requests with a bounded connect and
// overall timeout, decodes JSON responses into typed models, and converts
// non-2xx responses into *StatusError values that carry the status code and
// any Retry-After the server supplied. Those errors classify themselves for
// the retry package: 429 and 5xx-class statuses are temporary, other 4xx are
// not.
//
// The client performs no rate limiting, caching, or retrying of its own;
// compose it behind a gatekit.Client for that.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Default endpoint paths on the upstream API.
const (
	SearchPath  = "/v2/search"
	ProfilePath = "/v2/profile"
	HealthPath  = "/v2/health"
)

const (
	// DefaultConnectTimeout bounds TCP connection establishment.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultRequestTimeout bounds a whole request including body read.
	DefaultRequestTimeout = 35 * time.Second

	// maxErrorBody caps how much of an error response body is retained
	// for diagnostics.
	maxErrorBody = 512
)

// StatusError is a non-2xx response from the upstream API.
type StatusError struct {
	StatusCode int
	// RetryAfterDelay is the parsed Retry-After header, zero when absent.
	RetryAfterDelay time.Duration
	// Body holds a truncated copy of the response body for diagnostics.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether the status indicates a transient condition worth
// retrying: 429 or one of the retryable 5xx statuses.
func (e *StatusError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// RetryAfter returns the server-mandated minimum delay before the next
// attempt, when the response carried one.
func (e *StatusError) RetryAfter() (time.Duration, bool) {
	if e.RetryAfterDelay > 0 {
		return e.RetryAfterDelay, true
	}
	return 0, false
}

// Config holds the connection settings for the upstream API.
type Config struct {
	// BaseURL is the API origin, e.g. "https://api.example.com".
	BaseURL string

	// AccessToken is sent as a bearer token on every request.
	AccessToken string

	// ConnectTimeout bounds TCP connect (default 5s).
	ConnectTimeout time.Duration

	// RequestTimeout bounds the whole request (default 35s).
	RequestTimeout time.Duration
}

// Client is a thin, connection-pooled HTTP client for the upstream API.
// It is safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// New creates a Client from config.
func New(config Config) *Client {
	connectTimeout := config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	requestTimeout := config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
		baseURL: config.BaseURL,
		token:   config.AccessToken,
	}
}

// GetJSON issues a GET to path with params and decodes the JSON response
// into out. Non-2xx responses return a *StatusError; a body that fails to
// decode returns a plain (permanent) error.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			StatusCode:      resp.StatusCode,
			RetryAfterDelay: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:            string(body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// parseRetryAfter handles both delay-seconds and HTTP-date forms.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
