// Package portal provides a client for the advisor portal API.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
)

const (
	// DefaultTimeout is the default per-call HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// RefreshPath exchanges a token pair for a fresh idToken.
	RefreshPath = "/advisor/auth/refresh"

	// maxErrorBody bounds how much of an error response is kept and logged.
	maxErrorBody = 200
)

// Client is an advisor portal API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit paces calls to at most requestsPerSecond. Zero disables pacing.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
		} else {
			c.limiter = nil
		}
	}
}

// NewClient creates a new portal API client. Calls are unpaced unless
// WithRateLimit is given.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: arbor.NewLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents a non-2xx response from the portal API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portal API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Response is a successful data endpoint response.
type Response struct {
	StatusCode int
	Method     string
	URL        string
	Body       json.RawMessage
}

// Refresh exchanges the pair for a new idToken. Every failure wraps
// interfaces.ErrTokenRefresh; a non-2xx answer also carries an *APIError.
func (c *Client) Refresh(ctx context.Context, pair *models.TokenPair) (string, error) {
	if pair == nil {
		return "", fmt.Errorf("%w: no token pair", interfaces.ErrTokenRefresh)
	}

	payload := map[string]string{
		"idToken":      pair.IDToken,
		"refreshToken": pair.RefreshToken,
	}

	resp, err := c.do(ctx, http.MethodPost, RefreshPath, "", nil, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", interfaces.ErrTokenRefresh, err)
	}

	idToken := gjson.GetBytes(resp.Body, "idToken").String()
	if idToken == "" {
		return "", fmt.Errorf("%w: response contains no idToken", interfaces.ErrTokenRefresh)
	}
	return idToken, nil
}

// Call performs one data endpoint call with a bearer token. Success is a 2xx
// status with a body that is valid JSON.
func (c *Client) Call(ctx context.Context, token string, ep models.EndpointDescriptor) (*Response, error) {
	var body any
	if ep.Body != nil {
		body = ep.Body
	}
	return c.do(ctx, ep.HTTPMethod(), ep.Path, token, ep.Params, body)
}

// URL returns the absolute URL for path with params merged into its query
func (c *Client) URL(path string, params map[string]string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %s: %w", path, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path, token string, params map[string]string, payload any) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	reqURL, err := c.URL(path, params)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", reqURL).
		Msg("Portal API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    Truncate(string(data), maxErrorBody),
			Endpoint:   path,
		}
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON response from %s: %s", path, Truncate(string(data), maxErrorBody))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Method:     method,
		URL:        reqURL,
		Body:       data,
	}, nil
}

// Truncate shortens s to at most n bytes
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
