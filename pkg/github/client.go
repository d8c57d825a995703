package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/ros-tooling/ci-for-pr/pkg/retry"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the default GitHub API base URL
	DefaultBaseURL = "https://api.github.com"

	// TokenEnv is the environment variable for the GitHub token
	TokenEnv = "GITHUB_ACCESS_TOKEN"

	// FallbackTokenEnv is consulted when TokenEnv is unset
	FallbackTokenEnv = "GITHUB_TOKEN"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 30 * time.Second
)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL for the GitHub API
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithTimeout sets a custom HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimitTracking enables rate limit tracking
func WithRateLimitTracking(enabled bool) ClientOption {
	return func(c *Client) {
		if enabled && c.rateLimitTracker == nil {
			c.rateLimitTracker = NewRateLimitTracker()
		}
	}
}

// WithRetryConfig configures retry behavior
func WithRetryConfig(config *retry.Config) ClientOption {
	return func(c *Client) {
		c.retryConfig = config
	}
}

// Client is the source-hosting adapter. It supports both direct HTTP and go-github.
//
// The client provides:
//   - Direct HTTP access via NewRequest/Do methods
//   - Lazy-loaded go-github client via GitHubClient() for typed operations
//   - Rate limit tracking (when enabled via WithRateLimitTracking)
//   - Retry logic with exponential backoff (when configured via WithRetryConfig)
//
// Example:
//
//	client := github.NewClient(token,
//	    github.WithRateLimitTracking(true),
//	    github.WithRetryConfig(retry.DefaultConfig()),
//	)
type Client struct {
	token            string
	baseURL          string
	httpClient       *http.Client
	timeout          time.Duration
	rateLimitTracker *RateLimitTracker
	retryConfig      *retry.Config

	ghOnce       sync.Once
	githubClient *github.Client
}

// NewClient creates a new GitHub API client with the given token
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.httpClient.Timeout == 0 {
		c.httpClient.Timeout = c.timeout
	}

	return c
}

// TokenFromEnv returns the token from GITHUB_ACCESS_TOKEN or GITHUB_TOKEN.
func TokenFromEnv() (string, error) {
	token := os.Getenv(TokenEnv)
	if token == "" {
		token = os.Getenv(FallbackTokenEnv)
	}
	if token == "" {
		return "", fmt.Errorf("%s or %s environment variable is required", TokenEnv, FallbackTokenEnv)
	}
	return token, nil
}

// GetToken returns the client's authentication token
func (c *Client) GetToken() string {
	return c.token
}

// BaseURL returns the API endpoint in use.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetRateLimitStatus returns the current rate limit status
func (c *Client) GetRateLimitStatus() RateLimitStatus {
	if c.rateLimitTracker == nil {
		return RateLimitStatus{}
	}
	return c.rateLimitTracker.GetStatus()
}

// GitHubClient returns the underlying go-github client (lazy-loaded).
// It shares the configured HTTP client, so test transports and timeouts
// apply to go-github calls as well.
func (c *Client) GitHubClient() *github.Client {
	c.ghOnce.Do(func() {
		httpClient := c.httpClient
		if c.token != "" {
			ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token})
			httpClient = oauth2.NewClient(ctx, ts)
			httpClient.Timeout = c.httpClient.Timeout
		}
		c.githubClient = github.NewClient(httpClient)

		if c.baseURL != DefaultBaseURL && c.baseURL != "" {
			parsedURL, err := url.Parse(c.baseURL + "/")
			if err == nil {
				c.githubClient.BaseURL = parsedURL
				c.githubClient.UploadURL = parsedURL
			}
		}
	})
	return c.githubClient
}

// NewRequest creates a new HTTP request with proper authentication
func (c *Client) NewRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)
	return req, nil
}

// Do sends an HTTP request and returns the response.
// Requests with a body are sent once; only bodiless requests are retried.
func (c *Client) Do(req *http.Request, result interface{}) (*ClientResponse, error) {
	var lastErr error

	if c.rateLimitTracker != nil {
		if err := c.rateLimitTracker.WaitForRateLimitReset(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	maxAttempts := c.retryConfig.Attempts()
	if req.Body != nil && req.GetBody == nil {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.retryConfig.Wait(req.Context(), attempt-1); err != nil {
				return nil, err
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to rewind request body: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if retry.IsRetryableError(err) && attempt < maxAttempts-1 {
				continue
			}
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if c.rateLimitTracker != nil {
			c.rateLimitTracker.Update(resp)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			apiErr := parseErrorResponse(resp.StatusCode, body)

			if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
				if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
					if resetInt, err := strconv.ParseInt(reset, 10, 64); err == nil {
						apiErr.RateLimit = &RateLimitInfo{
							Limit:     c.GetRateLimitStatus().Limit,
							Remaining: 0,
							Reset:     resetInt,
						}
					}
				}
			}

			lastErr = apiErr
			if c.retryConfig.ShouldRetry(resp.StatusCode) && attempt < maxAttempts-1 {
				continue
			}

			return nil, apiErr
		}

		clientResp := &ClientResponse{Response: resp}

		if result != nil {
			if err := clientResp.DecodeJSON(result); err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
		}

		return clientResp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// setHeaders sets common headers for GitHub API requests
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
}

// ClientResponse wraps an HTTP response with additional methods
type ClientResponse struct {
	*http.Response
	closeOnce sync.Once
}

// DecodeJSON decodes the response body as JSON
func (r *ClientResponse) DecodeJSON(v interface{}) error {
	defer r.Close()
	return json.NewDecoder(r.Response.Body).Decode(v)
}

// ReadAll reads the entire response body
func (r *ClientResponse) ReadAll() ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r.Response.Body)
}

// Close closes the response body (idempotent)
func (r *ClientResponse) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.Response != nil && r.Response.Body != nil {
			err = r.Response.Body.Close()
		}
	})
	return err
}
