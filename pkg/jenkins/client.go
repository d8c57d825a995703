// Package jenkins is a small Jenkins REST client covering what is needed to
// start parameterized jobs and follow their builds.
package jenkins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ros-tooling/ci-for-pr/pkg/retry"
)

// DefaultTimeout is the default HTTP timeout
const DefaultTimeout = 30 * time.Second

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets a custom HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithCredentials authenticates every request with HTTP basic auth.
func WithCredentials(user, token string) ClientOption {
	return func(c *Client) {
		c.user = user
		c.token = token
	}
}

// WithRetryConfig configures retry behavior
func WithRetryConfig(config *retry.Config) ClientOption {
	return func(c *Client) {
		c.retryConfig = config
	}
}

// WithRequestsPerSecond throttles requests to the server. Zero disables it.
func WithRequestsPerSecond(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// Client talks to one Jenkins server.
type Client struct {
	baseURL     string
	user        string
	token       string
	httpClient  *http.Client
	timeout     time.Duration
	retryConfig *retry.Config
	limiter     *rate.Limiter

	crumbMu    sync.Mutex
	crumbField string
	crumb      string
	crumbDone  bool
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		// Crumbs are bound to the session cookie.
		jar, _ := cookiejar.New(nil)
		c.httpClient = &http.Client{Jar: jar}
	}
	if c.httpClient.Timeout == 0 {
		c.httpClient.Timeout = c.timeout
	}

	return c
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx answer from Jenkins.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("Jenkins API error (%s %s, status %d): %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("Jenkins API error (%s %s, status %d)", e.Method, e.URL, e.StatusCode)
}

// IsNotFoundError returns true if the error is a not found error
func IsNotFoundError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// jobPath maps "folder/job" to "job/folder/job/job".
func jobPath(name string) string {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	var b strings.Builder
	for _, p := range parts {
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.user != "" || c.token != "" {
		req.SetBasicAuth(c.user, c.token)
	}
	return req, nil
}

// do sends req with throttling and retries and returns the open response.
// Only GET requests are retried; a repeated POST could queue a second build.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	maxAttempts := c.retryConfig.Attempts()
	if req.Method != http.MethodGet {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.retryConfig.Wait(req.Context(), attempt-1); err != nil {
				return nil, err
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(req.Context()); err != nil {
				return nil, fmt.Errorf("rate limit wait failed: %w", err)
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

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()

			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Method:     req.Method,
				URL:        req.URL.Path,
				Message:    strings.TrimSpace(string(body)),
			}
			lastErr = apiErr
			if c.retryConfig.ShouldRetry(resp.StatusCode) && attempt < maxAttempts-1 {
				continue
			}
			return nil, apiErr
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// crumbHeader returns the CSRF crumb header, fetching it once. Servers with
// CSRF protection disabled answer 404 and get no header.
func (c *Client) crumbHeader(ctx context.Context) (string, string, error) {
	c.crumbMu.Lock()
	defer c.crumbMu.Unlock()

	if c.crumbDone {
		return c.crumbField, c.crumb, nil
	}

	var crumb struct {
		Crumb             string `json:"crumb"`
		CrumbRequestField string `json:"crumbRequestField"`
	}
	err := c.getJSON(ctx, "/crumbIssuer/api/json", &crumb)
	switch {
	case IsNotFoundError(err):
	case err != nil:
		return "", "", fmt.Errorf("failed to fetch crumb: %w", err)
	default:
		c.crumbField, c.crumb = crumb.CrumbRequestField, crumb.Crumb
	}
	c.crumbDone = true
	return c.crumbField, c.crumb, nil
}

// JobParameters returns the default value of every parameter of job.
func (c *Client) JobParameters(ctx context.Context, job string) (map[string]string, error) {
	var info struct {
		Property []struct {
			ParameterDefinitions []struct {
				Name                  string `json:"name"`
				DefaultParameterValue *struct {
					Value any `json:"value"`
				} `json:"defaultParameterValue"`
			} `json:"parameterDefinitions"`
		} `json:"property"`
	}

	path := jobPath(job) + "/api/json?tree=property[parameterDefinitions[name,defaultParameterValue[value]]]"
	if err := c.getJSON(ctx, path, &info); err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", job, err)
	}

	params := make(map[string]string)
	for _, prop := range info.Property {
		for _, def := range prop.ParameterDefinitions {
			value := ""
			if def.DefaultParameterValue != nil && def.DefaultParameterValue.Value != nil {
				value = fmt.Sprint(def.DefaultParameterValue.Value)
			}
			params[def.Name] = value
		}
	}
	return params, nil
}

// BuildWithParameters queues job and returns the queue item id.
func (c *Client) BuildWithParameters(ctx context.Context, job string, params map[string]string) (int64, error) {
	field, crumb, err := c.crumbHeader(ctx)
	if err != nil {
		return 0, err
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := c.newRequest(ctx, http.MethodPost, jobPath(job)+"/buildWithParameters", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if field != "" {
		req.Header.Set(field, crumb)
	}

	resp, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to queue %s: %w", job, err)
	}
	resp.Body.Close()

	id, err := queueIDFromLocation(resp.Header.Get("Location"))
	if err != nil {
		return 0, fmt.Errorf("failed to queue %s: %w", job, err)
	}
	return id, nil
}

// queueIDFromLocation extracts 42 from ".../queue/item/42/".
func queueIDFromLocation(location string) (int64, error) {
	if location == "" {
		return 0, errors.New("response has no Location header")
	}
	parts := strings.Split(strings.Trim(location, "/"), "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == "item" {
			return strconv.ParseInt(parts[i+1], 10, 64)
		}
	}
	return 0, fmt.Errorf("unexpected queue location %q", location)
}

// QueueItem returns a queue item. Jenkins forgets items a few minutes after
// they leave the queue; those answer 404.
func (c *Client) QueueItem(ctx context.Context, id int64) (*QueueItem, error) {
	var item QueueItem
	if err := c.getJSON(ctx, fmt.Sprintf("/queue/item/%d/api/json", id), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Build returns the status of a build.
func (c *Client) Build(ctx context.Context, job string, number int) (*Build, error) {
	var b Build
	path := fmt.Sprintf("%s/%d/api/json?tree=number,url,building,result", jobPath(job), number)
	if err := c.getJSON(ctx, path, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ConsoleText returns the full console log of a build.
func (c *Client) ConsoleText(ctx context.Context, job string, number int) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("%s/%d/consoleText", jobPath(job), number), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read console: %w", err)
	}
	return string(data), nil
}
