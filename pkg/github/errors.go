package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v68/github"
)

// APIError represents a GitHub API error response
type APIError struct {
	StatusCode int
	Message    string
	Errors     []APIErrorDetail `json:"errors,omitempty"`
	// Rate limit information when rate limited
	RateLimit *RateLimitInfo
}

// APIErrorDetail represents individual error details from GitHub
type APIErrorDetail struct {
	Resource string `json:"resource"`
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// RateLimitInfo contains rate limit information from response headers
type RateLimitInfo struct {
	Limit     int
	Remaining int
	Reset     int64 // Unix timestamp
	Used      int
}

// Error returns the error message
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("GitHub API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("GitHub API error (status %d)", e.StatusCode)
}

// StatusCode extracts the HTTP status of err, looking through both our
// APIError and go-github's ErrorResponse. Returns 0 when unknown.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

// IsRateLimitError returns true if the error is a rate limit error
func IsRateLimitError(err error) bool {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if apiErr.StatusCode == http.StatusForbidden && apiErr.RateLimit != nil {
			return true
		}
	}
	return false
}

// IsNotFoundError returns true if the error is a not found error
func IsNotFoundError(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsAuthenticationError returns true if the error is an authentication error
func IsAuthenticationError(err error) bool {
	if IsRateLimitError(err) {
		return false
	}
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// parseErrorResponse parses an error response from GitHub
func parseErrorResponse(statusCode int, body []byte) *APIError {
	var apiErr APIError
	apiErr.StatusCode = statusCode

	var githubErr struct {
		Message string           `json:"message"`
		Errors  []APIErrorDetail `json:"errors"`
	}
	if err := json.Unmarshal(body, &githubErr); err == nil {
		apiErr.Message = githubErr.Message
		apiErr.Errors = githubErr.Errors
	} else {
		apiErr.Message = string(body)
	}

	return &apiErr
}
