package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// CodeRateLimited is the catalog error code for an exhausted request quota.
const CodeRateLimited = 138

// Common errors returned by the client.
var (
	// ErrAuthRejected is returned when the token endpoint refuses the configured credentials.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrMalformedResponse is returned when a success response lacks the expected fields.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrDownloadStalled is returned when a download receives no data within
	// the idle timeout.
	ErrDownloadStalled = errors.New("download stalled")
)

// ErrorClass represents a classification of catalog errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents error code 138.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassAuth represents 401/403 responses and token endpoint refusals.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError represents a catalog error with the service's error payload.
type APIError struct {
	StatusCode   int
	Code         int
	SpecificCode int
	Name         string
	Description  string
	ErrorClass   ErrorClass
	Message      string
	Err          error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Name
	}
	if e.Description != "" && e.Description != e.Name {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		return fmt.Sprintf("sierra %s error (status %d, code %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Code, msg, e.Err)
	}
	return fmt.Sprintf("sierra %s error (status %d, code %d): %s",
		e.ErrorClass, e.StatusCode, e.Code, msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether the service asked for a cool-down.
func (e *APIError) IsRateLimited() bool {
	return e.Code == CodeRateLimited
}

// IsRateLimited reports whether err carries catalog error code 138.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRateLimited()
}

// errorFromResponse decodes the catalog error payload, tolerating non-JSON bodies.
func errorFromResponse(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		apiErr.Code = int(parsed.Get("code").Int())
		apiErr.SpecificCode = int(parsed.Get("specificCode").Int())
		apiErr.Name = parsed.Get("name").String()
		apiErr.Description = parsed.Get("description").String()
	}
	if apiErr.Name == "" {
		apiErr.Name = http.StatusText(statusCode)
	}
	if statusCode == http.StatusOK {
		apiErr.Err = ErrMalformedResponse
	}

	apiErr.ErrorClass = classifyError(statusCode, apiErr.Code)
	return apiErr
}

// classifyError categorizes a response for observability and retry decisions.
func classifyError(statusCode, code int) ErrorClass {
	switch {
	case code == CodeRateLimited:
		return ErrorClassRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorClassAuth
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// shouldRetry determines if a token or query call should be retried based on
// its classification. Export failures are retried by the batch fetcher instead.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer:
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}
