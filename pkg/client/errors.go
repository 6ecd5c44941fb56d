package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by the client.
var (
	// ErrContactRequired is returned when no polite-pool contact is configured.
	ErrContactRequired = errors.New("openalex contact is required")

	// ErrBackoffTooShort is returned when the 429 backoff is not longer than the spacing.
	ErrBackoffTooShort = errors.New("rate limit backoff must exceed min spacing")
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents an unreadable 200 response body.
	ErrorClassDecode ErrorClass = "decode"
)

// UpstreamError describes one failed upstream call.
type UpstreamError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	// RetryAfter is the server hint on 429 responses, 0 when absent.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("openalex %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("openalex %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-200 HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ErrorClassDecode
	}
}

// classOf extracts the class of err, treating unknown errors as network.
func classOf(err error) ErrorClass {
	var uerr *UpstreamError
	if errors.As(err, &uerr) {
		return uerr.ErrorClass
	}
	return ErrorClassNetwork
}
