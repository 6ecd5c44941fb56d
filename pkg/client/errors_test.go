package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		attempt    int
		allowance  int
		expected   bool
	}{
		{"rate limit without allowance", ErrorClassRateLimit, 0, 0, false},
		{"rate limit within allowance", ErrorClassRateLimit, 0, 1, true},
		{"rate limit allowance used", ErrorClassRateLimit, 1, 1, false},
		{"server error never retried", ErrorClassServer, 0, 3, false},
		{"network error never retried", ErrorClassNetwork, 0, 3, false},
		{"client error never retried", ErrorClassClient, 0, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shouldRetry(tt.errorClass, tt.attempt, tt.allowance)
			if result != tt.expected {
				t.Errorf("shouldRetry(%q, %d, %d) = %v, want %v",
					tt.errorClass, tt.attempt, tt.allowance, result, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.expected {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestUpstreamError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *UpstreamError
		expected string
	}{
		{
			name: "error with wrapped error",
			err: &UpstreamError{
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        errors.New("connection refused"),
			},
			expected: "openalex network error (status 0): request failed: connection refused",
		},
		{
			name: "error without wrapped error",
			err: &UpstreamError{
				StatusCode: 429,
				ErrorClass: ErrorClassRateLimit,
				Message:    "429 Too Many Requests",
			},
			expected: "openalex rate_limit error (status 429): 429 Too Many Requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUpstreamError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := fmt.Errorf("wrapped: %w", &UpstreamError{ErrorClass: ErrorClassDecode, Err: inner})

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
	if got := classOf(err); got != ErrorClassDecode {
		t.Errorf("classOf = %q, want %q", got, ErrorClassDecode)
	}
	if got := classOf(errors.New("plain")); got != ErrorClassNetwork {
		t.Errorf("classOf(plain) = %q, want %q", got, ErrorClassNetwork)
	}
}
