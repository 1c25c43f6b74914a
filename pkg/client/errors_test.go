package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   ErrorClass
	}{
		{name: "transport error", err: errors.New("connection refused"), expected: ErrorClassNetwork},
		{name: "forbidden", statusCode: 403, expected: ErrorClassClient},
		{name: "too many requests", statusCode: 429, expected: ErrorClassClient},
		{name: "server error", statusCode: 500, expected: ErrorClassServer},
		{name: "gateway timeout", statusCode: 504, expected: ErrorClassServer},
		{name: "unexpected 2xx", statusCode: 202, expected: ErrorClassStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.statusCode, tt.err); got != tt.expected {
				t.Errorf("classify(%d, %v) = %v, want %v", tt.statusCode, tt.err, got, tt.expected)
			}
		})
	}
}

func TestConfigurationError(t *testing.T) {
	err := error(&ConfigurationError{Field: "API key"})

	if !errors.Is(err, ErrConfiguration) {
		t.Error("ConfigurationError should match ErrConfiguration")
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("ConfigurationError should not match ErrRetryExhausted")
	}
	if err.Error() != "configuration error: request has no API key" {
		t.Errorf("Error() = %q", err.Error())
	}

	wrapped := fmt.Errorf("build request: %w", &ConfigurationError{Field: "endpoint", Err: errors.New("bad url")})
	if !errors.Is(wrapped, ErrConfiguration) {
		t.Error("wrapped ConfigurationError should match ErrConfiguration")
	}
	if !strings.Contains(wrapped.Error(), "bad url") {
		t.Errorf("Error() = %q, want cause", wrapped.Error())
	}
}

func TestTransportError(t *testing.T) {
	tests := []struct {
		name     string
		err      *TransportError
		expected string
	}{
		{
			name: "status error",
			err: &TransportError{
				StatusCode: 500,
				ErrorClass: ErrorClassServer,
				Message:    "500 Internal Server Error",
			},
			expected: "server error (status 500): 500 Internal Server Error",
		},
		{
			name: "wrapped transport error",
			err: &TransportError{
				ErrorClass: ErrorClassNetwork,
				Message:    "no response",
				Err:        errors.New("connection refused"),
			},
			expected: "network error (status 0): no response: connection refused",
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

func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := fmt.Errorf("%w after 4 attempts: %w", ErrRetryExhausted,
		&TransportError{ErrorClass: ErrorClassNetwork, Err: cause})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Error("should match ErrRetryExhausted")
	}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to the transport cause")
	}
	if classOf(err) != ErrorClassNetwork {
		t.Errorf("classOf() = %v, want network", classOf(err))
	}
}

func TestFailure_Summary(t *testing.T) {
	noResponse := Failure{Endpoint: "https://example.test/point", Attempts: 4}
	if !strings.Contains(noResponse.Summary(), "no response") {
		t.Errorf("Summary() = %q", noResponse.Summary())
	}

	forbidden := Failure{StatusCode: 403, Body: `{"detail":"Forbidden"}`}
	got := forbidden.Summary()
	if !strings.Contains(got, "403") || !strings.Contains(got, `{"detail":"Forbidden"}`) {
		t.Errorf("Summary() = %q", got)
	}
}
