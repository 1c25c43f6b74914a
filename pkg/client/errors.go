package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrConfiguration marks requests that cannot be sent at all. They are never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrRetryExhausted is returned when a bounded retry cycle ends without success.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrAbandoned is returned when the decider gives up on a request.
	ErrAbandoned = errors.New("request abandoned")

	// ErrInterrupted is returned when the context is cancelled during a request,
	// a backoff sleep or a decision prompt.
	ErrInterrupted = errors.New("request interrupted")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassStatus represents any other status outside the allow-list.
	ErrorClassStatus ErrorClass = "status"
)

// ConfigurationError reports a request missing its endpoint, payload or key.
type ConfigurationError struct {
	Field string
	Err   error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("configuration error: request has no %s", e.Field)
}

// Is reports ErrConfiguration as a match.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TransportError is one failed attempt: a transport failure or a status
// outside the allow-list. Both are retried.
type TransportError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// classify categorizes a failed attempt for observability.
func classify(statusCode int, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassStatus
	}
}

// classOf extracts the class of a failed attempt.
func classOf(err error) ErrorClass {
	var te *TransportError
	if errors.As(err, &te) {
		return te.ErrorClass
	}
	return ErrorClassNetwork
}

// Failure summarizes a request whose retries ran out. It is what the
// operator sees before deciding how to continue.
type Failure struct {
	Endpoint   string
	StatusCode int
	Body       string
	Attempts   int
	Err        error
}

// Summary renders the failure for the operator.
func (f Failure) Summary() string {
	if f.StatusCode == 0 {
		return "Received no response from server. Please check your internet connection."
	}
	return fmt.Sprintf("Request failed with status code %d (%s). %s",
		f.StatusCode, http.StatusText(f.StatusCode), f.Body)
}
