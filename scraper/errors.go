package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrServer indicates a 5xx response.
type ErrServer struct {
	Err error
}

func (e ErrServer) Error() string {
	return fmt.Errorf("server: %w", e.Err).Error()
}

func (e ErrServer) Unwrap() error {
	return e.Err
}

// ErrClientStatus indicates any other 4xx response.
type ErrClientStatus struct {
	Err error
}

func (e ErrClientStatus) Error() string {
	return fmt.Errorf("client_status: %w", e.Err).Error()
}

func (e ErrClientStatus) Unwrap() error {
	return e.Err
}

// Outcome classifies a fetch attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// FetchError is the terminal failure of a fetch after any retries.
type FetchError struct {
	URL      string
	Outcome  Outcome
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.URL, e.Outcome, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure was transient.
func (e *FetchError) Retryable() bool {
	return e.Outcome == OutcomeRetryable
}

func outcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, context.Canceled) {
		return OutcomeFatal
	}
	var (
		timeout     ErrTimeout
		conn        ErrConnection
		rateLimited ErrRateLimited
		server      ErrServer
	)
	switch {
	case errors.As(err, &timeout), errors.As(err, &conn), errors.As(err, &rateLimited), errors.As(err, &server):
		return OutcomeRetryable
	}
	return OutcomeFatal
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server"
	}
	var client ErrClientStatus
	if errors.As(err, &client) {
		return "client_status"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "other"
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode < http.StatusBadRequest {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrConnection{Err: err}
	}

	if statusCode >= http.StatusBadRequest {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Err: wrapped}
		default:
			return ErrClientStatus{Err: wrapped}
		}
	}

	return err
}
