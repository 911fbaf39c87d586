package broker

import (
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

// ClientError is a 4xx response other than 429. It is never retried.
type ClientError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s %s: client error %d: %s", e.Method, e.Path, e.StatusCode, truncate(e.Body))
}

func (e *ClientError) Is(target error) bool {
	if target == domain.ErrClient {
		return true
	}
	return target == domain.ErrAuth && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// ServerError is a 5xx response that survived every retry.
type ServerError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
	Attempts   int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s %s: server error %d after %d attempts: %s", e.Method, e.Path, e.StatusCode, e.Attempts, truncate(e.Body))
}

func (e *ServerError) Is(target error) bool { return target == domain.ErrServer }

// RateLimitError means the API kept answering 429 until attempts ran out.
type RateLimitError struct {
	Method     string
	Path       string
	RetryAfter time.Duration
	Attempts   int
	Body       []byte
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s %s: rate limited after %d attempts (retry after %s)", e.Method, e.Path, e.Attempts, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == domain.ErrRateLimited }

// NetworkError is a transport failure (connection, DNS, timeout) that
// survived every retry.
type NetworkError struct {
	Method   string
	Path     string
	Timeout  bool
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error after %d attempts: %v", e.Method, e.Path, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool {
	return target == domain.ErrNetwork || (e.Timeout && target == domain.ErrTimeout)
}

// APIError is a 2xx response whose envelope reports status "error".
type APIError struct {
	Code    string
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstox error %s: %s", e.Code, e.Message)
}

func (e *APIError) Is(target error) bool { return target == domain.ErrClient }

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
