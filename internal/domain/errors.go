package domain

import "errors"

// Error classes shared by the broker, auth and usecase layers.
// Concrete error types wrap one of these so callers can use errors.Is.
var (
	ErrAuth        = errors.New("authentication required")
	ErrNetwork     = errors.New("network failure")
	ErrTimeout     = errors.New("request timed out")
	ErrClient      = errors.New("client error")
	ErrRateLimited = errors.New("rate limited")
	ErrServer      = errors.New("server error")
	ErrStrategy    = errors.New("strategy failure")
	ErrInvalid     = errors.New("invalid argument")
)

// StrategyError wraps a failure raised while a strategy analyzed a symbol.
type StrategyError struct {
	Strategy string
	Symbol   string
	Err      error
}

func (e *StrategyError) Error() string {
	return "strategy " + e.Strategy + " failed on " + e.Symbol + ": " + e.Err.Error()
}

func (e *StrategyError) Unwrap() error { return e.Err }

func (e *StrategyError) Is(target error) bool { return target == ErrStrategy }
