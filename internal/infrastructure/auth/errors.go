package auth

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

var ErrNoRefreshToken = errors.New("no refresh token stored")

// TokenRequestError is a failure to reach the token endpoint at all. It
// says nothing about the credential, so it matches domain.ErrNetwork (and
// domain.ErrTimeout for deadlines) rather than domain.ErrAuth.
type TokenRequestError struct {
	Err     error
	Timeout bool
}

func newTokenRequestError(err error) *TokenRequestError {
	var ne net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
	return &TokenRequestError{Err: err, Timeout: timeout}
}

func (e *TokenRequestError) Error() string {
	return fmt.Sprintf("token request: %v", e.Err)
}

func (e *TokenRequestError) Unwrap() error { return e.Err }

func (e *TokenRequestError) Is(target error) bool {
	return target == domain.ErrNetwork || (e.Timeout && target == domain.ErrTimeout)
}

func transient(err error) bool {
	var te *TokenRequestError
	return errors.As(err, &te)
}

// AuthExchangeError is returned when the token endpoint rejects an
// authorization code.
type AuthExchangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth code exchange failed: %v", e.Err)
	}
	return fmt.Sprintf("auth code exchange failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthExchangeError) Unwrap() error { return e.Err }

func (e *AuthExchangeError) Is(target error) bool {
	return target == domain.ErrAuth && !transient(e.Err)
}

// AuthRefreshError is returned when the access token cannot be refreshed.
type AuthRefreshError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthRefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token refresh failed: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthRefreshError) Unwrap() error { return e.Err }

// Is matches domain.ErrAuth when the endpoint refused the refresh token or
// none was stored; transport failures match through the wrapped error.
func (e *AuthRefreshError) Is(target error) bool {
	return target == domain.ErrAuth && !transient(e.Err)
}
