package session

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned when no usable token exists and no refresh
// is possible. The caller must start a new authorization flow.
var ErrNotAuthenticated = errors.New("not authenticated")

// AuthorizationError indicates the interactive authorization flow failed:
// the user cancelled, the provider reported an error, or the redirect carried
// no authorization code.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: %s", e.Reason)
}

// TokenExchangeError indicates the authorization-code exchange was rejected
// by the token endpoint.
type TokenExchangeError struct {
	Err error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// RefreshError indicates the token endpoint returned a non-success status
// for a refresh-token exchange. The stale record is left in place; the caller
// may retry or force re-authorization.
type RefreshError struct {
	StatusCode int
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: status %d", e.StatusCode)
}
