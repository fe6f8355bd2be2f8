package rest

import (
	"fmt"
)

// AuthError means the credentials or tokens were rejected. Callers should
// re-authenticate rather than retry.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rest: auth failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("rest: auth failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// MFARequiredError means the account has two-factor auth enabled and the
// login must be completed with VerifyMFA using the carried token.
type MFARequiredError struct {
	MFAToken string
}

func (e *MFARequiredError) Error() string {
	return "rest: multi-factor authentication required"
}

// ConnectionError covers network failures and unexpected cloud responses.
type ConnectionError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("rest: %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("rest: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
