package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Authentication error taxonomy. INVALID_CREDENTIALS and ACCOUNT_LOCKED are
// presented identically to external callers; the distinction exists only for
// audit logging.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrAccountSuspended   = errors.New("account is suspended")
	ErrEmailNotVerified   = errors.New("email address not verified")

	ErrTokenExpired          = errors.New("token expired")
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	ErrTokenClaimsInvalid    = errors.New("token claims invalid")
	ErrTokenReuseDetected    = errors.New("refresh token reuse detected")

	ErrSingleUseTokenConsumed     = errors.New("single-use token already consumed")
	ErrSingleUseTokenWrongPurpose = errors.New("single-use token used for wrong purpose")

	ErrMFARequired    = errors.New("mfa verification required")
	ErrMFAInvalidCode = errors.New("invalid mfa code")

	ErrSessionNotFound = errors.New("session not found")
)

// AccountLockedError carries the unlock time alongside ErrAccountLocked so
// callers and audit logs can report when the lock expires.
type AccountLockedError struct {
	UnlockAt time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked until %s", e.UnlockAt.UTC().Format(time.RFC3339))
}

func (e *AccountLockedError) Unwrap() error {
	return ErrAccountLocked
}

// MFARequiredError carries the pending challenge token issued after a
// successful credential check when the user has MFA enabled.
type MFARequiredError struct {
	ChallengeToken string
	ExpiresAt      time.Time
}

func (e *MFARequiredError) Error() string {
	return "mfa verification required"
}

func (e *MFARequiredError) Unwrap() error {
	return ErrMFARequired
}
