package models

import "time"

// TokenPurpose scopes a single-use token to exactly one flow. A token issued
// for one purpose is rejected by every other consumer.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeMagicLink         TokenPurpose = "magic_link"
)

// Valid reports whether p is one of the known purposes.
func (p TokenPurpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposePasswordReset, PurposeMagicLink:
		return true
	}
	return false
}

// SingleUseToken backs out-of-band flows (email verification, password reset,
// magic link). ConsumedAt is set at most once.
type SingleUseToken struct {
	ID         string
	TenantID   string
	TokenHash  string
	Purpose    TokenPurpose
	Subject    string // user ID or email, depending on purpose
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}
