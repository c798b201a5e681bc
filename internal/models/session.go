package models

import "time"

// Session is the authoritative record of an authenticated login. The raw
// refresh token is returned to the client exactly once; only its hash is
// stored. PrevRefreshTokenHash keeps the superseded generation so a replayed
// old token is recognized as reuse rather than plain garbage.
type Session struct {
	ID                   string
	UserID               string
	TenantID             string
	RefreshTokenHash     string
	PrevRefreshTokenHash *string
	DeviceFingerprint    string
	UserAgent            string
	IPAddress            string
	IssuedAt             time.Time
	LastActivityAt       time.Time
	ExpiresAt            time.Time
	RevokedAt            *time.Time
}

// Active reports whether the session is usable at the given instant.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// TokenPair is the credential set handed to a client on login or refresh.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	SessionID             string
}
