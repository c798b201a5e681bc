package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/felipesantoos/authcore/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the signed assertion carried by an access token. Validity is
// cryptographic plus expiry only; the bound session is consulted separately
// on privileged operations.
type Claims struct {
	UserID    string `json:"uid"`
	TenantID  string `json:"tid"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies access tokens. It holds no state beyond the
// signing key and configuration.
type TokenCodec struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
}

// NewTokenCodec creates a TokenCodec signing HS256 tokens with the given
// secret, scoped to issuer/audience, expiring after accessTTL.
func NewTokenCodec(secret, issuer, audience string, accessTTL time.Duration) *TokenCodec {
	return &TokenCodec{
		secret:    []byte(secret),
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (tc *TokenCodec) AccessTTL() time.Duration {
	return tc.accessTTL
}

// IssueAccessToken signs a short-lived assertion of (user, tenant, role,
// session). Returns the compact token and its expiry.
func (tc *TokenCodec) IssueAccessToken(userID, tenantID, role, sessionID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(tc.accessTTL)

	claims := &Claims{
		UserID:    userID,
		TenantID:  tenantID,
		Role:      role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tc.issuer,
			Audience:  jwt.ClaimStrings{tc.audience},
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tc.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// VerifyAccessToken checks signature, expiry, issuer/audience, and required
// claims. The returned error distinguishes expiry, malformed input, bad
// signatures, and claim mismatches so callers can branch (expired → prompt
// refresh; bad signature → treat as attack).
func (tc *TokenCodec) VerifyAccessToken(tokenString string, now time.Time) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return tc.secret, nil
		},
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuer(tc.issuer),
		jwt.WithAudience(tc.audience),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}

	if claims.UserID == "" || claims.TenantID == "" || claims.SessionID == "" {
		return nil, models.ErrTokenClaimsInvalid
	}

	return claims, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return models.ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return models.ErrTokenSignatureInvalid
	default:
		// Issuer/audience mismatch, not-before, missing expiry, etc.
		return models.ErrTokenClaimsInvalid
	}
}
