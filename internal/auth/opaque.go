package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// MinOpaqueTokenBytes is the floor for opaque token entropy (256 bits).
const MinOpaqueTokenBytes = 32

// GenerateOpaqueToken returns a URL-safe random token of at least
// MinOpaqueTokenBytes of entropy. Used for refresh tokens, single-use tokens,
// and MFA challenge handles. Only the hash of the value is ever persisted.
func GenerateOpaqueToken(byteLength int) (string, error) {
	if byteLength < MinOpaqueTokenBytes {
		byteLength = MinOpaqueTokenBytes
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate opaque token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashOpaqueToken returns the SHA-256 hex digest of an opaque token. Opaque
// tokens carry full entropy, so a fast deterministic hash is safe here and
// keeps equality lookups cheap; the slow password hash is not needed.
func HashOpaqueToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
