package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 14 // OWASP 2026 recommendation
	MinPasswordLen    = 8
	MaxPasswordLen    = 128
)

// PasswordValidationError lists every violated strength rule so a client can
// show all problems at once instead of one per round trip.
type PasswordValidationError struct {
	Violations []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "password validation failed"
	}
	return "password " + strings.Join(e.Violations, "; ")
}

// Hasher wraps bcrypt with a configurable work factor. Verify reports when a
// stored hash was produced with an outdated cost so callers can rehash on the
// next successful login instead of running a migration.
type Hasher struct {
	cost     int
	denylist map[string]struct{}
}

// NewHasher creates a Hasher. A cost outside bcrypt's valid range falls back
// to DefaultBcryptCost. The denylist of common/breached passwords is optional;
// nil skips that check entirely.
func NewHasher(cost int, denylist []string) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}

	var set map[string]struct{}
	if len(denylist) > 0 {
		set = make(map[string]struct{}, len(denylist))
		for _, p := range denylist {
			set[strings.ToLower(p)] = struct{}{}
		}
	}

	return &Hasher{cost: cost, denylist: set}
}

// Hash produces a salted bcrypt hash of the plaintext.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Verify checks password against hash. bcrypt's comparison is constant-time
// with respect to the password. needsRehash is true when the match succeeded
// but the stored hash uses a cost below the configured one.
func (h *Hasher) Verify(hash, password string) (ok bool, needsRehash bool) {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return false, false
	}

	storedCost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true, true
	}
	return true, storedCost < h.cost
}

// ValidateStrength checks password against all strength rules and returns a
// PasswordValidationError listing every violation, or nil when the password
// is acceptable. Never logs or retains the plaintext.
func (h *Hasher) ValidateStrength(password string) error {
	violations := make([]string, 0)

	if len(password) < MinPasswordLen {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		violations = append(violations, fmt.Sprintf("must be at most %d characters", MaxPasswordLen))
	}

	hasUpper := false
	hasLower := false
	hasDigit := false
	hasSpecial := false

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		violations = append(violations, "must contain at least one uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "must contain at least one digit")
	}
	if !hasSpecial {
		violations = append(violations, "must contain at least one special character")
	}

	if h.denylist != nil {
		if _, found := h.denylist[strings.ToLower(password)]; found {
			violations = append(violations, "is too common, please choose a more unique password")
		}
	}

	if len(violations) > 0 {
		return &PasswordValidationError{Violations: violations}
	}

	return nil
}

// CommonPasswords is the default denylist wired in by the composition root.
var CommonPasswords = []string{
	"password",
	"12345678",
	"qwerty",
	"abc123",
	"password123",
	"password123!",
	"123456",
	"admin",
	"letmein",
	"welcome",
	"monkey",
	"dragon",
	"master",
	"123123",
	"passw0rd",
	"shadow",
	"sunshine",
	"princess",
	"starwars",
	"football",
	"trustno1",
}
