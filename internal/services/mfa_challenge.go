package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felipesantoos/authcore/internal/auth"
	"github.com/felipesantoos/authcore/internal/models"
	"github.com/felipesantoos/authcore/pkg/clock"
	"github.com/redis/go-redis/v9"
)

// MFAChallenge is the pending state between a correct password and a correct
// TOTP code. It lives only in Redis, keyed by the hash of the challenge token,
// and expires on its own.
type MFAChallenge struct {
	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id"`
	Email       string    `json:"email"`
	Fingerprint string    `json:"fingerprint"`
	UserAgent   string    `json:"user_agent"`
	IPAddress   string    `json:"ip_address"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// MFAChallengeStore issues and consumes MFA challenge tokens. The challenge
// token authorizes exactly one thing: presenting TOTP codes for a login whose
// password already checked out. It is not a session and grants no API access.
type MFAChallengeStore struct {
	redis       redis.UniversalClient
	ttl         time.Duration
	maxAttempts int
	clock       clock.Clock
	logger      *slog.Logger
}

// NewMFAChallengeStore creates a new MFAChallengeStore.
func NewMFAChallengeStore(redisClient redis.UniversalClient, ttl time.Duration, maxAttempts int, clk clock.Clock, logger *slog.Logger) *MFAChallengeStore {
	return &MFAChallengeStore{
		redis:       redisClient,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		clock:       clk,
		logger:      logger,
	}
}

func mfaChallengeKey(tokenHash string) string { return "mfa:c:" + tokenHash }

// Create stores a fresh challenge and returns its token. The plaintext token
// goes to the client; Redis sees only the hash.
func (s *MFAChallengeStore) Create(ctx context.Context, user *models.User, device DeviceContext) (string, *MFAChallenge, error) {
	token, err := auth.GenerateOpaqueToken(auth.MinOpaqueTokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate challenge token: %w", err)
	}

	now := s.clock.Now()
	challenge := &MFAChallenge{
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Email:       user.Email,
		Fingerprint: device.Fingerprint,
		UserAgent:   device.UserAgent,
		IPAddress:   device.IPAddress,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	payload, err := json.Marshal(challenge)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode challenge: %w", err)
	}

	key := mfaChallengeKey(auth.HashOpaqueToken(token))
	if err := s.redis.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return "", nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return token, challenge, nil
}

// Get loads a pending challenge by its token. Expired and unknown tokens are
// indistinguishable to the caller.
func (s *MFAChallengeStore) Get(ctx context.Context, token string) (*MFAChallenge, error) {
	key := mfaChallengeKey(auth.HashOpaqueToken(token))

	payload, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrTokenExpired
		}
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}

	var challenge MFAChallenge
	if err := json.Unmarshal(payload, &challenge); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	return &challenge, nil
}

// RecordFailedAttempt bumps the challenge's attempt counter, deleting the
// challenge once the budget is spent so code guessing cannot continue against
// the same token. Returns whether the challenge is now exhausted.
func (s *MFAChallengeStore) RecordFailedAttempt(ctx context.Context, token string, challenge *MFAChallenge) (bool, error) {
	key := mfaChallengeKey(auth.HashOpaqueToken(token))

	challenge.Attempts++
	if challenge.Attempts >= s.maxAttempts {
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			return true, fmt.Errorf("failed to delete exhausted challenge: %w", err)
		}
		s.logger.Warn("mfa challenge exhausted",
			slog.String("user_id", challenge.UserID),
			slog.Int("attempts", challenge.Attempts))
		return true, nil
	}

	payload, err := json.Marshal(challenge)
	if err != nil {
		return false, fmt.Errorf("failed to encode challenge: %w", err)
	}

	remaining := challenge.ExpiresAt.Sub(s.clock.Now())
	if remaining <= 0 {
		return true, nil
	}
	if err := s.redis.Set(ctx, key, payload, remaining).Err(); err != nil {
		return false, fmt.Errorf("failed to update challenge: %w", err)
	}
	return false, nil
}

// Consume removes a challenge after a successful verification.
func (s *MFAChallengeStore) Consume(ctx context.Context, token string) error {
	return s.redis.Del(ctx, mfaChallengeKey(auth.HashOpaqueToken(token))).Err()
}
