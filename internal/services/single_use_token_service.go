package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felipesantoos/authcore/internal/auth"
	"github.com/felipesantoos/authcore/internal/models"
	"github.com/felipesantoos/authcore/pkg/clock"
)

// SingleUseTokenRepository is the persistence surface for one-shot tokens.
type SingleUseTokenRepository interface {
	Create(ctx context.Context, token *models.SingleUseToken) (*models.SingleUseToken, error)
	GetByTokenHash(ctx context.Context, hash string) (*models.SingleUseToken, error)
	Consume(ctx context.Context, id string, now time.Time) (bool, error)
	InvalidateBySubject(ctx context.Context, tenantID string, purpose models.TokenPurpose, subject string, now time.Time) error
}

// SingleUseTokenService issues and consumes purpose-scoped one-shot tokens
// for email verification, password reset, and magic-link login. Tokens are
// opaque random strings stored as hashes; issuing a new token invalidates any
// outstanding token for the same subject and purpose, so only the latest link
// in a user's inbox works.
type SingleUseTokenService struct {
	tokens SingleUseTokenRepository
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger
}

// NewSingleUseTokenService creates a new SingleUseTokenService.
func NewSingleUseTokenService(tokens SingleUseTokenRepository, ttl time.Duration, clk clock.Clock, logger *slog.Logger) *SingleUseTokenService {
	return &SingleUseTokenService{
		tokens: tokens,
		ttl:    ttl,
		clock:  clk,
		logger: logger,
	}
}

// Issue mints a fresh token for the subject and purpose, returning the
// plaintext exactly once. Subject is the user id the token acts on.
func (s *SingleUseTokenService) Issue(ctx context.Context, tenantID string, purpose models.TokenPurpose, subject string) (string, *models.SingleUseToken, error) {
	if !purpose.Valid() {
		return "", nil, fmt.Errorf("invalid token purpose %q", purpose)
	}

	now := s.clock.Now()

	if err := s.tokens.InvalidateBySubject(ctx, tenantID, purpose, subject, now); err != nil {
		return "", nil, fmt.Errorf("failed to invalidate prior tokens: %w", err)
	}

	plaintext, err := auth.GenerateOpaqueToken(auth.MinOpaqueTokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	token := &models.SingleUseToken{
		TenantID:  tenantID,
		TokenHash: auth.HashOpaqueToken(plaintext),
		Purpose:   purpose,
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	created, err := s.tokens.Create(ctx, token)
	if err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}

	return plaintext, created, nil
}

// Consume validates and burns a token in one step. The consume itself is a
// compare-and-swap, so concurrent presentations of the same token yield
// exactly one success. Purpose must match: a password-reset token can never
// verify an email, even for the same user.
func (s *SingleUseTokenService) Consume(ctx context.Context, plaintext string, purpose models.TokenPurpose) (*models.SingleUseToken, error) {
	now := s.clock.Now()

	token, err := s.tokens.GetByTokenHash(ctx, auth.HashOpaqueToken(plaintext))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenMalformed
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if token.Purpose != purpose {
		s.logger.Warn("single-use token presented for wrong purpose",
			slog.String("expected", string(purpose)),
			slog.String("actual", string(token.Purpose)))
		return nil, models.ErrSingleUseTokenWrongPurpose
	}
	if token.ConsumedAt != nil {
		return nil, models.ErrSingleUseTokenConsumed
	}
	if now.After(token.ExpiresAt) {
		return nil, models.ErrTokenExpired
	}

	consumed, err := s.tokens.Consume(ctx, token.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}
	if !consumed {
		return nil, models.ErrSingleUseTokenConsumed
	}

	return token, nil
}
