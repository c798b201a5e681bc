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
	"github.com/google/uuid"
)

// SessionRepository is the persistence surface the session service needs.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByRefreshTokenHash(ctx context.Context, hash string) (*models.Session, error)
	GetByPrevRefreshTokenHash(ctx context.Context, hash string) (*models.Session, error)
	RotateRefreshToken(ctx context.Context, sessionID, presentedHash, newHash string, now time.Time) (bool, error)
	Revoke(ctx context.Context, sessionID string, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, exceptSessionID *string, now time.Time) (int64, error)
	TouchActivity(ctx context.Context, sessionID string, now time.Time) error
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.Session, error)
}

// UserGetter loads users for refresh-time status checks.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// DeviceContext captures the client attributes bound to a session at creation.
type DeviceContext struct {
	Fingerprint string
	UserAgent   string
	IPAddress   string
}

// SessionService creates sessions, issues token pairs, and rotates refresh
// tokens. Refresh tokens are opaque random strings stored only as SHA-256
// hashes; the JWT access token carries the session id so revocation checks
// stay cheap.
type SessionService struct {
	sessionRepo      SessionRepository
	users            UserGetter
	codec            *auth.TokenCodec
	sessionExpiry    time.Duration
	revokeAllOnReuse bool
	clock            clock.Clock
	logger           *slog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(sessionRepo SessionRepository, users UserGetter, codec *auth.TokenCodec, sessionExpiry time.Duration, revokeAllOnReuse bool, clk clock.Clock, logger *slog.Logger) *SessionService {
	return &SessionService{
		sessionRepo:      sessionRepo,
		users:            users,
		codec:            codec,
		sessionExpiry:    sessionExpiry,
		revokeAllOnReuse: revokeAllOnReuse,
		clock:            clk,
		logger:           logger,
	}
}

// CreateSession establishes a new session for the user and returns the token
// pair. The plaintext refresh token exists only in the returned pair; storage
// sees the hash.
func (s *SessionService) CreateSession(ctx context.Context, user *models.User, device DeviceContext) (*models.TokenPair, error) {
	now := s.clock.Now()

	refreshToken, err := auth.GenerateOpaqueToken(auth.MinOpaqueTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	session := &models.Session{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		TenantID:          user.TenantID,
		RefreshTokenHash:  auth.HashOpaqueToken(refreshToken),
		DeviceFingerprint: device.Fingerprint,
		UserAgent:         device.UserAgent,
		IPAddress:         device.IPAddress,
		IssuedAt:          now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(s.sessionExpiry),
	}

	created, err := s.sessionRepo.Create(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	accessToken, accessExpiry, err := s.codec.IssueAccessToken(user.ID, user.TenantID, user.Role, created.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiry,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: created.ExpiresAt,
		SessionID:             created.ID,
	}, nil
}

// Refresh rotates the refresh token and issues a fresh access token. The
// rotation is a compare-and-swap on the stored hash, so two concurrent
// refreshes with the same token cannot both succeed. A token matching only the
// previous-generation hash means the rotated-out token came back: someone
// replayed a stolen token, so the session (or optionally every session of the
// user) is revoked and the caller gets ErrTokenReuseDetected.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	now := s.clock.Now()
	presentedHash := auth.HashOpaqueToken(refreshToken)

	session, err := s.sessionRepo.GetByRefreshTokenHash(ctx, presentedHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, s.handleUnknownToken(ctx, presentedHash, now)
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	if !session.Active(now) {
		return nil, models.ErrSessionNotFound
	}

	newToken, err := auth.GenerateOpaqueToken(auth.MinOpaqueTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	newHash := auth.HashOpaqueToken(newToken)

	rotated, err := s.sessionRepo.RotateRefreshToken(ctx, session.ID, presentedHash, newHash, now)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if !rotated {
		// Lost the CAS race: another request rotated first, which makes this
		// presentation a replay of a now-stale token.
		return nil, s.revokeOnReuse(ctx, session, now)
	}

	u, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user for refresh: %w", err)
	}
	if u.Status != models.UserStatusActive {
		_ = s.sessionRepo.Revoke(ctx, session.ID, now)
		return nil, models.ErrAccountDisabled
	}

	accessToken, accessExpiry, err := s.codec.IssueAccessToken(u.ID, u.TenantID, u.Role, session.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiry,
		RefreshToken:          newToken,
		RefreshTokenExpiresAt: session.ExpiresAt,
		SessionID:             session.ID,
	}, nil
}

// handleUnknownToken distinguishes a simply-invalid token from a replayed
// previous-generation one. Only the latter carries the reuse signal.
func (s *SessionService) handleUnknownToken(ctx context.Context, presentedHash string, now time.Time) error {
	session, err := s.sessionRepo.GetByPrevRefreshTokenHash(ctx, presentedHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrSessionNotFound
		}
		return fmt.Errorf("failed to check for token reuse: %w", err)
	}
	return s.revokeOnReuse(ctx, session, now)
}

func (s *SessionService) revokeOnReuse(ctx context.Context, session *models.Session, now time.Time) error {
	s.logger.Warn("refresh token reuse detected, revoking session",
		slog.String("session_id", session.ID),
		slog.String("user_id", session.UserID),
		slog.Bool("revoke_all", s.revokeAllOnReuse))

	if s.revokeAllOnReuse {
		if _, err := s.sessionRepo.RevokeAllForUser(ctx, session.UserID, nil, now); err != nil {
			return fmt.Errorf("failed to revoke sessions after reuse: %w", err)
		}
	} else {
		if err := s.sessionRepo.Revoke(ctx, session.ID, now); err != nil {
			return fmt.Errorf("failed to revoke session after reuse: %w", err)
		}
	}
	return models.ErrTokenReuseDetected
}

// Validate verifies an access token and confirms its session is still live.
func (s *SessionService) Validate(ctx context.Context, accessToken string) (*auth.Claims, error) {
	now := s.clock.Now()

	claims, err := s.codec.VerifyAccessToken(accessToken, now)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Active(now) {
		return nil, models.ErrSessionNotFound
	}

	if err := s.sessionRepo.TouchActivity(ctx, session.ID, now); err != nil {
		// Activity tracking is best effort and never blocks a valid request.
		s.logger.Error("failed to touch session activity", slog.Any("error", err))
	}

	return claims, nil
}

// Revoke ends a single session. Revoking an already-revoked session is a
// no-op so logout stays idempotent.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	return s.sessionRepo.Revoke(ctx, sessionID, s.clock.Now())
}

// RevokeAll ends every active session for a user, optionally sparing one
// (logout-everywhere-else). Returns how many sessions were revoked.
func (s *SessionService) RevokeAll(ctx context.Context, userID string, exceptSessionID *string) (int64, error) {
	return s.sessionRepo.RevokeAllForUser(ctx, userID, exceptSessionID, s.clock.Now())
}

// GetOwned loads a session and verifies it belongs to the given user. A
// session owned by someone else reports ErrNotFound so the endpoint does not
// confirm foreign session ids.
func (s *SessionService) GetOwned(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, models.ErrNotFound
	}
	return session, nil
}

// ListActive returns the user's live sessions, most recently active first.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.sessionRepo.ListActiveByUser(ctx, userID, s.clock.Now())
}
