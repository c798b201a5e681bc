package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	intauth "github.com/felipesantoos/authcore/internal/auth"
	"github.com/felipesantoos/authcore/internal/models"
	pkgauth "github.com/felipesantoos/authcore/pkg/auth"
	"github.com/felipesantoos/authcore/pkg/clock"
	"github.com/google/uuid"
)

// AccountService handles the account lifecycle around login: registration,
// email verification, password reset, magic-link sign-in, and MFA enrollment.
type AccountService struct {
	users    UserRepository
	hasher   *pkgauth.Hasher
	tokens   *SingleUseTokenService
	sessions *SessionService
	lockout  *LockoutService
	totp     *intauth.TOTPVerifier
	audit    *AuditService
	notify   *NotificationService
	clock    clock.Clock
	logger   *slog.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(
	users UserRepository,
	hasher *pkgauth.Hasher,
	tokens *SingleUseTokenService,
	sessions *SessionService,
	lockout *LockoutService,
	totp *intauth.TOTPVerifier,
	audit *AuditService,
	notify *NotificationService,
	clk clock.Clock,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		sessions: sessions,
		lockout:  lockout,
		totp:     totp,
		audit:    audit,
		notify:   notify,
		clock:    clk,
		logger:   logger,
	}
}

// Register creates a new account and queues the verification email. The
// account starts active but unverified; login is refused until the email
// link is clicked.
func (s *AccountService) Register(ctx context.Context, tenantID, email, password, name string, device DeviceContext) (*models.User, error) {
	email = normalizeEmail(email)

	if err := s.hasher.ValidateStrength(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.clock.Now()
	user := &models.User{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         models.RoleUser,
		Status:       models.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.audit.Record(ctx, AuditEvent{
		TenantID:  tenantID,
		EventType: models.AuditEventRegister,
		Severity:  models.AuditSeverityInfo,
		UserID:    created.ID,
		Success:   true,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
	})

	s.sendVerificationEmail(ctx, created)

	return created, nil
}

// ResendVerification reissues the verification link. Unknown emails succeed
// silently so the endpoint cannot be used to probe for accounts.
func (s *AccountService) ResendVerification(ctx context.Context, tenantID, email string) error {
	user, err := s.users.GetByEmail(ctx, tenantID, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user.EmailVerified {
		return nil
	}
	s.sendVerificationEmail(ctx, user)
	return nil
}

// VerifyEmail consumes a verification token and marks the account verified.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) error {
	consumed, err := s.tokens.Consume(ctx, token, models.PurposeEmailVerification)
	if err != nil {
		return err
	}

	if err := s.users.SetEmailVerified(ctx, consumed.Subject); err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}

	s.audit.Record(ctx, AuditEvent{
		TenantID:  consumed.TenantID,
		EventType: models.AuditEventEmailVerified,
		Severity:  models.AuditSeverityInfo,
		UserID:    consumed.Subject,
		Success:   true,
	})
	return nil
}

// RequestPasswordReset issues a reset token and queues the email. The
// response is identical whether or not the email exists.
func (s *AccountService) RequestPasswordReset(ctx context.Context, tenantID, email string) error {
	user, err := s.users.GetByEmail(ctx, tenantID, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}

	plaintext, token, err := s.tokens.Issue(ctx, tenantID, models.PurposePasswordReset, user.ID)
	if err != nil {
		return fmt.Errorf("failed to issue reset token: %w", err)
	}

	s.notify.NotifyPasswordReset(user.Email, plaintext, token.ExpiresAt)
	return nil
}

// ConfirmPasswordReset consumes a reset token and sets the new password.
// Every session is revoked and lockout state cleared: proving control of the
// inbox settles ownership, and any stolen refresh tokens die with the old
// password.
func (s *AccountService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := s.hasher.ValidateStrength(newPassword); err != nil {
		return err
	}

	consumed, err := s.tokens.Consume(ctx, token, models.PurposePasswordReset)
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, consumed.Subject)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.clock.Now()
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash, now); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if _, err := s.sessions.RevokeAll(ctx, user.ID, nil); err != nil {
		s.logger.Error("failed to revoke sessions after reset", slog.Any("error", err))
	}
	if err := s.lockout.Reset(ctx, user.TenantID, user.Email); err != nil {
		s.logger.Error("failed to reset lockout state", slog.Any("error", err))
	}

	s.audit.Record(ctx, AuditEvent{
		TenantID:  user.TenantID,
		EventType: models.AuditEventPasswordReset,
		Severity:  models.AuditSeverityInfo,
		UserID:    user.ID,
		Success:   true,
	})
	return nil
}

// ChangePassword rotates the password for an authenticated user after
// re-verifying the current one, then signs out every other session.
func (s *AccountService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, currentSessionID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	if ok, _ := s.hasher.Verify(user.PasswordHash, currentPassword); !ok {
		return models.ErrInvalidCredentials
	}

	if err := s.hasher.ValidateStrength(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if _, err := s.sessions.RevokeAll(ctx, user.ID, &currentSessionID); err != nil {
		s.logger.Error("failed to revoke other sessions", slog.Any("error", err))
	}

	s.audit.Record(ctx, AuditEvent{
		TenantID:  user.TenantID,
		EventType: models.AuditEventPasswordReset,
		Severity:  models.AuditSeverityInfo,
		UserID:    user.ID,
		SessionID: currentSessionID,
		Success:   true,
		Metadata:  models.AuditMetadata{"self_service": true},
	})
	return nil
}

// RequestMagicLink issues a passwordless sign-in link. Like password reset,
// the response never reveals whether the email exists.
func (s *AccountService) RequestMagicLink(ctx context.Context, tenantID, email string) error {
	user, err := s.users.GetByEmail(ctx, tenantID, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user.Status != models.UserStatusActive || !user.EmailVerified {
		return nil
	}

	plaintext, token, err := s.tokens.Issue(ctx, tenantID, models.PurposeMagicLink, user.ID)
	if err != nil {
		return fmt.Errorf("failed to issue magic link token: %w", err)
	}

	s.notify.NotifyMagicLink(user.Email, plaintext, token.ExpiresAt)
	return nil
}

// MagicLinkLogin consumes a magic-link token and creates a session. MFA still
// applies: an MFA-enabled account cannot use the link to skip the second
// factor, so those logins are refused here and must use the password flow.
func (s *AccountService) MagicLinkLogin(ctx context.Context, token string, device DeviceContext) (*models.TokenPair, error) {
	consumed, err := s.tokens.Consume(ctx, token, models.PurposeMagicLink)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, consumed.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.Status != models.UserStatusActive {
		return nil, models.ErrAccountDisabled
	}
	if user.MFAEnabled {
		return nil, models.ErrMFARequired
	}

	pair, err := s.sessions.CreateSession(ctx, user, device)
	if err != nil {
		return nil, err
	}

	if err := s.lockout.RecordSuccess(ctx, user.TenantID, user.Email); err != nil {
		s.logger.Error("failed to clear lockout counters", slog.Any("error", err))
	}

	s.audit.Record(ctx, AuditEvent{
		TenantID:  user.TenantID,
		EventType: models.AuditEventLogin,
		Severity:  models.AuditSeverityInfo,
		UserID:    user.ID,
		SessionID: pair.SessionID,
		Success:   true,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Metadata:  models.AuditMetadata{"method": "magic_link"},
	})
	return pair, nil
}

// EnrollMFA generates a TOTP secret and provisioning QR for the user. The
// secret is stored immediately but MFA stays off until ActivateMFA proves the
// authenticator works.
func (s *AccountService) EnrollMFA(ctx context.Context, userID string) (*intauth.TOTPEnrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.MFAEnabled {
		return nil, models.ErrConflict
	}

	enrollment, err := s.totp.GenerateEnrollment(user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate enrollment: %w", err)
	}

	if err := s.users.SetTOTPSecret(ctx, user.ID, enrollment.Secret); err != nil {
		return nil, fmt.Errorf("failed to store totp secret: %w", err)
	}

	return enrollment, nil
}

// ActivateMFA turns MFA on after the user proves they can produce a valid
// code from the enrolled secret.
func (s *AccountService) ActivateMFA(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user.MFAEnabled {
		return models.ErrConflict
	}
	if user.TOTPSecret == "" {
		return models.ErrBadRequest
	}

	if !s.totp.Verify(user.TOTPSecret, code, s.clock.Now()) {
		return models.ErrMFAInvalidCode
	}

	if err := s.users.SetMFAEnabled(ctx, user.ID, true); err != nil {
		return fmt.Errorf("failed to enable mfa: %w", err)
	}

	s.audit.Record(ctx, AuditEvent{
		TenantID:  user.TenantID,
		EventType: models.AuditEventMFAEnroll,
		Severity:  models.AuditSeverityInfo,
		UserID:    user.ID,
		Success:   true,
	})
	return nil
}

// DisableMFA turns MFA off after re-verifying the password.
func (s *AccountService) DisableMFA(ctx context.Context, userID, password string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !user.MFAEnabled {
		return models.ErrBadRequest
	}

	if ok, _ := s.hasher.Verify(user.PasswordHash, password); !ok {
		return models.ErrInvalidCredentials
	}

	if err := s.users.SetMFAEnabled(ctx, user.ID, false); err != nil {
		return fmt.Errorf("failed to disable mfa: %w", err)
	}

	s.audit.Record(ctx, AuditEvent{
		TenantID:  user.TenantID,
		EventType: models.AuditEventMFAEnroll,
		Severity:  models.AuditSeverityWarning,
		UserID:    user.ID,
		Success:   true,
		Metadata:  models.AuditMetadata{"disabled": true},
	})
	return nil
}

func (s *AccountService) sendVerificationEmail(ctx context.Context, user *models.User) {
	plaintext, token, err := s.tokens.Issue(ctx, user.TenantID, models.PurposeEmailVerification, user.ID)
	if err != nil {
		s.logger.Error("failed to issue verification token",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return
	}
	s.notify.NotifyVerification(user.Email, plaintext, token.ExpiresAt)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
