package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	intauth "github.com/felipesantoos/authcore/internal/auth"
	"github.com/felipesantoos/authcore/internal/models"
	pkgauth "github.com/felipesantoos/authcore/pkg/auth"
	"github.com/felipesantoos/authcore/pkg/clock"
)

// UserRepository is the persistence surface the auth flows need.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, changedAt time.Time) error
	SetEmailVerified(ctx context.Context, id string) error
	SetTOTPSecret(ctx context.Context, id, secret string) error
	SetMFAEnabled(ctx context.Context, id string, enabled bool) error
}

// dummyBcryptHash is a valid bcrypt hash of a random string nobody knows.
// Comparing against it when the email does not resolve keeps the unknown-email
// path as slow as the wrong-password path.
const dummyBcryptHash = "$2a$14$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// AuthService orchestrates the login, MFA, refresh, and logout flows. Every
// failure a caller can observe collapses to the same small error set so
// responses cannot leak whether an account exists or is locked.
type AuthService struct {
	users    UserRepository
	hasher   *pkgauth.Hasher
	lockout  *LockoutService
	sessions *SessionService
	activity *ActivityService
	mfa      *MFAChallengeStore
	totp     *intauth.TOTPVerifier
	audit    *AuditService
	notify   *NotificationService
	timing   *intauth.TimingDelay
	clock    clock.Clock
	logger   *slog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	users UserRepository,
	hasher *pkgauth.Hasher,
	lockout *LockoutService,
	sessions *SessionService,
	activity *ActivityService,
	mfa *MFAChallengeStore,
	totp *intauth.TOTPVerifier,
	audit *AuditService,
	notify *NotificationService,
	timing *intauth.TimingDelay,
	clk clock.Clock,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		hasher:   hasher,
		lockout:  lockout,
		sessions: sessions,
		activity: activity,
		mfa:      mfa,
		totp:     totp,
		audit:    audit,
		notify:   notify,
		timing:   timing,
		clock:    clk,
		logger:   logger,
	}
}

// Login authenticates an email and password. On success it either returns a
// token pair or, for MFA-enabled accounts, MFARequiredError carrying a
// challenge token. Lockout is checked before the password so locked accounts
// cost nothing, and failures always pass through the equalizing delay.
func (s *AuthService) Login(ctx context.Context, tenantID, email, password string, device DeviceContext) (*models.TokenPair, error) {
	start := time.Now()

	status := s.lockout.CheckLockout(ctx, tenantID, email, device.IPAddress)
	if status.Locked {
		s.recordFailedAttempt(ctx, tenantID, email, nil, device, "account_locked")
		s.timing.WaitFrom(start, false)
		return nil, &models.AccountLockedError{UnlockAt: status.UnlockAt}
	}

	user, err := s.users.GetByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Burn a bcrypt comparison anyway so unknown emails are not
			// distinguishable by response time.
			s.hasher.Verify(dummyBcryptHash, password)
			s.registerFailure(ctx, tenantID, email, nil, device, "unknown_email")
			s.timing.WaitFrom(start, false)
			return nil, models.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	ok, needsRehash := s.hasher.Verify(user.PasswordHash, password)
	if !ok {
		s.registerFailure(ctx, tenantID, email, &user.ID, device, "wrong_password")
		s.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	if err := s.checkAccountUsable(user); err != nil {
		s.recordFailedAttempt(ctx, tenantID, email, &user.ID, device, "account_unusable")
		s.timing.WaitFrom(start, false)
		return nil, err
	}

	if needsRehash {
		s.rehashPassword(ctx, user, password)
	}

	if user.MFAEnabled {
		token, challenge, err := s.mfa.Create(ctx, user, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create mfa challenge: %w", err)
		}
		s.audit.Record(ctx, AuditEvent{
			TenantID:  tenantID,
			EventType: models.AuditEventMFAChallenge,
			Severity:  models.AuditSeverityInfo,
			UserID:    user.ID,
			Success:   true,
			IPAddress: device.IPAddress,
			UserAgent: device.UserAgent,
		})
		s.timing.WaitFrom(start, true)
		return nil, &models.MFARequiredError{ChallengeToken: token, ExpiresAt: challenge.ExpiresAt}
	}

	pair, err := s.finalizeLogin(ctx, user, device)
	if err != nil {
		return nil, err
	}
	s.timing.WaitFrom(start, true)
	return pair, nil
}

// VerifyMFA completes a pending login by checking a TOTP code against the
// challenge created at password time. Wrong codes count against both the
// challenge's attempt budget and the account's lockout counters.
func (s *AuthService) VerifyMFA(ctx context.Context, challengeToken, code string, device DeviceContext) (*models.TokenPair, error) {
	start := time.Now()

	challenge, err := s.mfa.Get(ctx, challengeToken)
	if err != nil {
		if errors.Is(err, models.ErrTokenExpired) {
			s.timing.WaitFrom(start, false)
			return nil, models.ErrTokenExpired
		}
		return nil, err
	}

	user, err := s.users.GetByID(ctx, challenge.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user for mfa: %w", err)
	}

	if !s.totp.Verify(user.TOTPSecret, code, s.clock.Now()) {
		exhausted, recErr := s.mfa.RecordFailedAttempt(ctx, challengeToken, challenge)
		if recErr != nil {
			s.logger.Error("failed to record mfa attempt", slog.Any("error", recErr))
		}
		s.registerFailure(ctx, challenge.TenantID, challenge.Email, &user.ID, device, "mfa_invalid_code")
		s.timing.WaitFrom(start, false)
		if exhausted {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrMFAInvalidCode
	}

	if err := s.mfa.Consume(ctx, challengeToken); err != nil {
		s.logger.Error("failed to consume mfa challenge", slog.Any("error", err))
	}

	// Bind the session to the device that passed the password check, not
	// whatever the MFA request claims.
	pair, err := s.finalizeLogin(ctx, user, DeviceContext{
		Fingerprint: challenge.Fingerprint,
		UserAgent:   challenge.UserAgent,
		IPAddress:   challenge.IPAddress,
	})
	if err != nil {
		return nil, err
	}
	s.timing.WaitFrom(start, true)
	return pair, nil
}

// Refresh rotates a refresh token. Reuse detection inside the session service
// surfaces here as ErrTokenReuseDetected, which gets a critical audit entry
// and a security alert before propagating.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device DeviceContext) (*models.TokenPair, error) {
	pair, err := s.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, models.ErrTokenReuseDetected) {
			s.handleTokenReuse(ctx, refreshToken, device)
		}
		return nil, err
	}
	return pair, nil
}

// Logout revokes a single session. Idempotent.
func (s *AuthService) Logout(ctx context.Context, tenantID, userID, sessionID string, device DeviceContext) error {
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.audit.Record(ctx, AuditEvent{
		TenantID:  tenantID,
		EventType: models.AuditEventLogout,
		Severity:  models.AuditSeverityInfo,
		UserID:    userID,
		SessionID: sessionID,
		Success:   true,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
	})
	return nil
}

// LogoutAll revokes every session for a user except, optionally, the current
// one.
func (s *AuthService) LogoutAll(ctx context.Context, tenantID, userID string, exceptSessionID *string, device DeviceContext) (int64, error) {
	revoked, err := s.sessions.RevokeAll(ctx, userID, exceptSessionID)
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, AuditEvent{
		TenantID:  tenantID,
		EventType: models.AuditEventSessionRevoked,
		Severity:  models.AuditSeverityInfo,
		UserID:    userID,
		Success:   true,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Metadata:  models.AuditMetadata{"revoked_count": revoked},
	})
	return revoked, nil
}

// Validate verifies an access token and its backing session.
func (s *AuthService) Validate(ctx context.Context, accessToken string) (*intauth.Claims, error) {
	return s.sessions.Validate(ctx, accessToken)
}

// finalizeLogin runs the shared success path: clear counters, evaluate
// activity signals, create the session, and record the outcome.
func (s *AuthService) finalizeLogin(ctx context.Context, user *models.User, device DeviceContext) (*models.TokenPair, error) {
	if err := s.lockout.RecordSuccess(ctx, user.TenantID, user.Email); err != nil {
		s.logger.Error("failed to clear lockout counters", slog.Any("error", err))
	}

	signals, err := s.activity.Evaluate(ctx, user.ID, device)
	if err != nil {
		// Signal evaluation is advisory; a history read failure never blocks
		// a valid login.
		s.logger.Error("failed to evaluate activity signals", slog.Any("error", err))
		signals = models.ActivitySignals{}
	}

	pair, err := s.sessions.CreateSession(ctx, user, device)
	if err != nil {
		return nil, err
	}

	_ = s.activity.Record(ctx, user.TenantID, user.Email, &user.ID, device, true, nil)

	s.audit.Record(ctx, AuditEvent{
		TenantID:  user.TenantID,
		EventType: models.AuditEventLogin,
		Severity:  models.AuditSeverityInfo,
		UserID:    user.ID,
		SessionID: pair.SessionID,
		Success:   true,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
	})

	if signals.Suspicious() {
		s.reportSuspiciousActivity(ctx, user, device, signals)
	}

	return pair, nil
}

func (s *AuthService) checkAccountUsable(user *models.User) error {
	switch user.Status {
	case models.UserStatusSuspended:
		return models.ErrAccountSuspended
	case models.UserStatusDisabled:
		return models.ErrAccountDisabled
	}
	if !user.EmailVerified {
		return models.ErrEmailNotVerified
	}
	return nil
}

// registerFailure records a failed credential check everywhere it counts:
// lockout counters, attempt history, and the audit log. Fires the lockout
// notice when this failure tripped a new lock.
func (s *AuthService) registerFailure(ctx context.Context, tenantID, email string, userID *string, device DeviceContext, reason string) {
	lockedNow, err := s.lockout.RecordFailure(ctx, tenantID, email, device.IPAddress)
	if err != nil {
		s.logger.Error("failed to record lockout failure", slog.Any("error", err))
	}

	s.recordFailedAttempt(ctx, tenantID, email, userID, device, reason)

	if lockedNow {
		status := s.lockout.CheckLockout(ctx, tenantID, email, device.IPAddress)

		uid := ""
		if userID != nil {
			uid = *userID
		}
		s.audit.Record(ctx, AuditEvent{
			TenantID:      tenantID,
			EventType:     models.AuditEventLockout,
			Severity:      models.AuditSeverityWarning,
			UserID:        uid,
			Success:       false,
			FailureReason: reason,
			IPAddress:     device.IPAddress,
			UserAgent:     device.UserAgent,
			Metadata:      models.AuditMetadata{"unlock_at": status.UnlockAt},
		})

		// Only notify real accounts; notifying unknown emails would confirm
		// their absence to whoever is probing.
		if userID != nil {
			s.notify.NotifyLockout(email, status.UnlockAt)
		}
	}
}

func (s *AuthService) recordFailedAttempt(ctx context.Context, tenantID, email string, userID *string, device DeviceContext, reason string) {
	_ = s.activity.Record(ctx, tenantID, email, userID, device, false, &reason)
}

func (s *AuthService) rehashPassword(ctx context.Context, user *models.User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to rehash password", slog.Any("error", err))
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, newHash, s.clock.Now()); err != nil {
		s.logger.Error("failed to store rehashed password", slog.Any("error", err))
	}
}

func (s *AuthService) handleTokenReuse(ctx context.Context, refreshToken string, device DeviceContext) {
	// The session service already revoked; recover the session for reporting.
	session, err := s.sessions.sessionRepo.GetByPrevRefreshTokenHash(ctx, intauth.HashOpaqueToken(refreshToken))
	if err != nil {
		s.logger.Error("failed to resolve reused token for audit", slog.Any("error", err))
		return
	}

	s.audit.Record(ctx, AuditEvent{
		TenantID:  session.TenantID,
		EventType: models.AuditEventTokenReuse,
		Severity:  models.AuditSeverityCritical,
		UserID:    session.UserID,
		SessionID: session.ID,
		Success:   false,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
	})

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		s.logger.Error("failed to load user for reuse alert", slog.Any("error", err))
		return
	}
	s.notify.NotifySecurityAlert(user.Email, "a previously used refresh token was presented again, so the affected session has been signed out")
}

func (s *AuthService) reportSuspiciousActivity(ctx context.Context, user *models.User, device DeviceContext, signals models.ActivitySignals) {
	s.audit.Record(ctx, AuditEvent{
		TenantID:  user.TenantID,
		EventType: models.AuditEventSuspiciousActivity,
		Severity:  models.AuditSeverityWarning,
		UserID:    user.ID,
		Success:   true,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Metadata: models.AuditMetadata{
			"new_device":        signals.NewDevice,
			"new_ip":            signals.NewIP,
			"impossible_travel": signals.ImpossibleTravel,
		},
	})

	summary := "a sign-in"
	switch {
	case signals.ImpossibleTravel:
		summary = "a sign-in from a location implausibly far from your last one"
	case signals.NewDevice:
		summary = "a sign-in from a device we have not seen before"
	case signals.NewIP:
		summary = "a sign-in from a new network address"
	}
	s.notify.NotifySecurityAlert(user.Email, summary)
}
