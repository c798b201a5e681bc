package services

import (
	"context"
	"testing"
	"time"

	intauth "github.com/felipesantoos/authcore/internal/auth"
	"github.com/felipesantoos/authcore/internal/models"
	pkgauth "github.com/felipesantoos/authcore/pkg/auth"
	"github.com/felipesantoos/authcore/pkg/clock"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// authFixture wires an AuthService against in-memory doubles and miniredis.
type authFixture struct {
	svc      *AuthService
	users    *mockUserRepo
	sessions *mockSessionRepo
	attempts *mockAttemptRepo
	auditLog *mockAuditRepo
	email    *mockEmailService
	notify   *NotificationService
	lockout  *LockoutService
	hasher   *pkgauth.Hasher
	clk      *clock.Fixed
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := testLogger()
	redisClient, _ := newTestRedis(t)

	users := &mockUserRepo{}
	sessionRepo := &mockSessionRepo{}
	attempts := &mockAttemptRepo{}
	auditRepo := &mockAuditRepo{}
	email := &mockEmailService{}

	hasher := pkgauth.NewHasher(bcrypt.MinCost, nil)
	codec := intauth.NewTokenCodec("0123456789abcdef0123456789abcdef", "authcore-test", "authcore-api", 15*time.Minute)

	lockout := NewLockoutService(redisClient, testLockoutPolicy(), clk, logger)
	sessions := NewSessionService(sessionRepo, users, codec, 30*24*time.Hour, false, clk, logger)
	activity := NewActivityService(attempts, nil, 90*24*time.Hour, 1000, 90*24*time.Hour, clk, logger)
	mfa := NewMFAChallengeStore(redisClient, 5*time.Minute, 5, clk, logger)
	totpVerifier := intauth.NewTOTPVerifier("authcore-test")
	audit := NewAuditService(auditRepo, clk, logger)
	notify := NewNotificationService(email, 64, 0, time.Millisecond, logger)
	notify.Start(context.Background(), 1)
	t.Cleanup(notify.Stop)
	timing := intauth.NewTimingDelay(intauth.TimingConfig{})

	svc := NewAuthService(users, hasher, lockout, sessions, activity, mfa, totpVerifier, audit, notify, timing, clk, logger)

	return &authFixture{
		svc:      svc,
		users:    users,
		sessions: sessionRepo,
		attempts: attempts,
		auditLog: auditRepo,
		email:    email,
		notify:   notify,
		lockout:  lockout,
		hasher:   hasher,
		clk:      clk,
	}
}

// seedUser registers a user with the given password in the mock repo.
func (f *authFixture) seedUser(t *testing.T, password string, mutate func(*models.User)) *models.User {
	t.Helper()

	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)

	user := testUser()
	user.PasswordHash = hash
	if mutate != nil {
		mutate(user)
	}

	f.users.GetByEmailFunc = func(ctx context.Context, tenantID, email string) (*models.User, error) {
		if tenantID == user.TenantID && email == user.Email {
			return user, nil
		}
		return nil, models.ErrNotFound
	}
	f.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		if id == user.ID {
			return user, nil
		}
		return nil, models.ErrNotFound
	}
	return user
}

func TestAuthService_LoginSuccess(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "correct horse battery", nil)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, user.TenantID, user.Email, "correct horse battery", testDevice())
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	// Attempt history has a success, audit has a login.
	require.Len(t, f.attempts.Recorded, 1)
	assert.True(t, f.attempts.Recorded[0].Success)
	assert.Contains(t, f.auditLog.eventTypes(), models.AuditEventLogin)
}

func TestAuthService_LoginWrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "correct horse battery", nil)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, user.TenantID, user.Email, "wrong", testDevice())
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	count, err := f.lockout.FailureCount(ctx, user.TenantID, user.Email)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Len(t, f.attempts.Recorded, 1)
	assert.False(t, f.attempts.Recorded[0].Success)
}

func TestAuthService_LoginUnknownEmail(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "t1", "nobody@example.com", "whatever", testDevice())
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	// Unknown emails still count toward lockout so probing is bounded.
	count, err := f.lockout.FailureCount(ctx, "t1", "nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAuthService_LockoutAfterRepeatedFailures(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "correct horse battery", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, user.TenantID, user.Email, "wrong", testDevice())
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	// Even the correct password is refused while locked.
	_, err := f.svc.Login(ctx, user.TenantID, user.Email, "correct horse battery", testDevice())
	assert.ErrorIs(t, err, models.ErrAccountLocked)

	var lockedErr *models.AccountLockedError
	require.ErrorAs(t, err, &lockedErr)
	assert.WithinDuration(t, f.clk.Now().Add(15*time.Minute), lockedErr.UnlockAt, 2*time.Second)

	// The lockout landed in the audit trail and the owner was notified.
	assert.Contains(t, f.auditLog.eventTypes(), models.AuditEventLockout)
	f.notify.Stop()
	require.NotEmpty(t, f.email.Sends)
	assert.Equal(t, "lockout", f.email.Sends[len(f.email.Sends)-1].Kind)
}

func TestAuthService_LoginUnverifiedEmail(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "correct horse battery", func(u *models.User) {
		u.EmailVerified = false
	})

	_, err := f.svc.Login(context.Background(), user.TenantID, user.Email, "correct horse battery", testDevice())
	assert.ErrorIs(t, err, models.ErrEmailNotVerified)
}

func TestAuthService_LoginSuspendedAccount(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "correct horse battery", func(u *models.User) {
		u.Status = models.UserStatusSuspended
	})

	_, err := f.svc.Login(context.Background(), user.TenantID, user.Email, "correct horse battery", testDevice())
	assert.ErrorIs(t, err, models.ErrAccountSuspended)
}

func TestAuthService_LoginRehashesWeakHash(t *testing.T) {
	f := newAuthFixture(t)

	// Hash stored at the minimum cost; the service hasher wants more.
	weak := pkgauth.NewHasher(bcrypt.MinCost, nil)
	hash, err := weak.Hash("correct horse battery")
	require.NoError(t, err)

	stronger := pkgauth.NewHasher(bcrypt.MinCost+1, nil)
	f.svc.hasher = stronger

	user := testUser()
	user.PasswordHash = hash
	f.users.GetByEmailFunc = func(ctx context.Context, tenantID, email string) (*models.User, error) {
		return user, nil
	}

	rehashed := false
	f.users.UpdatePasswordHashFunc = func(ctx context.Context, id, newHash string, changedAt time.Time) error {
		rehashed = true
		assert.NotEqual(t, hash, newHash)
		return nil
	}

	_, err = f.svc.Login(context.Background(), user.TenantID, user.Email, "correct horse battery", testDevice())
	require.NoError(t, err)
	assert.True(t, rehashed)
}

func TestAuthService_MFAFlow(t *testing.T) {
	f := newAuthFixture(t)

	verifier := intauth.NewTOTPVerifier("authcore-test")
	enrollment, err := verifier.GenerateEnrollment("a@example.com")
	require.NoError(t, err)

	user := f.seedUser(t, "correct horse battery", func(u *models.User) {
		u.MFAEnabled = true
		u.TOTPSecret = enrollment.Secret
	})
	ctx := context.Background()

	_, err = f.svc.Login(ctx, user.TenantID, user.Email, "correct horse battery", testDevice())

	var mfaErr *models.MFARequiredError
	require.ErrorAs(t, err, &mfaErr)
	assert.ErrorIs(t, err, models.ErrMFARequired)
	require.NotEmpty(t, mfaErr.ChallengeToken)

	code, err := totp.GenerateCode(enrollment.Secret, f.clk.Now())
	require.NoError(t, err)

	pair, err := f.svc.VerifyMFA(ctx, mfaErr.ChallengeToken, code, testDevice())
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	// The challenge is single use.
	_, err = f.svc.VerifyMFA(ctx, mfaErr.ChallengeToken, code, testDevice())
	assert.ErrorIs(t, err, models.ErrTokenExpired)
}

func TestAuthService_MFAWrongCodeCountsTowardLockout(t *testing.T) {
	f := newAuthFixture(t)

	verifier := intauth.NewTOTPVerifier("authcore-test")
	enrollment, err := verifier.GenerateEnrollment("a@example.com")
	require.NoError(t, err)

	user := f.seedUser(t, "correct horse battery", func(u *models.User) {
		u.MFAEnabled = true
		u.TOTPSecret = enrollment.Secret
	})
	ctx := context.Background()

	_, err = f.svc.Login(ctx, user.TenantID, user.Email, "correct horse battery", testDevice())
	var mfaErr *models.MFARequiredError
	require.ErrorAs(t, err, &mfaErr)

	_, err = f.svc.VerifyMFA(ctx, mfaErr.ChallengeToken, "000000", testDevice())
	assert.ErrorIs(t, err, models.ErrMFAInvalidCode)

	count, err := f.lockout.FailureCount(ctx, user.TenantID, user.Email)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAuthService_RefreshReuseAuditsAndAlerts(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "correct horse battery", nil)

	prevHash := intauth.HashOpaqueToken("stolen-old-token")
	session := &models.Session{
		ID:                   "sess-1",
		UserID:               user.ID,
		TenantID:             user.TenantID,
		PrevRefreshTokenHash: &prevHash,
	}

	f.sessions.GetByRefreshTokenHashFunc = func(ctx context.Context, hash string) (*models.Session, error) {
		return nil, models.ErrNotFound
	}
	f.sessions.GetByPrevRefreshTokenHashFunc = func(ctx context.Context, hash string) (*models.Session, error) {
		if hash == prevHash {
			return session, nil
		}
		return nil, models.ErrNotFound
	}

	_, err := f.svc.Refresh(context.Background(), "stolen-old-token", testDevice())
	assert.ErrorIs(t, err, models.ErrTokenReuseDetected)

	assert.Contains(t, f.auditLog.eventTypes(), models.AuditEventTokenReuse)

	f.notify.Stop()
	require.NotEmpty(t, f.email.Sends)
	assert.Equal(t, "security_alert", f.email.Sends[len(f.email.Sends)-1].Kind)
}

func TestAuthService_SuspiciousLoginAlerts(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "correct horse battery", nil)
	ctx := context.Background()

	// A prior successful login exists, and neither the device nor the IP
	// match anything seen before.
	f.attempts.GetLastSuccessfulAttemptFunc = func(ctx context.Context, userID string) (*models.LoginAttempt, error) {
		return successfulAttemptAt(f.clk.Now().Add(-time.Hour), newYork[0], newYork[1]), nil
	}

	_, err := f.svc.Login(ctx, user.TenantID, user.Email, "correct horse battery", testDevice())
	require.NoError(t, err)

	assert.Contains(t, f.auditLog.eventTypes(), models.AuditEventSuspiciousActivity)

	f.notify.Stop()
	require.NotEmpty(t, f.email.Sends)
	assert.Equal(t, "security_alert", f.email.Sends[len(f.email.Sends)-1].Kind)
}

func TestAuthService_LogoutAudits(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	err := f.svc.Logout(ctx, "t1", "user-1", "sess-1", testDevice())
	require.NoError(t, err)
	assert.Contains(t, f.auditLog.eventTypes(), models.AuditEventLogout)
}

func TestAuthService_LogoutAllReportsCount(t *testing.T) {
	f := newAuthFixture(t)
	f.sessions.RevokeAllForUserFunc = func(ctx context.Context, userID string, exceptSessionID *string, now time.Time) (int64, error) {
		require.NotNil(t, exceptSessionID)
		assert.Equal(t, "sess-current", *exceptSessionID)
		return 4, nil
	}

	current := "sess-current"
	revoked, err := f.svc.LogoutAll(context.Background(), "t1", "user-1", &current, testDevice())
	require.NoError(t, err)
	assert.Equal(t, int64(4), revoked)
}
