package services

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/felipesantoos/authcore/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockUserRepo implements UserRepository with overridable functions.
type mockUserRepo struct {
	GetByIDFunc            func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc         func(ctx context.Context, tenantID, email string) (*models.User, error)
	CreateFunc             func(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePasswordHashFunc func(ctx context.Context, id, hash string, changedAt time.Time) error
	SetEmailVerifiedFunc   func(ctx context.Context, id string) error
	SetTOTPSecretFunc      func(ctx context.Context, id, secret string) error
	SetMFAEnabledFunc      func(ctx context.Context, id string, enabled bool) error
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, tenantID, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, tenantID, email)
	}
	return nil, models.ErrNotFound
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return user, nil
}

func (m *mockUserRepo) UpdatePasswordHash(ctx context.Context, id, hash string, changedAt time.Time) error {
	if m.UpdatePasswordHashFunc != nil {
		return m.UpdatePasswordHashFunc(ctx, id, hash, changedAt)
	}
	return nil
}

func (m *mockUserRepo) SetEmailVerified(ctx context.Context, id string) error {
	if m.SetEmailVerifiedFunc != nil {
		return m.SetEmailVerifiedFunc(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) SetTOTPSecret(ctx context.Context, id, secret string) error {
	if m.SetTOTPSecretFunc != nil {
		return m.SetTOTPSecretFunc(ctx, id, secret)
	}
	return nil
}

func (m *mockUserRepo) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	if m.SetMFAEnabledFunc != nil {
		return m.SetMFAEnabledFunc(ctx, id, enabled)
	}
	return nil
}

// mockSessionRepo implements SessionRepository with overridable functions.
type mockSessionRepo struct {
	CreateFunc                    func(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByIDFunc                   func(ctx context.Context, id string) (*models.Session, error)
	GetByRefreshTokenHashFunc     func(ctx context.Context, hash string) (*models.Session, error)
	GetByPrevRefreshTokenHashFunc func(ctx context.Context, hash string) (*models.Session, error)
	RotateRefreshTokenFunc        func(ctx context.Context, sessionID, presentedHash, newHash string, now time.Time) (bool, error)
	RevokeFunc                    func(ctx context.Context, sessionID string, now time.Time) error
	RevokeAllForUserFunc          func(ctx context.Context, userID string, exceptSessionID *string, now time.Time) (int64, error)
	TouchActivityFunc             func(ctx context.Context, sessionID string, now time.Time) error
	ListActiveByUserFunc          func(ctx context.Context, userID string, now time.Time) ([]*models.Session, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	return session, nil
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *mockSessionRepo) GetByRefreshTokenHash(ctx context.Context, hash string) (*models.Session, error) {
	if m.GetByRefreshTokenHashFunc != nil {
		return m.GetByRefreshTokenHashFunc(ctx, hash)
	}
	return nil, models.ErrNotFound
}

func (m *mockSessionRepo) GetByPrevRefreshTokenHash(ctx context.Context, hash string) (*models.Session, error) {
	if m.GetByPrevRefreshTokenHashFunc != nil {
		return m.GetByPrevRefreshTokenHashFunc(ctx, hash)
	}
	return nil, models.ErrNotFound
}

func (m *mockSessionRepo) RotateRefreshToken(ctx context.Context, sessionID, presentedHash, newHash string, now time.Time) (bool, error) {
	if m.RotateRefreshTokenFunc != nil {
		return m.RotateRefreshTokenFunc(ctx, sessionID, presentedHash, newHash, now)
	}
	return true, nil
}

func (m *mockSessionRepo) Revoke(ctx context.Context, sessionID string, now time.Time) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, sessionID, now)
	}
	return nil
}

func (m *mockSessionRepo) RevokeAllForUser(ctx context.Context, userID string, exceptSessionID *string, now time.Time) (int64, error) {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID, exceptSessionID, now)
	}
	return 0, nil
}

func (m *mockSessionRepo) TouchActivity(ctx context.Context, sessionID string, now time.Time) error {
	if m.TouchActivityFunc != nil {
		return m.TouchActivityFunc(ctx, sessionID, now)
	}
	return nil
}

func (m *mockSessionRepo) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	if m.ListActiveByUserFunc != nil {
		return m.ListActiveByUserFunc(ctx, userID, now)
	}
	return nil, nil
}

// mockAttemptRepo implements LoginAttemptRepository with overridable
// functions; Recorded collects every attempt passed to RecordAttempt.
type mockAttemptRepo struct {
	mu       sync.Mutex
	Recorded []*models.LoginAttempt

	RecordAttemptFunc                     func(ctx context.Context, attempt *models.LoginAttempt) error
	HasSuccessfulLoginWithFingerprintFunc func(ctx context.Context, userID, fingerprint string, since time.Time) (bool, error)
	HasSuccessfulLoginFromIPFunc          func(ctx context.Context, userID, ip string, since time.Time) (bool, error)
	GetLastSuccessfulAttemptFunc          func(ctx context.Context, userID string) (*models.LoginAttempt, error)
	ListRecentByUserFunc                  func(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

func (m *mockAttemptRepo) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	m.mu.Lock()
	m.Recorded = append(m.Recorded, attempt)
	m.mu.Unlock()
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	return nil
}

func (m *mockAttemptRepo) HasSuccessfulLoginWithFingerprint(ctx context.Context, userID, fingerprint string, since time.Time) (bool, error) {
	if m.HasSuccessfulLoginWithFingerprintFunc != nil {
		return m.HasSuccessfulLoginWithFingerprintFunc(ctx, userID, fingerprint, since)
	}
	return false, nil
}

func (m *mockAttemptRepo) HasSuccessfulLoginFromIP(ctx context.Context, userID, ip string, since time.Time) (bool, error) {
	if m.HasSuccessfulLoginFromIPFunc != nil {
		return m.HasSuccessfulLoginFromIPFunc(ctx, userID, ip, since)
	}
	return false, nil
}

func (m *mockAttemptRepo) GetLastSuccessfulAttempt(ctx context.Context, userID string) (*models.LoginAttempt, error) {
	if m.GetLastSuccessfulAttemptFunc != nil {
		return m.GetLastSuccessfulAttemptFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *mockAttemptRepo) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	if m.ListRecentByUserFunc != nil {
		return m.ListRecentByUserFunc(ctx, userID, limit)
	}
	return nil, nil
}

// mockTokenRepo implements SingleUseTokenRepository with an in-memory map so
// issue-then-consume flows work without overrides.
type mockTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.SingleUseToken
	nextID int
}

func newMockTokenRepo() *mockTokenRepo {
	return &mockTokenRepo{tokens: make(map[string]*models.SingleUseToken)}
}

func (m *mockTokenRepo) Create(ctx context.Context, token *models.SingleUseToken) (*models.SingleUseToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := *token
	t.ID = "tok-" + strconv.Itoa(m.nextID)
	m.tokens[t.ID] = &t
	return &t, nil
}

func (m *mockTokenRepo) GetByTokenHash(ctx context.Context, hash string) (*models.SingleUseToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash && t.ConsumedAt == nil {
			copy := *t
			return &copy, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *mockTokenRepo) Consume(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.ConsumedAt != nil {
		return false, nil
	}
	t.ConsumedAt = &now
	return true, nil
}

func (m *mockTokenRepo) InvalidateBySubject(ctx context.Context, tenantID string, purpose models.TokenPurpose, subject string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TenantID == tenantID && t.Purpose == purpose && t.Subject == subject && t.ConsumedAt == nil {
			t.ConsumedAt = &now
		}
	}
	return nil
}

// mockAuditRepo records audit entries in memory.
type mockAuditRepo struct {
	mu      sync.Mutex
	Entries []*models.AuditLog
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *models.AuditLog) (*models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, entry)
	return entry, nil
}

func (m *mockAuditRepo) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditLog
	for _, e := range m.Entries {
		if e.UserID != nil && *e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockAuditRepo) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		types = append(types, e.EventType)
	}
	return types
}

// mockEmailService records sends instead of talking to SES.
type mockEmailService struct {
	mu    sync.Mutex
	Sends []mockEmailSend
}

type mockEmailSend struct {
	Kind  string
	Email string
	Token string
}

func (m *mockEmailService) record(kind, email, token string) {
	m.mu.Lock()
	m.Sends = append(m.Sends, mockEmailSend{Kind: kind, Email: email, Token: token})
	m.mu.Unlock()
}

func (m *mockEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record("verification", email, token)
	return nil
}

func (m *mockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record("password_reset", email, token)
	return nil
}

func (m *mockEmailService) SendMagicLinkEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record("magic_link", email, token)
	return nil
}

func (m *mockEmailService) SendLockoutNotice(ctx context.Context, email string, unlockAt time.Time) error {
	m.record("lockout", email, "")
	return nil
}

func (m *mockEmailService) SendSecurityAlert(ctx context.Context, email, summary string) error {
	m.record("security_alert", email, summary)
	return nil
}

// stubGeo resolves every IP to fixed coordinates from a lookup table.
type stubGeo struct {
	coords map[string][2]float64
}

func (g *stubGeo) Resolve(ctx context.Context, ip string) (float64, float64, bool) {
	c, ok := g.coords[ip]
	if !ok {
		return 0, 0, false
	}
	return c[0], c[1], true
}
