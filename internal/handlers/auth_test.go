package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intauth "github.com/felipesantoos/authcore/internal/auth"
	"github.com/felipesantoos/authcore/internal/middleware"
	"github.com/felipesantoos/authcore/internal/models"
	"github.com/felipesantoos/authcore/internal/services"
	pkghttp "github.com/felipesantoos/authcore/pkg/http"
)

type mockAuthFlow struct {
	LoginFunc     func(ctx context.Context, tenantID, email, password string, device services.DeviceContext) (*models.TokenPair, error)
	VerifyMFAFunc func(ctx context.Context, challengeToken, code string, device services.DeviceContext) (*models.TokenPair, error)
	RefreshFunc   func(ctx context.Context, refreshToken string, device services.DeviceContext) (*models.TokenPair, error)
	LogoutFunc    func(ctx context.Context, tenantID, userID, sessionID string, device services.DeviceContext) error
	LogoutAllFunc func(ctx context.Context, tenantID, userID string, exceptSessionID *string, device services.DeviceContext) (int64, error)
}

func (m *mockAuthFlow) Login(ctx context.Context, tenantID, email, password string, device services.DeviceContext) (*models.TokenPair, error) {
	return m.LoginFunc(ctx, tenantID, email, password, device)
}

func (m *mockAuthFlow) VerifyMFA(ctx context.Context, challengeToken, code string, device services.DeviceContext) (*models.TokenPair, error) {
	return m.VerifyMFAFunc(ctx, challengeToken, code, device)
}

func (m *mockAuthFlow) Refresh(ctx context.Context, refreshToken string, device services.DeviceContext) (*models.TokenPair, error) {
	return m.RefreshFunc(ctx, refreshToken, device)
}

func (m *mockAuthFlow) Logout(ctx context.Context, tenantID, userID, sessionID string, device services.DeviceContext) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, tenantID, userID, sessionID, device)
	}
	return nil
}

func (m *mockAuthFlow) LogoutAll(ctx context.Context, tenantID, userID string, exceptSessionID *string, device services.DeviceContext) (int64, error) {
	if m.LogoutAllFunc != nil {
		return m.LogoutAllFunc(ctx, tenantID, userID, exceptSessionID, device)
	}
	return 0, nil
}

type mockSessionQuery struct {
	ListActiveFunc func(ctx context.Context, userID string) ([]*models.Session, error)
	RevokeFunc     func(ctx context.Context, sessionID string) error
	GetOwnedFunc   func(ctx context.Context, userID, sessionID string) (*models.Session, error)
}

func (m *mockSessionQuery) ListActive(ctx context.Context, userID string) ([]*models.Session, error) {
	return m.ListActiveFunc(ctx, userID)
}

func (m *mockSessionQuery) Revoke(ctx context.Context, sessionID string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, sessionID)
	}
	return nil
}

func (m *mockSessionQuery) GetOwned(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return m.GetOwnedFunc(ctx, userID, sessionID)
}

func testPair() *models.TokenPair {
	return &models.TokenPair{
		AccessToken:           "access-token",
		AccessTokenExpiresAt:  time.Now().Add(15 * time.Minute),
		RefreshToken:          "refresh-token",
		RefreshTokenExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		SessionID:             "sess-1",
	}
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func authenticatedRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = jsonRequest(t, method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	claims := &intauth.Claims{
		UserID:    "user-1",
		TenantID:  "tenant-a",
		Role:      models.RoleUser,
		SessionID: "sess-1",
	}
	return req.WithContext(middleware.ContextWithClaims(req.Context(), claims))
}

func newAuthHandler(flow *mockAuthFlow, sessions *mockSessionQuery) *AuthHandler {
	return NewAuthHandler(flow, sessions, &pkghttp.IPConfig{})
}

func TestAuthHandler_Login_Success(t *testing.T) {
	flow := &mockAuthFlow{
		LoginFunc: func(ctx context.Context, tenantID, email, password string, device services.DeviceContext) (*models.TokenPair, error) {
			assert.Equal(t, "tenant-a", tenantID)
			assert.Equal(t, "alice@example.com", email)
			assert.Equal(t, "correct horse", password)
			return testPair(), nil
		},
	}
	handler := newAuthHandler(flow, &mockSessionQuery{})

	req := jsonRequest(t, http.MethodPost, "/auth/login", LoginRequest{Email: "alice@example.com", Password: "correct horse"})
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TokenPairResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "access-token", resp.AccessToken)
	assert.Equal(t, "refresh-token", resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
}

func TestAuthHandler_Login_MissingTenant(t *testing.T) {
	handler := newAuthHandler(&mockAuthFlow{}, &mockSessionQuery{})

	req := jsonRequest(t, http.MethodPost, "/auth/login", LoginRequest{Email: "alice@example.com", Password: "pw"})
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandler_Login_InvalidBody(t *testing.T) {
	handler := newAuthHandler(&mockAuthFlow{}, &mockSessionQuery{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandler_Login_FailuresAreIndistinguishable(t *testing.T) {
	// Wrong password, locked, disabled, suspended, and unverified accounts
	// must all produce the byte-identical response.
	failures := []error{
		models.ErrInvalidCredentials,
		&models.AccountLockedError{UnlockAt: time.Now().Add(15 * time.Minute)},
		models.ErrAccountDisabled,
		models.ErrAccountSuspended,
		models.ErrEmailNotVerified,
	}

	var bodies []string
	for _, failure := range failures {
		flow := &mockAuthFlow{
			LoginFunc: func(ctx context.Context, tenantID, email, password string, device services.DeviceContext) (*models.TokenPair, error) {
				return nil, failure
			},
		}
		handler := newAuthHandler(flow, &mockSessionQuery{})

		req := jsonRequest(t, http.MethodPost, "/auth/login", LoginRequest{Email: "alice@example.com", Password: "pw"})
		req.Header.Set("X-Tenant-ID", "tenant-a")
		rec := httptest.NewRecorder()
		handler.Login(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		bodies = append(bodies, rec.Body.String())
	}

	for i := 1; i < len(bodies); i++ {
		assert.Equal(t, bodies[0], bodies[i])
	}
}

func TestAuthHandler_Login_MFARequired(t *testing.T) {
	expires := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Second)
	flow := &mockAuthFlow{
		LoginFunc: func(ctx context.Context, tenantID, email, password string, device services.DeviceContext) (*models.TokenPair, error) {
			return nil, &models.MFARequiredError{ChallengeToken: "challenge-abc", ExpiresAt: expires}
		},
	}
	handler := newAuthHandler(flow, &mockSessionQuery{})

	req := jsonRequest(t, http.MethodPost, "/auth/login", LoginRequest{Email: "alice@example.com", Password: "pw"})
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MFARequiredResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.MFARequired)
	assert.Equal(t, "challenge-abc", resp.ChallengeToken)
	assert.Equal(t, expires, resp.ExpiresAt.UTC())
}

func TestAuthHandler_VerifyMFA_Success(t *testing.T) {
	flow := &mockAuthFlow{
		VerifyMFAFunc: func(ctx context.Context, challengeToken, code string, device services.DeviceContext) (*models.TokenPair, error) {
			assert.Equal(t, "challenge-abc", challengeToken)
			assert.Equal(t, "123456", code)
			return testPair(), nil
		},
	}
	handler := newAuthHandler(flow, &mockSessionQuery{})

	req := jsonRequest(t, http.MethodPost, "/auth/mfa/verify", VerifyMFARequest{ChallengeToken: "challenge-abc", Code: "123456"})
	rec := httptest.NewRecorder()
	handler.VerifyMFA(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthHandler_VerifyMFA_CodeValidation(t *testing.T) {
	handler := newAuthHandler(&mockAuthFlow{}, &mockSessionQuery{})

	for _, code := range []string{"", "12345", "abcdef", "1234567"} {
		req := jsonRequest(t, http.MethodPost, "/auth/mfa/verify", VerifyMFARequest{ChallengeToken: "challenge-abc", Code: code})
		rec := httptest.NewRecorder()
		handler.VerifyMFA(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "code %q should fail validation", code)
	}
}

func TestAuthHandler_VerifyMFA_WrongCode(t *testing.T) {
	flow := &mockAuthFlow{
		VerifyMFAFunc: func(ctx context.Context, challengeToken, code string, device services.DeviceContext) (*models.TokenPair, error) {
			return nil, models.ErrMFAInvalidCode
		},
	}
	handler := newAuthHandler(flow, &mockSessionQuery{})

	req := jsonRequest(t, http.MethodPost, "/auth/mfa/verify", VerifyMFARequest{ChallengeToken: "challenge-abc", Code: "000000"})
	rec := httptest.NewRecorder()
	handler.VerifyMFA(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandler_Refresh_ReuseLooksLikeInvalidToken(t *testing.T) {
	for _, failure := range []error{models.ErrSessionNotFound, models.ErrTokenReuseDetected} {
		flow := &mockAuthFlow{
			RefreshFunc: func(ctx context.Context, refreshToken string, device services.DeviceContext) (*models.TokenPair, error) {
				return nil, failure
			},
		}
		handler := newAuthHandler(flow, &mockSessionQuery{})

		req := jsonRequest(t, http.MethodPost, "/auth/refresh", RefreshRequest{RefreshToken: "some-token"})
		rec := httptest.NewRecorder()
		handler.Refresh(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestAuthHandler_Refresh_Success(t *testing.T) {
	flow := &mockAuthFlow{
		RefreshFunc: func(ctx context.Context, refreshToken string, device services.DeviceContext) (*models.TokenPair, error) {
			assert.Equal(t, "old-refresh", refreshToken)
			return testPair(), nil
		},
	}
	handler := newAuthHandler(flow, &mockSessionQuery{})

	req := jsonRequest(t, http.MethodPost, "/auth/refresh", RefreshRequest{RefreshToken: "old-refresh"})
	rec := httptest.NewRecorder()
	handler.Refresh(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthHandler_Logout(t *testing.T) {
	var gotSession string
	flow := &mockAuthFlow{
		LogoutFunc: func(ctx context.Context, tenantID, userID, sessionID string, device services.DeviceContext) error {
			gotSession = sessionID
			return nil
		},
	}
	handler := newAuthHandler(flow, &mockSessionQuery{})

	req := authenticatedRequest(t, http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	handler.Logout(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-1", gotSession)
}

func TestAuthHandler_Logout_Unauthenticated(t *testing.T) {
	handler := newAuthHandler(&mockAuthFlow{}, &mockSessionQuery{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	handler.Logout(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandler_LogoutAll_KeepsCurrentSession(t *testing.T) {
	var gotExcept *string
	flow := &mockAuthFlow{
		LogoutAllFunc: func(ctx context.Context, tenantID, userID string, exceptSessionID *string, device services.DeviceContext) (int64, error) {
			gotExcept = exceptSessionID
			return 3, nil
		},
	}
	handler := newAuthHandler(flow, &mockSessionQuery{})

	req := authenticatedRequest(t, http.MethodPost, "/auth/logout-all", nil)
	rec := httptest.NewRecorder()
	handler.LogoutAll(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotExcept)
	assert.Equal(t, "sess-1", *gotExcept)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp["revoked_sessions"])
}

func TestAuthHandler_ListSessions_MarksCurrent(t *testing.T) {
	now := time.Now()
	sessions := &mockSessionQuery{
		ListActiveFunc: func(ctx context.Context, userID string) ([]*models.Session, error) {
			return []*models.Session{
				{ID: "sess-1", UserID: userID, IssuedAt: now, LastActivityAt: now, ExpiresAt: now.Add(time.Hour)},
				{ID: "sess-2", UserID: userID, IssuedAt: now, LastActivityAt: now, ExpiresAt: now.Add(time.Hour)},
			}, nil
		},
	}
	handler := newAuthHandler(&mockAuthFlow{}, sessions)

	req := authenticatedRequest(t, http.MethodGet, "/auth/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ListSessions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Sessions []SessionResponse `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 2)
	assert.True(t, resp.Sessions[0].Current)
	assert.False(t, resp.Sessions[1].Current)
}

func TestAuthHandler_RevokeSession_ForeignSessionIsNotFound(t *testing.T) {
	sessions := &mockSessionQuery{
		GetOwnedFunc: func(ctx context.Context, userID, sessionID string) (*models.Session, error) {
			return nil, models.ErrNotFound
		},
	}
	handler := newAuthHandler(&mockAuthFlow{}, sessions)

	req := authenticatedRequest(t, http.MethodDelete, "/auth/sessions/sess-other", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "sess-other")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	handler.RevokeSession(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthHandler_RevokeSession_Owned(t *testing.T) {
	var revoked string
	sessions := &mockSessionQuery{
		GetOwnedFunc: func(ctx context.Context, userID, sessionID string) (*models.Session, error) {
			return &models.Session{ID: sessionID, UserID: userID}, nil
		},
		RevokeFunc: func(ctx context.Context, sessionID string) error {
			revoked = sessionID
			return nil
		},
	}
	handler := newAuthHandler(&mockAuthFlow{}, sessions)

	req := authenticatedRequest(t, http.MethodDelete, "/auth/sessions/sess-2", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "sess-2")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	handler.RevokeSession(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-2", revoked)
}
