package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/felipesantoos/authcore/internal/middleware"
	"github.com/felipesantoos/authcore/internal/models"
	"github.com/felipesantoos/authcore/internal/services"
	pkghttp "github.com/felipesantoos/authcore/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AuthFlowService is the login orchestration surface the handler needs.
type AuthFlowService interface {
	Login(ctx context.Context, tenantID, email, password string, device services.DeviceContext) (*models.TokenPair, error)
	VerifyMFA(ctx context.Context, challengeToken, code string, device services.DeviceContext) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, device services.DeviceContext) (*models.TokenPair, error)
	Logout(ctx context.Context, tenantID, userID, sessionID string, device services.DeviceContext) error
	LogoutAll(ctx context.Context, tenantID, userID string, exceptSessionID *string, device services.DeviceContext) (int64, error)
}

// SessionQueryService lists and revokes the caller's sessions.
type SessionQueryService interface {
	ListActive(ctx context.Context, userID string) ([]*models.Session, error)
	Revoke(ctx context.Context, sessionID string) error
	GetOwned(ctx context.Context, userID, sessionID string) (*models.Session, error)
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	flow     AuthFlowService
	sessions SessionQueryService
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(flow AuthFlowService, sessions SessionQueryService, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		flow:     flow,
		sessions: sessions,
		ipConfig: ipConfig,
	}
}

// LoginRequest is the request body for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// VerifyMFARequest is the request body for completing an MFA challenge.
type VerifyMFARequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Code           string `json:"code" validate:"required,len=6,numeric"`
}

// RefreshRequest is the request body for token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TokenPairResponse is the response for any flow that issues tokens.
type TokenPairResponse struct {
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	TokenType             string    `json:"token_type"`
}

// MFARequiredResponse tells the client to continue with a TOTP code.
type MFARequiredResponse struct {
	MFARequired    bool      `json:"mfa_required"`
	ChallengeToken string    `json:"challenge_token"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// SessionResponse is one entry in the active session list.
type SessionResponse struct {
	ID             string    `json:"id"`
	UserAgent      string    `json:"user_agent"`
	IPAddress      string    `json:"ip_address"`
	IssuedAt       time.Time `json:"issued_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Current        bool      `json:"current"`
}

func tokenPairResponse(pair *models.TokenPair) TokenPairResponse {
	return TokenPairResponse{
		AccessToken:           pair.AccessToken,
		AccessTokenExpiresAt:  pair.AccessTokenExpiresAt,
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
		TokenType:             "Bearer",
	}
}

func (h *AuthHandler) device(r *http.Request) services.DeviceContext {
	return services.DeviceContext{
		Fingerprint: pkghttp.DeviceFingerprint(r),
		UserAgent:   r.Header.Get("User-Agent"),
		IPAddress:   pkghttp.ExtractClientIP(r, h.ipConfig),
	}
}

// tenantID reads the tenant from the X-Tenant-ID header. Every public auth
// endpoint is tenant scoped.
func tenantID(r *http.Request) string {
	return r.Header.Get("X-Tenant-ID")
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	tenant := tenantID(r)
	if tenant == "" {
		pkghttp.WriteBadRequest(w, "Missing X-Tenant-ID header")
		return
	}

	pair, err := h.flow.Login(r.Context(), tenant, req.Email, req.Password, h.device(r))
	if err != nil {
		var mfaErr *models.MFARequiredError
		if errors.As(err, &mfaErr) {
			pkghttp.WriteJSON(w, http.StatusOK, MFARequiredResponse{
				MFARequired:    true,
				ChallengeToken: mfaErr.ChallengeToken,
				ExpiresAt:      mfaErr.ExpiresAt,
			})
			return
		}
		writeLoginError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, tokenPairResponse(pair))
}

// VerifyMFA handles POST /auth/mfa/verify.
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.flow.VerifyMFA(r.Context(), req.ChallengeToken, req.Code, h.device(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMFAInvalidCode):
			pkghttp.WriteUnauthorized(w, "Invalid verification code")
		case errors.Is(err, models.ErrTokenExpired):
			pkghttp.WriteUnauthorized(w, "Challenge expired, start over")
		default:
			pkghttp.WriteInternalError(w)
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, tokenPairResponse(pair))
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.flow.Refresh(r.Context(), req.RefreshToken, h.device(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionNotFound),
			errors.Is(err, models.ErrTokenReuseDetected),
			errors.Is(err, models.ErrAccountDisabled):
			// Reuse detection intentionally looks like any other invalid
			// token; the alert goes to the account owner, not the caller.
			pkghttp.WriteUnauthorized(w, "Invalid or expired refresh token")
		default:
			pkghttp.WriteInternalError(w)
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, tokenPairResponse(pair))
}

// Logout handles POST /auth/logout. Revokes the caller's current session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	if err := h.flow.Logout(r.Context(), claims.TenantID, claims.UserID, claims.SessionID, h.device(r)); err != nil {
		pkghttp.WriteInternalError(w)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// LogoutAll handles POST /auth/logout-all. Revokes every session except the
// current one.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	current := claims.SessionID
	revoked, err := h.flow.LogoutAll(r.Context(), claims.TenantID, claims.UserID, &current, h.device(r))
	if err != nil {
		pkghttp.WriteInternalError(w)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]int64{"revoked_sessions": revoked})
}

// ListSessions handles GET /auth/sessions.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	sessions, err := h.sessions.ListActive(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w)
		return
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionResponse{
			ID:             s.ID,
			UserAgent:      s.UserAgent,
			IPAddress:      s.IPAddress,
			IssuedAt:       s.IssuedAt,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.ExpiresAt,
			Current:        s.ID == claims.SessionID,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// RevokeSession handles DELETE /auth/sessions/{id}. A caller can only revoke
// their own sessions.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Missing session id")
		return
	}

	if _, err := h.sessions.GetOwned(r.Context(), claims.UserID, sessionID); err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrForbidden) {
			pkghttp.WriteNotFound(w, "Session not found")
			return
		}
		pkghttp.WriteInternalError(w)
		return
	}

	if err := h.sessions.Revoke(r.Context(), sessionID); err != nil {
		pkghttp.WriteInternalError(w)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Session revoked"})
}

// writeLoginError collapses every credential and account-state failure into
// the identical authentication-failed response.
func writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrAccountLocked),
		errors.Is(err, models.ErrAccountDisabled),
		errors.Is(err, models.ErrAccountSuspended),
		errors.Is(err, models.ErrEmailNotVerified):
		pkghttp.WriteAuthenticationFailed(w)
	default:
		pkghttp.WriteInternalError(w)
	}
}
