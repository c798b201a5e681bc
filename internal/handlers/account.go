package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/felipesantoos/authcore/internal/middleware"
	"github.com/felipesantoos/authcore/internal/models"
	"github.com/felipesantoos/authcore/internal/services"
	pkgauth "github.com/felipesantoos/authcore/pkg/auth"
	pkghttp "github.com/felipesantoos/authcore/pkg/http"
)

// AccountFlowService covers registration, email verification, password
// recovery, and magic-link login.
type AccountFlowService interface {
	Register(ctx context.Context, tenantID, email, password, name string, device services.DeviceContext) (*models.User, error)
	ResendVerification(ctx context.Context, tenantID, email string) error
	VerifyEmail(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, tenantID, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, currentSessionID string) error
	RequestMagicLink(ctx context.Context, tenantID, email string) error
	MagicLinkLogin(ctx context.Context, token string, device services.DeviceContext) (*models.TokenPair, error)
}

// AccountHandler handles registration and account self-service endpoints.
type AccountHandler struct {
	accounts AccountFlowService
	ipConfig *pkghttp.IPConfig
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts AccountFlowService, ipConfig *pkghttp.IPConfig) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		ipConfig: ipConfig,
	}
}

// RegisterRequest is the request body for account registration.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,max=100"`
}

// EmailRequest covers the endpoints that only need a target email.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// TokenRequest covers the endpoints that consume a single-use token.
type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// ConfirmPasswordResetRequest is the request body for completing a reset.
type ConfirmPasswordResetRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// ChangePasswordRequest is the request body for an authenticated password
// change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

func (h *AccountHandler) device(r *http.Request) services.DeviceContext {
	return services.DeviceContext{
		Fingerprint: pkghttp.DeviceFingerprint(r),
		UserAgent:   r.Header.Get("User-Agent"),
		IPAddress:   pkghttp.ExtractClientIP(r, h.ipConfig),
	}
}

// Register handles POST /auth/register. Duplicate emails get the same
// response as fresh registrations so the endpoint cannot be used to probe for
// existing accounts.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
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

	_, err := h.accounts.Register(r.Context(), tenant, req.Email, req.Password, req.Name, h.device(r))
	if err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pwErr):
			pkghttp.WriteBadRequest(w, pwErr.Error())
		case errors.Is(err, models.ErrConflict):
			// Fall through to the generic accepted response.
		default:
			pkghttp.WriteInternalError(w)
			return
		}
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "Check your email to verify your account",
	})
}

// ResendVerification handles POST /auth/verify-email/resend.
func (h *AccountHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	h.emailEndpoint(w, r, h.accounts.ResendVerification, "If the account exists, a verification email has been sent")
}

// VerifyEmail handles POST /auth/verify-email.
func (h *AccountHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.accounts.VerifyEmail(r.Context(), req.Token); err != nil {
		writeSingleUseTokenError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Email verified"})
}

// RequestPasswordReset handles POST /auth/password/forgot.
func (h *AccountHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	h.emailEndpoint(w, r, h.accounts.RequestPasswordReset, "If the account exists, a password reset email has been sent")
}

// ConfirmPasswordReset handles POST /auth/password/reset.
func (h *AccountHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.accounts.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		var pwErr *pkgauth.PasswordValidationError
		if errors.As(err, &pwErr) {
			pkghttp.WriteBadRequest(w, pwErr.Error())
			return
		}
		writeSingleUseTokenError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password reset"})
}

// ChangePassword handles POST /account/password. Requires authentication;
// revokes every other session on success.
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.accounts.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword, claims.SessionID)
	if err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, "Current password is incorrect")
		case errors.As(err, &pwErr):
			pkghttp.WriteBadRequest(w, pwErr.Error())
		default:
			pkghttp.WriteInternalError(w)
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

// RequestMagicLink handles POST /auth/magic-link.
func (h *AccountHandler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	h.emailEndpoint(w, r, h.accounts.RequestMagicLink, "If the account exists, a sign-in link has been sent")
}

// MagicLinkLogin handles POST /auth/magic-link/verify.
func (h *AccountHandler) MagicLinkLogin(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.accounts.MagicLinkLogin(r.Context(), req.Token, h.device(r))
	if err != nil {
		if errors.Is(err, models.ErrMFARequired) {
			pkghttp.WriteForbidden(w, "Use password sign-in, this account requires MFA")
			return
		}
		writeSingleUseTokenError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, tokenPairResponse(pair))
}

// emailEndpoint is the shared shape of the send-an-email endpoints: always
// the same accepted response, whether or not the account exists.
func (h *AccountHandler) emailEndpoint(w http.ResponseWriter, r *http.Request, send func(ctx context.Context, tenantID, email string) error, message string) {
	var req EmailRequest
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

	if err := send(r.Context(), tenant, req.Email); err != nil {
		pkghttp.WriteInternalError(w)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{"message": message})
}

// writeSingleUseTokenError maps token consumption failures. Every invalid
// token shape gets the same message so callers cannot distinguish expired,
// consumed, and fabricated tokens.
func writeSingleUseTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrTokenMalformed),
		errors.Is(err, models.ErrTokenExpired),
		errors.Is(err, models.ErrSingleUseTokenConsumed),
		errors.Is(err, models.ErrSingleUseTokenWrongPurpose),
		errors.Is(err, models.ErrNotFound):
		pkghttp.WriteBadRequest(w, "Invalid or expired token")
	default:
		pkghttp.WriteInternalError(w)
	}
}
