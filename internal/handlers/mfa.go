package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	intauth "github.com/felipesantoos/authcore/internal/auth"
	"github.com/felipesantoos/authcore/internal/middleware"
	"github.com/felipesantoos/authcore/internal/models"
	pkghttp "github.com/felipesantoos/authcore/pkg/http"
)

// MFAService covers TOTP enrollment lifecycle for an authenticated user.
type MFAService interface {
	EnrollMFA(ctx context.Context, userID string) (*intauth.TOTPEnrollment, error)
	ActivateMFA(ctx context.Context, userID, code string) error
	DisableMFA(ctx context.Context, userID, password string) error
}

// MFAHandler handles TOTP enrollment endpoints.
type MFAHandler struct {
	mfa MFAService
}

// NewMFAHandler creates a new MFAHandler.
func NewMFAHandler(mfa MFAService) *MFAHandler {
	return &MFAHandler{mfa: mfa}
}

// ActivateMFARequest is the request body for confirming enrollment.
type ActivateMFARequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableMFARequest is the request body for turning MFA off.
type DisableMFARequest struct {
	Password string `json:"password" validate:"required"`
}

// EnrollmentResponse returns the provisioning material for an authenticator
// app. The secret is shown exactly once.
type EnrollmentResponse struct {
	Secret    string `json:"secret"`
	URL       string `json:"url"`
	QRDataURL string `json:"qr_data_url"`
}

// Enroll handles POST /account/mfa/enroll.
func (h *MFAHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	enrollment, err := h.mfa.EnrollMFA(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			pkghttp.WriteConflict(w, "MFA is already enabled")
			return
		}
		pkghttp.WriteInternalError(w)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, EnrollmentResponse{
		Secret:    enrollment.Secret,
		URL:       enrollment.URL,
		QRDataURL: enrollment.QRDataURL,
	})
}

// Activate handles POST /account/mfa/activate.
func (h *MFAHandler) Activate(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	var req ActivateMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.mfa.ActivateMFA(r.Context(), claims.UserID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "No pending enrollment")
		case errors.Is(err, models.ErrMFAInvalidCode):
			pkghttp.WriteBadRequest(w, "Invalid verification code")
		default:
			pkghttp.WriteInternalError(w)
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "MFA enabled"})
}

// Disable handles POST /account/mfa/disable. Requires the account password,
// not just a live session.
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	var req DisableMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.mfa.DisableMFA(r.Context(), claims.UserID, req.Password); err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			pkghttp.WriteUnauthorized(w, "Password is incorrect")
			return
		}
		pkghttp.WriteInternalError(w)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "MFA disabled"})
}
