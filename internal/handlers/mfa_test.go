package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intauth "github.com/felipesantoos/authcore/internal/auth"
	"github.com/felipesantoos/authcore/internal/models"
)

type mockMFAService struct {
	EnrollFunc   func(ctx context.Context, userID string) (*intauth.TOTPEnrollment, error)
	ActivateFunc func(ctx context.Context, userID, code string) error
	DisableFunc  func(ctx context.Context, userID, password string) error
}

func (m *mockMFAService) EnrollMFA(ctx context.Context, userID string) (*intauth.TOTPEnrollment, error) {
	return m.EnrollFunc(ctx, userID)
}

func (m *mockMFAService) ActivateMFA(ctx context.Context, userID, code string) error {
	return m.ActivateFunc(ctx, userID, code)
}

func (m *mockMFAService) DisableMFA(ctx context.Context, userID, password string) error {
	return m.DisableFunc(ctx, userID, password)
}

func TestMFAHandler_Enroll(t *testing.T) {
	mfa := &mockMFAService{
		EnrollFunc: func(ctx context.Context, userID string) (*intauth.TOTPEnrollment, error) {
			assert.Equal(t, "user-1", userID)
			return &intauth.TOTPEnrollment{
				Secret:    "JBSWY3DPEHPK3PXP",
				URL:       "otpauth://totp/authcore:alice@example.com",
				QRDataURL: "data:image/png;base64,abc",
			}, nil
		},
	}
	handler := NewMFAHandler(mfa)

	req := authenticatedRequest(t, http.MethodPost, "/account/mfa/enroll", nil)
	rec := httptest.NewRecorder()
	handler.Enroll(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp EnrollmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "JBSWY3DPEHPK3PXP", resp.Secret)
	assert.NotEmpty(t, resp.QRDataURL)
}

func TestMFAHandler_Enroll_AlreadyEnabled(t *testing.T) {
	mfa := &mockMFAService{
		EnrollFunc: func(ctx context.Context, userID string) (*intauth.TOTPEnrollment, error) {
			return nil, models.ErrConflict
		},
	}
	handler := NewMFAHandler(mfa)

	req := authenticatedRequest(t, http.MethodPost, "/account/mfa/enroll", nil)
	rec := httptest.NewRecorder()
	handler.Enroll(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMFAHandler_Activate_Success(t *testing.T) {
	var gotCode string
	mfa := &mockMFAService{
		ActivateFunc: func(ctx context.Context, userID, code string) error {
			gotCode = code
			return nil
		},
	}
	handler := NewMFAHandler(mfa)

	req := authenticatedRequest(t, http.MethodPost, "/account/mfa/activate", ActivateMFARequest{Code: "123456"})
	rec := httptest.NewRecorder()
	handler.Activate(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "123456", gotCode)
}

func TestMFAHandler_Activate_WrongCode(t *testing.T) {
	mfa := &mockMFAService{
		ActivateFunc: func(ctx context.Context, userID, code string) error {
			return models.ErrMFAInvalidCode
		},
	}
	handler := NewMFAHandler(mfa)

	req := authenticatedRequest(t, http.MethodPost, "/account/mfa/activate", ActivateMFARequest{Code: "000000"})
	rec := httptest.NewRecorder()
	handler.Activate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMFAHandler_Activate_NoPendingEnrollment(t *testing.T) {
	mfa := &mockMFAService{
		ActivateFunc: func(ctx context.Context, userID, code string) error {
			return models.ErrBadRequest
		},
	}
	handler := NewMFAHandler(mfa)

	req := authenticatedRequest(t, http.MethodPost, "/account/mfa/activate", ActivateMFARequest{Code: "123456"})
	rec := httptest.NewRecorder()
	handler.Activate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMFAHandler_Disable_RequiresPassword(t *testing.T) {
	mfa := &mockMFAService{
		DisableFunc: func(ctx context.Context, userID, password string) error {
			return models.ErrInvalidCredentials
		},
	}
	handler := NewMFAHandler(mfa)

	req := authenticatedRequest(t, http.MethodPost, "/account/mfa/disable", DisableMFARequest{Password: "wrong"})
	rec := httptest.NewRecorder()
	handler.Disable(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMFAHandler_Disable_Success(t *testing.T) {
	mfa := &mockMFAService{
		DisableFunc: func(ctx context.Context, userID, password string) error {
			assert.Equal(t, "user-1", userID)
			return nil
		},
	}
	handler := NewMFAHandler(mfa)

	req := authenticatedRequest(t, http.MethodPost, "/account/mfa/disable", DisableMFARequest{Password: "correct"})
	rec := httptest.NewRecorder()
	handler.Disable(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
