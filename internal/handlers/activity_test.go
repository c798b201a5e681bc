package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipesantoos/authcore/internal/models"
)

type mockActivityQuery struct {
	RecentActivityFunc func(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

func (m *mockActivityQuery) RecentActivity(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	return m.RecentActivityFunc(ctx, userID, limit)
}

type mockAuditQuery struct {
	HistoryFunc func(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
}

func (m *mockAuditQuery) History(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	return m.HistoryFunc(ctx, userID, limit, offset)
}

func TestActivityHandler_RecentActivity(t *testing.T) {
	now := time.Now().UTC()
	reason := "invalid_credentials"
	activity := &mockActivityQuery{
		RecentActivityFunc: func(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, 20, limit)
			return []*models.LoginAttempt{
				{AttemptTime: now, Success: true, IPAddress: "203.0.113.7", UserAgent: "curl/8.0"},
				{AttemptTime: now.Add(-time.Hour), Success: false, FailureReason: &reason, IPAddress: "203.0.113.9", UserAgent: "curl/8.0"},
			}, nil
		},
	}
	handler := NewActivityHandler(activity, &mockAuditQuery{})

	req := authenticatedRequest(t, http.MethodGet, "/account/activity", nil)
	rec := httptest.NewRecorder()
	handler.RecentActivity(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Attempts []LoginAttemptResponse `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Attempts, 2)
	assert.True(t, resp.Attempts[0].Success)
	require.NotNil(t, resp.Attempts[1].FailureReason)
	assert.Equal(t, "invalid_credentials", *resp.Attempts[1].FailureReason)
}

func TestActivityHandler_RecentActivity_LimitFromQuery(t *testing.T) {
	var gotLimit int
	activity := &mockActivityQuery{
		RecentActivityFunc: func(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	handler := NewActivityHandler(activity, &mockAuditQuery{})

	req := authenticatedRequest(t, http.MethodGet, "/account/activity?limit=5", nil)
	rec := httptest.NewRecorder()
	handler.RecentActivity(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, gotLimit)
}

func TestActivityHandler_RecentActivity_BadLimitFallsBack(t *testing.T) {
	var gotLimit int
	activity := &mockActivityQuery{
		RecentActivityFunc: func(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	handler := NewActivityHandler(activity, &mockAuditQuery{})

	req := authenticatedRequest(t, http.MethodGet, "/account/activity?limit=banana", nil)
	rec := httptest.NewRecorder()
	handler.RecentActivity(rec, req)

	assert.Equal(t, 20, gotLimit)
}

func TestActivityHandler_AuditHistory(t *testing.T) {
	now := time.Now().UTC()
	ip := "203.0.113.7"
	audit := &mockAuditQuery{
		HistoryFunc: func(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, 50, limit)
			assert.Equal(t, 0, offset)
			return []*models.AuditLog{
				{
					EventType: models.AuditEventLogin,
					Severity:  models.AuditSeverityInfo,
					Success:   true,
					IPAddress: &ip,
					Metadata:  models.AuditMetadata{"method": "password"},
					CreatedAt: now,
				},
			}, nil
		},
	}
	handler := NewActivityHandler(&mockActivityQuery{}, audit)

	req := authenticatedRequest(t, http.MethodGet, "/account/audit", nil)
	rec := httptest.NewRecorder()
	handler.AuditHistory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []AuditEntryResponse `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, models.AuditEventLogin, resp.Entries[0].EventType)
	assert.Equal(t, "password", resp.Entries[0].Metadata["method"])
}

func TestActivityHandler_Unauthenticated(t *testing.T) {
	handler := NewActivityHandler(&mockActivityQuery{}, &mockAuditQuery{})

	req := httptest.NewRequest(http.MethodGet, "/account/activity", nil)
	rec := httptest.NewRecorder()
	handler.RecentActivity(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
