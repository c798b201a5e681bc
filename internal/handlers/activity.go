package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/felipesantoos/authcore/internal/middleware"
	"github.com/felipesantoos/authcore/internal/models"
	pkghttp "github.com/felipesantoos/authcore/pkg/http"
)

// ActivityQueryService exposes a user's recent login attempts.
type ActivityQueryService interface {
	RecentActivity(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

// AuditQueryService exposes a user's audit trail.
type AuditQueryService interface {
	History(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
}

// ActivityHandler serves the account activity and audit endpoints.
type ActivityHandler struct {
	activity ActivityQueryService
	audit    AuditQueryService
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(activity ActivityQueryService, audit AuditQueryService) *ActivityHandler {
	return &ActivityHandler{
		activity: activity,
		audit:    audit,
	}
}

// LoginAttemptResponse is one entry in the recent activity list.
type LoginAttemptResponse struct {
	AttemptTime   time.Time `json:"attempt_time"`
	Success       bool      `json:"success"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	IPAddress     string    `json:"ip_address"`
	UserAgent     string    `json:"user_agent"`
}

// AuditEntryResponse is one entry in the audit history.
type AuditEntryResponse struct {
	EventType     string         `json:"event_type"`
	Severity      string         `json:"severity"`
	Success       bool           `json:"success"`
	FailureReason *string        `json:"failure_reason,omitempty"`
	IPAddress     *string        `json:"ip_address,omitempty"`
	UserAgent     *string        `json:"user_agent,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// RecentActivity handles GET /account/activity.
func (h *ActivityHandler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	limit := queryInt(r, "limit", 20)
	attempts, err := h.activity.RecentActivity(r.Context(), claims.UserID, limit)
	if err != nil {
		pkghttp.WriteInternalError(w)
		return
	}

	out := make([]LoginAttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, LoginAttemptResponse{
			AttemptTime:   a.AttemptTime,
			Success:       a.Success,
			FailureReason: a.FailureReason,
			IPAddress:     a.IPAddress,
			UserAgent:     a.UserAgent,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"attempts": out})
}

// AuditHistory handles GET /account/audit.
func (h *ActivityHandler) AuditHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	entries, err := h.audit.History(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w)
		return
	}

	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			EventType:     e.EventType,
			Severity:      e.Severity,
			Success:       e.Success,
			FailureReason: e.FailureReason,
			IPAddress:     e.IPAddress,
			UserAgent:     e.UserAgent,
			Metadata:      e.Metadata,
			CreatedAt:     e.CreatedAt,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
