package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/felipesantoos/authcore/internal/models"
	"github.com/felipesantoos/authcore/pkg/clock"
)

// AuditLogRepository is the persistence surface for audit entries.
type AuditLogRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) (*models.AuditLog, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
}

// AuditService writes security audit entries. Writes are best effort: an
// audit failure is logged but never propagated, because blocking a login on
// audit storage would turn an observability outage into an auth outage.
type AuditService struct {
	repo   AuditLogRepository
	clock  clock.Clock
	logger *slog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo AuditLogRepository, clk clock.Clock, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		clock:  clk,
		logger: logger,
	}
}

// AuditEvent is the caller-facing shape of an audit entry. Optional fields
// stay empty when the event has no resolved account or session, such as a
// lockout on an unknown email.
type AuditEvent struct {
	TenantID      string
	EventType     string
	Severity      string
	UserID        string
	SessionID     string
	Success       bool
	FailureReason string
	IPAddress     string
	UserAgent     string
	Metadata      models.AuditMetadata
}

// Record writes an audit entry.
func (s *AuditService) Record(ctx context.Context, event AuditEvent) {
	entry := &models.AuditLog{
		TenantID:  event.TenantID,
		EventType: event.EventType,
		Severity:  event.Severity,
		Success:   event.Success,
		Metadata:  event.Metadata,
		CreatedAt: s.clock.Now(),
	}
	if event.UserID != "" {
		entry.UserID = &event.UserID
	}
	if event.SessionID != "" {
		entry.SessionID = &event.SessionID
	}
	if event.FailureReason != "" {
		entry.FailureReason = &event.FailureReason
	}
	if event.IPAddress != "" {
		entry.IPAddress = &event.IPAddress
	}
	if event.UserAgent != "" {
		entry.UserAgent = &event.UserAgent
	}

	// Detach from the request context so a cancelled request cannot drop the
	// audit write, but keep a bound so a wedged database cannot hold the
	// goroutine forever.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := s.repo.Create(writeCtx, entry); err != nil {
		s.logger.Error("failed to write audit log",
			slog.String("event_type", event.EventType),
			slog.String("tenant_id", event.TenantID),
			slog.Any("error", err))
	}
}

// History returns a page of audit entries for a user.
func (s *AuditService) History(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.GetByUserID(ctx, userID, limit, offset)
}
