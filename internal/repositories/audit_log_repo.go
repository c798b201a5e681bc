package repositories

import (
	"context"
	"fmt"

	"github.com/felipesantoos/authcore/internal/database"
	"github.com/felipesantoos/authcore/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository is the append-only sink for security events.
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

const auditLogColumns = `id, tenant_id, event_type, user_id, session_id, severity, success, failure_reason, ip_address, user_agent, metadata, created_at`

func scanAuditLogRow(scanner rowScanner) (*models.AuditLog, error) {
	var l models.AuditLog

	err := scanner.Scan(
		&l.ID, &l.TenantID, &l.EventType, &l.UserID, &l.SessionID,
		&l.Severity, &l.Success, &l.FailureReason,
		&l.IPAddress, &l.UserAgent, &l.Metadata, &l.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &l, nil
}

func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	query := `
		INSERT INTO audit_logs (tenant_id, event_type, user_id, session_id, severity, success, failure_reason, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + auditLogColumns

	return scanAuditLogRow(r.pool.QueryRow(ctx, query,
		log.TenantID, log.EventType, log.UserID, log.SessionID,
		log.Severity, log.Success, log.FailureReason,
		log.IPAddress, log.UserAgent, log.Metadata,
	))
}

// GetByUserID returns a page of audit events for a user, newest first.
func (r *AuditLogRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditLogColumns + ` FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return scanAuditLogRows(rows)
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)

	for rows.Next() {
		l, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}
