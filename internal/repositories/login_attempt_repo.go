package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/felipesantoos/authcore/internal/database"
	"github.com/felipesantoos/authcore/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LoginAttemptRepository records attempt outcomes and serves the historical
// lookups the suspicious activity detector runs at login time.
type LoginAttemptRepository struct {
	pool *pgxpool.Pool
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{pool: db.Pool}
}

const loginAttemptColumns = `id, tenant_id, email, user_id, ip_address, user_agent, device_fingerprint, latitude, longitude, attempt_time, success, failure_reason, expires_at`

func scanLoginAttemptRow(scanner rowScanner) (*models.LoginAttempt, error) {
	var a models.LoginAttempt

	err := scanner.Scan(
		&a.ID, &a.TenantID, &a.Email, &a.UserID, &a.IPAddress, &a.UserAgent,
		&a.DeviceFingerprint, &a.Latitude, &a.Longitude,
		&a.AttemptTime, &a.Success, &a.FailureReason, &a.ExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &a, nil
}

func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (tenant_id, email, user_id, ip_address, user_agent, device_fingerprint, latitude, longitude, attempt_time, success, failure_reason, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(ctx, query,
		attempt.TenantID, attempt.Email, attempt.UserID,
		attempt.IPAddress, attempt.UserAgent, attempt.DeviceFingerprint,
		attempt.Latitude, attempt.Longitude,
		attempt.AttemptTime, attempt.Success, attempt.FailureReason, attempt.ExpiresAt,
	)
	return database.MapPostgresError(err)
}

// HasSuccessfulLoginWithFingerprint reports whether the user has ever logged
// in from this device fingerprint within the lookback window.
func (r *LoginAttemptRepository) HasSuccessfulLoginWithFingerprint(ctx context.Context, userID, fingerprint string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM login_attempts
			WHERE user_id = $1 AND device_fingerprint = $2 AND success = TRUE AND attempt_time >= $3
		)
	`

	var exists bool
	err := r.pool.QueryRow(ctx, query, userID, fingerprint, since).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// HasSuccessfulLoginFromIP reports whether the user has ever logged in from
// this IP within the lookback window.
func (r *LoginAttemptRepository) HasSuccessfulLoginFromIP(ctx context.Context, userID, ipAddress string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM login_attempts
			WHERE user_id = $1 AND ip_address = $2 AND success = TRUE AND attempt_time >= $3
		)
	`

	var exists bool
	err := r.pool.QueryRow(ctx, query, userID, ipAddress, since).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// GetLastSuccessfulAttempt returns the most recent successful login for a
// user, or ErrNotFound when there is no baseline yet.
func (r *LoginAttemptRepository) GetLastSuccessfulAttempt(ctx context.Context, userID string) (*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + ` FROM login_attempts
		WHERE user_id = $1 AND success = TRUE
		ORDER BY attempt_time DESC
		LIMIT 1
	`

	return scanLoginAttemptRow(r.pool.QueryRow(ctx, query, userID))
}

// ListRecentByUser returns the newest attempts for a user, both outcomes.
func (r *LoginAttemptRepository) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + ` FROM login_attempts
		WHERE user_id = $1
		ORDER BY attempt_time DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return scanLoginAttemptRows(rows)
}

func scanLoginAttemptRows(rows pgx.Rows) ([]*models.LoginAttempt, error) {
	defer rows.Close()

	attempts := make([]*models.LoginAttempt, 0)

	for rows.Next() {
		a, err := scanLoginAttemptRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating login attempt rows: %w", err)
	}

	return attempts, nil
}

// DeleteExpired removes attempts past their retention expiry. Called by the
// background cleanup job only.
func (r *LoginAttemptRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at <= $1`

	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
