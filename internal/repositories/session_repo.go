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

// SessionRepository owns the sessions table. No other component writes to it.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

const sessionColumns = `id, user_id, tenant_id, refresh_token_hash, prev_refresh_token_hash, device_fingerprint, user_agent, ip_address, issued_at, last_activity_at, expires_at, revoked_at`

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session

	err := scanner.Scan(
		&s.ID, &s.UserID, &s.TenantID, &s.RefreshTokenHash, &s.PrevRefreshTokenHash,
		&s.DeviceFingerprint, &s.UserAgent, &s.IPAddress,
		&s.IssuedAt, &s.LastActivityAt, &s.ExpiresAt, &s.RevokedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)

	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return sessions, nil
}

// Create persists the full session record in a single INSERT. A cancelled
// request leaves nothing behind: the row either commits whole or not at all.
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (id, user_id, tenant_id, refresh_token_hash, device_fingerprint, user_agent, ip_address, issued_at, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + sessionColumns

	return scanSessionRow(r.pool.QueryRow(ctx, query,
		s.ID, s.UserID, s.TenantID, s.RefreshTokenHash,
		s.DeviceFingerprint, s.UserAgent, s.IPAddress,
		s.IssuedAt, s.LastActivityAt, s.ExpiresAt,
	))
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, id))
}

// GetByRefreshTokenHash finds the session whose current refresh generation
// matches the presented hash.
func (r *SessionRepository) GetByRefreshTokenHash(ctx context.Context, hash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, hash))
}

// GetByPrevRefreshTokenHash finds the session whose superseded generation
// matches the hash. A hit here is a replay of an already-rotated token.
func (r *SessionRepository) GetByPrevRefreshTokenHash(ctx context.Context, hash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE prev_refresh_token_hash = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, hash))
}

// RotateRefreshToken swaps the stored hash for a new one, keeping the old
// hash in prev_refresh_token_hash for reuse detection. The WHERE clause makes
// this a compare-and-swap: of two concurrent rotations presenting the same
// token, exactly one matches the stored hash and wins. Returns false when the
// stored hash no longer matches (the token was already rotated).
func (r *SessionRepository) RotateRefreshToken(ctx context.Context, sessionID, presentedHash, newHash string, now time.Time) (bool, error) {
	query := `
		UPDATE sessions
		SET prev_refresh_token_hash = refresh_token_hash,
		    refresh_token_hash = $3,
		    last_activity_at = $4
		WHERE id = $1 AND refresh_token_hash = $2 AND revoked_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, sessionID, presentedHash, newHash, now)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() == 1, nil
}

// Revoke sets revoked_at once. Revoking an already-revoked session is a no-op,
// not an error.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string, now time.Time) error {
	query := `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`

	_, err := r.pool.Exec(ctx, query, sessionID, now)
	return database.MapPostgresError(err)
}

// RevokeAllForUser revokes every active session of a user, optionally sparing
// one (the caller's own). Returns the number of sessions revoked.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, exceptSessionID *string, now time.Time) (int64, error) {
	query := `
		UPDATE sessions SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL AND ($3::uuid IS NULL OR id != $3)
	`

	result, err := r.pool.Exec(ctx, query, userID, now, exceptSessionID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// TouchActivity bumps last_activity_at for an authenticated request.
func (r *SessionRepository) TouchActivity(ctx context.Context, sessionID string, now time.Time) error {
	query := `UPDATE sessions SET last_activity_at = $2 WHERE id = $1 AND revoked_at IS NULL`

	_, err := r.pool.Exec(ctx, query, sessionID, now)
	return database.MapPostgresError(err)
}

// ListActiveByUser returns all live sessions, most recently active first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_activity_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return scanSessionRows(rows)
}

// DeleteExpired removes sessions past their expiry or revoked longer than the
// retention period ago. Called by the background cleanup job only.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $2)
	`

	result, err := r.pool.Exec(ctx, query, now.Add(-retention), now.Add(-retention))
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
