package repositories

import (
	"context"
	"time"

	"github.com/felipesantoos/authcore/internal/database"
	"github.com/felipesantoos/authcore/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SingleUseTokenRepository owns the single_use_tokens table.
type SingleUseTokenRepository struct {
	pool *pgxpool.Pool
}

func NewSingleUseTokenRepository(db *database.DB) *SingleUseTokenRepository {
	return &SingleUseTokenRepository{pool: db.Pool}
}

const singleUseTokenColumns = `id, tenant_id, token_hash, purpose, subject, issued_at, expires_at, consumed_at`

func scanSingleUseTokenRow(scanner rowScanner) (*models.SingleUseToken, error) {
	var t models.SingleUseToken

	err := scanner.Scan(
		&t.ID, &t.TenantID, &t.TokenHash, &t.Purpose, &t.Subject,
		&t.IssuedAt, &t.ExpiresAt, &t.ConsumedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &t, nil
}

func (r *SingleUseTokenRepository) Create(ctx context.Context, t *models.SingleUseToken) (*models.SingleUseToken, error) {
	query := `
		INSERT INTO single_use_tokens (tenant_id, token_hash, purpose, subject, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + singleUseTokenColumns

	return scanSingleUseTokenRow(r.pool.QueryRow(ctx, query,
		t.TenantID, t.TokenHash, t.Purpose, t.Subject, t.IssuedAt, t.ExpiresAt,
	))
}

func (r *SingleUseTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.SingleUseToken, error) {
	query := `SELECT ` + singleUseTokenColumns + ` FROM single_use_tokens WHERE token_hash = $1`
	return scanSingleUseTokenRow(r.pool.QueryRow(ctx, query, tokenHash))
}

// Consume sets consumed_at exactly once. The conditional WHERE makes the
// consume atomic: of two concurrent consumers, only one sees RowsAffected==1.
func (r *SingleUseTokenRepository) Consume(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE single_use_tokens SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() == 1, nil
}

// InvalidateBySubject consumes all outstanding tokens of a purpose for a
// subject, e.g. old reset links after a successful password reset.
func (r *SingleUseTokenRepository) InvalidateBySubject(ctx context.Context, tenantID string, purpose models.TokenPurpose, subject string, now time.Time) error {
	query := `
		UPDATE single_use_tokens SET consumed_at = $4
		WHERE tenant_id = $1 AND purpose = $2 AND subject = $3 AND consumed_at IS NULL
	`

	_, err := r.pool.Exec(ctx, query, tenantID, purpose, subject, now)
	return database.MapPostgresError(err)
}

// DeleteConsumedOrExpired purges tokens no longer needed. Called by the
// background cleanup job only.
func (r *SingleUseTokenRepository) DeleteConsumedOrExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM single_use_tokens
		WHERE expires_at < $1 OR (consumed_at IS NOT NULL AND consumed_at < $1)
	`

	result, err := r.pool.Exec(ctx, query, now.Add(-retention))
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
