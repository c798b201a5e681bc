package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/felipesantoos/authcore/pkg/clock"
)

// SessionCleaner deletes sessions that expired longer than the retention ago.
type SessionCleaner interface {
	DeleteExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}

// TokenCleaner deletes consumed or expired single-use tokens.
type TokenCleaner interface {
	DeleteConsumedOrExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}

// AttemptCleaner deletes login attempts past their retention window.
type AttemptCleaner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CleanupManager periodically removes expired sessions, spent single-use
// tokens, and aged-out login attempts from the database
type CleanupManager struct {
	sessions  SessionCleaner
	tokens    TokenCleaner
	attempts  AttemptCleaner
	retention time.Duration
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	stopCh    chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	sessions SessionCleaner,
	tokens TokenCleaner,
	attempts AttemptCleaner,
	retention time.Duration,
	interval time.Duration,
	clk clock.Clock,
	logger *slog.Logger,
) *CleanupManager {
	return &CleanupManager{
		sessions:  sessions,
		tokens:    tokens,
		attempts:  attempts,
		retention: retention,
		interval:  interval,
		clock:     clk,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps each table in turn. A failure on one table does not stop
// the others.
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.clock.Now()

	if deleted, err := cm.sessions.DeleteExpired(cleanupCtx, now, cm.retention); err != nil {
		cm.logger.Error("failed to cleanup expired sessions", slog.Any("error", err))
	} else if deleted > 0 {
		cm.logger.Info("expired session cleanup completed", slog.Int64("rows_deleted", deleted))
	}

	if deleted, err := cm.tokens.DeleteConsumedOrExpired(cleanupCtx, now, cm.retention); err != nil {
		cm.logger.Error("failed to cleanup single-use tokens", slog.Any("error", err))
	} else if deleted > 0 {
		cm.logger.Info("single-use token cleanup completed", slog.Int64("rows_deleted", deleted))
	}

	if deleted, err := cm.attempts.DeleteExpired(cleanupCtx, now); err != nil {
		cm.logger.Error("failed to cleanup login attempts", slog.Any("error", err))
	} else if deleted > 0 {
		cm.logger.Info("login attempt cleanup completed", slog.Int64("rows_deleted", deleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
