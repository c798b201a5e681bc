package redisstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felipesantoos/authcore/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewClient builds the shared Redis client used by the lockout guard and the
// pending-MFA challenge store. Constructed once in the composition root and
// injected; never a package-level singleton.
func NewClient(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}

	logger.Info("redis connection established", slog.String("addr", cfg.Addr))
	return client, nil
}
