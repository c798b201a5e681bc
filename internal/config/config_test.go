package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-sufficiently-long-development-secret")
	t.Setenv("DB_PASSWORD", "postgres")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenExpiry)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTokenExpiry)
	assert.Equal(t, 5, cfg.Lockout.EmailThreshold)
	assert.Equal(t, 20, cfg.Lockout.IPThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Lockout.Window)
	assert.Equal(t, 2.0, cfg.Lockout.BackoffMultiplier)
	assert.False(t, cfg.Lockout.RevokeAllOnReuse)
	assert.Equal(t, 1000.0, cfg.Auth.MaxTravelSpeedKmh)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_PASSWORD", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RequiresDBPassword(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-sufficiently-long-development-secret")
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsShortSecretInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "too-short-for-production")
	t.Setenv("DB_PASSWORD", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsWeakSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "changeme")
	t.Setenv("DB_PASSWORD", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOCKOUT_EMAIL_THRESHOLD", "3")
	t.Setenv("LOCKOUT_WINDOW", "5m")
	t.Setenv("LOCKOUT_REVOKE_ALL_ON_REUSE", "true")
	t.Setenv("ACCESS_TOKEN_EXPIRY", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Lockout.EmailThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Lockout.Window)
	assert.True(t, cfg.Lockout.RevokeAllOnReuse)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTokenExpiry)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db", Port: 5432, User: "app", Password: "pw", Name: "authcore", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=app password=pw dbname=authcore sslmode=disable", cfg.DSN())
}
