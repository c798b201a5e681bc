package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Lockout  LockoutConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	// TrustedProxies are the CIDR ranges whose forwarding headers are
	// believed when extracting the client IP.
	TrustedProxies []string
}

type AuthConfig struct {
	JWTSecret          string
	TokenIssuer        string
	TokenAudience      string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	SessionExpiry      time.Duration
	BcryptCost         int
	SingleUseTokenTTL  time.Duration
	MFAChallengeTTL    time.Duration
	MFAMaxAttempts     int
	CleanupInterval    time.Duration
	// CleanupRetention is how long expired rows linger before the sweeper
	// deletes them.
	CleanupRetention    time.Duration
	ActivityWindow      time.Duration
	AttemptRetention    time.Duration
	TimingDelayBaseMs   int
	TimingDelayJitterMs int
	// MaxTravelSpeedKmh is the plausibility ceiling for the impossible-travel
	// heuristic.
	MaxTravelSpeedKmh float64
	// GeoIPTablePath points at the static prefix-to-coordinates table. Empty
	// disables geo resolution entirely.
	GeoIPTablePath string
}

type LockoutConfig struct {
	EmailThreshold    int
	IPThreshold       int
	Window            time.Duration
	BaseDuration      time.Duration
	BackoffMultiplier float64
	MaxDuration       time.Duration
	// RevokeAllOnReuse escalates refresh-token reuse detection from
	// per-session revocation to user-wide revocation.
	RevokeAllOnReuse bool
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	LinkBaseURL string
	// Notification dispatcher tuning.
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "authcore"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			TokenIssuer:         getEnv("TOKEN_ISSUER", "authcore"),
			TokenAudience:       getEnv("TOKEN_AUDIENCE", "authcore-api"),
			AccessTokenExpiry:   getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:  getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			SessionExpiry:       getEnvAsDuration("SESSION_EXPIRY", 30*24*time.Hour),
			BcryptCost:          getEnvAsInt("BCRYPT_COST", 14),
			SingleUseTokenTTL:   getEnvAsDuration("SINGLE_USE_TOKEN_TTL", 24*time.Hour),
			MFAChallengeTTL:     getEnvAsDuration("MFA_CHALLENGE_TTL", 5*time.Minute),
			MFAMaxAttempts:      getEnvAsInt("MFA_MAX_ATTEMPTS", 5),
			CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			CleanupRetention:    getEnvAsDuration("CLEANUP_RETENTION", 30*24*time.Hour),
			ActivityWindow:      getEnvAsDuration("ACTIVITY_WINDOW", 90*24*time.Hour),
			AttemptRetention:    getEnvAsDuration("ATTEMPT_RETENTION", 90*24*time.Hour),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayJitterMs: getEnvAsInt("TIMING_DELAY_JITTER_MS", 50),
			MaxTravelSpeedKmh:   getEnvAsFloat("MAX_TRAVEL_SPEED_KMH", 1000),
			GeoIPTablePath:      getEnv("GEOIP_TABLE_PATH", ""),
		},
		Lockout: LockoutConfig{
			EmailThreshold:    getEnvAsInt("LOCKOUT_EMAIL_THRESHOLD", 5),
			IPThreshold:       getEnvAsInt("LOCKOUT_IP_THRESHOLD", 20),
			Window:            getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			BaseDuration:      getEnvAsDuration("LOCKOUT_BASE_DURATION", 15*time.Minute),
			BackoffMultiplier: getEnvAsFloat("LOCKOUT_BACKOFF_MULTIPLIER", 2.0),
			MaxDuration:       getEnvAsDuration("LOCKOUT_MAX_DURATION", 24*time.Hour),
			RevokeAllOnReuse:  getEnvAsBool("LOCKOUT_REVOKE_ALL_ON_REUSE", false),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@example.com"),
			LinkBaseURL: getEnv("EMAIL_LINK_BASE_URL", "http://localhost:8080"),
			QueueSize:   getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			MaxRetries:  getEnvAsInt("NOTIFY_MAX_RETRIES", 3),
			RetryDelay:  getEnvAsDuration("NOTIFY_RETRY_DELAY", 5*time.Second),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// parseList splits a comma-separated env value into trimmed entries.
func parseList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
