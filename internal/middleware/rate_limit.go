package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/felipesantoos/authcore/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds per-IP rate limiting configuration.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultAuthRateLimit bounds the credential endpoints. This is a transport
// level backstop on top of the account lockout logic, not a replacement for
// it: lockout follows the account, this follows the connection.
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 10, Window: time.Minute}
}

// DefaultEmailRateLimit bounds endpoints that send email, which are cheap to
// call and expensive to deliver.
func DefaultEmailRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 3, Window: time.Minute}
}

// RateLimitByIP limits requests per client IP. The key comes from
// ExtractClientIP so forwarding headers only count when the peer is a trusted
// proxy; an untrusted client cannot rotate headers to dodge the limit.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","message":"Too many requests"}`))
		}),
	)
}
