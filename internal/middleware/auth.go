package middleware

import (
	"context"
	"net/http"
	"strings"

	intauth "github.com/felipesantoos/authcore/internal/auth"
	pkghttp "github.com/felipesantoos/authcore/pkg/http"
)

type contextKey string

const claimsContextKey contextKey = "auth_claims"

// TokenValidator verifies an access token and its backing session.
type TokenValidator interface {
	Validate(ctx context.Context, accessToken string) (*intauth.Claims, error)
}

// RequireAuth rejects requests without a valid bearer token. Validated claims
// land in the request context for handlers to read via ClaimsFromContext.
func RequireAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Missing or malformed Authorization header")
				return
			}

			claims, err := validator.Validate(r.Context(), token)
			if err != nil {
				// All token failures look the same to the caller.
				pkghttp.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows only callers whose validated claims carry the role.
// Must sit inside RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || claims.Role != role {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ContextWithClaims returns a context carrying the claims, as RequireAuth
// would have stored them.
func ContextWithClaims(ctx context.Context, claims *intauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext returns the validated claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*intauth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*intauth.Claims)
	return claims, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
