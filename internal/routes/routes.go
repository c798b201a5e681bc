package routes

import (
	"github.com/felipesantoos/authcore/internal/handlers"
	"github.com/felipesantoos/authcore/internal/middleware"
	pkghttp "github.com/felipesantoos/authcore/pkg/http"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	accountHandler *handlers.AccountHandler,
	mfaHandler *handlers.MFAHandler,
	activityHandler *handlers.ActivityHandler,
	validator middleware.TokenValidator,
	ipConfig *pkghttp.IPConfig,
) {
	authLimit := middleware.RateLimitByIP(middleware.DefaultAuthRateLimit(), ipConfig)
	emailLimit := middleware.RateLimitByIP(middleware.DefaultEmailRateLimit(), ipConfig)

	// Public routes - no authentication required
	router.With(authLimit).Post("/auth/login", authHandler.Login)
	router.With(authLimit).Post("/auth/mfa/verify", authHandler.VerifyMFA)
	router.With(authLimit).Post("/auth/refresh", authHandler.Refresh)
	router.With(authLimit).Post("/auth/register", accountHandler.Register)
	router.With(authLimit).Post("/auth/verify-email", accountHandler.VerifyEmail)
	router.With(authLimit).Post("/auth/password/reset", accountHandler.ConfirmPasswordReset)
	router.With(authLimit).Post("/auth/magic-link/verify", accountHandler.MagicLinkLogin)

	// Endpoints that send email get the tighter limit
	router.With(emailLimit).Post("/auth/verify-email/resend", accountHandler.ResendVerification)
	router.With(emailLimit).Post("/auth/password/forgot", accountHandler.RequestPasswordReset)
	router.With(emailLimit).Post("/auth/magic-link", accountHandler.RequestMagicLink)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator))

		r.Post("/auth/logout", authHandler.Logout)
		r.Post("/auth/logout-all", authHandler.LogoutAll)
		r.Get("/auth/sessions", authHandler.ListSessions)
		r.Delete("/auth/sessions/{id}", authHandler.RevokeSession)

		r.Post("/account/password", accountHandler.ChangePassword)
		r.Post("/account/mfa/enroll", mfaHandler.Enroll)
		r.Post("/account/mfa/activate", mfaHandler.Activate)
		r.Post("/account/mfa/disable", mfaHandler.Disable)

		r.Get("/account/activity", activityHandler.RecentActivity)
		r.Get("/account/audit", activityHandler.AuditHistory)
	})
}
