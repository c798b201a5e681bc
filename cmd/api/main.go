package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipesantoos/authcore/internal/auth"
	"github.com/felipesantoos/authcore/internal/background"
	"github.com/felipesantoos/authcore/internal/config"
	"github.com/felipesantoos/authcore/internal/database"
	"github.com/felipesantoos/authcore/internal/handlers"
	middlewareCustom "github.com/felipesantoos/authcore/internal/middleware"
	"github.com/felipesantoos/authcore/internal/redisstore"
	"github.com/felipesantoos/authcore/internal/repositories"
	"github.com/felipesantoos/authcore/internal/routes"
	"github.com/felipesantoos/authcore/internal/services"
	pkgauth "github.com/felipesantoos/authcore/pkg/auth"
	"github.com/felipesantoos/authcore/pkg/clock"
	pkghttp "github.com/felipesantoos/authcore/pkg/http"
	pkglogger "github.com/felipesantoos/authcore/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := pkglogger.New(cfg.Server.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	if err := database.Migrate(&cfg.Database, logger); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize redis
	redisClient, err := redisstore.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	clk := clock.System{}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	tokenRepo := repositories.NewSingleUseTokenRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(
		sessionRepo,
		tokenRepo,
		attemptRepo,
		cfg.Auth.CleanupRetention,
		cfg.Auth.CleanupInterval,
		clk,
		logger,
	)

	// Token codec and password hasher
	codec := auth.NewTokenCodec(
		cfg.Auth.JWTSecret,
		cfg.Auth.TokenIssuer,
		cfg.Auth.TokenAudience,
		cfg.Auth.AccessTokenExpiry,
	)
	hasher := pkgauth.NewHasher(cfg.Auth.BcryptCost, pkgauth.CommonPasswords)
	totpVerifier := auth.NewTOTPVerifier(cfg.Auth.TokenIssuer)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayJitterMs,
	})

	// AWS SES email service behind the async notification dispatcher
	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Email.LinkBaseURL,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}
	notifyService := services.NewNotificationService(
		emailService,
		cfg.Email.QueueSize,
		cfg.Email.MaxRetries,
		cfg.Email.RetryDelay,
		logger,
	)

	// Geo resolution for the impossible-travel signal
	geo, err := services.NewStaticGeoResolver(cfg.Auth.GeoIPTablePath)
	if err != nil {
		logger.Error("failed to load geoip table", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	lockoutService := services.NewLockoutService(redisClient, services.LockoutPolicy{
		EmailThreshold:    cfg.Lockout.EmailThreshold,
		IPThreshold:       cfg.Lockout.IPThreshold,
		Window:            cfg.Lockout.Window,
		BaseDuration:      cfg.Lockout.BaseDuration,
		BackoffMultiplier: cfg.Lockout.BackoffMultiplier,
		MaxDuration:       cfg.Lockout.MaxDuration,
	}, clk, logger)

	sessionService := services.NewSessionService(
		sessionRepo,
		userRepo,
		codec,
		cfg.Auth.SessionExpiry,
		cfg.Lockout.RevokeAllOnReuse,
		clk,
		logger,
	)
	activityService := services.NewActivityService(
		attemptRepo,
		geo,
		cfg.Auth.ActivityWindow,
		cfg.Auth.MaxTravelSpeedKmh,
		cfg.Auth.AttemptRetention,
		clk,
		logger,
	)
	tokenService := services.NewSingleUseTokenService(tokenRepo, cfg.Auth.SingleUseTokenTTL, clk, logger)
	auditService := services.NewAuditService(auditRepo, clk, logger)
	mfaStore := services.NewMFAChallengeStore(redisClient, cfg.Auth.MFAChallengeTTL, cfg.Auth.MFAMaxAttempts, clk, logger)

	authService := services.NewAuthService(
		userRepo,
		hasher,
		lockoutService,
		sessionService,
		activityService,
		mfaStore,
		totpVerifier,
		auditService,
		notifyService,
		timingDelay,
		clk,
		logger,
	)
	accountService := services.NewAccountService(
		userRepo,
		hasher,
		tokenService,
		sessionService,
		lockoutService,
		totpVerifier,
		auditService,
		notifyService,
		clk,
		logger,
	)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, sessionService, ipConfig)
	accountHandler := handlers.NewAccountHandler(accountService, ipConfig)
	mfaHandler := handlers.NewMFAHandler(accountService)
	activityHandler := handlers.NewActivityHandler(activityService, auditService)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, accountHandler, mfaHandler, activityHandler, authService, ipConfig)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start background workers
	notifyCtx, notifyCancel := context.WithCancel(context.Background())
	defer notifyCancel()
	notifyService.Start(notifyCtx, 4)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()
	notifyService.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
