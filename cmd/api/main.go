package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"wallet-ledger/config"
	httpHandler "wallet-ledger/internal/adapter/http/handler"
	"wallet-ledger/internal/adapter/notify"
	"wallet-ledger/internal/adapter/otp"
	pgStorage "wallet-ledger/internal/adapter/storage/postgres"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Wallet Ledger")

	defaultLimit, err := decimal.NewFromString(cfg.Wallet.DefaultDailyLimit)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.Wallet.DefaultDailyLimit).Msg("Invalid default daily limit")
	}
	walletDefaults := service.WalletDefaults{
		DailyLimit: defaultLimit,
		Currency:   cfg.Wallet.Currency,
	}

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	merchantRepo := pgStorage.NewMerchantRepo(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize core services
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// OTP delivery: real provider when configured, log channel in dev
	var channel ports.NotificationChannel
	if cfg.Notify.ProviderURL != "" {
		channel = notify.NewHTTPChannel(cfg.Notify.ProviderURL, &http.Client{Timeout: cfg.Notify.Timeout}, log)
		log.Info().Str("provider", cfg.Notify.ProviderURL).Msg("OTP delivery via HTTP provider")
	} else {
		channel = notify.NewLogChannel(log)
		log.Warn().Msg("No OTP provider configured, codes will be logged")
	}
	otpAuthority := otp.NewRedisAuthority(rdb, hashSvc, channel, cfg.OTP.CodeTTL, cfg.OTP.MaxAttempts, logger.Component(log, "otp"))

	// Initialize business services
	auditSvc := service.NewAuditService(auditRepo, logger.Component(log, "audit"))
	authSvc := service.NewAuthService(otpAuthority, tokenSvc, logger.Component(log, "auth"))
	settlementSvc := service.NewSettlementService(
		txRepo,
		walletRepo,
		merchantRepo,
		idempotencyCache,
		otpAuthority,
		transactor,
		auditSvc,
		walletDefaults,
		logger.Component(log, "settlement"),
	)
	syncSvc := service.NewSyncService(
		txRepo,
		walletRepo,
		merchantRepo,
		idempotencyCache,
		transactor,
		auditSvc,
		walletDefaults,
		logger.Component(log, "sync"),
	)
	walletSvc := service.NewWalletService(walletRepo, txRepo, otpAuthority, auditSvc, walletDefaults, logger.Component(log, "wallet"))

	// Background sweeper cancels pending transactions past their TTL
	sweeper := service.NewSweeper(txRepo, cfg.Sweep.PendingTTL, cfg.Sweep.Interval, logger.Component(log, "sweeper"))
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	go sweeper.Run(sweepCtx)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		SettlementSvc:  settlementSvc,
		SyncSvc:        syncSvc,
		WalletSvc:      walletSvc,
		MerchantRepo:   merchantRepo,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
