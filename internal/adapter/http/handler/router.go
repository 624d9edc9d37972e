package handler

import (
	"wallet-ledger/internal/adapter/http/middleware"
	redisStore "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	SettlementSvc  ports.SettlementService
	SyncSvc        ports.SyncService
	WalletSvc      ports.WalletService
	MerchantRepo   ports.MerchantRepository
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/login", rl("auth_login"), authHandler.RequestLogin)
		auth.POST("/verify", rl("auth_verify"), authHandler.VerifyLogin)
	}

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	txHandler := NewTransactionHandler(deps.SettlementSvc, deps.SyncSvc)
	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.POST("", rl("transactions"), txHandler.Initiate)
		transactions.POST("/sync", rl("sync"), txHandler.Sync)
		transactions.GET("/:id", rl("transactions"), txHandler.Get)
		transactions.POST("/:id/confirm", rl("transactions"), txHandler.Confirm)
		transactions.POST("/:id/cancel", rl("transactions"), txHandler.Cancel)
	}

	walletHandler := NewWalletHandler(deps.WalletSvc)
	wallet := v1.Group("/wallet", jwtAuth)
	{
		wallet.GET("", rl("wallet"), walletHandler.GetWallet)
		wallet.GET("/transactions", rl("wallet"), walletHandler.History)
		wallet.GET("/stats", rl("wallet"), walletHandler.Stats)
		wallet.POST("/lock", rl("wallet"), walletHandler.Lock)
		wallet.POST("/unlock/request", rl("wallet_otp"), walletHandler.RequestUnlock)
		wallet.POST("/unlock", rl("wallet"), walletHandler.Unlock)
		wallet.POST("/freeze", rl("wallet"), walletHandler.Freeze)
		wallet.POST("/limit/request", rl("wallet_otp"), walletHandler.RequestLimitChange)
		wallet.PUT("/limit", rl("wallet"), walletHandler.SetLimit)
	}

	merchantHandler := NewMerchantHandler(deps.MerchantRepo)
	merchants := v1.Group("/merchants", jwtAuth)
	{
		merchants.GET("/:id", rl("wallet"), merchantHandler.Get)
	}

	return r
}
