package handler

import (
	"time"

	"exchange-ledger/internal/adapter/http/middleware"
	"exchange-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AccountSvc      ports.AccountService
	LedgerSvc       ports.LedgerService
	TransferSvc     ports.TransferService
	HistorySvc      ports.HistoryService
	TokenSvc        ports.TokenService
	RateLimiter     middleware.Limiter // nil = rate limiting disabled
	RateLimitRules  map[string]middleware.RateLimitRule
	HealthCheckers  []ports.HealthChecker
	AuditSvc        ports.AuditService // nil = audit logging disabled
	MaxBodyBytes    int64
	TransferTimeout time.Duration // 0 = wait for the outcome
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	if deps.MaxBodyBytes > 0 {
		r.Use(middleware.MaxBodySize(deps.MaxBodyBytes))
	}

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/", Index)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := deps.RateLimitRules[group]
		if !ok || rule.Limit <= 0 {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	accountHandler := NewAccountHandler(deps.AccountSvc, deps.LedgerSvc)
	walletHandler := NewWalletHandler(deps.LedgerSvc)
	transferHandler := NewTransferHandler(deps.TransferSvc, deps.HistorySvc, deps.TransferTimeout)
	adminHandler := NewAdminHandler(deps.AccountSvc, deps.LedgerSvc)

	// Legacy routes
	r.POST("/register", rl(middleware.GroupRegistrations), accountHandler.Register)
	r.POST("/wallets", rl(middleware.GroupRegistrations), walletHandler.LegacyCreateWallet)
	r.POST("/transfer", rl(middleware.GroupTransfers), transferHandler.LegacyTransfer)

	v1 := r.Group("/api/v1")

	accounts := v1.Group("/accounts")
	{
		accounts.POST("", rl(middleware.GroupRegistrations), accountHandler.Register)
		accounts.GET("/:id", rl(middleware.GroupReads), accountHandler.Get)
		accounts.POST("/:id/wallets", rl(middleware.GroupRegistrations), walletHandler.CreateWallet)
		accounts.GET("/:id/balances/:currency", rl(middleware.GroupReads), walletHandler.GetBalance)
		accounts.GET("/:id/transfers", rl(middleware.GroupReads), transferHandler.History)
	}

	transfers := v1.Group("/transfers")
	{
		transfers.POST("", rl(middleware.GroupTransfers), transferHandler.Transfer)
		transfers.GET("/:id", rl(middleware.GroupReads), transferHandler.GetTransfer)
	}

	// --- Admin routes (JWT, role=admin) ---
	adminAuth := middleware.AdminAuth(deps.TokenSvc, deps.Logger)
	admin := v1.Group("/admin/accounts", adminAuth, rl(middleware.GroupAdmin))
	{
		admin.PATCH("/:id/status", adminHandler.SetStatus)
		admin.POST("/:id/deposits", adminHandler.Deposit)
		admin.POST("/:id/withdrawals", adminHandler.Withdraw)
	}

	return r
}
