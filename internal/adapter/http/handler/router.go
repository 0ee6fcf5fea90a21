package handler

import (
	"custody-ledger/internal/adapter/http/middleware"
	"custody-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	ChargeSvc       ports.ChargeService
	LedgerSvc       ports.LedgerService
	WebhookSvc      ports.WebhookService
	TokenSvc        ports.TokenService
	SignatureHeader string
	RateLimitStore  middleware.RateLimitStore // nil = rate limiting disabled
	HealthCheckers  []ports.HealthChecker
	AuditSvc        ports.AuditService  // nil = denied requests are not audited
	Gatherer        prometheus.Gatherer // nil = no /metrics
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")
	if deps.AuditSvc != nil {
		v1.Use(middleware.AuditDenied(deps.AuditSvc))
	}

	// --- Provider webhooks (HMAC over the raw body, checked in the service) ---
	// Not rate limited: a valid delivery must always be acknowledged.
	webhookHandler := NewWebhookHandler(deps.WebhookSvc, deps.SignatureHeader)
	v1.POST("/webhooks/payments", webhookHandler.Receive)

	// --- User routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	user := v1.Group("", jwtAuth)
	{
		depositHandler := NewDepositHandler(deps.ChargeSvc)
		user.POST("/deposits", rl("deposits"), depositHandler.Create)
		user.GET("/deposits/:id", rl("reads"), depositHandler.Get)

		ledgerHandler := NewLedgerHandler(deps.LedgerSvc)
		user.GET("/balances", rl("reads"), ledgerHandler.ListBalances)
		user.GET("/transactions", rl("reads"), ledgerHandler.ListTransactions)
		user.POST("/withdrawals", rl("withdrawals"), ledgerHandler.RequestWithdrawal)
	}

	// --- Admin routes ---
	admin := v1.Group("/admin", jwtAuth, middleware.RequireRole(ports.RoleAdmin), rl("admin"))
	{
		adminHandler := NewAdminHandler(deps.LedgerSvc)
		admin.POST("/adjustments", adminHandler.AdjustBalance)
		admin.PATCH("/transactions/:id/status", adminHandler.UpdateStatus)
		admin.POST("/transactions/:id/notes", adminHandler.AppendNote)
	}

	return r
}
