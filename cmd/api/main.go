package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custody-ledger/config"
	httpHandler "custody-ledger/internal/adapter/http/handler"
	"custody-ledger/internal/adapter/http/middleware"
	memStorage "custody-ledger/internal/adapter/storage/memory"
	pgStorage "custody-ledger/internal/adapter/storage/postgres"
	redisStorage "custody-ledger/internal/adapter/storage/redis"
	"custody-ledger/internal/core/ports"
	"custody-ledger/internal/service"
	"custody-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// storage is the persistence backend selected by database.driver.
type storage struct {
	balances     ports.BalanceRepository
	charges      ports.ChargeRepository
	transactions ports.TransactionRepository
	audit        ports.AuditRepository
	transactor   ports.DBTransactor
	health       ports.HealthChecker
	close        func()
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*storage, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn().Msg("using in-memory storage, balances are lost on restart")
		store := memStorage.NewStore()
		return &storage{
			balances:     store.Balances(),
			charges:      store.Charges(),
			transactions: store.Transactions(),
			audit:        store.Audit(),
			transactor:   store.Transactor(),
			health:       store.HealthCheck(),
			close:        func() {},
		}, nil
	case "postgres", "":
		pool, err := pgStorage.NewPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := pgStorage.Migrate(ctx, pool, log); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return &storage{
			balances:     pgStorage.NewBalanceRepo(pool),
			charges:      pgStorage.NewChargeRepo(pool),
			transactions: pgStorage.NewTransactionRepo(pool),
			audit:        pgStorage.NewAuditRepo(pool),
			transactor:   pgStorage.NewTransactor(pool),
			health:       pgStorage.NewHealthCheck(pool),
			close:        pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CLG_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("driver", cfg.Database.Driver).
		Msg("Starting Custody Ledger")

	if cfg.Webhook.Secret == "" {
		log.Fatal().Msg("webhook.secret is required")
	}
	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret is required")
	}
	assets, err := cfg.AssetCatalog()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid asset configuration")
	}

	ctx := context.Background()

	store, err := openStorage(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	// Redis backs the replay, idempotency, price and rate-limit caches. The
	// memory driver runs without it.
	var rdb *goredis.Client
	rdb, err = redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		if cfg.Database.Driver != "memory" {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Warn().Err(err).Msg("Redis unavailable, caches and rate limiting disabled")
		rdb = nil
	} else {
		defer rdb.Close()
	}

	var (
		deliveries     ports.DeliveryStore
		idempCache     ports.IdempotencyCache
		priceCache     ports.PriceCache
		rateLimitStore middleware.RateLimitStore
		healthCheckers = []ports.HealthChecker{store.health}
	)
	if rdb != nil {
		deliveries = redisStorage.NewDeliveryStore(rdb)
		idempCache = redisStorage.NewIdempotencyCache(rdb)
		priceCache = redisStorage.NewPriceCache(rdb)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(registry)

	// Asynchronous side channels
	auditSvc := service.NewAuditService(store.audit, cfg.Audit.QueueSize, metrics, log)
	auditSvc.Start()

	var notifier ports.Notifier = service.NewLogNotifier(log)
	if cfg.Notify.URL != "" {
		notifier = service.NewHTTPNotifier(cfg.Notify.URL, &http.Client{Timeout: cfg.Notify.Timeout}, cfg.Notify.Retries, log)
	}
	dispatcher := service.NewNotificationDispatcher(notifier, cfg.Notify.QueueSize, cfg.Notify.Timeout, metrics, log)
	dispatcher.Start()

	// Outbound collaborators
	prices := service.NewPriceService(service.PriceQuoterConfig{
		URL:      cfg.Prices.URL,
		Timeout:  cfg.Prices.Timeout,
		CacheTTL: cfg.Prices.CacheTTL,
		Retries:  cfg.Prices.Retries,
	}, assets, priceCache, &http.Client{Timeout: cfg.Prices.Timeout}, metrics, log)

	provider := service.NewProviderClient(service.ProviderClientConfig{
		BaseURL:     cfg.Provider.BaseURL,
		APIKey:      cfg.Provider.APIKey,
		Timeout:     cfg.Provider.Timeout,
		Retries:     cfg.Provider.Retries,
		RedirectURL: cfg.Provider.RedirectURL,
	}, &http.Client{Timeout: cfg.Provider.Timeout}, log)

	// Core services
	chargeSvc := service.NewChargeService(service.ChargeServiceDeps{
		Charges:      store.charges,
		Balances:     store.balances,
		Transactions: store.transactions,
		Transactor:   store.transactor,
		Provider:     provider,
		Prices:       prices,
		Assets:       assets,
		Audit:        auditSvc,
		Notifier:     dispatcher,
		Metrics:      metrics,
		ChargeTTL:    cfg.Provider.ChargeTTL,
	}, log)

	ledgerSvc := service.NewLedgerService(service.LedgerServiceDeps{
		Balances:     store.balances,
		Transactions: store.transactions,
		Transactor:   store.transactor,
		IdempCache:   idempCache,
		Prices:       prices,
		Assets:       assets,
		Audit:        auditSvc,
		Notifier:     dispatcher,
		Metrics:      metrics,
	}, log)

	redelivery := service.NewRedeliveryQueue(service.RedeliveryConfig{
		QueueSize:   cfg.Webhook.RetryQueueSize,
		MaxAttempts: cfg.Webhook.RetryAttempts,
		BaseDelay:   cfg.Webhook.RetryBaseDelay,
		MaxDelay:    cfg.Webhook.RetryMaxDelay,
		ReplayTTL:   cfg.Webhook.ReplayTTL,
	}, chargeSvc, deliveries, metrics, log)
	redelivery.Start()

	webhookSvc := service.NewWebhookService(service.WebhookConfig{
		Secret:    cfg.Webhook.Secret,
		ReplayTTL: cfg.Webhook.ReplayTTL,
	}, chargeSvc, service.NewHMACSignatureService(), deliveries, redelivery, auditSvc, metrics, log)

	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		ChargeSvc:       chargeSvc,
		LedgerSvc:       ledgerSvc,
		WebhookSvc:      webhookSvc,
		TokenSvc:        tokenSvc,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		RateLimitStore:  rateLimitStore,
		HealthCheckers:  healthCheckers,
		AuditSvc:        auditSvc,
		Gatherer:        registry,
		Logger:          log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Producers first: redelivery feeds audit and notifications.
	redelivery.Close()
	dispatcher.Close()
	auditSvc.Close()

	log.Info().Msg("Server exited")
}
