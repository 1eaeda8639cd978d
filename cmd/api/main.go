package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"exchange-ledger/config"
	httpHandler "exchange-ledger/internal/adapter/http/handler"
	"exchange-ledger/internal/adapter/http/middleware"
	"exchange-ledger/internal/adapter/messaging/rabbitmq"
	"exchange-ledger/internal/adapter/storage/memory"
	pgStorage "exchange-ledger/internal/adapter/storage/postgres"
	redisStorage "exchange-ledger/internal/adapter/storage/redis"
	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/internal/service"
	"exchange-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

// stores groups the repositories of the selected backend.
type stores struct {
	accounts  ports.AccountRepository
	ledger    ports.LedgerStore
	transfers ports.TransferLog
	audit     ports.AuditRepository
	executor  ports.AtomicTransferExecutor // nil = saga path
	health    []ports.HealthChecker
	close     func()
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	issueAdminToken := flag.String("issue-admin-token", "", "print an admin JWT for `subject` and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	if *issueAdminToken != "" {
		if cfg.JWT.Secret == "" {
			log.Fatal().Msg("jwt.secret must be set to issue admin tokens")
		}
		tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
		token, expiresAt, err := tokenSvc.Generate(*issueAdminToken, ports.RoleAdmin)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to issue admin token")
		}
		fmt.Println(token)
		log.Info().Str("subject", *issueAdminToken).Time("expires_at", expiresAt).Msg("Admin token issued")
		return
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("backend", cfg.Ledger.Backend).
		Int("port", cfg.Server.Port).
		Msg("Starting Exchange Ledger")

	ctx := context.Background()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Ledger.Backend).Msg("Failed to open ledger storage")
	}
	defer st.close()

	currencies := domain.NewCurrencies(cfg.Ledger.Currencies)
	fiat, _ := currencies.Lookup(cfg.Ledger.FiatCurrency)

	transferOpts := []service.TransferOption{
		service.WithRetryPolicy(service.RetryPolicy{
			MaxRetries:             cfg.Transfer.MaxRetries,
			CompensationMaxRetries: cfg.Transfer.CompensationMaxRetries,
			InitialInterval:        cfg.Transfer.RetryInitialInterval,
			MaxInterval:            cfg.Transfer.RetryMaxInterval,
		}),
		service.WithMeter(otel.Meter("exchange-ledger/transfer")),
	}
	if st.executor != nil {
		transferOpts = append(transferOpts, service.WithAtomicExecutor(st.executor))
	}

	// Optional Redis: idempotency fast path, rate limiting
	var rateLimiter middleware.Limiter
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()

		transferOpts = append(transferOpts, service.WithIdempotencyCache(redisStorage.NewTransferCache(rdb)))
		if cfg.RateLimit.Enabled {
			rateLimiter = redisStorage.NewRateLimitStore(rdb)
		}
		st.health = append(st.health, redisStorage.NewHealthCheck(rdb))
	}

	// Optional RabbitMQ: transfer events
	if cfg.RabbitMQ.Enabled {
		publisher, err := rabbitmq.Dial(cfg.RabbitMQ, cfg.Breaker, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn().Err(err).Msg("Closing RabbitMQ publisher")
			}
		}()
		transferOpts = append(transferOpts, service.WithEventPublisher(publisher))
	}

	// Initialize business services
	accountSvc := service.NewAccountService(st.accounts, st.ledger, fiat, log)
	ledgerSvc := service.NewLedgerService(st.accounts, st.ledger, currencies, log)
	transferSvc := service.NewTransferService(st.accounts, st.ledger, st.transfers, currencies, log, transferOpts...)
	historySvc := service.NewHistoryService(st.accounts, st.transfers)
	auditSvc := service.NewAuditService(st.audit, log)
	defer auditSvc.Wait()

	jwtSecret := cfg.JWT.Secret
	if jwtSecret == "" {
		jwtSecret = ephemeralSecret()
		log.Warn().Msg("jwt.secret is empty, using a random secret: admin routes will reject every token")
	}
	tokenSvc := service.NewJWTTokenService(jwtSecret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	if cfg.Seed.Enabled {
		if err := service.Seed(ctx, accountSvc, service.DemoAccounts(), log); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed demo accounts")
		}
	}

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetOpenAPISpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	gin.SetMode(cfg.Server.Mode)
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AccountSvc:      accountSvc,
		LedgerSvc:       ledgerSvc,
		TransferSvc:     transferSvc,
		HistorySvc:      historySvc,
		TokenSvc:        tokenSvc,
		RateLimiter:     rateLimiter,
		RateLimitRules:  middleware.RateLimitRules(cfg.RateLimit),
		HealthCheckers:  st.health,
		AuditSvc:        auditSvc,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		TransferTimeout: cfg.Transfer.RequestTimeout,
		Logger:          log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// openStores builds the repositories for cfg.Ledger.Backend. Postgres runs
// transfers in one database transaction; memory runs them as a saga.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.Ledger.Backend == config.BackendMemory {
		accounts := memory.NewAccountRepo()
		log.Warn().Msg("Using the in-memory ledger: balances are lost on restart")
		return &stores{
			accounts:  accounts,
			ledger:    memory.NewLedger(accounts),
			transfers: memory.NewTransferLog(),
			audit:     memory.NewAuditRepo(),
			close:     func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("PostgreSQL connected")

	return &stores{
		accounts:  pgStorage.NewAccountRepo(pool),
		ledger:    pgStorage.NewBalanceRepo(pool),
		transfers: pgStorage.NewTransferRepo(pool),
		audit:     pgStorage.NewAuditRepo(pool),
		executor:  pgStorage.NewTransferExecutor(pool),
		health:    []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		close:     pool.Close,
	}, nil
}

func ephemeralSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
