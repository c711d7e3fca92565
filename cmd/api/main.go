package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"loan_broker_backend/internal/activity"
	"loan_broker_backend/internal/archive"
	"loan_broker_backend/internal/brokers"
	"loan_broker_backend/internal/dossiers"
	"loan_broker_backend/internal/events"
	apphttp "loan_broker_backend/internal/http"
	"loan_broker_backend/internal/http/router"
	"loan_broker_backend/internal/quotes"
	"loan_broker_backend/internal/scheduler"
	"loan_broker_backend/internal/tarification"
	"loan_broker_backend/internal/tarification/catalog"
	"loan_broker_backend/internal/tarification/client"
	"loan_broker_backend/internal/tarification/optimizer"
	"loan_broker_backend/platform/config"
	"loan_broker_backend/platform/db"
	"loan_broker_backend/platform/logger"
	"loan_broker_backend/platform/validator"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Close()

	val := validator.New()

	commissionCatalog, err := catalog.New(cfg)
	if err != nil {
		log.Error("failed to load commission catalog", "error", err)
		panic("failed to load commission catalog: " + err.Error())
	}
	policy, err := optimizer.PolicyFromConfig(cfg)
	if err != nil {
		log.Error("invalid optimizer policy", "error", err)
		panic("invalid optimizer policy: " + err.Error())
	}

	health := map[string]apphttp.HealthChecker{"database": pool}

	quoter, rdb := initQuoter(cfg, log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		health["redis"] = apphttp.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	pushScheduler, closeScheduler := initPushScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	activity.NewRecorder(activity.NewRepository(pool), log).RegisterHandlers(eventBus)

	brokerRepo := brokers.NewRepository(pool, cfg.GetBrokerSecretKey())
	dossiersModule := dossiers.NewModule(pool, val, log)

	quoteDeps := quotes.Dependencies{
		Quoter:    quoter,
		Profiles:  dossiersModule.Repository(),
		Brokers:   brokerRepo,
		Catalog:   commissionCatalog,
		PushLease: cfg.GetPushClaimLease(),
	}
	if pushScheduler != nil {
		quoteDeps.Verifier = pushScheduler
	}
	if archiver := initArchiver(ctx, cfg, log); archiver != nil {
		quoteDeps.Archive = archiver
	}
	quotesModule := quotes.NewModule(pool, eventBus, quoteDeps, val, log)

	tarificationModule := tarification.NewModule(
		quoter,
		commissionCatalog,
		policy,
		dossiersModule.Repository(),
		brokerRepo,
		quotesModule.Service(),
		val,
		log,
	)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   health,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			dossiersModule,
			tarificationModule,
			quotesModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initQuoter builds the pricing client, fronted by the Redis staging cache when
// configured. The returned Redis client is nil when the cache is off.
func initQuoter(cfg *config.Config, log *logger.Logger) (client.Quoter, *redis.Client) {
	pricingClient := client.New(cfg, log)
	if !cfg.IsPricingCacheEnabled() {
		log.Info("pricing cache disabled")
		return pricingClient, nil
	}

	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		log.Warn("invalid REDIS_URL; pricing cache disabled", "error", err)
		return pricingClient, nil
	}
	rdb := redis.NewClient(opt)
	log.Info("pricing cache enabled", "ttl", cfg.GetPricingCacheTTL().String())
	return client.NewCachedQuoter(pricingClient, rdb, cfg.GetPricingCacheTTL(), log), rdb
}

func initPushScheduler(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; push verification disabled")
		return nil, nil
	}

	pushClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize push scheduler client", "error", err)
		return nil, nil
	}

	return pushClient, func() {
		_ = pushClient.Close()
	}
}

// initArchiver returns nil when object storage is not configured.
func initArchiver(ctx context.Context, cfg config.ArchiveConfig, log *logger.Logger) *archive.Archiver {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; provider exchange archive disabled")
		return nil
	}

	store, err := archive.NewMinIOStore(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}
	archiver := archive.New(store, cfg.GetMinioBucketProviderArchive())
	if err := withRetry(ctx, log, "ensure provider archive bucket", 5, 2*time.Second, func() error {
		return archiver.EnsureBucket(ctx)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", cfg.GetMinioBucketProviderArchive())
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
	log.Info("provider exchange archive initialized", "bucket", cfg.GetMinioBucketProviderArchive())
	return archiver
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
