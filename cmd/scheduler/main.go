package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"loan_broker_backend/internal/activity"
	"loan_broker_backend/internal/archive"
	"loan_broker_backend/internal/brokers"
	dossierrepo "loan_broker_backend/internal/dossiers/repository"
	"loan_broker_backend/internal/events"
	"loan_broker_backend/internal/quotes"
	quoterepo "loan_broker_backend/internal/quotes/repository"
	"loan_broker_backend/internal/scheduler"
	"loan_broker_backend/internal/tarification/catalog"
	"loan_broker_backend/internal/tarification/client"
	"loan_broker_backend/platform/config"
	"loan_broker_backend/platform/db"
	"loan_broker_backend/platform/logger"
	"loan_broker_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Close()
	activity.NewRecorder(activity.NewRepository(pool), log).RegisterHandlers(eventBus)

	commissionCatalog, err := catalog.New(cfg)
	if err != nil {
		log.Error("failed to load commission catalog", "error", err)
		panic("failed to load commission catalog: " + err.Error())
	}

	pushScheduler, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize push scheduler client", "error", err)
		panic("failed to initialize push scheduler client: " + err.Error())
	}
	defer func() { _ = pushScheduler.Close() }()

	// Verification compares against fresh staging prices, so the worker never reads the cache.
	quoteDeps := quotes.Dependencies{
		Quoter:    client.New(cfg, log),
		Profiles:  dossierrepo.New(pool, log),
		Brokers:   brokers.NewRepository(pool, cfg.GetBrokerSecretKey()),
		Catalog:   commissionCatalog,
		Verifier:  pushScheduler,
		PushLease: cfg.GetPushClaimLease(),
	}
	if cfg.IsMinIOEnabled() {
		store, err := archive.NewMinIOStore(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		quoteDeps.Archive = archive.New(store, cfg.GetMinioBucketProviderArchive())
	}
	quotesModule := quotes.NewModule(pool, eventBus, quoteDeps, validator.New(), log)

	sweepInterval := getDurationEnv("PUSH_SWEEP_INTERVAL", time.Minute)
	sweeper := scheduler.NewPushSweeper(quoterepo.New(pool, log), pushScheduler, log, sweepInterval, cfg.GetPushClaimLease())
	go sweeper.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, quotesModule.Service(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
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

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}
