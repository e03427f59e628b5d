package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/watchledger/internal/audit"
	"github.com/vietddude/watchledger/internal/core/config"
	"github.com/vietddude/watchledger/internal/core/worker"
	"github.com/vietddude/watchledger/internal/health"
	"github.com/vietddude/watchledger/internal/identity"
	redisclient "github.com/vietddude/watchledger/internal/infra/redis"
	"github.com/vietddude/watchledger/internal/infra/storage"
	"github.com/vietddude/watchledger/internal/infra/storage/memory"
	"github.com/vietddude/watchledger/internal/infra/storage/postgres"
	"github.com/vietddude/watchledger/internal/ledger"
	"github.com/vietddude/watchledger/internal/preference"
	"github.com/vietddude/watchledger/internal/registry"
	"github.com/vietddude/watchledger/internal/session"
)

// App owns the store, the components and the background jobs.
type App struct {
	Components

	cfg          config.AppConfig
	store        storage.Store
	db           *postgres.DB
	redisClient  *redisclient.Client
	healthMon    *health.Monitor
	healthServer *health.Server
	scheduler    *worker.Scheduler
	pruner       *worker.Pruner
	poller       *worker.Poller
	log          *slog.Logger
	cancel       context.CancelFunc
}

// New creates an App with all dependencies initialized. Without a database
// URL the store is in memory.
func New(ctx context.Context, cfg config.AppConfig, opts Options) (*App, error) {
	log := slog.Default()
	a := &App{cfg: cfg, log: log}

	// 1. Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to migrate db: %w", err)
			}
		}
		a.db = db
		a.store = db
		log.Info("Using PostgreSQL storage")
	} else {
		a.store = memory.NewStore()
		log.Info("Using Memory storage")
	}

	// 2. Redis carries balance events and the sweep lease. It is optional.
	notifier := opts.Notifier
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, events and sweep lease disabled", "error", err)
		} else {
			a.redisClient = client
			if notifier == nil {
				notifier = redisclient.NewNotifier(client, cfg.Redis)
			}
		}
	}

	// 3. Components
	timeout := cfg.Store.OpTimeout
	auditor := audit.New(a.store, cfg.Audit, log.With("component", "audit"))
	a.Components = Components{
		Audit:       auditor,
		Identity:    identity.NewStore(a.store, auditor, timeout, log.With("component", "identity")),
		Sessions:    session.NewManager(a.store, auditor, cfg.Session, timeout, log.With("component", "session")),
		Registry:    registry.New(a.store, auditor, timeout, log.With("component", "registry")),
		Ledger:      ledger.New(a.store, auditor, notifier, cfg.Ledger, timeout, log.With("component", "ledger")),
		Preferences: preference.NewStore(a.store, auditor, timeout, log.With("component", "preference")),
	}

	// 4. Health
	var cache health.Pinger
	if a.redisClient != nil {
		cache = a.redisClient
	}
	a.healthMon = health.NewMonitor(a.store, cache, auditor)
	if !opts.DisableServer {
		a.healthServer = health.NewServer(a.healthMon, cfg.Server.Port)
	}

	// 5. Background jobs
	sched, err := worker.NewScheduler(log.With("component", "scheduler"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.scheduler = sched

	var locker worker.Locker
	if a.redisClient != nil {
		locker = a.redisClient
	}
	a.pruner = worker.NewPruner(a.Sessions, locker, 0, log.With("component", "sweeper"))
	if cfg.Workers.SessionSweepInterval > 0 {
		if err := sched.Every(cfg.Workers.SessionSweepInterval, a.pruner, false); err != nil {
			a.close()
			return nil, err
		}
	}

	if opts.ChainReader != nil && cfg.Workers.PollInterval > 0 {
		a.poller = worker.NewPoller(worker.PollerConfig{
			BatchSize:   cfg.Workers.PollBatchSize,
			Concurrency: cfg.Workers.PollConcurrency,
			Networks:    cfg.Workers.Networks,
		}, a.Registry, a.Ledger, opts.ChainReader, log.With("component", "poller"))
		if err := sched.Every(cfg.Workers.PollInterval, a.poller, true); err != nil {
			a.close()
			return nil, err
		}
	}

	return a, nil
}

// Start starts the health server and the background jobs.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.healthServer != nil {
		go func() {
			if err := a.healthServer.Start(); err != nil {
				a.log.Error("Health server failed", "error", err)
			}
		}()
	}

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	a.scheduler.Start()
	a.log.Info("Ledger core started", "poller", a.poller != nil, "redis", a.redisClient != nil)
	return nil
}

// Stop stops the background jobs and the health server and releases the
// store.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping ledger core...")
	if a.cancel != nil {
		a.cancel()
	}

	var errs []error
	if err := a.scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if a.healthServer != nil {
		if err := a.healthServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop health server: %w", err))
		}
	}
	errs = append(errs, a.close())
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Store returns the shared store.
func (a *App) Store() storage.Store { return a.store }

// Health returns the current health report.
func (a *App) Health(ctx context.Context) *health.HealthReport {
	return a.healthMon.CheckHealth(ctx)
}

// SweepSessions purges dead sessions now.
func (a *App) SweepSessions(ctx context.Context) (int64, error) {
	return a.pruner.Sweep(ctx)
}

// PollBalances runs one poller pass now. It fails when no chain reader was
// supplied.
func (a *App) PollBalances(ctx context.Context) (worker.PassStats, error) {
	if a.poller == nil {
		return worker.PassStats{}, errors.New("balance poller is disabled")
	}
	return a.poller.Poll(ctx)
}
