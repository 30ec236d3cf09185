// Package daemon composes the cache into a runnable background process:
// store (migrated at startup), sync engine, outbox drainer and maintenance
// scheduler, with the directory lock held for the process lifetime.
package daemon

import (
	"context"

	"github.com/offlinekit/chatcache/internal/bus"
	"github.com/offlinekit/chatcache/internal/cachedir"
	"github.com/offlinekit/chatcache/internal/config"
	"github.com/offlinekit/chatcache/internal/lock"
	"github.com/offlinekit/chatcache/internal/logging"
	"github.com/offlinekit/chatcache/internal/maintenance"
	"github.com/offlinekit/chatcache/internal/outbox"
	"github.com/offlinekit/chatcache/internal/store"
	intsync "github.com/offlinekit/chatcache/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved runtime configuration passed to the fx module.
// Transport is the embedding client's network layer; SelfID is the local
// user whose own messages never bump unread counters.
type Params struct {
	DataDir   string
	SelfID    string
	Transport outbox.Transport
}

// Module returns the fx module for the cache daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideEngine,
			provideSender,
			provideScheduler,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(cachedir.ConfigPath(p.DataDir))
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(cachedir.LogPath(p.DataDir), p.DataDir)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := cachedir.Ensure(p.DataDir); err != nil {
		return nil, err
	}
	logger.Info("acquiring cache lock", zap.String("dir", p.DataDir))
	l, err := lock.Acquire(p.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("cache lock acquired")
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := cachedir.DBPath(p.DataDir)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized",
		zap.String("path", dbPath),
		zap.String("journal_mode", db.JournalMode()))
	return db, nil
}

func provideEngine(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, p.SelfID, logger)
}

func provideSender(p Params, cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	policy := store.BackoffPolicy{
		Base:       cfg.BackoffBase(),
		Cap:        cfg.BackoffCap(),
		MaxRetries: cfg.MaxRetries,
		Jitter:     cfg.BackoffJitter,
	}
	return outbox.NewSender(db, p.Transport, b, policy, cfg.OutboxPoll(), logger)
}

func provideScheduler(cfg *config.Config, db *store.DB, logger *zap.Logger) *maintenance.Scheduler {
	return maintenance.NewScheduler(db, cfg.MaintenanceInterval(), logger)
}

func registerLifecycle(lc fx.Lifecycle, db *store.DB, lk *lock.Lock, engine *intsync.Engine, sender *outbox.Sender, scheduler *maintenance.Scheduler, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())
			sender.Start(context.Background())
			scheduler.Start(context.Background())
			logger.Info("cache daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			scheduler.Stop()
			sender.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("cache daemon stopped")
			return nil
		},
	})
}
