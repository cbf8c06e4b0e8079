package engine

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/matheus3301/syncbox/internal/bus"
	"github.com/matheus3301/syncbox/internal/config"
	"github.com/matheus3301/syncbox/internal/lock"
	"github.com/matheus3301/syncbox/internal/logging"
	"github.com/matheus3301/syncbox/internal/media"
	"github.com/matheus3301/syncbox/internal/profile"
	"github.com/matheus3301/syncbox/internal/projector"
	"github.com/matheus3301/syncbox/internal/remote"
	"github.com/matheus3301/syncbox/internal/status"
	"github.com/matheus3301/syncbox/internal/store"
	intsync "github.com/matheus3301/syncbox/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration and the host-supplied
// server collaborators passed to the fx module.
type Params struct {
	Profile      string
	SelfUserID   string
	Transport    remote.Transport
	Fetcher      remote.BulkFetcher
	Connectivity remote.Connectivity
	Credentials  remote.Credentials
}

// Module returns the fx module for the engine, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMediaCache,
			provideReconciler,
			provideOrchestrator,
			provideProjector,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.ValidateName(p.Profile); err != nil {
		return nil, err
	}
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMediaCache(p Params, cfg *config.Config, db *store.DB, logger *zap.Logger) (*media.Cache, error) {
	dir := cfg.MediaDir
	if dir == "" {
		dir = profile.MediaDir(p.Profile)
	}
	retention := time.Duration(cfg.MediaRetentionDays) * 24 * time.Hour
	return media.New(db, dir, retention, logger)
}

func provideReconciler(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, b, p.SelfUserID, logger)
}

func provideOrchestrator(p Params, cfg *config.Config, db *store.DB, rec *intsync.Reconciler, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *intsync.Orchestrator {
	return intsync.NewOrchestrator(intsync.Deps{
		DB:           db,
		Transport:    p.Transport,
		Fetcher:      p.Fetcher,
		Connectivity: p.Connectivity,
		Credentials:  p.Credentials,
		Machine:      machine,
		Reconciler:   rec,
		Bus:          b,
		Logger:       logger,
		Debounce:     time.Duration(cfg.DebounceSeconds) * time.Second,
	})
}

func provideProjector(db *store.DB, b *bus.Bus, logger *zap.Logger) *projector.Projector {
	return projector.New(db, b, logger)
}

func provideEngine(p Params, db *store.DB, orch *intsync.Orchestrator, cache *media.Cache, proj *projector.Projector, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Engine {
	return New(db, orch, cache, proj, machine, b, p.SelfUserID, logger)
}

func registerLifecycle(lc fx.Lifecycle, db *store.DB, orch *intsync.Orchestrator, cache *media.Cache, proj *projector.Projector, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := proj.Start(context.Background()); err != nil {
				return err
			}
			orch.Start(context.Background())

			// Age sweep runs off the startup path.
			go func() {
				if _, err := cache.CleanupOldFiles(); err != nil {
					logger.Warn("media sweep failed", zap.Error(err))
				}
			}()
			logger.Info("engine started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			orch.Stop()
			proj.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
