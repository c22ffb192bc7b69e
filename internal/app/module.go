package app

import (
	"context"
	"errors"
	"io/fs"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/rbarbosa/chatsync/internal/bus"
	"github.com/rbarbosa/chatsync/internal/clockwork"
	"github.com/rbarbosa/chatsync/internal/config"
	"github.com/rbarbosa/chatsync/internal/conn"
	"github.com/rbarbosa/chatsync/internal/lock"
	"github.com/rbarbosa/chatsync/internal/logging"
	"github.com/rbarbosa/chatsync/internal/presence"
	"github.com/rbarbosa/chatsync/internal/rest"
	"github.com/rbarbosa/chatsync/internal/session"
	"github.com/rbarbosa/chatsync/internal/status"
	"github.com/rbarbosa/chatsync/internal/store"
	intsync "github.com/rbarbosa/chatsync/internal/sync"
	"github.com/rbarbosa/chatsync/internal/tui"
	"github.com/rbarbosa/chatsync/internal/typing"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module composes the client: store, channel, engine and trackers, plus
// lifecycle hooks. The TUI shell is provided but not run; main drives it.
func Module(p Params) fx.Option {
	return fx.Module("chatsync",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideClock,
			provideScheduler,
			provideStore,
			provideCache,
			provideRESTClient,
			provideConnManager,
			provideEngine,
			providePresence,
			provideTyping,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		// First run: write the defaults so the user has a file to edit.
		cfg = config.Default()
		if saveErr := config.Save(session.ConfigPath(), cfg); saveErr != nil {
			return nil, saveErr
		}
		return cfg, nil
	}
	return cfg, err
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("session", p.SessionName))
	return l, nil
}

func provideClock() clock.Clock {
	return clock.New()
}

func provideScheduler(clk clock.Clock) *clockwork.Scheduler {
	return clockwork.NewScheduler(clk)
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(session.CacheDBPath(p.SessionName))
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
	}
	return db, nil
}

func provideCache(cfg *config.Config, clk clock.Clock) *store.Cache {
	return store.NewCache(clk, cfg.Cache.TTL.Duration, cfg.Cache.MaxEntries)
}

func provideRESTClient(cfg *config.Config) *rest.Client {
	return rest.New(cfg.Server.APIBaseURL, cfg.Auth.Token)
}

func provideConnManager(cfg *config.Config, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(cfg.Server.ChannelURL,
		conn.Credentials{UserID: cfg.Auth.UserID, Token: cfg.Auth.Token},
		conn.Options{
			MaxAttempts:     cfg.Reconnect.MaxAttempts,
			InitialInterval: cfg.Reconnect.InitialInterval.Duration,
			MaxInterval:     cfg.Reconnect.MaxInterval.Duration,
		},
		b, machine, logger)
}

func provideEngine(cfg *config.Config, db *store.DB, cache *store.Cache, rc *rest.Client, cm *conn.Manager, sched *clockwork.Scheduler, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, cache, rc, cm, sched, b, intsync.Options{
		SelfID:            cfg.Auth.UserID,
		SelfName:          cfg.Auth.Username,
		PageSize:          cfg.Engine.PageSize,
		CacheTTL:          cfg.Cache.TTL.Duration,
		LoadOlderDelay:    cfg.Engine.LoadOlderDelay.Duration,
		SendAckTimeout:    cfg.Engine.SendAckTimeout.Duration,
		ScrollSuspension:  cfg.Engine.ScrollSuspension.Duration,
		BottomThreshold:   cfg.Engine.BottomThreshold,
		MaxPersistedConvs: cfg.Cache.MaxPersistedConvs,
	}, logger)
}

func providePresence(clk clock.Clock, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(clk, b, logger)
}

func provideTyping(cfg *config.Config, sched *clockwork.Scheduler, cm *conn.Manager, b *bus.Bus, logger *zap.Logger) *typing.Coordinator {
	return typing.NewCoordinator(sched, cm, b, typing.Windows{
		Debounce:     cfg.Typing.DebounceWindow.Duration,
		IdleStop:     cfg.Typing.IdleStopAfter.Duration,
		RemoteExpiry: cfg.Typing.RemoteExpiry.Duration,
	}, logger)
}

func provideTUI(p Params, cfg *config.Config, engine *intsync.Engine, tc *typing.Coordinator, pres *presence.Tracker, db *store.DB, b *bus.Bus, logger *zap.Logger) *tui.App {
	return tui.NewApp(engine, tc, pres, db, b, cfg.Auth.UserID, p.SessionName, logger)
}

func registerLifecycle(lc fx.Lifecycle, engine *intsync.Engine, tc *typing.Coordinator, pres *presence.Tracker, cm *conn.Manager, sched *clockwork.Scheduler, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := engine.Start(context.Background()); err != nil {
				return err
			}
			pres.Start()
			tc.Start()
			cm.Connect(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cm.Disconnect()
			tc.Stop()
			pres.Stop()
			engine.Stop()
			sched.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("store close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("lock release failed", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
