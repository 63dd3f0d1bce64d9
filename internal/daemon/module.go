// Package daemon composes the cashmated process: config, store, realtime
// registry, engines, and the HTTP/websocket surface, wired with fx.
package daemon

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/cashmate/cashmate/internal/bus"
	"github.com/cashmate/cashmate/internal/chat"
	"github.com/cashmate/cashmate/internal/config"
	"github.com/cashmate/cashmate/internal/home"
	"github.com/cashmate/cashmate/internal/lock"
	"github.com/cashmate/cashmate/internal/logging"
	"github.com/cashmate/cashmate/internal/match"
	"github.com/cashmate/cashmate/internal/presence"
	"github.com/cashmate/cashmate/internal/registry"
	"github.com/cashmate/cashmate/internal/server"
	"github.com/cashmate/cashmate/internal/store"
	"github.com/cashmate/cashmate/internal/ws"
)

// Params holds the resolved startup options passed to the fx module.
type Params struct {
	Home       string
	ListenAddr string // optional override for the configured listen address
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideRegistry,
			provideChatEngine,
			provideMatchEngine,
			providePresenceWriter,
			provideHub,
			provideHandlers,
			provideRouter,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(home.LogPath(p.Home))
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(home.ConfigPath(p.Home))
	if err != nil {
		return nil, err
	}
	if p.ListenAddr != "" {
		cfg.ListenAddr = p.ListenAddr
	}
	logger.Info("config loaded",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Int("sweep_interval_secs", cfg.SweepIntervalSecs))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := home.EnsureDir(p.Home); err != nil {
		return nil, err
	}
	logger.Info("acquiring daemon lock", zap.String("dir", p.Home))
	l, err := lock.Acquire(p.Home)
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := home.DBPath(p.Home)
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

func provideRegistry(b *bus.Bus, logger *zap.Logger) *registry.Registry {
	return registry.New(b, logger)
}

func provideChatEngine(db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *chat.Engine {
	return chat.NewEngine(db, reg, b, logger)
}

func provideMatchEngine(db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *match.Engine {
	return match.NewEngine(db, reg, b, logger)
}

func providePresenceWriter(db *store.DB, b *bus.Bus, logger *zap.Logger) *presence.Writer {
	return presence.NewWriter(db, b, logger)
}

func provideHub(reg *registry.Registry, chatEngine *chat.Engine, cfg *config.Config, logger *zap.Logger) *ws.Hub {
	return ws.NewHub(reg, chatEngine, cfg.AllowedOrigins, logger)
}

func provideHandlers(db *store.DB, matchEngine *match.Engine, logger *zap.Logger) *server.Handlers {
	return server.NewHandlers(db, matchEngine, logger)
}

func provideRouter(h *server.Handlers, hub *ws.Hub, cfg *config.Config, logger *zap.Logger) http.Handler {
	return server.NewRouter(h, hub, cfg.AllowedOrigins, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, reg *registry.Registry, writer *presence.Writer, db *store.DB, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			writer.Start(context.Background())

			sweep := time.Duration(cfg.SweepIntervalSecs) * time.Second
			reg.StartSweep(context.Background(), sweep)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			reg.StopSweep()
			writer.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
