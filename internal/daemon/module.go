// Package daemon composes the node: store, transport, scheduler and the
// control API, wired through fx with ordered lifecycle hooks.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/drift-im/drift/internal/api"
	"github.com/drift-im/drift/internal/bus"
	"github.com/drift-im/drift/internal/config"
	"github.com/drift-im/drift/internal/handshake"
	"github.com/drift-im/drift/internal/identity"
	"github.com/drift-im/drift/internal/ingest"
	"github.com/drift-im/drift/internal/lock"
	"github.com/drift-im/drift/internal/logging"
	"github.com/drift-im/drift/internal/outbox"
	"github.com/drift-im/drift/internal/profile"
	"github.com/drift-im/drift/internal/status"
	"github.com/drift-im/drift/internal/store"
	"github.com/drift-im/drift/internal/transport"
	"github.com/drift-im/drift/internal/vibe"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideIdentity,
			provideBackoff,
			provideScheduler,
			provideAdapter,
			provideSender,
			provideDebouncer,
			provideContacts,
			provideMatcher,
			provideIngestEngine,
			provideAPIHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath, store.Caps{
		MessagesPerChat:    cfg.Store.MessagesPerChat,
		Contacts:           cfg.Store.Contacts,
		Tickets:            cfg.Store.Tickets,
		OutboxPerRecipient: cfg.Outbox.PerRecipient,
	})
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

func provideIdentity(p Params, logger *zap.Logger) (*identity.Key, error) {
	key, err := identity.LoadOrCreate(profile.KeyPath(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("node identity loaded", zap.String("identity", key.ID()))
	return key, nil
}

func provideBackoff(cfg *config.Config) *outbox.Backoff {
	return outbox.NewBackoff(
		time.Duration(cfg.Outbox.BaseDelaySeconds)*time.Second,
		time.Duration(cfg.Outbox.MaxDelaySeconds)*time.Second,
	)
}

func provideScheduler(db *store.DB, b *bus.Bus, logger *zap.Logger, backoff *outbox.Backoff, cfg *config.Config) *outbox.Scheduler {
	return outbox.NewScheduler(db, b, logger, backoff, cfg.Outbox.MaxAttempts)
}

func provideAdapter(key *identity.Key, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *transport.Adapter {
	return transport.NewAdapter(key.ID(), cfg.Transport.ListenAddr, cfg.Transport.Peers, b, logger)
}

func provideSender(sched *outbox.Scheduler, adapter *transport.Adapter, logger *zap.Logger, cfg *config.Config) *outbox.Sender {
	return outbox.NewSender(sched, adapter, logger,
		time.Duration(cfg.Outbox.TickSeconds)*time.Second, cfg.Outbox.Workers)
}

func provideDebouncer(cfg *config.Config) *handshake.Debouncer {
	return handshake.NewDebouncer(time.Duration(cfg.Handshake.DebounceSeconds)*time.Second, nil)
}

func provideContacts(db *store.DB, sched *outbox.Scheduler, d *handshake.Debouncer, b *bus.Bus, logger *zap.Logger, p Params, key *identity.Key) *handshake.Contacts {
	return handshake.NewContacts(db, sched, d, b, logger, key.ID(), p.ProfileName)
}

func provideMatcher(db *store.DB, sched *outbox.Scheduler, b *bus.Bus, logger *zap.Logger, key *identity.Key) *vibe.Matcher {
	return vibe.NewMatcher(db, sched, b, logger, key.ID())
}

func provideIngestEngine(db *store.DB, b *bus.Bus, contacts *handshake.Contacts, matcher *vibe.Matcher, logger *zap.Logger, key *identity.Key) *ingest.Engine {
	return ingest.NewEngine(db, b, contacts, matcher, logger, key.ID())
}

func provideAPIHandler(db *store.DB, sched *outbox.Scheduler, sender *outbox.Sender, contacts *handshake.Contacts, matcher *vibe.Matcher, machine *status.Machine, logger *zap.Logger, key *identity.Key) *api.Handler {
	return api.NewHandler(db, sched, sender, contacts, matcher, machine, logger, key.ID())
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, adapter *transport.Adapter, engine *ingest.Engine, sender *outbox.Sender, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Ingest must be consuming before the transport can publish.
			engine.Start(context.Background())

			if err := adapter.Start(context.Background()); err != nil {
				logger.Error("transport failed to start", zap.Error(err))
				_ = machine.Transition(status.Error)
				return err
			}
			_ = machine.Transition(status.Listening)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			sender.Start(context.Background())
			_ = machine.Transition(status.Ready)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			adapter.Stop()
			engine.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
