// Package bootstrap assembles an engine and its infrastructure from
// configuration. Both the daemon and the CLI start here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/grindstone-hq/grindstone/config"
	"github.com/grindstone-hq/grindstone/internal/application/engine"
	"github.com/grindstone-hq/grindstone/internal/application/eventhandler"
	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/external/telegram"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/messaging"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/metrics"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/persistence/memory"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/persistence/postgres"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/persistence/redis"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/persistence/sqlite"
	"github.com/grindstone-hq/grindstone/internal/interface/http/handlers"
	"github.com/grindstone-hq/grindstone/pkg/timeutil"
)

// Runtime is a loaded engine plus everything it holds open.
type Runtime struct {
	Config  *config.Config
	Engine  *engine.Engine
	Metrics *metrics.Collector
	Health  *handlers.DependencyChecker
	Bus     shared.EventBus
	Clock   timeutil.Clock

	// Notifications holds recent notices; nil when Options.Publisher was set.
	Notifications *eventhandler.Inbox

	logger  *slog.Logger
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Options tweaks Open.
type Options struct {
	Version string

	// Clock overrides the system clock in the configured timezone.
	Clock timeutil.Clock

	// Publisher overrides the event bus wiring.
	Publisher shared.EventPublisher
}

// Open connects the configured store, builds the event bus and metrics,
// creates the engine and restores its saved state.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *Runtime, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{
		Config:  cfg,
		Metrics: metrics.New(),
		Health:  handlers.NewDependencyChecker(opts.Version),
		Clock:   opts.Clock,
		logger:  logger.With("component", "bootstrap"),
	}
	if rt.Clock == nil {
		rt.Clock = timeutil.NewSystemClock(cfg.App.Location())
	}
	defer func() {
		if err != nil {
			_ = rt.closeAll()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// Store
	// ─────────────────────────────────────────────────────────────────────────
	store, archive, redisClient, err := rt.openStore(ctx)
	if err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus
	// ─────────────────────────────────────────────────────────────────────────
	publisher := opts.Publisher
	if publisher == nil {
		bus, err := rt.openBus(ctx, redisClient)
		if err != nil {
			return nil, err
		}
		rt.Bus = bus
		publisher = bus
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Engine
	// ─────────────────────────────────────────────────────────────────────────
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	engineOpts := []engine.Option{
		engine.WithClock(rt.Clock),
		engine.WithStore(store),
		engine.WithPublisher(publisher),
		engine.WithLogger(logger),
		engine.WithMetrics(rt.Metrics),
	}
	if archive != nil {
		engineOpts = append(engineOpts, engine.WithArchive(archive))
	}
	eng, err := engine.New(engineCfg, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, cfg.Store.QueryTimeout)
	defer cancel()
	if err := eng.Load(loadCtx); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	rt.Engine = eng

	rt.logger.Info("engine ready",
		"store", string(cfg.Store.Kind),
		"archive", archive != nil,
		"features", cfg.Features.Enabled(),
	)
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) (shared.StateStore, ledger.Archive, goredis.UniversalClient, error) {
	cfg := rt.Config

	var redisClient goredis.UniversalClient
	if cfg.Store.Kind == config.StoreRedis || cfg.Redis.Events {
		client, err := redis.NewClient(ctx, redisConfig(cfg.Redis))
		if err != nil {
			return nil, nil, nil, err
		}
		rt.addCloser("redis", client.Close)
		rt.Health.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		redisClient = client
	}

	switch cfg.Store.Kind {
	case config.StoreMemory:
		rt.logger.Warn("using the in-memory store; state is lost on exit")
		return memory.NewStore(), nil, redisClient, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		rt.addCloser("sqlite", db.Close)
		rt.Health.AddCheck("store", db.Ping)
		return db, db, redisClient, nil

	case config.StorePostgres:
		conn, err := postgres.NewConnection(ctx, cfg.Store.PostgresURL, cfg.Store.PostgresMaxConns)
		if err != nil {
			return nil, nil, nil, err
		}
		rt.addCloser("postgres", func() error {
			conn.Close()
			return nil
		})
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		rt.Health.AddCheck("store", conn.Ping)
		return postgres.NewStateStore(conn), postgres.NewTransactionArchive(conn), redisClient, nil

	case config.StoreRedis:
		return redis.NewStateStore(redisClient, ""), nil, redisClient, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
}

func (rt *Runtime) openBus(_ context.Context, client goredis.UniversalClient) (shared.EventBus, error) {
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = rt.logger

	var bus interface {
		shared.EventBus
		Close() error
	}
	if rt.Config.Redis.Events && client != nil {
		rb, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSub(client),
			ChannelName:    rt.Config.Redis.Channel,
			InstanceID:     rt.Config.App.InstanceID,
			LocalBusConfig: busCfg,
			Logger:         rt.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("event bus: %w", err)
		}
		bus = rb
	} else {
		bus = messaging.NewInMemoryEventBus(busCfg)
	}
	rt.addCloser("event bus", bus.Close)

	events := rt.logger.With("component", "events")
	if err := bus.SubscribeAll(func(ev shared.Event) error {
		events.Debug("engine event",
			"type", string(ev.EventType()),
			"aggregate", ev.AggregateID(),
		)
		return nil
	}); err != nil {
		return nil, err
	}

	rt.Notifications = eventhandler.NewInbox(rt.Config.App.NotificationInbox)
	senders := eventhandler.Senders{eventhandler.NewLogSender(rt.logger), rt.Notifications}
	if tg := rt.Config.Telegram; tg.Enabled() {
		tgCfg := telegram.DefaultClientConfig(tg.Token)
		tgCfg.Logger = rt.logger
		client, err := telegram.NewClient(tgCfg)
		if err != nil {
			return nil, err
		}
		senders = append(senders, telegram.NewSender(client, tg.ChatID))
	}
	notifier := eventhandler.NewNotifier(senders, eventhandler.DefaultNotifierConfig(), rt.logger)
	if err := notifier.Register(bus); err != nil {
		return nil, err
	}
	return bus, nil
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Addr = c.Addr
	rc.Password = c.Password
	rc.DB = c.DB
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout
	}
	return rc
}

func (rt *Runtime) addCloser(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

// Close flushes engine state and releases resources in reverse order.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.Engine != nil {
		flushCtx, cancel := context.WithTimeout(ctx, rt.Config.Store.QueryTimeout)
		rt.Engine.Flush(flushCtx)
		cancel()
	}
	return rt.closeAll()
}

func (rt *Runtime) closeAll() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		start := time.Now()
		if err := c.fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			continue
		}
		rt.logger.Debug("closed", "resource", c.name, "took", time.Since(start))
	}
	rt.closers = nil
	return errors.Join(errs...)
}
