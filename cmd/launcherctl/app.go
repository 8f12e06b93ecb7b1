package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/vanylaplus/go-launcher/api"
	"github.com/vanylaplus/go-launcher/assets"
	"github.com/vanylaplus/go-launcher/balance"
	"github.com/vanylaplus/go-launcher/cache"
	"github.com/vanylaplus/go-launcher/config"
	"github.com/vanylaplus/go-launcher/cooldown"
	"github.com/vanylaplus/go-launcher/env"
	"github.com/vanylaplus/go-launcher/eventing"
	"github.com/vanylaplus/go-launcher/ledger"
	"github.com/vanylaplus/go-launcher/logger"
	"github.com/vanylaplus/go-launcher/resilience"
	"github.com/vanylaplus/go-launcher/telemetry"
	"golang.org/x/text/language"
)

const serviceName = "launcherctl"

// redisKeyPrefix namespaces launcher state inside a shared Redis database.
const redisKeyPrefix = "vanyla:"

// app holds what a command needs. Everything is opened lazily so commands
// that only touch the ledger never dial the balance API.
type app struct {
	cfg      *config.Config
	logger   logger.Logger
	shutdown telemetry.ShutdownFunc
	tag      language.Tag

	rdb      *redis.Client
	store    cache.Cache
	events   eventing.Client
	balances *balance.Manager
	assets   *assets.Prefetcher
}

func (a *app) setup(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("api-url"); v != "" {
		cfg.APIURL = v
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Store = v
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	if a.tag, err = cfg.Language(); err != nil {
		return err
	}
	a.logger, a.shutdown, err = env.NewTelemetry(cmd.Context(), cmd, serviceName, env.Logging{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		OTLPURL:   cfg.OTLPURL,
		OTLPToken: cfg.OTLPToken,
	})
	if err != nil {
		return errors.Wrap(err, "setup telemetry")
	}
	a.logger.With(cfg.Fields()).Debug("configuration loaded from %q", path)
	return nil
}

func (a *app) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.rdb != nil {
		return a.rdb, nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis_url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "connect to redis")
	}
	a.rdb = rdb
	return rdb, nil
}

func (a *app) openStore(ctx context.Context) (cache.Cache, error) {
	if a.store != nil {
		return a.store, nil
	}
	switch a.cfg.Store {
	case config.StoreMemory:
		a.store = cache.NewInMemory(context.Background())
	case config.StoreSQLite:
		store, err := cache.NewSQLite(context.Background(), a.cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", a.cfg.SQLitePath)
		}
		a.store = store
	case config.StoreRedis:
		rdb, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		a.store = cache.NewRedis(rdb, cache.WithPrefix(redisKeyPrefix))
	default:
		return nil, errors.Newf("unknown store %q", a.cfg.Store)
	}
	a.logger.Debug("opened %s store", a.cfg.Store)
	return a.store, nil
}

func (a *app) openEvents(ctx context.Context) (eventing.Client, error) {
	if a.events != nil {
		return a.events, nil
	}
	switch a.cfg.Events {
	case config.EventsRedis:
		rdb, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		client, err := eventing.NewRedisClient(context.Background(), a.logger, rdb)
		if err != nil {
			return nil, err
		}
		a.events = client
	default:
		a.events = eventing.NewLocalClient(context.Background(), a.logger)
	}
	return a.events, nil
}

func (a *app) ledger(ctx context.Context) (*ledger.Ledger, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	events, err := a.openEvents(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.New(store, ledger.WithLogger(a.logger), ledger.WithEvents(events)), nil
}

func (a *app) gate(ctx context.Context) (*cooldown.Gate, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return cooldown.New(store, cooldown.WithCooldown(a.cfg.WheelCooldown.Std()), cooldown.WithLogger(a.logger)), nil
}

func (a *app) balanceManager(ctx context.Context) (*balance.Manager, error) {
	if a.balances != nil {
		return a.balances, nil
	}
	if a.cfg.APIURL == "" {
		return nil, errors.New("api_url is not configured, set it in the config file, with --api-url or VANYLA_API_URL")
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	events, err := a.openEvents(ctx)
	if err != nil {
		return nil, err
	}
	client, err := api.New(a.logger, a.cfg.APIURL, api.WithTimeout(a.cfg.RequestTimeout.Std()))
	if err != nil {
		return nil, err
	}
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.MaxFailures = a.cfg.BreakerFailures
	breakerCfg.SuccessThreshold = 1
	breakerCfg.RequestTimeout = a.cfg.RequestTimeout.Std()
	breakerCfg.OnStateChange = func(from, to resilience.CircuitBreakerState) {
		a.logger.Warn("balance api circuit %s -> %s", from, to)
	}
	// While the circuit is open every fetch, forced or not, is served the
	// fallback without a request.
	source := balance.NewHTTPSource(client, balance.WithBreaker(resilience.NewCircuitBreaker(breakerCfg)))
	a.balances = balance.New(context.Background(), source,
		balance.WithConfig(a.cfg.Balance()),
		balance.WithLogger(a.logger),
		balance.WithStore(store),
		balance.WithEvents(events),
	)
	return a.balances, nil
}

func (a *app) prefetcher(ctx context.Context) (*assets.Prefetcher, error) {
	if a.assets != nil {
		return a.assets, nil
	}
	base := a.cfg.AssetBase()
	if base == "" {
		return nil, errors.New("assets_url is not configured, set assets_url or api_url in the config file, or VANYLA_ASSETS_URL")
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	client, err := api.New(a.logger, base, api.WithTimeout(0))
	if err != nil {
		return nil, err
	}
	a.assets = assets.New(client, store,
		assets.WithLogger(a.logger),
		assets.WithTimeout(a.cfg.RequestTimeout.Std()),
	)
	return a.assets, nil
}

func (a *app) format(n int64) string {
	return balance.Format(a.tag, n)
}

// Close releases everything opened by the command, in reverse order.
func (a *app) Close() {
	if a.balances != nil {
		a.balances.Close()
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.store != nil {
		if err := a.store.CloseContext(context.Background()); err != nil && a.logger != nil {
			a.logger.Warn("close store: %s", err)
		}
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.shutdown != nil {
		a.shutdown()
	}
}

// playerID validates a player argument. Launcher accounts are identified by
// their UUID, with or without dashes; the dashed lower case form is used as
// the key.
func playerID(arg string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(arg))
	if err != nil {
		return "", fmt.Errorf("invalid player id %q: expected a UUID", arg)
	}
	return id.String(), nil
}
