package presets

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-warden/v1/adapter"
	"github.com/mirkobrombin/go-warden/v1/cache"
	"github.com/mirkobrombin/go-warden/v1/lock"
	"github.com/mirkobrombin/go-warden/v1/metrics"
	"github.com/mirkobrombin/go-warden/v1/syncbus"
)

// RedisOptions configures the connection to Redis and the handles built on
// top of it. Zero values keep the package defaults.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix replaces the cache key namespace.
	KeyPrefix string
	// LockPrefix replaces the "mutex-" lock key prefix.
	LockPrefix string
	// DefaultTTL is used by cache.Cached when a spec has no TTL.
	DefaultTTL time.Duration
	// RetryInterval is the polling period of lock waiters.
	RetryInterval time.Duration
	// OpTimeout bounds every store round trip.
	OpTimeout time.Duration

	// Registerer enables Prometheus metrics when set.
	Registerer prometheus.Registerer
	Tracing    bool
	Logger     *slog.Logger
}

// Warden bundles the handles sharing one store. Pass it, or its fields,
// explicitly to the code that needs them.
type Warden struct {
	Store  adapter.Store
	Bus    syncbus.Bus
	Cache  *cache.Manager
	Mutex  *lock.Simple
	Queued *lock.Queued

	closers []func() error
}

// Close releases the resources owned by w.
func (w *Warden) Close() error {
	var first error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewRedis connects to Redis and wires a cache manager and both lock
// managers on it. Lock releases are broadcast over Redis pub/sub.
func NewRedis(opts RedisOptions) *Warden {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	w := NewRedisFromClient(client, opts)
	w.closers = append([]func() error{client.Close}, w.closers...)
	return w
}

// NewRedisFromClient is NewRedis on an existing client, for instance a
// cluster or sentinel client. The client is not closed by Warden.Close.
func NewRedisFromClient(client redis.UniversalClient, opts RedisOptions) *Warden {
	var storeOpts []adapter.RedisOption
	if opts.OpTimeout > 0 {
		storeOpts = append(storeOpts, adapter.WithTimeout(opts.OpTimeout))
	}
	var busOpts []syncbus.RedisBusOption
	if opts.OpTimeout > 0 {
		busOpts = append(busOpts, syncbus.WithBusTimeout(opts.OpTimeout))
	}
	store := adapter.NewRedisStore(client, storeOpts...)
	bus := syncbus.NewRedisBus(client, busOpts...)
	w := build(store, bus, opts)
	w.closers = append(w.closers, bus.Close)
	return w
}

// NewInMemoryStandalone wires the same handles on process memory, with no
// external dependencies. Useful for local development and tests.
func NewInMemoryStandalone(opts RedisOptions) *Warden {
	return build(adapter.NewInMemoryStore(), syncbus.NewInMemoryBus(), opts)
}

func build(store adapter.Store, bus syncbus.Bus, opts RedisOptions) *Warden {
	cacheOpts := []cache.Option{}
	lockOpts := []lock.Option{lock.WithBus(bus)}
	if opts.KeyPrefix != "" {
		cacheOpts = append(cacheOpts, cache.WithKeyPrefix(opts.KeyPrefix))
	}
	if opts.LockPrefix != "" {
		lockOpts = append(lockOpts, lock.WithKeyPrefix(opts.LockPrefix))
	}
	if opts.DefaultTTL > 0 {
		cacheOpts = append(cacheOpts, cache.WithDefaultTTL(opts.DefaultTTL))
	}
	if opts.RetryInterval > 0 {
		lockOpts = append(lockOpts, lock.WithRetryInterval(opts.RetryInterval))
	}
	if opts.Registerer != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics(opts.Registerer))
		lockOpts = append(lockOpts, lock.WithCollectors(metrics.NewLockCollectors(opts.Registerer)))
	}
	if opts.Tracing {
		cacheOpts = append(cacheOpts, cache.WithTracing())
		lockOpts = append(lockOpts, lock.WithTracing())
	}
	if opts.Logger != nil {
		cacheOpts = append(cacheOpts, cache.WithLogger(opts.Logger))
		lockOpts = append(lockOpts, lock.WithLogger(opts.Logger))
	}
	return &Warden{
		Store:  store,
		Bus:    bus,
		Cache:  cache.New(store, cacheOpts...),
		Mutex:  lock.NewSimple(store, lockOpts...),
		Queued: lock.NewQueued(store, lockOpts...),
	}
}
