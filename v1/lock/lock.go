package lock

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-warden/v1/adapter"
	warperrors "github.com/mirkobrombin/go-warden/v1/errors"
	"github.com/mirkobrombin/go-warden/v1/metrics"
	"github.com/mirkobrombin/go-warden/v1/syncbus"
)

const (
	// DefaultKeyPrefix is prepended to lock names to build store keys.
	DefaultKeyPrefix = "mutex-"
	// DefaultRetryInterval is the polling period of waiting contenders.
	DefaultRetryInterval = 100 * time.Millisecond

	cleanupTimeout = 5 * time.Second

	kindSimple = "simple"
	kindQueued = "queued"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-warden/v1/lock")

// Locker acquires named locks. A timeout is reported as ok == false with a
// nil error; err is reserved for store failures, cancellation and bad input.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error)
}

// Lock is a held lock. It stays valid until released or until its TTL
// expires in the store, whichever comes first.
type Lock struct {
	Key   string
	Token string

	kind  string
	store adapter.Store
	opts  *options
}

// Release deletes the lock if it is still owned by this token. It reports
// false when the lock expired and was possibly taken by someone else; in that
// case nothing is deleted. Releasing a nil or zero Lock is a no-op that
// reports true.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	if l == nil || l.store == nil {
		return true, nil
	}
	owned, err := l.store.CompareAndDelete(ctx, l.Key, l.Token)
	if err != nil {
		l.opts.logger.Warn("warden: lock release failed", "key", l.Key, "error", err)
		return false, err
	}
	if l.opts.metrics != nil {
		l.opts.metrics.Released.WithLabelValues(l.kind, strconv.FormatBool(owned)).Inc()
	}
	if !owned {
		l.opts.logger.Debug("warden: lock no longer owned", "key", l.Key)
		return false, nil
	}
	if l.opts.bus != nil {
		if err := l.opts.bus.Publish(ctx, unlockTopic(l.Key)); err != nil {
			l.opts.logger.Warn("warden: unlock publish failed", "key", l.Key, "error", err)
		}
	}
	return true, nil
}

type options struct {
	retry        time.Duration
	prefix       string
	bus          syncbus.Bus
	logger       *slog.Logger
	metrics      *metrics.LockCollectors
	traceEnabled bool
}

// Option configures a Simple or Queued lock manager.
type Option func(*options)

// WithRetryInterval sets how often a waiting contender retries.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retry = d
		}
	}
}

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithBus makes releases publish an "unlock:<key>" event on bus and lets
// waiters retry as soon as they receive it. Polling still runs, so a lost
// event only costs one retry interval.
func WithBus(bus syncbus.Bus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithLogger sets the logger used to report failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.metrics = metrics.NewLockCollectors(reg)
	}
}

// WithCollectors shares already registered collectors, for instance between
// a Simple and a Queued manager on the same registry.
func WithCollectors(c *metrics.LockCollectors) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithTracing enables OpenTelemetry tracing for lock acquisition.
func WithTracing() Option {
	return func(o *options) {
		o.traceEnabled = true
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		retry:  DefaultRetryInterval,
		prefix: DefaultKeyPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func unlockTopic(key string) string {
	return "unlock:" + key
}

func checkTTL(name string, ttl time.Duration) error {
	if name == "" {
		return warperrors.Misconfigured("lock name is empty")
	}
	if ttl <= 0 {
		return warperrors.Misconfigured("lock %q needs a positive ttl, got %v", name, ttl)
	}
	return nil
}

// observe starts the span and wait measurement of one acquisition.
func (o *options) observe(ctx context.Context, kind, key string) (context.Context, func(acquired bool, err error)) {
	var span trace.Span
	start := time.Now()
	if o.traceEnabled {
		ctx, span = tracer.Start(ctx, "Lock.Acquire", trace.WithAttributes(
			attribute.String("warden.lock.key", key),
			attribute.String("warden.lock.kind", kind),
		))
	}
	return ctx, func(acquired bool, err error) {
		if o.metrics != nil {
			o.metrics.Wait.WithLabelValues(kind).Observe(time.Since(start).Seconds())
			switch {
			case acquired:
				o.metrics.Acquired.WithLabelValues(kind).Inc()
			case err == nil:
				o.metrics.Timeouts.WithLabelValues(kind).Inc()
			}
		}
		if err != nil && !stdErrors.Is(err, context.Canceled) {
			o.logger.Warn("warden: lock acquire failed", "key", key, "error", err)
		}
		if span == nil {
			return
		}
		span.SetAttributes(attribute.Bool("warden.lock.acquired", acquired))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// poll calls try at once and then on every tick until it succeeds, fails,
// the deadline passes or ctx is done. The unlock topic of key is subscribed
// only after the first attempt fails; an unlock event triggers an early
// attempt.
func (o *options) poll(ctx context.Context, key string, deadline time.Time, try func(context.Context) (bool, error)) (bool, error) {
	ok, err := try(ctx)
	if err != nil || ok {
		return ok, err
	}

	var wake chan struct{}
	if o.bus != nil {
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch, err := o.bus.Subscribe(sctx, unlockTopic(key))
		if err != nil {
			o.logger.Warn("warden: unlock subscribe failed", "key", key, "error", err)
		} else {
			wake = ch
			// An unlock published before the subscription would be missed.
			if ok, err := try(ctx); err != nil || ok {
				return ok, err
			}
		}
	}

	ticker := time.NewTicker(o.retry)
	defer ticker.Stop()
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, nil
		case <-ticker.C:
		case _, open := <-wake:
			if !open {
				wake = nil
			}
		}
		ok, err := try(ctx)
		if err != nil || ok {
			return ok, err
		}
	}
}

// RunExclusive runs fn while holding the lock name. The lock is released when
// fn returns or panics. A timeout is reported as ErrLockTimeout; release
// failures are joined to the error of fn.
func RunExclusive(ctx context.Context, locker Locker, name string, ttl time.Duration, fn func(context.Context) error) (err error) {
	l, ok, err := locker.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s after %v", warperrors.ErrLockTimeout, name, ttl)
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		owned, rerr := l.Release(rctx)
		if rerr != nil {
			err = stdErrors.Join(err, rerr)
			return
		}
		if !owned {
			l.opts.logger.Warn("warden: lock expired before release", "key", l.Key, "ttl", ttl)
		}
	}()
	return fn(ctx)
}
