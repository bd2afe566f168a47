package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-warden/v1/adapter"
	warperrors "github.com/mirkobrombin/go-warden/v1/errors"
	"github.com/mirkobrombin/go-warden/v1/keys"
	"github.com/mirkobrombin/go-warden/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-warden/v1/cache")

const (
	tierPersistent = "persistent"
	tierRequest    = "request"
)

// Manager reads and writes tenant-scoped cache entries. The persistent tier
// lives in a Store; the request tier lives in the context, see
// WithRequestCache.
type Manager struct {
	store  adapter.Store
	codec  Codec
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	metrics      *metrics.CacheCollectors
	traceEnabled bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithCodec replaces the default JSONCodec.
func WithCodec(c Codec) Option {
	return func(m *Manager) {
		m.codec = c
	}
}

// WithKeyPrefix replaces keys.DefaultPrefix as the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithDefaultTTL sets the expiry used by Cached when a spec carries no TTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithLogger sets the logger used to report failed operations.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.metrics = metrics.NewCacheCollectors(reg)
	}
}

// WithTracing enables OpenTelemetry tracing for cache operations.
func WithTracing() Option {
	return func(m *Manager) {
		m.traceEnabled = true
	}
}

// New returns a Manager backed by store.
func New(store adapter.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		codec:  JSONCodec{},
		prefix: keys.DefaultPrefix,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Key derives the cache key used for spec, scope and params.
func (m *Manager) Key(spec keys.Spec, scope keys.Scope, params []any) (string, error) {
	return keys.DeriveWithPrefix(m.prefix, spec, scope, params)
}

// Codec returns the codec used by m.
func (m *Manager) Codec() Codec {
	return m.codec
}

// observe starts the span and latency measurement for op. The returned
// function must be called with the final error.
func (m *Manager) observe(ctx context.Context, op, key string) (context.Context, func(result string, err error)) {
	var span trace.Span
	start := time.Now()
	if m.traceEnabled {
		ctx, span = tracer.Start(ctx, "Cache."+op, trace.WithAttributes(attribute.String("warden.cache.key", key)))
	}
	return ctx, func(result string, err error) {
		if m.metrics != nil {
			m.metrics.Latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
			if err != nil {
				m.metrics.Errors.WithLabelValues(op).Inc()
			}
		}
		if span == nil {
			return
		}
		if result != "" {
			span.SetAttributes(attribute.String("warden.cache.result", result))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (m *Manager) count(counter, tier string, n int) {
	if m.metrics == nil || n == 0 {
		return
	}
	var vec *prometheus.CounterVec
	switch counter {
	case "hit":
		vec = m.metrics.Hits
	case "miss":
		vec = m.metrics.Misses
	case "set":
		vec = m.metrics.Sets
	default:
		vec = m.metrics.Invalidations
	}
	vec.WithLabelValues(tier).Add(float64(n))
}

// GetPersistent reads the entry for spec from the store. A missing entry is
// reported as found == false; store failures are returned as errors and never
// turned into misses.
func (m *Manager) GetPersistent(ctx context.Context, spec keys.Spec, scope keys.Scope, params []any) (any, bool, error) {
	raw, ok, err := m.getRaw(ctx, spec, scope, params)
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := m.codec.Decode(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (m *Manager) getRaw(ctx context.Context, spec keys.Spec, scope keys.Scope, params []any) (string, bool, error) {
	key, err := m.Key(spec, scope, params)
	if err != nil {
		return "", false, err
	}
	ctx, done := m.observe(ctx, "Get", key)
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		done("", err)
		m.logger.Warn("warden: cache get failed", "key", key, "error", err)
		return "", false, err
	}
	if !ok {
		m.count("miss", tierPersistent, 1)
		done("miss", nil)
		return "", false, nil
	}
	m.count("hit", tierPersistent, 1)
	done("hit", nil)
	return raw, true, nil
}

// SetPersistent encodes value and writes it to the store. A positive ttl
// wins over spec.TTL; when both are zero the entry never expires.
func (m *Manager) SetPersistent(ctx context.Context, spec keys.Spec, scope keys.Scope, params []any, value any, ttl time.Duration) error {
	key, err := m.Key(spec, scope, params)
	if err != nil {
		return err
	}
	raw, err := m.codec.Encode(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = spec.TTL
	}
	ctx, done := m.observe(ctx, "Set", key)
	if err := m.store.Set(ctx, key, raw, ttl); err != nil {
		done("", err)
		m.logger.Warn("warden: cache set failed", "key", key, "error", err)
		return err
	}
	m.count("set", tierPersistent, 1)
	done("", nil)
	return nil
}

// InvalidatePersistent deletes, for every key named by clear, the entry
// stored under the derived key and every entry below it, that is every key
// starting with the derived key followed by ":". Without params this drops
// every parameterized entry of the logical key but leaves sibling keys that
// merely share its text, such as "users" next to "user", alone.
func (m *Manager) InvalidatePersistent(ctx context.Context, clear keys.ClearSpec, scope keys.Scope, params []any) error {
	specs, err := clear.Specs()
	if err != nil {
		return err
	}
	for _, spec := range specs {
		key, err := m.Key(spec, scope, params)
		if err != nil {
			return err
		}
		sctx, done := m.observe(ctx, "Invalidate", key)
		n, err := m.invalidateFamily(sctx, key)
		if err != nil {
			done("", err)
			m.logger.Warn("warden: cache invalidate failed", "key", key, "error", err)
			return err
		}
		m.count("invalidate", tierPersistent, n)
		done("", nil)
		m.logger.Debug("warden: cache invalidated", "key", key, "deleted", n)
	}
	return nil
}

func (m *Manager) invalidateFamily(ctx context.Context, key string) (int, error) {
	existed, err := m.store.Delete(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := m.store.DeleteByPrefix(ctx, key+keys.Separator)
	if existed {
		n++
	}
	return n, err
}

// GetRequestScoped looks the entry up in the request cache carried by ctx.
// A context without a request cache always misses.
func (m *Manager) GetRequestScoped(ctx context.Context, spec keys.Spec, scope keys.Scope, params []any) (any, bool, error) {
	raw, ok, err := m.getRequestRaw(ctx, spec, scope, params)
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := m.codec.Decode(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (m *Manager) getRequestRaw(ctx context.Context, spec keys.Spec, scope keys.Scope, params []any) (string, bool, error) {
	key, err := m.Key(spec, scope, params)
	if err != nil {
		return "", false, err
	}
	rc, ok := requestCacheFrom(ctx)
	if !ok {
		m.count("miss", tierRequest, 1)
		return "", false, nil
	}
	raw, ok := rc.get(key)
	if !ok {
		m.count("miss", tierRequest, 1)
		return "", false, nil
	}
	m.count("hit", tierRequest, 1)
	return raw, true, nil
}

// SetRequestScoped stores the encoded value in the request cache carried by
// ctx. It fails if ctx was not prepared with WithRequestCache.
func (m *Manager) SetRequestScoped(ctx context.Context, spec keys.Spec, scope keys.Scope, params []any, value any) error {
	key, err := m.Key(spec, scope, params)
	if err != nil {
		return err
	}
	rc, ok := requestCacheFrom(ctx)
	if !ok {
		return warperrors.Misconfigured("context for key %q carries no request cache", spec.Key)
	}
	raw, err := m.codec.Encode(value)
	if err != nil {
		return err
	}
	rc.set(key, raw)
	m.count("set", tierRequest, 1)
	return nil
}

// InvalidateRequestScoped removes matching entries from the request cache
// carried by ctx. The store is never touched.
func (m *Manager) InvalidateRequestScoped(ctx context.Context, clear keys.ClearSpec, scope keys.Scope, params []any) error {
	specs, err := clear.Specs()
	if err != nil {
		return err
	}
	rc, ok := requestCacheFrom(ctx)
	for _, spec := range specs {
		key, err := m.Key(spec, scope, params)
		if err != nil {
			return err
		}
		if ok {
			m.count("invalidate", tierRequest, rc.deleteFamily(key))
		}
	}
	return nil
}

// Get reads a persistent entry and decodes it into T.
func Get[T any](ctx context.Context, m *Manager, spec keys.Spec, scope keys.Scope, params []any) (T, bool, error) {
	var zero T
	raw, ok, err := m.getRaw(ctx, spec, scope, params)
	if err != nil || !ok {
		return zero, false, err
	}
	var v T
	if err := m.codec.DecodeInto(raw, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// GetRequest reads a request-scoped entry and decodes it into T.
func GetRequest[T any](ctx context.Context, m *Manager, spec keys.Spec, scope keys.Scope, params []any) (T, bool, error) {
	var zero T
	raw, ok, err := m.getRequestRaw(ctx, spec, scope, params)
	if err != nil || !ok {
		return zero, false, err
	}
	var v T
	if err := m.codec.DecodeInto(raw, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}
