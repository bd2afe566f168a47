package cache

import (
	"context"
	"reflect"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mirkobrombin/go-warden/v1/keys"
)

// DefaultTTL is used by Cached when neither the spec nor WithDefaultTTL
// sets an expiry.
const DefaultTTL = time.Hour

// Args lets a wrapped function receive several positional arguments. When
// the argument of a wrapped function is an Args value, its elements are the
// argument list handed to keys.RelevantParams.
type Args []any

func argList(arg any) []any {
	if a, ok := arg.(Args); ok {
		return a
	}
	return []any{arg}
}

// isNil reports whether v is nil or a nil pointer, map, slice, channel,
// function or interface. Such results are never cached.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}

func scopeOf(ctx context.Context) keys.Scope {
	s, _ := keys.ScopeFromContext(ctx)
	return s
}

// Cached wraps fn with the persistent tier. The scope is read from ctx (see
// keys.WithScope). On a hit fn is not called; on a miss the result of fn is
// stored for spec.TTL, or the manager default when unset. Concurrent misses on the
// same key run fn once.
//
// If fn succeeds but storing its result fails, the result is returned
// together with the store error.
func Cached[A, R any](m *Manager, spec keys.Spec, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	var group singleflight.Group
	ttl := spec.TTL
	if ttl <= 0 {
		ttl = m.ttl
	}
	return func(ctx context.Context, arg A) (R, error) {
		scope := scopeOf(ctx)
		params := keys.RelevantParams(argList(arg), spec.ParamNames)
		if v, ok, err := Get[R](ctx, m, spec, scope, params); err != nil || ok {
			return v, err
		}
		key, err := m.Key(spec, scope, params)
		if err != nil {
			var zero R
			return zero, err
		}
		v, err, _ := group.Do(key, func() (any, error) {
			r, err := fn(ctx, arg)
			if err != nil || isNil(r) {
				return r, err
			}
			return r, m.SetPersistent(ctx, spec, scope, params, r, ttl)
		})
		result, _ := v.(R)
		return result, err
	}
}

// RequestCached wraps fn with the request tier carried by ctx. It never
// touches the store. On a context without a request cache fn runs uncached.
func RequestCached[A, R any](m *Manager, spec keys.Spec, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	return func(ctx context.Context, arg A) (R, error) {
		if _, ok := requestCacheFrom(ctx); !ok {
			return fn(ctx, arg)
		}
		scope := scopeOf(ctx)
		params := keys.RelevantParams(argList(arg), spec.ParamNames)
		if v, ok, err := GetRequest[R](ctx, m, spec, scope, params); err != nil || ok {
			return v, err
		}
		r, err := fn(ctx, arg)
		if err != nil || isNil(r) {
			return r, err
		}
		return r, m.SetRequestScoped(ctx, spec, scope, params, r)
	}
}

// Invalidates wraps fn so that a successful call drops the persistent
// entries named by clear.
func Invalidates[A, R any](m *Manager, clear keys.ClearSpec, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	return func(ctx context.Context, arg A) (R, error) {
		r, err := fn(ctx, arg)
		if err != nil {
			return r, err
		}
		params := keys.RelevantParams(argList(arg), clear.ParamNames)
		return r, m.InvalidatePersistent(ctx, clear, scopeOf(ctx), params)
	}
}

// RequestInvalidates is Invalidates for the request tier.
func RequestInvalidates[A, R any](m *Manager, clear keys.ClearSpec, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	return func(ctx context.Context, arg A) (R, error) {
		r, err := fn(ctx, arg)
		if err != nil {
			return r, err
		}
		params := keys.RelevantParams(argList(arg), clear.ParamNames)
		return r, m.InvalidateRequestScoped(ctx, clear, scopeOf(ctx), params)
	}
}
