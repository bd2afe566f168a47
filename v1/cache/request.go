package cache

import (
	"context"
	"strings"
	"sync"

	"github.com/mirkobrombin/go-warden/v1/keys"
)

type requestCacheKey struct{}

// requestCache is the in-memory tier owned by one request. The map is
// allocated on first write. A context can be shared by several goroutines,
// so every access goes through mu.
type requestCache struct {
	mu      sync.Mutex
	entries map[string]string
}

// WithRequestCache returns a copy of ctx owning an empty request-scoped
// cache. Contexts derived from the result share that cache; contexts that
// already carry one are returned unchanged.
func WithRequestCache(ctx context.Context) context.Context {
	if _, ok := requestCacheFrom(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, requestCacheKey{}, &requestCache{})
}

func requestCacheFrom(ctx context.Context) (*requestCache, bool) {
	rc, ok := ctx.Value(requestCacheKey{}).(*requestCache)
	return rc, ok
}

func (rc *requestCache) get(key string) (string, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	v, ok := rc.entries[key]
	return v, ok
}

func (rc *requestCache) set(key, value string) {
	rc.mu.Lock()
	if rc.entries == nil {
		rc.entries = make(map[string]string)
	}
	rc.entries[key] = value
	rc.mu.Unlock()
}

// deleteFamily removes the entry stored under key and every entry below it.
func (rc *requestCache) deleteFamily(key string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	below := key + keys.Separator
	n := 0
	for k := range rc.entries {
		if k == key || strings.HasPrefix(k, below) {
			delete(rc.entries, k)
			n++
		}
	}
	return n
}
