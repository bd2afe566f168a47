package adapter

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	warperrors "github.com/mirkobrombin/go-warden/v1/errors"
)

const (
	defaultRedisOpTimeout = 5 * time.Second
	defaultScanCount      = 100
)

var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// extendExpireScript applies ARGV[1] milliseconds unless the key already
// expires later. PTTL is -2 for a missing key and -1 for a key without ttl.
var extendExpireScript = redis.NewScript(`
local cur = redis.call("PTTL", KEYS[1])
if cur == -2 then
    return 0
end
if cur == -1 or cur < tonumber(ARGV[1]) then
    return redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return 0
`)

// RedisStore implements Store using a Redis backend.
type RedisStore struct {
	client    redis.UniversalClient
	timeout   time.Duration
	scanCount int64
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	timeout   time.Duration
	scanCount int64
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		o.timeout = d
	}
}

// WithScanCount sets the COUNT hint used by prefix scans.
func WithScanCount(n int64) RedisOption {
	return func(o *redisStoreOptions) {
		o.scanCount = n
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	o := redisStoreOptions{timeout: defaultRedisOpTimeout, scanCount: defaultScanCount}
	for _, opt := range opts {
		opt(&o)
	}
	if o.scanCount <= 0 {
		o.scanCount = defaultScanCount
	}
	return &RedisStore{client: client, timeout: o.timeout, scanCount: o.scanCount}
}

// call runs fn under the store timeout and maps transport failures to the
// warden error kinds.
func (s *RedisStore) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return mapError(op, err)
	}
	cctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return mapError(op, fn(cctx))
}

func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.Canceled):
		return err
	case stdErrors.Is(err, context.DeadlineExceeded):
		return warperrors.Unavailable(op, warperrors.ErrTimeout)
	case stdErrors.Is(err, redis.ErrClosed):
		return warperrors.Unavailable(op, warperrors.ErrConnectionClosed)
	default:
		return warperrors.Unavailable(op, err)
	}
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		v     string
		found bool
	)
	err := s.call(ctx, "get", func(ctx context.Context) error {
		res, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		v, found = res, true
		return nil
	})
	return v, found, err
}

// Set implements Store.Set.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.call(ctx, "set", func(ctx context.Context) error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.call(ctx, "delete", func(ctx context.Context) error {
		var err error
		n, err = s.client.Del(ctx, key).Result()
		return err
	})
	return n > 0, err
}

// KeysByPrefix implements Store.KeysByPrefix using SCAN to iterate over keys.
func (s *RedisStore) KeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.call(ctx, "scan", func(ctx context.Context) error {
		var cursor uint64
		match := escapeGlob(prefix) + "*"
		for {
			batch, next, err := s.client.Scan(ctx, cursor, match, s.scanCount).Result()
			if err != nil {
				return err
			}
			keys = append(keys, batch...)
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteByPrefix implements Store.DeleteByPrefix. Matching keys are removed
// one SCAN batch at a time.
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var deleted int
	err := s.call(ctx, "delete prefix", func(ctx context.Context) error {
		var cursor uint64
		match := escapeGlob(prefix) + "*"
		for {
			batch, next, err := s.client.Scan(ctx, cursor, match, s.scanCount).Result()
			if err != nil {
				return err
			}
			if len(batch) > 0 {
				n, err := s.client.Del(ctx, batch...).Result()
				if err != nil {
					return err
				}
				deleted += int(n)
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	return deleted, err
}

// PushTail implements Store.PushTail.
func (s *RedisStore) PushTail(ctx context.Context, list, value string) error {
	return s.call(ctx, "rpush", func(ctx context.Context) error {
		return s.client.RPush(ctx, list, value).Err()
	})
}

// PeekHead implements Store.PeekHead.
func (s *RedisStore) PeekHead(ctx context.Context, list string) (string, bool, error) {
	var (
		v     string
		found bool
	)
	err := s.call(ctx, "lindex", func(ctx context.Context) error {
		res, err := s.client.LIndex(ctx, list, 0).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		v, found = res, true
		return nil
	})
	return v, found, err
}

// RemoveValue implements Store.RemoveValue.
func (s *RedisStore) RemoveValue(ctx context.Context, list, value string) error {
	return s.call(ctx, "lrem", func(ctx context.Context) error {
		return s.client.LRem(ctx, list, 0, value).Err()
	})
}

// SetIfAbsent implements Store.SetIfAbsent.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.call(ctx, "setnx", func(ctx context.Context) error {
		var err error
		ok, err = s.client.SetNX(ctx, key, value, ttl).Result()
		return err
	})
	return ok, err
}

// CompareAndDelete implements Store.CompareAndDelete with a Lua script so the
// check and the delete are atomic on the server.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	var n int64
	err := s.call(ctx, "compare and delete", func(ctx context.Context) error {
		var err error
		n, err = compareAndDeleteScript.Run(ctx, s.client, []string{key}, token).Int64()
		if err == redis.Nil {
			return nil
		}
		return err
	})
	return n == 1, err
}

// Expire implements Store.Expire.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.call(ctx, "pexpire", func(ctx context.Context) error {
		return s.client.PExpire(ctx, key, ttl).Err()
	})
}

// ExtendExpire implements Store.ExtendExpire with a Lua script so the
// comparison and the update are atomic on the server.
func (s *RedisStore) ExtendExpire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.call(ctx, "extend expire", func(ctx context.Context) error {
		err := extendExpireScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Err()
		if err == redis.Nil {
			return nil
		}
		return err
	})
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
