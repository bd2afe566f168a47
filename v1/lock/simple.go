package lock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-warden/v1/adapter"
)

// Simple is a lock manager where contenders race for the key on every
// retry. It gives no ordering guarantee between waiters.
type Simple struct {
	store adapter.Store
	opts  *options
}

// NewSimple returns a Simple lock manager storing locks in store.
func NewSimple(store adapter.Store, opts ...Option) *Simple {
	return &Simple{store: store, opts: newOptions(opts)}
}

// Key returns the store key of the lock name.
func (s *Simple) Key(name string) string {
	return s.opts.prefix + name
}

// Acquire tries to take the lock until ttl elapses. The same ttl bounds how
// long the lock lives once taken.
func (s *Simple) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error) {
	if err := checkTTL(name, ttl); err != nil {
		return nil, false, err
	}
	key := s.Key(name)
	token := uuid.NewString()
	ctx, done := s.opts.observe(ctx, kindSimple, key)

	ok, err := s.opts.poll(ctx, key, time.Now().Add(ttl), func(ctx context.Context) (bool, error) {
		return s.store.SetIfAbsent(ctx, key, token, ttl)
	})
	done(ok, err)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lock{Key: key, Token: token, kind: kindSimple, store: s.store, opts: s.opts}, true, nil
}
