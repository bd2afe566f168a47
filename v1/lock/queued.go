package lock

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-warden/v1/adapter"
)

const waitSuffix = ":wait"

// Queued is a lock manager where contenders line up in a store-side list
// and only the head of the list may take the lock.
//
// The wait list expires twice the longest ttl among its waiters after their
// enqueue, so a list left behind by crashed waiters eventually disappears.
// A short waiter never shortens the expiry set by a longer one. A waiter
// that finds the list gone enqueues again.
type Queued struct {
	store adapter.Store
	opts  *options
}

// NewQueued returns a Queued lock manager storing locks in store.
func NewQueued(store adapter.Store, opts ...Option) *Queued {
	return &Queued{store: store, opts: newOptions(opts)}
}

// Key returns the store key of the lock name.
func (q *Queued) Key(name string) string {
	return q.opts.prefix + name
}

// WaitKey returns the store key of the wait list of the lock name.
func (q *Queued) WaitKey(name string) string {
	return q.Key(name) + waitSuffix
}

// Acquire enqueues the caller and waits until it is at the head of the queue
// and the lock is free, or ttl elapses. The caller leaves the queue in every
// outcome.
func (q *Queued) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error) {
	if err := checkTTL(name, ttl); err != nil {
		return nil, false, err
	}
	key := q.Key(name)
	wait := key + waitSuffix
	token := uuid.NewString()
	ctx, done := q.opts.observe(ctx, kindQueued, key)

	if err := q.enqueue(ctx, wait, token, ttl); err != nil {
		q.dequeue(ctx, wait, token)
		done(false, err)
		return nil, false, err
	}

	ok, err := q.opts.poll(ctx, key, time.Now().Add(ttl), func(ctx context.Context) (bool, error) {
		head, found, err := q.store.PeekHead(ctx, wait)
		if err != nil {
			return false, err
		}
		if !found {
			return false, q.enqueue(ctx, wait, token, ttl)
		}
		if head != token {
			return false, nil
		}
		return q.store.SetIfAbsent(ctx, key, token, ttl)
	})

	if derr := q.dequeue(ctx, wait, token); derr != nil && ok {
		// Staying at the head would block every other waiter.
		l := &Lock{Key: key, Token: token, kind: kindQueued, store: q.store, opts: q.opts}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		_, rerr := l.Release(rctx)
		cancel()
		ok, err = false, stdErrors.Join(derr, rerr)
	}
	done(ok, err)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lock{Key: key, Token: token, kind: kindQueued, store: q.store, opts: q.opts}, true, nil
}

func (q *Queued) enqueue(ctx context.Context, wait, token string, ttl time.Duration) error {
	if err := q.store.PushTail(ctx, wait, token); err != nil {
		return err
	}
	return q.store.ExtendExpire(ctx, wait, 2*ttl)
}

// dequeue removes token from the wait list. It runs on a context detached
// from ctx so that a cancelled caller still leaves the queue.
func (q *Queued) dequeue(ctx context.Context, wait, token string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := q.store.RemoveValue(ctx, wait, token); err != nil {
		q.opts.logger.Warn("warden: lock dequeue failed", "key", wait, "error", err)
		return err
	}
	return nil
}
