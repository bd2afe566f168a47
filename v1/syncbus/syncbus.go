package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus provides a simple pub/sub mechanism used by warden to tell lock
// waiters that a key was released. Events carry no payload and may be lost;
// subscribers must treat them as hints.
type Bus interface {
	Publish(ctx context.Context, key string) error
	Subscribe(ctx context.Context, key string) (chan struct{}, error)
	Unsubscribe(ctx context.Context, key string, ch chan struct{}) error
}

// Metrics reports how many events a bus published and delivered.
type Metrics struct {
	Published uint64
	Delivered uint64
}

type subscription struct {
	ch   chan struct{}
	stop chan struct{}
}

// InMemoryBus is a Bus local to the process, for tests and standalone use.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]*subscription
	published uint64
	delivered uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]*subscription)}
}

// Publish implements Bus.Publish. Delivery never blocks: a subscriber whose
// buffer is full already has a wakeup pending.
func (b *InMemoryBus) Publish(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[key] {
		select {
		case s.ch <- struct{}{}:
			atomic.AddUint64(&b.delivered, 1)
		default:
		}
	}
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx is done
// or Unsubscribe is called; the channel is closed then.
func (b *InMemoryBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &subscription{ch: make(chan struct{}, 1), stop: make(chan struct{})}
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], s)
	b.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			b.remove(key, s.ch)
		case <-s.stop:
		}
	}()
	return s.ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.remove(key, ch)
	return nil
}

func (b *InMemoryBus) remove(key string, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[key]
	for i, s := range subs {
		if s.ch != ch {
			continue
		}
		subs[i] = subs[len(subs)-1]
		subs = subs[:len(subs)-1]
		close(s.stop)
		close(s.ch)
		break
	}
	if len(subs) == 0 {
		delete(b.subs, key)
	} else {
		b.subs[key] = subs
	}
}

// Metrics returns the publish and delivery counters.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}
