package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	warperrors "github.com/mirkobrombin/go-warden/v1/errors"
)

const (
	redisBusTimeout      = 5 * time.Second
	defaultChannelPrefix = "warden:"
)

// RedisBus implements Bus over Redis pub/sub, so that waiters on different
// processes sharing one Redis see each other's releases.
type RedisBus struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration

	mu        sync.Mutex
	subs      map[string]map[chan struct{}]context.CancelFunc
	published atomic.Uint64
	delivered atomic.Uint64
}

// RedisBusOption configures a RedisBus.
type RedisBusOption func(*RedisBus)

// WithChannelPrefix sets the prefix of the Redis channels used by the bus.
func WithChannelPrefix(prefix string) RedisBusOption {
	return func(b *RedisBus) {
		b.prefix = prefix
	}
}

// WithBusTimeout bounds publish and subscribe round trips.
func WithBusTimeout(d time.Duration) RedisBusOption {
	return func(b *RedisBus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewRedisBus returns a new RedisBus using the provided Redis client.
func NewRedisBus(client redis.UniversalClient, opts ...RedisBusOption) *RedisBus {
	b := &RedisBus{
		client:  client,
		prefix:  defaultChannelPrefix,
		timeout: redisBusTimeout,
		subs:    make(map[string]map[chan struct{}]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.client.Publish(cctx, b.prefix+key, "").Err(); err != nil {
		return warperrors.Unavailable("publish", err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. It returns once Redis confirmed the
// subscription, so events published afterwards are not missed.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ps := b.client.Subscribe(ctx, b.prefix+key)
	rctx, cancel := context.WithTimeout(ctx, b.timeout)
	_, err := ps.Receive(rctx)
	cancel()
	if err != nil {
		_ = ps.Close()
		return nil, warperrors.Unavailable("subscribe", err)
	}

	sctx, stop := context.WithCancel(ctx)
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[chan struct{}]context.CancelFunc)
	}
	b.subs[key][ch] = stop
	b.mu.Unlock()

	go b.forward(sctx, key, ps, ch)
	return ch, nil
}

func (b *RedisBus) forward(ctx context.Context, key string, ps *redis.PubSub, ch chan struct{}) {
	defer func() {
		_ = ps.Close()
		b.mu.Lock()
		if stop, ok := b.subs[key][ch]; ok {
			stop()
			delete(b.subs[key], ch)
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case ch <- struct{}{}:
				b.delivered.Add(1)
			default:
			}
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe. The channel is closed
// asynchronously.
func (b *RedisBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	stop, ok := b.subs[key][ch]
	b.mu.Unlock()
	if ok {
		stop()
	}
	return nil
}

// Close ends every subscription. The client is left open.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	var stops []context.CancelFunc
	for _, subs := range b.subs {
		for _, stop := range subs {
			stops = append(stops, stop)
		}
	}
	b.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	return nil
}

// Metrics returns the publish and delivery counters.
func (b *RedisBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
