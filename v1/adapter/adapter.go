package adapter

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the key-value store contract used by the cache and lock
// managers. Values are plain strings; callers own serialization.
//
// A zero ttl means no expiry. Missing keys are reported through the boolean
// return, never as an error.
type Store interface {
	// Get retrieves the value stored under key.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key and reports whether it existed. Deleting a missing
	// key is not an error.
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteByPrefix removes every key starting with prefix and returns how
	// many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	// KeysByPrefix lists every key starting with prefix.
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)

	// PushTail appends value to the list stored under list.
	PushTail(ctx context.Context, list, value string) error
	// PeekHead returns the first element of list without removing it.
	PeekHead(ctx context.Context, list string) (string, bool, error)
	// RemoveValue removes every occurrence of value from list.
	RemoveValue(ctx context.Context, list, value string) error

	// SetIfAbsent stores value under key only if key does not exist. The
	// ttl, when positive, is applied by the same atomic operation.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if it currently holds token.
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
	// Expire sets a ttl on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// ExtendExpire sets a ttl on an existing key unless the key already
	// expires later. A key without expiry gets the ttl.
	ExtendExpire(ctx context.Context, key string, ttl time.Duration) error
}

// InMemoryStore is a Store backed by process memory. It is useful for tests
// and single-node deployments; nothing is shared across processes.
type InMemoryStore struct {
	mu      sync.Mutex
	items   map[string]string
	lists   map[string][]string
	expires map[string]time.Time
	now     func() time.Time
}

// NewInMemoryStore returns a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items:   make(map[string]string),
		lists:   make(map[string][]string),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// expireLocked drops key if its ttl elapsed. Callers must hold s.mu.
func (s *InMemoryStore) expireLocked(key string) {
	exp, ok := s.expires[key]
	if !ok || s.now().Before(exp) {
		return
	}
	delete(s.items, key)
	delete(s.lists, key)
	delete(s.expires, key)
}

func (s *InMemoryStore) setTTLLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
	} else {
		delete(s.expires, key)
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	v, ok := s.items[key]
	return v, ok, nil
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, key)
	s.items[key] = value
	s.setTTLLocked(key, ttl)
	return nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	_, isItem := s.items[key]
	_, isList := s.lists[key]
	delete(s.items, key)
	delete(s.lists, key)
	delete(s.expires, key)
	return isItem || isList, nil
}

// DeleteByPrefix implements Store.DeleteByPrefix.
func (s *InMemoryStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.KeysByPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	for _, k := range keys {
		delete(s.items, k)
		delete(s.lists, k)
		delete(s.expires, k)
	}
	s.mu.Unlock()
	return len(keys), nil
}

// KeysByPrefix implements Store.KeysByPrefix. Keys are returned sorted.
func (s *InMemoryStore) KeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	collect := func(k string) {
		s.expireLocked(k)
		if _, ok := s.items[k]; ok && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
			return
		}
		if _, ok := s.lists[k]; ok && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range s.items {
		collect(k)
	}
	for k := range s.lists {
		collect(k)
	}
	sort.Strings(keys)
	return keys, nil
}

// PushTail implements Store.PushTail.
func (s *InMemoryStore) PushTail(ctx context.Context, list, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(list)
	delete(s.items, list)
	s.lists[list] = append(s.lists[list], value)
	return nil
}

// PeekHead implements Store.PeekHead.
func (s *InMemoryStore) PeekHead(ctx context.Context, list string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(list)
	l := s.lists[list]
	if len(l) == 0 {
		return "", false, nil
	}
	return l[0], true, nil
}

// RemoveValue implements Store.RemoveValue.
func (s *InMemoryStore) RemoveValue(ctx context.Context, list, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[list]
	kept := l[:0]
	for _, v := range l {
		if v != value {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(s.lists, list)
		delete(s.expires, list)
		return nil
	}
	s.lists[list] = kept
	return nil
}

// SetIfAbsent implements Store.SetIfAbsent.
func (s *InMemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	if _, ok := s.items[key]; ok {
		return false, nil
	}
	if _, ok := s.lists[key]; ok {
		return false, nil
	}
	s.items[key] = value
	s.setTTLLocked(key, ttl)
	return true, nil
}

// CompareAndDelete implements Store.CompareAndDelete.
func (s *InMemoryStore) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	if v, ok := s.items[key]; !ok || v != token {
		return false, nil
	}
	delete(s.items, key)
	delete(s.expires, key)
	return true, nil
}

// Expire implements Store.Expire. Expiring a missing key is a no-op.
func (s *InMemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	_, isItem := s.items[key]
	_, isList := s.lists[key]
	if !isItem && !isList {
		return nil
	}
	if ttl <= 0 {
		delete(s.items, key)
		delete(s.lists, key)
		delete(s.expires, key)
		return nil
	}
	s.setTTLLocked(key, ttl)
	return nil
}

// ExtendExpire implements Store.ExtendExpire.
func (s *InMemoryStore) ExtendExpire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	_, isItem := s.items[key]
	_, isList := s.lists[key]
	if !isItem && !isList {
		return nil
	}
	if cur, ok := s.expires[key]; ok && !cur.Before(s.now().Add(ttl)) {
		return nil
	}
	s.setTTLLocked(key, ttl)
	return nil
}
