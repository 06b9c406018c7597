// Package memory is an in-process db.Store. It keeps nothing across restarts and
// backs the knowledge base when no persistent driver is configured.
package memory

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/kailas-cloud/fwcache/internal/db"
)

var _ db.Store = (*Store)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is a map guarded by a RWMutex with lazy per-key expiry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]entry), now: time.Now}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close drops all data.
func (s *Store) Close() {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.mu.Unlock()
}

// Get returns a copy of the value or db.ErrKeyNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, db.ErrKeyNotFound
	}
	if e.expired(s.now()) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur.expired(s.now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, db.ErrKeyNotFound
	}
	return slices.Clone(e.value), nil
}

// Set stores a copy of value and clears any expiry.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.entries[key] = entry{value: slices.Clone(value)}
	s.mu.Unlock()
	return nil
}

// SetWithTTL stores a copy of value that expires after ttl.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = entry{value: slices.Clone(value), expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// IncrBy adds val to the decimal integer stored at key, creating it at zero.
func (s *Store) IncrBy(_ context.Context, key string, val int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && e.expired(s.now()) {
		e, ok = entry{}, false
	}
	var cur int64
	if ok {
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return &db.Error{Op: db.OpIncrBy, Err: db.ErrNotInteger}
		}
		cur = n
	}
	e.value = []byte(strconv.FormatInt(cur+val, 10))
	s.entries[key] = e
	return nil
}

// Expire sets a TTL on an existing key. With nx the TTL is only set when the key has none.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return nil
	}
	if nx && !e.expiresAt.IsZero() {
		return nil
	}
	e.expiresAt = s.now().Add(ttl)
	s.entries[key] = e
	return nil
}

// Del removes a key.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Exists reports whether a live key exists.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	return ok && !e.expired(s.now()), nil
}

// Scan returns live keys matching pattern in lexical order.
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	now := s.now()
	s.mu.RLock()
	var keys []string
	for k, e := range s.entries {
		if !e.expired(now) && db.MatchKey(pattern, k) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	slices.Sort(keys)
	return keys, nil
}
