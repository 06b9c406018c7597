// Package bolt is a single-file embedded db.Store on bbolt.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kailas-cloud/fwcache/internal/db"
)

var _ db.Store = (*Store)(nil)

var (
	bucketKV  = []byte("kv")
	bucketTTL = []byte("ttl")
)

// Config holds bbolt settings.
type Config struct {
	Path        string
	OpenTimeout time.Duration
}

// Store keeps values in one bucket and expiry deadlines, as unix nanos, in another.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewStore opens or creates the database file and its buckets.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, &db.Error{Op: db.OpOpen, Err: err}
		}
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	bdb, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, &db.Error{Op: db.OpOpen, Err: fmt.Errorf("open bolt db %s: %w", cfg.Path, err)}
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketKV, bucketTTL} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, &db.Error{Op: db.OpOpen, Err: err}
	}

	return &Store{db: bdb, now: time.Now}, nil
}

// Ping verifies the file is still readable.
func (s *Store) Ping(context.Context) error {
	if err := s.db.View(func(*bbolt.Tx) error { return nil }); err != nil {
		return &db.Error{Op: db.OpPing, Err: err}
	}
	return nil
}

// Close releases the file lock.
func (s *Store) Close() {
	_ = s.db.Close()
}

// Get returns the value at key or db.ErrKeyNotFound. Expired keys are removed.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var (
		out     []byte
		expired bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if s.expiredIn(tx, []byte(key)) {
			expired = true
			return db.ErrKeyNotFound
		}
		v := tx.Bucket(bucketKV).Get([]byte(key))
		if v == nil {
			return db.ErrKeyNotFound
		}
		out = bytes.Clone(v)
		return nil
	})
	if expired {
		_ = s.Del(context.Background(), key)
	}
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, err
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return out, nil
}

// Set stores value and clears any expiry.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketKV).Put([]byte(key), value); err != nil {
			return err
		}
		return tx.Bucket(bucketTTL).Delete([]byte(key))
	})
	if err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// SetWithTTL stores value with an expiry deadline.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketKV).Put([]byte(key), value); err != nil {
			return err
		}
		return tx.Bucket(bucketTTL).Put([]byte(key), encodeDeadline(s.now().Add(ttl)))
	})
	if err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// IncrBy adds val to the decimal integer at key in one transaction.
func (s *Store) IncrBy(_ context.Context, key string, val int64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		k := []byte(key)
		kv := tx.Bucket(bucketKV)
		var cur int64
		if v := kv.Get(k); v != nil && !s.expiredIn(tx, k) {
			n, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return db.ErrNotInteger
			}
			cur = n
		} else if err := tx.Bucket(bucketTTL).Delete(k); err != nil {
			return err
		}
		return kv.Put(k, []byte(strconv.FormatInt(cur+val, 10)))
	})
	if err != nil {
		return &db.Error{Op: db.OpIncrBy, Err: err}
	}
	return nil
}

// Expire sets a TTL on an existing key. With nx the TTL is only set when the key has none.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		k := []byte(key)
		if tx.Bucket(bucketKV).Get(k) == nil {
			return nil
		}
		ttlB := tx.Bucket(bucketTTL)
		if nx && ttlB.Get(k) != nil {
			return nil
		}
		return ttlB.Put(k, encodeDeadline(s.now().Add(ttl)))
	})
	if err != nil {
		return &db.Error{Op: db.OpExpire, Err: err}
	}
	return nil
}

// Del removes a key and its expiry.
func (s *Store) Del(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketKV).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(bucketTTL).Delete([]byte(key))
	})
	if err != nil {
		return &db.Error{Op: db.OpDel, Err: err}
	}
	return nil
}

// Exists reports whether a live key exists.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(bucketKV).Get([]byte(key)) != nil && !s.expiredIn(tx, []byte(key))
		return nil
	})
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return ok, nil
}

// Scan returns live keys matching pattern in byte order.
// The literal prefix of the pattern is used to seek the cursor.
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	prefix := []byte(literalPrefix(pattern))
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketKV).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if s.expiredIn(tx, k) {
				continue
			}
			if key := string(k); db.MatchKey(pattern, key) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: err}
	}
	return keys, nil
}

func (s *Store) expiredIn(tx *bbolt.Tx, key []byte) bool {
	v := tx.Bucket(bucketTTL).Get(key)
	if len(v) != 8 {
		return false
	}
	deadline := time.Unix(0, int64(binary.BigEndian.Uint64(v))) //nolint:gosec // written by encodeDeadline
	return !s.now().Before(deadline)
}

func encodeDeadline(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano())) //nolint:gosec // deadlines are after 1970
	return buf
}

func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[{\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
