package cache

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store is the persistent tier: a bbolt bucket whose values are prefixed
// with their absolute expiry. It is safe for concurrent use.
type Store struct {
	db         *bolt.DB
	bucket     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

type Options struct {
	// Bucket is the name of the Bolt bucket to use.
	Bucket string
	// DefaultTTL is used when Put is called with ttl <= 0.
	DefaultTTL time.Duration
}

const expiryLen = 8

// Open initializes or opens a Store at the given path.
func Open(path string, opts Options) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	bucket := []byte("cache")
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: create bucket %q: %w", bucket, err)
	}
	return &Store{db: db, bucket: bucket, defaultTTL: opts.DefaultTTL, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores value with an absolute expiration computed as now+ttl.
// If ttl <= 0, DefaultTTL is used; if DefaultTTL <= 0, the item never expires.
func (s *Store) Put(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixNano()
	}
	buf := make([]byte, expiryLen+len(value))
	binary.BigEndian.PutUint64(buf[:expiryLen], uint64(expiresAt))
	copy(buf[expiryLen:], value)

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), buf)
	})
}

// Get returns the cached value if present and not expired. Expired values
// stay on disk until the next Sweep.
func (s *Store) Get(key string) ([]byte, error) {
	v, _, err := s.GetWithExpiry(key)
	return v, err
}

// GetWithExpiry is Get plus the value's absolute expiry; zero means never.
func (s *Store) GetWithExpiry(key string) ([]byte, time.Time, error) {
	var (
		out       []byte
		expiresAt time.Time
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		if s.expired(v) {
			return ErrExpired
		}
		if n := int64(binary.BigEndian.Uint64(v[:expiryLen])); n > 0 {
			expiresAt = time.Unix(0, n)
		}
		out = append([]byte(nil), v[expiryLen:]...)
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return out, expiresAt, nil
}

// Delete removes a key.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

// Sweep deletes every expired entry and returns how many were removed.
func (s *Store) Sweep() (removed int, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var stale [][]byte
		// collect first: deleting under a live cursor skips keys
		if err := b.ForEach(func(k, v []byte) error {
			if s.expired(v) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() (n int, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Store) expired(v []byte) bool {
	if len(v) < expiryLen {
		return true
	}
	expiresAt := int64(binary.BigEndian.Uint64(v[:expiryLen]))
	return expiresAt > 0 && s.now().UnixNano() > expiresAt
}
