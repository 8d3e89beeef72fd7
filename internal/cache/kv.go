package cache

import (
	"errors"
	"time"
)

// KV defines the minimal key-value cache contract with TTL semantics.
// Implementations must be safe for concurrent use by multiple goroutines.
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// ExpiryGetter is implemented by tiers that know when a value stops being
// live. A zero time means the value never expires.
type ExpiryGetter interface {
	GetWithExpiry(key string) ([]byte, time.Time, error)
}

var (
	ErrNotFound = errors.New("cache: not found")
	ErrExpired  = errors.New("cache: expired")
)

// IsMiss reports whether err means the key has no live value.
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired)
}
