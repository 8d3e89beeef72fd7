package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leonardcser/hotcache/internal/logger"
	"github.com/leonardcser/hotcache/internal/lru"
)

// unboundedHotAge caps hot copies when neither the entry nor the tier sets a limit.
const unboundedHotAge = time.Second

// Tiered keeps recently used values in a bounded LRU in front of another KV.
// Writes go through to the next tier; reads are served from memory while the
// hot copy is younger than its max age and the next tier's expiry.
//
// Read-through only refills memory when the next tier reports expiries
// (see ExpiryGetter); otherwise the hot copy could outlive the source.
type Tiered struct {
	hot    *lru.Cache[hotEntry]
	next   KV
	maxAge time.Duration
	now    func() time.Time

	// fill orders hot writes; writes counts Put/Delete so a read-through
	// that raced with one of them drops its possibly stale value.
	fill   sync.Mutex
	writes uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// hotEntry is a memory-tier copy. A tombstone marks a key deleted through
// this tier; the LRU has no delete, so the slot ages out like any other.
type hotEntry struct {
	value     []byte
	expiresAt time.Time
	tombstone bool
}

// Stats is a point-in-time view of the hot tier.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Len       int    `json:"len"`
	Capacity  int    `json:"capacity"`
}

// NewTiered builds a hot tier of capacity entries over next. Hot copies are
// trusted for at most maxAge; maxAge <= 0 means until the entry's own TTL.
func NewTiered(next KV, capacity int, maxAge time.Duration) (*Tiered, error) {
	t := &Tiered{next: next, maxAge: maxAge, now: time.Now}
	hot, err := lru.NewWithEvict(capacity, func(key string, _ hotEntry) {
		t.evictions.Add(1)
		logger.Debugf("hot tier evicted %q", key)
	})
	if err != nil {
		return nil, fmt.Errorf("cache: hot tier: %w", err)
	}
	t.hot = hot
	return t, nil
}

// Get serves key from memory when possible, otherwise reads through.
func (t *Tiered) Get(key string) ([]byte, error) {
	v, _, err := t.GetWithExpiry(key)
	return v, err
}

// GetWithExpiry is Get plus how long the returned value may be trusted.
// For hot hits that is the hot copy's own deadline, which never exceeds the
// next tier's expiry.
func (t *Tiered) GetWithExpiry(key string) ([]byte, time.Time, error) {
	if e, ok := t.hot.Get(key); ok && !e.tombstone && t.now().Before(e.expiresAt) {
		t.hits.Add(1)
		return cloneBytes(e.value), e.expiresAt, nil
	}
	t.misses.Add(1)

	eg, ok := t.next.(ExpiryGetter)
	if !ok {
		v, err := t.next.Get(key)
		return v, time.Time{}, err
	}

	t.fill.Lock()
	seen := t.writes
	t.fill.Unlock()

	v, deadline, err := eg.GetWithExpiry(key)
	if err != nil {
		return nil, time.Time{}, err
	}

	t.fill.Lock()
	if t.writes == seen {
		t.hot.Put(key, hotEntry{value: cloneBytes(v), expiresAt: t.expiry(deadline)})
	}
	t.fill.Unlock()
	return v, deadline, nil
}

// Put writes through to the next tier, then refreshes the hot copy.
func (t *Tiered) Put(key string, value []byte, ttl time.Duration) error {
	if err := t.next.Put(key, value, ttl); err != nil {
		return err
	}
	var deadline time.Time
	if ttl > 0 {
		deadline = t.now().Add(ttl)
	}
	t.fill.Lock()
	t.writes++
	t.hot.Put(key, hotEntry{value: cloneBytes(value), expiresAt: t.expiry(deadline)})
	t.fill.Unlock()
	return nil
}

// Delete removes key from the next tier and shadows any hot copy.
func (t *Tiered) Delete(key string) error {
	if err := t.next.Delete(key); err != nil {
		return err
	}
	t.fill.Lock()
	t.writes++
	t.hot.Put(key, hotEntry{tombstone: true})
	t.fill.Unlock()
	return nil
}

// Stats returns hit, miss and eviction counts of the hot tier.
func (t *Tiered) Stats() Stats {
	return Stats{
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
		Evictions: t.evictions.Load(),
		Len:       t.hot.Len(),
		Capacity:  t.hot.Cap(),
	}
}

// expiry picks the earlier of the source deadline and now+maxAge. A zero
// deadline means the source never expires the value.
func (t *Tiered) expiry(deadline time.Time) time.Time {
	age := t.maxAge
	if age <= 0 {
		age = unboundedHotAge
		if !deadline.IsZero() {
			return deadline
		}
	}
	hot := t.now().Add(age)
	if !deadline.IsZero() && deadline.Before(hot) {
		return deadline
	}
	return hot
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
