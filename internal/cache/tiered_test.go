package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// memKV is a map-backed KV that counts reads.
type memKV struct {
	mu    sync.Mutex
	items map[string][]byte
	gets  int
}

func newMemKV() *memKV { return &memKV{items: map[string][]byte{}} }

func (m *memKV) Get(key string) ([]byte, error) {
	v, _, err := m.GetWithExpiry(key)
	return v, err
}

func (m *memKV) GetWithExpiry(key string) ([]byte, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	v, ok := m.items[key]
	if !ok {
		return nil, time.Time{}, ErrNotFound
	}
	return v, time.Time{}, nil
}

func (m *memKV) reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

// plainKV hides GetWithExpiry, leaving only the KV methods.
type plainKV struct{ KV }

// gatedKV pauses the first read after it has seen the next tier's value.
type gatedKV struct {
	*memKV
	read    chan struct{}
	release chan struct{}
}

func (g *gatedKV) GetWithExpiry(key string) ([]byte, time.Time, error) {
	v, exp, err := g.memKV.GetWithExpiry(key)
	close(g.read)
	<-g.release
	return v, exp, err
}

func (m *memKV) Put(key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *memKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func newTestTiered(t *testing.T, next KV, capacity int, maxAge time.Duration) (*Tiered, *time.Time) {
	t.Helper()
	tc, err := NewTiered(next, capacity, maxAge)
	if err != nil {
		t.Fatalf("new tiered: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	tc.now = func() time.Time { return now }
	return tc, &now
}

func TestNewTiered_InvalidCapacity(t *testing.T) {
	if _, err := NewTiered(newMemKV(), 0, time.Minute); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
}

func TestTiered_ServesHotCopy(t *testing.T) {
	next := newMemKV()
	tc, _ := newTestTiered(t, next, 4, time.Minute)

	if err := tc.Put("a", []byte("A"), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	for i := 0; i < 3; i++ {
		v, err := tc.Get("a")
		if err != nil || string(v) != "A" {
			t.Fatalf("get: %q, %v", v, err)
		}
	}
	if next.gets != 0 {
		t.Fatalf("next tier read %d times", next.gets)
	}
	want := Stats{Hits: 3, Len: 1, Capacity: 4}
	if diff := cmp.Diff(want, tc.Stats()); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
}

func TestTiered_ReadThroughAndRefill(t *testing.T) {
	next := newMemKV()
	next.items["a"] = []byte("A")
	tc, _ := newTestTiered(t, next, 4, time.Minute)

	if v, err := tc.Get("a"); err != nil || string(v) != "A" {
		t.Fatalf("get: %q, %v", v, err)
	}
	if v, err := tc.Get("a"); err != nil || string(v) != "A" {
		t.Fatalf("get: %q, %v", v, err)
	}
	if next.gets != 1 {
		t.Fatalf("expected one read through, got %d", next.gets)
	}
	if _, err := tc.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTiered_MaxAge(t *testing.T) {
	next := newMemKV()
	tc, now := newTestTiered(t, next, 4, time.Minute)

	_ = tc.Put("a", []byte("A"), 0)
	_ = tc.Put("b", []byte("B"), 5*time.Second)

	*now = now.Add(10 * time.Second)
	_, _ = tc.Get("a")
	_, _ = tc.Get("b")
	if next.gets != 1 {
		t.Fatalf("only b should have expired in memory, reads=%d", next.gets)
	}

	*now = now.Add(2 * time.Minute)
	_, _ = tc.Get("a")
	if next.gets != 2 {
		t.Fatalf("a should have aged out, reads=%d", next.gets)
	}
}

func TestTiered_DeleteShadowsHotCopy(t *testing.T) {
	next := newMemKV()
	tc, _ := newTestTiered(t, next, 4, time.Minute)

	_ = tc.Put("a", []byte("A"), 0)
	if err := tc.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := tc.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// a later write through another tier becomes visible again
	next.items["a"] = []byte("A2")
	if v, err := tc.Get("a"); err != nil || string(v) != "A2" {
		t.Fatalf("get after rewrite: %q, %v", v, err)
	}
}

func TestTiered_EvictsLeastRecentlyUsed(t *testing.T) {
	next := newMemKV()
	tc, _ := newTestTiered(t, next, 2, time.Minute)

	_ = tc.Put("a", []byte("A"), 0)
	_ = tc.Put("b", []byte("B"), 0)
	_, _ = tc.Get("a")
	_ = tc.Put("c", []byte("C"), 0)

	if diff := cmp.Diff([]string{"a", "c"}, tc.hot.Keys()); diff != "" {
		t.Fatalf("hot keys (-want +got):\n%s", diff)
	}
	if got := tc.Stats().Evictions; got != 1 {
		t.Fatalf("bad evictions: %d", got)
	}
	// b is still in the next tier
	if v, err := tc.Get("b"); err != nil || string(v) != "B" {
		t.Fatalf("b: %q, %v", v, err)
	}
}

func TestTiered_ReturnsCopies(t *testing.T) {
	tc, _ := newTestTiered(t, newMemKV(), 2, time.Minute)
	_ = tc.Put("a", []byte("A"), 0)
	v, _ := tc.Get("a")
	v[0] = 'Z'
	if v2, _ := tc.Get("a"); string(v2) != "A" {
		t.Fatalf("hot copy mutated: %q", v2)
	}
}

func TestTiered_OverStore(t *testing.T) {
	s := openTestStore(t, Options{})
	tc, err := NewTiered(s, 8, time.Minute)
	if err != nil {
		t.Fatalf("new tiered: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := tc.Put(fmt.Sprint(i), []byte(fmt.Sprint(i)), 0); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if n, _ := s.Len(); n != 20 {
		t.Fatalf("store should hold everything, got %d", n)
	}
	if tc.Stats().Len != 8 {
		t.Fatalf("hot tier should be bounded, got %d", tc.Stats().Len)
	}
	if v, err := tc.Get("0"); err != nil || string(v) != "0" {
		t.Fatalf("read through to store: %q, %v", v, err)
	}
}

func TestTiered_HotCopyHonoursNextTierExpiry(t *testing.T) {
	s := openTestStore(t, Options{})
	tc, err := NewTiered(s, 1, time.Minute)
	if err != nil {
		t.Fatalf("new tiered: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	s.now, tc.now = clock, clock

	if err := tc.Put("a", []byte("A"), 10*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	// push a out of memory so the next read refills it from the store
	_ = tc.Put("b", []byte("B"), 0)

	now = now.Add(9 * time.Second)
	if v, err := tc.Get("a"); err != nil || string(v) != "A" {
		t.Fatalf("a before expiry: %q, %v", v, err)
	}

	now = now.Add(40 * time.Second)
	if _, err := s.Get("a"); !errors.Is(err, ErrExpired) {
		t.Fatalf("store should report expiry, got %v", err)
	}
	if v, err := tc.Get("a"); !errors.Is(err, ErrExpired) {
		t.Fatalf("hot tier served %q past the store expiry (err %v)", v, err)
	}
}

func TestTiered_NoRefillWithoutExpiry(t *testing.T) {
	next := newMemKV()
	next.items["a"] = []byte("A")
	tc, _ := newTestTiered(t, plainKV{next}, 4, time.Minute)

	for i := 0; i < 2; i++ {
		if v, err := tc.Get("a"); err != nil || string(v) != "A" {
			t.Fatalf("get: %q, %v", v, err)
		}
	}
	if next.reads() != 2 {
		t.Fatalf("both reads should reach the next tier, got %d", next.reads())
	}
	if tc.Stats().Len != 0 {
		t.Fatalf("hot tier should stay empty, got %d", tc.Stats().Len)
	}
}

func TestTiered_ReadThroughRacingPut(t *testing.T) {
	next := &gatedKV{memKV: newMemKV(), read: make(chan struct{}), release: make(chan struct{})}
	next.items["a"] = []byte("v1")
	tc, _ := newTestTiered(t, next, 4, time.Minute)

	done := make(chan []byte)
	go func() {
		v, err := tc.Get("a")
		if err != nil {
			t.Errorf("racing get: %v", err)
		}
		done <- v
	}()

	<-next.read
	if err := tc.Put("a", []byte("v2"), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	close(next.release)
	if v := <-done; string(v) != "v1" {
		t.Fatalf("racing get should return what it read, got %q", v)
	}

	v, err := tc.Get("a")
	if err != nil || string(v) != "v2" {
		t.Fatalf("stale refill: got %q, %v want v2", v, err)
	}
	if next.reads() != 1 {
		t.Fatalf("v2 should be served from memory, reads=%d", next.reads())
	}
}
