package prefs

import (
	"sync"
	"testing"
	"time"
)

// --- Mock store ---

type mockStore struct {
	mu   sync.Mutex
	data map[string]Preferences

	getCalls int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]Preferences)}
}

func (m *mockStore) GetPreferences(userID, domain string) (Preferences, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	p, ok := m.data[userID+"/"+domain]
	return p, ok, nil
}

func (m *mockStore) SetPreferences(userID, domain string, p Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[userID+"/"+domain] = p
	return nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGet_UnsavedReturnsZero(t *testing.T) {
	mgr := NewManager(newMockStore())

	p, err := mgr.Get("u1", "movie")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Categories.Constrained() || p.MinRating != 0 || p.Years.Set() {
		t.Errorf("expected zero preferences, got %+v", p)
	}
}

func TestGet_CachesWithinTTL(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Unix(1000, 0)}
	mgr := NewManagerWithClock(store, clock, time.Minute)

	mgr.Get("u1", "movie")
	mgr.Get("u1", "movie")
	mgr.Get("u1", "movie")

	if store.getCalls != 1 {
		t.Errorf("expected 1 store read, got %d", store.getCalls)
	}

	clock.Advance(2 * time.Minute)
	mgr.Get("u1", "movie")
	if store.getCalls != 2 {
		t.Errorf("expected refetch after TTL, got %d reads", store.getCalls)
	}
}

func TestGet_CacheKeyedByUserAndDomain(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Unix(1000, 0)}
	mgr := NewManagerWithClock(store, clock, time.Minute)

	mgr.Get("u1", "movie")
	mgr.Get("u1", "tv")
	mgr.Get("u2", "movie")

	if store.getCalls != 3 {
		t.Errorf("expected distinct cache entries per key, got %d reads", store.getCalls)
	}
}

func TestSet_InvalidatesCache(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Unix(1000, 0)}
	mgr := NewManagerWithClock(store, clock, time.Minute)

	p, _ := mgr.Get("u1", "movie")
	if p.MinRating != 0 {
		t.Fatalf("expected zero preferences, got %+v", p)
	}

	p.MinRating = 7
	p.Categories = Only("Action")
	if err := mgr.Set("u1", "movie", p); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := mgr.Get("u1", "movie")
	if err != nil {
		t.Fatalf("Get after Set: %v", err)
	}
	if got.MinRating != 7 || !got.Categories.Contains("Action") {
		t.Errorf("stale read after Set: %+v", got)
	}
}
