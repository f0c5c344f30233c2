package prefs

import (
	"fmt"
	"sync"
	"time"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	GetPreferences(userID, domain string) (Preferences, bool, error)
	SetPreferences(userID, domain string, p Preferences) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheKey struct {
	userID string
	domain string
}

type cacheEntry struct {
	prefs    Preferences
	cachedAt time.Time
}

// Manager provides cached access to per-user, per-domain preference records.
// The cache is owned here explicitly and invalidated on write; there is no
// module-level state.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[cacheKey]cacheEntry),
	}
}

// Get returns the stored preferences for (userID, domain), or the zero
// Preferences (no constraints) when none have been saved yet.
func (m *Manager) Get(userID, domain string) (Preferences, error) {
	key := cacheKey{userID: userID, domain: domain}

	m.mu.RLock()
	if e, ok := m.cache[key]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		m.mu.RUnlock()
		return e.prefs, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.cache[key]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return e.prefs, nil
	}

	p, found, err := m.store.GetPreferences(userID, domain)
	if err != nil {
		return Preferences{}, fmt.Errorf("loading preferences: %w", err)
	}
	if !found {
		p = Preferences{}
	}
	m.cache[key] = cacheEntry{prefs: p, cachedAt: m.clock.Now()}
	return p, nil
}

// Set persists the full preference record and invalidates the cache entry.
func (m *Manager) Set(userID, domain string, p Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetPreferences(userID, domain, p); err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	delete(m.cache, cacheKey{userID: userID, domain: domain})
	return nil
}
