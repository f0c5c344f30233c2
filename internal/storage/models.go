package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Recommendation domains. One catalog, preference record, and interaction
// history exists per user per domain.
const (
	DomainRestaurant = "restaurant"
	DomainMovie      = "movie"
	DomainTV         = "tv"
)

// Domains lists all known domains in display order.
var Domains = []string{DomainRestaurant, DomainMovie, DomainTV}

// ValidDomain reports whether d names a known domain.
func ValidDomain(d string) bool {
	return d == DomainRestaurant || d == DomainMovie || d == DomainTV
}

type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Entity is a catalog record for one recommendable item. The external ID
// comes from the provider and is unique per domain; the local ID is assigned
// on first insert and stable across upserts.
type Entity struct {
	LocalID    int64
	Domain     string
	ExternalID string
	Name       string
	Categories []string // cuisines (restaurant) or genres (movie/tv)
	Tags       []string // dietary labels or streaming providers
	Language   string   // ISO 639-1 code; empty = unknown
	Year       int      // release/first-air year; 0 = unknown
	Runtime    int      // total minutes (movie) or avg episode minutes (tv); 0 = unknown
	Rating     float64  // provider aggregate, native scale (places 0-5, TMDB 0-10)
	Popularity float64
	Address    string // restaurants only
	UpdatedAt  time.Time
}

// Interaction is a like (value 0, restaurants) or a rating (1-5, movies/tv).
// At most one live record exists per (user, domain, entity); repeated writes
// are last-write-wins. Any interaction marks the entity as seen.
type Interaction struct {
	UserID    string
	Domain    string
	EntityID  int64
	Value     int
	UpdatedAt time.Time
}

// Rating is an interaction joined with the entity's external ID, as the
// recommendation engine consumes it.
type Rating struct {
	EntityID   int64
	ExternalID string
	Value      int
}
