package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/kalambet/whatnext/internal/storage"
)

type fakeCatalog struct {
	mu       sync.Mutex
	upserted []storage.Entity
	err      error
}

func (c *fakeCatalog) UpsertEntity(e storage.Entity) (storage.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return storage.Entity{}, c.err
	}
	e.LocalID = int64(len(c.upserted) + 1)
	c.upserted = append(c.upserted, e)
	return e, nil
}

func (c *fakeCatalog) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.upserted))
	for i, e := range c.upserted {
		out[i] = e.Name
	}
	return out
}

type fakeSource struct {
	pages   map[int][]storage.Entity
	details map[string]storage.Entity

	popularErr error
	detailErr  error
}

func (s *fakeSource) Popular(ctx context.Context, page int) ([]storage.Entity, error) {
	if s.popularErr != nil {
		return nil, s.popularErr
	}
	return s.pages[page], nil
}

func (s *fakeSource) Details(ctx context.Context, externalID string) (storage.Entity, error) {
	if s.detailErr != nil {
		return storage.Entity{}, s.detailErr
	}
	if d, ok := s.details[externalID]; ok {
		return d, nil
	}
	return storage.Entity{}, fmt.Errorf("no detail for %s", externalID)
}

type fakeLocationSource struct {
	results []storage.Entity
	err     error

	gotLocation string
}

func (s *fakeLocationSource) SearchByLocation(ctx context.Context, location string) ([]storage.Entity, error) {
	s.gotLocation = location
	return s.results, s.err
}

func TestSyncPopular_ResolvesDetails(t *testing.T) {
	catalog := &fakeCatalog{}
	src := &fakeSource{
		pages: map[int][]storage.Entity{
			1: {{ExternalID: "a", Name: "A stub"}},
			2: {{ExternalID: "b", Name: "B stub"}},
		},
		details: map[string]storage.Entity{
			"a": {ExternalID: "a", Name: "A detailed", Runtime: 120},
			"b": {ExternalID: "b", Name: "B detailed", Runtime: 95},
		},
	}

	n, err := SyncPopular(context.Background(), catalog, src, 2)
	if err != nil {
		t.Fatalf("SyncPopular: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 upserts, got %d", n)
	}
	for _, name := range catalog.names() {
		if name != "A detailed" && name != "B detailed" {
			t.Errorf("stub stored instead of detail: %q", name)
		}
	}
}

// TestSyncPopular_DetailFailureKeepsStub verifies a failed detail fetch
// stores the list stub rather than dropping the item.
func TestSyncPopular_DetailFailureKeepsStub(t *testing.T) {
	catalog := &fakeCatalog{}
	src := &fakeSource{
		pages:     map[int][]storage.Entity{1: {{ExternalID: "a", Name: "A stub"}}},
		detailErr: fmt.Errorf("upstream 500"),
	}

	n, err := SyncPopular(context.Background(), catalog, src, 1)
	if err != nil {
		t.Fatalf("SyncPopular: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 upsert, got %d", n)
	}
	if got := catalog.names(); got[0] != "A stub" {
		t.Errorf("expected stub kept, got %q", got[0])
	}
}

// TestSyncPopular_PageFailureEndsWalk verifies a failed page stops the walk
// but keeps what earlier pages produced.
func TestSyncPopular_PageFailureEndsWalk(t *testing.T) {
	catalog := &fakeCatalog{}
	src := &fakeSource{popularErr: fmt.Errorf("connection refused")}

	n, err := SyncPopular(context.Background(), catalog, src, 3)
	if err != nil {
		t.Fatalf("SyncPopular should not fail on page errors: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 upserts, got %d", n)
	}
}

func TestSyncPopular_StopsOnEmptyPage(t *testing.T) {
	catalog := &fakeCatalog{}
	src := &fakeSource{
		pages: map[int][]storage.Entity{
			1: {{ExternalID: "a", Name: "A"}},
			// page 2 empty; page 3 must never be requested
			3: {{ExternalID: "c", Name: "C"}},
		},
		details: map[string]storage.Entity{"a": {ExternalID: "a", Name: "A"}},
	}

	n, err := SyncPopular(context.Background(), catalog, src, 3)
	if err != nil {
		t.Fatalf("SyncPopular: %v", err)
	}
	if n != 1 {
		t.Errorf("expected walk to stop at empty page, got %d upserts", n)
	}
}

func TestSyncLocation(t *testing.T) {
	catalog := &fakeCatalog{}
	src := &fakeLocationSource{
		results: []storage.Entity{
			{ExternalID: "r1", Name: "R1"},
			{ExternalID: "r2", Name: "R2"},
		},
	}

	n, err := SyncLocation(context.Background(), catalog, src, "Lisbon")
	if err != nil {
		t.Fatalf("SyncLocation: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 upserts, got %d", n)
	}
	if src.gotLocation != "Lisbon" {
		t.Errorf("location not passed through: %q", src.gotLocation)
	}
}

func TestSyncLocation_RequiresLocation(t *testing.T) {
	if _, err := SyncLocation(context.Background(), &fakeCatalog{}, &fakeLocationSource{}, ""); err == nil {
		t.Error("expected error for empty location")
	}
}

func TestWorker_RunOnce(t *testing.T) {
	catalog := &fakeCatalog{}
	movies := &fakeSource{
		pages:   map[int][]storage.Entity{1: {{ExternalID: "m1", Name: "M1"}}},
		details: map[string]storage.Entity{"m1": {ExternalID: "m1", Name: "M1"}},
	}
	shows := &fakeSource{
		pages:   map[int][]storage.Entity{1: {{ExternalID: "t1", Name: "T1"}}},
		details: map[string]storage.Entity{"t1": {ExternalID: "t1", Name: "T1"}},
	}

	w := NewWorker(catalog, map[string]PopularSource{
		"movie": movies,
		"tv":    shows,
	}, 1, 0)
	w.RunOnce(context.Background())

	if got := len(catalog.names()); got != 2 {
		t.Errorf("expected both domains refreshed, got %d upserts", got)
	}
}
