package storage

import (
	"errors"
	"testing"

	"github.com/kalambet/whatnext/internal/prefs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database directory and
// verifies the migration is not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	var count int
	if err := s2.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		t.Fatalf("querying schema_version: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 applied migration, got %d", count)
	}
}

func TestCreateAndGetUser(t *testing.T) {
	s := openTestStore(t)

	u, err := s.CreateUser("alice")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" {
		t.Error("expected generated user ID")
	}

	got, err := s.GetUserByName("alice")
	if err != nil {
		t.Fatalf("GetUserByName: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("expected ID %s, got %s", u.ID, got.ID)
	}

	if _, err := s.GetUserByName("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestCreateUser_DuplicateName(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateUser("alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser("alice"); err == nil {
		t.Error("expected error for duplicate user name")
	}
}

// TestUpsertEntity_StableLocalID re-upserts the same (domain, external_id)
// pair and verifies the attributes refresh while the local ID stays put.
func TestUpsertEntity_StableLocalID(t *testing.T) {
	s := openTestStore(t)

	first, err := s.UpsertEntity(Entity{
		Domain:     DomainMovie,
		ExternalID: "603",
		Name:       "The Matrix",
		Rating:     8.2,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.LocalID == 0 {
		t.Fatal("expected assigned local ID")
	}

	second, err := s.UpsertEntity(Entity{
		Domain:     DomainMovie,
		ExternalID: "603",
		Name:       "The Matrix",
		Rating:     8.3,
		Popularity: 99,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.LocalID != first.LocalID {
		t.Errorf("local ID changed on upsert: %d -> %d", first.LocalID, second.LocalID)
	}
	if second.Rating != 8.3 {
		t.Errorf("expected refreshed rating 8.3, got %v", second.Rating)
	}

	n, err := s.CountEntities(DomainMovie)
	if err != nil {
		t.Fatalf("CountEntities: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 entity after double upsert, got %d", n)
	}
}

// TestUpsertEntity_DomainsIsolated verifies the same external ID can exist
// in two domains without colliding.
func TestUpsertEntity_DomainsIsolated(t *testing.T) {
	s := openTestStore(t)

	movie, err := s.UpsertEntity(Entity{Domain: DomainMovie, ExternalID: "42", Name: "Movie 42"})
	if err != nil {
		t.Fatalf("movie upsert: %v", err)
	}
	show, err := s.UpsertEntity(Entity{Domain: DomainTV, ExternalID: "42", Name: "Show 42"})
	if err != nil {
		t.Fatalf("tv upsert: %v", err)
	}
	if movie.LocalID == show.LocalID {
		t.Error("expected distinct local IDs across domains")
	}
}

func TestListEntities_PopularityOrder(t *testing.T) {
	s := openTestStore(t)

	for _, e := range []Entity{
		{Domain: DomainMovie, ExternalID: "a", Name: "A", Popularity: 1},
		{Domain: DomainMovie, ExternalID: "b", Name: "B", Popularity: 10},
		{Domain: DomainMovie, ExternalID: "c", Name: "C", Popularity: 5},
	} {
		if _, err := s.UpsertEntity(e); err != nil {
			t.Fatalf("upsert %s: %v", e.ExternalID, err)
		}
	}

	entities, err := s.ListEntities(DomainMovie)
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(entities))
	}
	if entities[0].ExternalID != "b" || entities[1].ExternalID != "c" || entities[2].ExternalID != "a" {
		t.Errorf("wrong order: %s, %s, %s", entities[0].ExternalID, entities[1].ExternalID, entities[2].ExternalID)
	}
}

func TestEntityListsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	e, err := s.UpsertEntity(Entity{
		Domain:     DomainRestaurant,
		ExternalID: "r1",
		Name:       "Green Garden",
		Categories: []string{"Vegan", "Mediterranean"},
		Tags:       []string{"vegan", "gluten-free"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetEntity(e.LocalID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if len(got.Categories) != 2 || got.Categories[0] != "Vegan" {
		t.Errorf("categories did not round-trip: %v", got.Categories)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "gluten-free" {
		t.Errorf("tags did not round-trip: %v", got.Tags)
	}
}

// TestPreferences_UnsetVsEmpty verifies the unset/constrained distinction
// survives storage: a never-saved record reads back as not found, and an
// unconstrained field saved as NULL reads back unconstrained.
func TestPreferences_UnsetVsEmpty(t *testing.T) {
	s := openTestStore(t)
	u, _ := s.CreateUser("alice")

	_, found, err := s.GetPreferences(u.ID, DomainMovie)
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if found {
		t.Error("expected found=false for never-saved preferences")
	}

	p := prefs.Preferences{
		Categories: prefs.Only("Action", "Thriller"),
		MinRating:  7,
	}
	if err := s.SetPreferences(u.ID, DomainMovie, p); err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}

	got, found, err := s.GetPreferences(u.ID, DomainMovie)
	if err != nil {
		t.Fatalf("GetPreferences after save: %v", err)
	}
	if !found {
		t.Fatal("expected found=true after save")
	}
	if !got.Categories.Constrained() || len(got.Categories.Values()) != 2 {
		t.Errorf("categories did not round-trip: %v", got.Categories.Values())
	}
	if got.Languages.Constrained() {
		t.Error("expected languages to stay unconstrained")
	}
	if got.MinRating != 7 {
		t.Errorf("expected min rating 7, got %v", got.MinRating)
	}
	if got.Years.Set() {
		t.Error("expected year bounds to stay unset")
	}
}

func TestPreferences_ReplaceOnSet(t *testing.T) {
	s := openTestStore(t)
	u, _ := s.CreateUser("alice")

	if err := s.SetPreferences(u.ID, DomainTV, prefs.Preferences{
		Languages: prefs.Only("en"),
		Runtime:   prefs.Between(20, 60),
	}); err != nil {
		t.Fatalf("first SetPreferences: %v", err)
	}

	// Clearing languages stores NULL again.
	if err := s.SetPreferences(u.ID, DomainTV, prefs.Preferences{
		Runtime: prefs.Between(20, 60),
	}); err != nil {
		t.Fatalf("second SetPreferences: %v", err)
	}

	got, _, err := s.GetPreferences(u.ID, DomainTV)
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if got.Languages.Constrained() {
		t.Errorf("expected languages cleared, got %v", got.Languages.Values())
	}
	if got.Runtime.Min() != 20 || got.Runtime.Max() != 60 {
		t.Errorf("runtime bounds did not survive: %d-%d", got.Runtime.Min(), got.Runtime.Max())
	}
}

// TestInteractions_LastWriteWins re-records a rating for the same entity and
// verifies only the latest value remains.
func TestInteractions_LastWriteWins(t *testing.T) {
	s := openTestStore(t)
	u, _ := s.CreateUser("alice")
	e, _ := s.UpsertEntity(Entity{Domain: DomainMovie, ExternalID: "m1", Name: "M1"})

	if err := s.RecordInteraction(u.ID, DomainMovie, e.LocalID, 3); err != nil {
		t.Fatalf("first RecordInteraction: %v", err)
	}
	if err := s.RecordInteraction(u.ID, DomainMovie, e.LocalID, 5); err != nil {
		t.Fatalf("second RecordInteraction: %v", err)
	}

	ids, err := s.ListInteractionEntityIDs(u.ID, DomainMovie)
	if err != nil {
		t.Fatalf("ListInteractionEntityIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 interaction, got %d", len(ids))
	}

	ratings, err := s.ListRatings(u.ID, DomainMovie)
	if err != nil {
		t.Fatalf("ListRatings: %v", err)
	}
	if len(ratings) != 1 || ratings[0].Value != 5 {
		t.Errorf("expected single rating of 5, got %+v", ratings)
	}
}

// TestListRatings_ExcludesDismissals verifies dismissed items (-1) show up in
// the seen set but not in the ratings list.
func TestListRatings_ExcludesDismissals(t *testing.T) {
	s := openTestStore(t)
	u, _ := s.CreateUser("alice")
	rated, _ := s.UpsertEntity(Entity{Domain: DomainTV, ExternalID: "t1", Name: "T1"})
	dismissed, _ := s.UpsertEntity(Entity{Domain: DomainTV, ExternalID: "t2", Name: "T2"})

	s.RecordInteraction(u.ID, DomainTV, rated.LocalID, 4)
	s.RecordInteraction(u.ID, DomainTV, dismissed.LocalID, -1)

	ids, err := s.ListInteractionEntityIDs(u.ID, DomainTV)
	if err != nil {
		t.Fatalf("ListInteractionEntityIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected both interactions in seen set, got %d", len(ids))
	}

	ratings, err := s.ListRatings(u.ID, DomainTV)
	if err != nil {
		t.Fatalf("ListRatings: %v", err)
	}
	if len(ratings) != 1 || ratings[0].EntityID != rated.LocalID {
		t.Errorf("expected only the rated entity, got %+v", ratings)
	}
}

func TestListRatings_BestFirst(t *testing.T) {
	s := openTestStore(t)
	u, _ := s.CreateUser("alice")
	a, _ := s.UpsertEntity(Entity{Domain: DomainMovie, ExternalID: "a", Name: "A"})
	b, _ := s.UpsertEntity(Entity{Domain: DomainMovie, ExternalID: "b", Name: "B"})

	s.RecordInteraction(u.ID, DomainMovie, a.LocalID, 3)
	s.RecordInteraction(u.ID, DomainMovie, b.LocalID, 5)

	ratings, err := s.ListRatings(u.ID, DomainMovie)
	if err != nil {
		t.Fatalf("ListRatings: %v", err)
	}
	if len(ratings) != 2 || ratings[0].EntityID != b.LocalID {
		t.Errorf("expected best rating first, got %+v", ratings)
	}
}

func TestPurgeAll(t *testing.T) {
	s := openTestStore(t)
	u, _ := s.CreateUser("alice")
	e, _ := s.UpsertEntity(Entity{Domain: DomainMovie, ExternalID: "m1", Name: "M1"})
	s.SetPreferences(u.ID, DomainMovie, prefs.Preferences{MinRating: 6})
	s.RecordInteraction(u.ID, DomainMovie, e.LocalID, 5)

	if err := s.PurgeAll(); err != nil {
		t.Fatalf("PurgeAll: %v", err)
	}

	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expected no users after purge, got %d", len(users))
	}
	n, _ := s.CountEntities(DomainMovie)
	if n != 0 {
		t.Errorf("expected empty catalog after purge, got %d", n)
	}
}

func TestValidDomain(t *testing.T) {
	for _, domain := range Domains {
		if !ValidDomain(domain) {
			t.Errorf("expected %q to be valid", domain)
		}
	}
	if ValidDomain("podcast") {
		t.Error("expected unknown domain to be invalid")
	}
}
