package recommend

import (
	"testing"

	"github.com/kalambet/whatnext/internal/prefs"
	"github.com/kalambet/whatnext/internal/storage"
)

func noJitter() float64 { return 0 }

// TestScore_RestaurantRanking plays out the canonical restaurant case: one
// full match, one dietary-only match, one dietary miss.
func TestScore_RestaurantRanking(t *testing.T) {
	p := prefs.Preferences{
		Categories:   prefs.Only("Italian"),
		Requirements: prefs.Only("vegetarian"),
		MinRating:    4.0,
	}
	r := RestaurantRules()

	a := storage.Entity{Name: "A", Categories: []string{"Italian"}, Tags: []string{"vegetarian", "vegan"}, Rating: 4.5}
	b := storage.Entity{Name: "B", Categories: []string{"Mexican"}, Tags: []string{"vegetarian"}, Rating: 4.8}
	c := storage.Entity{Name: "C", Categories: []string{"Italian"}, Rating: 4.2}

	scoreA := Score(a, p, r)
	scoreB := Score(b, p, r)
	scoreC := Score(c, p, r)

	if scoreC != 0 {
		t.Errorf("C fails the dietary hard filter, expected 0, got %v", scoreC)
	}
	if scoreA <= 0 || scoreB <= 0 {
		t.Fatalf("A and B must both pass: a=%v b=%v", scoreA, scoreB)
	}
	if scoreA <= scoreB {
		t.Errorf("cuisine match must outrank rating edge: a=%v b=%v", scoreA, scoreB)
	}

	ranked := rank([]storage.Entity{b, c, a}, p, r, noJitter)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(ranked))
	}
	if ranked[0].Entity.Name != "A" || ranked[1].Entity.Name != "B" {
		t.Errorf("wrong order: %s, %s", ranked[0].Entity.Name, ranked[1].Entity.Name)
	}
}

// TestScore_NoPreferences verifies that with nothing stated every candidate
// scores positive and ordering follows the rating-derived bonus.
func TestScore_NoPreferences(t *testing.T) {
	p := prefs.Preferences{MinRating: 1.0}
	r := RestaurantRules()

	low := storage.Entity{Name: "low", Rating: 2.0}
	high := storage.Entity{Name: "high", Rating: 4.9}

	if s := Score(low, p, r); s <= 0 {
		t.Errorf("expected positive score for low, got %v", s)
	}
	ranked := rank([]storage.Entity{low, high}, p, r, noJitter)
	if len(ranked) != 2 || ranked[0].Entity.Name != "high" {
		t.Errorf("expected rating bonus to order results: %+v", ranked)
	}
}

func TestScore_AnyCategoryBonus(t *testing.T) {
	p := prefs.Preferences{}
	e := storage.Entity{Name: "plain", Categories: []string{"Documentary"}}

	got := Score(e, p, MovieRules())
	if got != AnyCategoryBonus {
		t.Errorf("expected flat any-category bonus %v, got %v", AnyCategoryBonus, got)
	}
}

// TestScore_ZeroOverlapIsNotRejected covers the soft-signal rule: a stated
// category preference with no overlap zeroes the category axis but does not
// reject by itself.
func TestScore_ZeroOverlapIsNotRejected(t *testing.T) {
	p := prefs.Preferences{
		Categories:   prefs.Only("Horror"),
		Requirements: prefs.Only("vegan"),
	}
	e := storage.Entity{Name: "x", Categories: []string{"Comedy"}, Tags: []string{"vegan options"}}

	got := Score(e, p, RestaurantRules())
	// Categories contribute nothing, requirements still credit.
	if got != RequirementWeight {
		t.Errorf("expected requirement weight only (%v), got %v", RequirementWeight, got)
	}
}

func TestScore_CategoryOverlapAccumulates(t *testing.T) {
	p := prefs.Preferences{Categories: prefs.Only("Action", "Thriller", "Sci-Fi")}
	e := storage.Entity{Categories: []string{"Action", "Sci-Fi", "Drama"}}

	got := Score(e, p, MovieRules())
	if got != 2*CategoryWeight {
		t.Errorf("expected %v for two overlaps, got %v", 2*CategoryWeight, got)
	}
}

func TestScore_RequirementSubstringMatch(t *testing.T) {
	p := prefs.Preferences{Requirements: prefs.Only("vegetarian")}

	ok := storage.Entity{Tags: []string{"Vegetarian Options", "patio"}}
	if got := Score(ok, p, RestaurantRules()); got <= 0 {
		t.Errorf("substring tag match should pass, got %v", got)
	}

	miss := storage.Entity{Tags: []string{"steakhouse"}}
	if got := Score(miss, p, RestaurantRules()); got != 0 {
		t.Errorf("unmet requirement must reject, got %v", got)
	}

	// Missing attribute on a constrained axis fails it.
	bare := storage.Entity{}
	if got := Score(bare, p, RestaurantRules()); got != 0 {
		t.Errorf("no tags at all must reject, got %v", got)
	}
}

func TestScore_LanguageExactMembership(t *testing.T) {
	p := prefs.Preferences{Languages: prefs.Only("en", "pt")}

	if got := Score(storage.Entity{Language: "pt"}, p, MovieRules()); got <= 0 {
		t.Errorf("language in set should pass, got %v", got)
	}
	if got := Score(storage.Entity{Language: "fr"}, p, MovieRules()); got != 0 {
		t.Errorf("language outside set must reject, got %v", got)
	}
	if got := Score(storage.Entity{}, p, MovieRules()); got != 0 {
		t.Errorf("missing language on constrained axis must reject, got %v", got)
	}
}

func TestScore_YearAndRuntimeBounds(t *testing.T) {
	p := prefs.Preferences{
		Years:   prefs.Between(1990, 2005),
		Runtime: prefs.Between(0, 150),
	}

	in := storage.Entity{Year: 1999, Runtime: 136}
	if got := Score(in, p, MovieRules()); got <= 0 {
		t.Errorf("in-bounds candidate should pass, got %v", got)
	}

	outYear := storage.Entity{Year: 2010, Runtime: 100}
	if got := Score(outYear, p, MovieRules()); got != 0 {
		t.Errorf("out-of-range year must reject, got %v", got)
	}

	noRuntime := storage.Entity{Year: 1999}
	if got := Score(noRuntime, p, MovieRules()); got != 0 {
		t.Errorf("missing runtime on constrained axis must reject, got %v", got)
	}
}

// TestScore_RatingFloorHardForRestaurants verifies the domain split on the
// minimum-rating miss: restaurants reject outright.
func TestScore_RatingFloorHardForRestaurants(t *testing.T) {
	p := prefs.Preferences{
		Categories: prefs.Only("Italian"),
		MinRating:  4.0,
	}
	e := storage.Entity{Categories: []string{"Italian"}, Tags: []string{"vegetarian"}, Rating: 3.9}

	if got := Score(e, p, RestaurantRules()); got != 0 {
		t.Errorf("restaurant below min rating must reject, got %v", got)
	}
}

// TestScore_RatingFloorSoftForMovies verifies the "softly hard" miss: a
// strong enough movie survives, a weak one does not.
func TestScore_RatingFloorSoftForMovies(t *testing.T) {
	p := prefs.Preferences{
		Categories:   prefs.Only("Action", "Thriller"),
		Requirements: prefs.Only("imax"),
		MinRating:    8.0,
	}

	// Two category matches + requirement credit: 6.0 >= floor.
	strong := storage.Entity{
		Categories: []string{"Action", "Thriller"},
		Tags:       []string{"imax"},
		Rating:     7.5,
	}
	if got := Score(strong, p, MovieRules()); got <= 0 {
		t.Errorf("unusually strong match should survive rating miss, got %v", got)
	}

	// With no stated categories the flat any-category bonus is all the
	// candidate earns, which is below the floor.
	weakPrefs := prefs.Preferences{MinRating: 8.0}
	weak := storage.Entity{Categories: []string{"Documentary"}, Rating: 7.5}
	if got := Score(weak, weakPrefs, MovieRules()); got != 0 {
		t.Errorf("weak match must not survive rating miss, got %v", got)
	}
}

func TestScore_RatingMargin(t *testing.T) {
	p := prefs.Preferences{MinRating: 6.0}

	at := Score(storage.Entity{Rating: 6.0}, p, MovieRules())
	above := Score(storage.Entity{Rating: 8.0}, p, MovieRules())

	want := 2.0 * RatingMarginWeight
	if diff := above - at; diff != want {
		t.Errorf("expected margin bonus %v, got %v", want, diff)
	}
}

func TestScore_ProviderBonus(t *testing.T) {
	p := prefs.Preferences{Providers: prefs.Only("Netflix")}

	with := Score(storage.Entity{Tags: []string{"Netflix", "Hulu"}}, p, MovieRules())
	without := Score(storage.Entity{Tags: []string{"Hulu"}}, p, MovieRules())

	if with-without != ProviderBonus {
		t.Errorf("expected provider bonus %v, got %v", ProviderBonus, with-without)
	}
	if without <= 0 {
		t.Errorf("provider preference is soft, non-match must not reject, got %v", without)
	}
}

// TestRank_JitterBounded verifies jitter can never flip candidates whose
// deterministic scores differ by more than the jitter magnitude.
func TestRank_JitterBounded(t *testing.T) {
	p := prefs.Preferences{MinRating: 1.0}
	r := MovieRules()

	high := storage.Entity{Name: "high", Rating: 5.0}
	low := storage.Entity{Name: "low", Rating: 4.0}

	adversarial := func() float64 { return 1.0 } // max jitter on every call
	ranked := rank([]storage.Entity{low, high}, p, r, adversarial)
	if ranked[0].Entity.Name != "high" {
		t.Errorf("jitter reordered distinctly scored candidates: %+v", ranked)
	}
}

func TestRank_DropsHardRejects(t *testing.T) {
	p := prefs.Preferences{Requirements: prefs.Only("halal")}
	candidates := []storage.Entity{
		{Name: "ok", Tags: []string{"halal"}},
		{Name: "reject", Tags: []string{"bbq"}},
	}

	ranked := rank(candidates, p, RestaurantRules(), noJitter)
	if len(ranked) != 1 || ranked[0].Entity.Name != "ok" {
		t.Errorf("expected only the passing candidate, got %+v", ranked)
	}
}
