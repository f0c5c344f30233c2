// Package recommend implements the scoring engine and the multi-phase
// candidate-assembly orchestrator shared by all recommendation domains.
// One generic engine is instantiated per domain with a Rules descriptor;
// the domains differ only in their constants and available phases.
package recommend

// Scoring constants. One consistent set across all domains; the rating
// floor and jitter magnitude are tunable heuristics, not exact laws.
const (
	// CategoryWeight is added once per category (cuisine/genre) shared
	// between the candidate and the user's preferred set.
	CategoryWeight = 2.0

	// AnyCategoryBonus is the flat half-weight credit a candidate gets on
	// the category axis when the user declared no category preference.
	AnyCategoryBonus = CategoryWeight / 2

	// RequirementWeight is added when the user stated hard requirements
	// (dietary restrictions) and the candidate satisfies all of them.
	RequirementWeight = 2.0

	// LanguageBonus and ProviderBonus are flat credits for matching a
	// stated language or streaming-provider preference.
	LanguageBonus = 1.0
	ProviderBonus = 1.0

	// RatingMarginWeight scales the candidate's margin above the user's
	// minimum rating into a linear bonus.
	RatingMarginWeight = 0.5

	// JitterMagnitude bounds the random tie-breaking perturbation. Small
	// relative to every deterministic weight above so jitter can reorder
	// near-equal candidates but never change eligibility.
	JitterMagnitude = 0.01

	// SoftRejectFloor is the score a movie/tv candidate must reach to
	// survive missing the user's minimum rating: half the combined
	// category and requirement weight.
	SoftRejectFloor = (CategoryWeight + RequirementWeight) / 2
)

// Assembly defaults.
const (
	// DefaultCount is the number of recommendations returned when the
	// caller doesn't ask for a specific count.
	DefaultCount = 5

	// defaultCandidateWindow caps the content-phase candidate pool.
	defaultCandidateWindow = 30

	// defaultMinRatingsForSimilar is how many prior ratings a user needs
	// before the similarity phase runs.
	defaultMinRatingsForSimilar = 2

	// defaultSimilarSeeds is how many of the user's top-rated items seed
	// similar-item lookups.
	defaultSimilarSeeds = 3

	// defaultFallbackPages bounds the popularity-fallback walk.
	defaultFallbackPages = 5
)

// Rules parameterizes the generic engine for one domain.
type Rules struct {
	// RatingHard makes a candidate below the user's minimum rating a hard
	// reject. When false the miss is "softly hard": the candidate survives
	// only if its total score reaches SoftRejectFloor.
	RatingHard bool

	// ContentOnly restricts assembly to the content phase. Set for
	// restaurants, whose provider has no similar-items endpoint; the CLI
	// drives a "show next" loop by growing the exclusion set instead.
	ContentOnly bool

	CandidateWindow      int
	MinRatingsForSimilar int
	SimilarSeeds         int
	FallbackPages        int
}

// RestaurantRules returns the restaurant domain descriptor.
func RestaurantRules() Rules {
	return Rules{
		RatingHard:      true,
		ContentOnly:     true,
		CandidateWindow: defaultCandidateWindow,
	}
}

// MovieRules returns the movie domain descriptor.
func MovieRules() Rules {
	return Rules{
		CandidateWindow:      defaultCandidateWindow,
		MinRatingsForSimilar: defaultMinRatingsForSimilar,
		SimilarSeeds:         defaultSimilarSeeds,
		FallbackPages:        defaultFallbackPages,
	}
}

// TVRules returns the TV-show domain descriptor. Identical to movies; the
// runtime bounds apply to average episode length instead of total runtime,
// which the catalog already accounts for.
func TVRules() Rules {
	return MovieRules()
}
