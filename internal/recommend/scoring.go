package recommend

import (
	"sort"
	"strings"

	"github.com/kalambet/whatnext/internal/prefs"
	"github.com/kalambet/whatnext/internal/storage"
)

// Score computes the deterministic (pre-jitter) score of one candidate
// against one preference record. Zero means hard-reject; any positive value
// means eligible, higher ranked first. Malformed or missing candidate
// attributes never panic — they fail the corresponding axis and degrade the
// score to zero.
func Score(e storage.Entity, p prefs.Preferences, r Rules) float64 {
	if !passesHardFilters(e, p) {
		return 0
	}

	belowMinRating := p.MinRating > 0 && e.Rating < p.MinRating
	if belowMinRating && r.RatingHard {
		return 0
	}

	score := categoryScore(e, p)

	if p.Requirements.Constrained() {
		score += RequirementWeight
	}
	if p.Languages.Constrained() {
		score += LanguageBonus
	}
	if p.Providers.Constrained() && matchesAny(e.Tags, p.Providers) {
		score += ProviderBonus
	}
	if p.MinRating > 0 && !belowMinRating {
		score += (e.Rating - p.MinRating) * RatingMarginWeight
	}

	// Softly-hard rating miss: only an unusually strong match survives.
	if belowMinRating && score < SoftRejectFloor {
		return 0
	}
	return score
}

// passesHardFilters applies the AND of all stated restrictions. A single
// failed requirement, or a missing attribute on a constrained axis, rejects
// the candidate outright.
func passesHardFilters(e storage.Entity, p prefs.Preferences) bool {
	// Every dietary requirement must be satisfiable by some entity tag
	// (case-insensitive substring, so "vegetarian" accepts
	// "vegetarian options").
	for _, req := range p.Requirements.Values() {
		if !anyTagContains(e.Tags, req) {
			return false
		}
	}

	if p.Languages.Constrained() {
		if e.Language == "" || !p.Languages.Contains(e.Language) {
			return false
		}
	}

	if p.Years.Set() {
		if e.Year == 0 || !p.Years.Contains(e.Year) {
			return false
		}
	}

	if p.Runtime.Set() {
		if e.Runtime == 0 || !p.Runtime.Contains(e.Runtime) {
			return false
		}
	}

	return true
}

// categoryScore rewards category overlap, or grants the flat half-weight
// bonus when the user has no category preference. Category preference is a
// soft signal only — zero overlap never rejects.
func categoryScore(e storage.Entity, p prefs.Preferences) float64 {
	if !p.Categories.Constrained() {
		return AnyCategoryBonus
	}
	var score float64
	for _, c := range e.Categories {
		if p.Categories.Contains(c) {
			score += CategoryWeight
		}
	}
	return score
}

func anyTagContains(tags []string, req string) bool {
	req = strings.ToLower(strings.TrimSpace(req))
	if req == "" {
		return true
	}
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), req) {
			return true
		}
	}
	return false
}

func matchesAny(tags []string, c prefs.Constraint) bool {
	for _, t := range tags {
		if c.Contains(t) {
			return true
		}
	}
	return false
}

// Scored pairs a candidate with its deterministic score and the jittered
// value used for ordering.
type Scored struct {
	Entity   storage.Entity
	Score    float64
	jittered float64
}

// rank scores every candidate, drops hard rejects, and sorts the survivors
// strictly descending by jittered score. Ties in the deterministic score are
// effectively randomized, not stable.
func rank(candidates []storage.Entity, p prefs.Preferences, r Rules, jitter func() float64) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, e := range candidates {
		s := Score(e, p, r)
		if s <= 0 {
			continue
		}
		scored = append(scored, Scored{
			Entity:   e,
			Score:    s,
			jittered: s + jitter()*JitterMagnitude,
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].jittered > scored[j].jittered
	})
	return scored
}
