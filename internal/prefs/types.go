package prefs

import "strings"

// Constraint is a list-valued preference field: either unconstrained
// ("any") or a non-empty set of values. The zero value is unconstrained,
// so "no preference" and "constrained to nothing" cannot be confused.
type Constraint struct {
	values []string
}

// Any returns an unconstrained Constraint.
func Any() Constraint {
	return Constraint{}
}

// Only builds a Constraint from the given values, trimming whitespace and
// dropping empties. If nothing survives, or the sole value is "any"
// (case-insensitive), the result is unconstrained.
func Only(values ...string) Constraint {
	var kept []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 || (len(kept) == 1 && strings.EqualFold(kept[0], "any")) {
		return Constraint{}
	}
	return Constraint{values: kept}
}

// ParseList builds a Constraint from a comma-separated string.
func ParseList(s string) Constraint {
	return Only(strings.Split(s, ",")...)
}

// Constrained reports whether the field carries values.
func (c Constraint) Constrained() bool {
	return len(c.values) > 0
}

// Values returns a copy of the constraint values; nil when unconstrained.
func (c Constraint) Values() []string {
	if len(c.values) == 0 {
		return nil
	}
	out := make([]string, len(c.values))
	copy(out, c.values)
	return out
}

// Contains reports whether v is one of the constraint values
// (case-insensitive). An unconstrained field contains nothing.
func (c Constraint) Contains(v string) bool {
	for _, have := range c.values {
		if strings.EqualFold(have, v) {
			return true
		}
	}
	return false
}

// Bounds is an optional closed numeric range. Max 0 means open-ended above.
// The zero value is unset (no constraint).
type Bounds struct {
	min, max int
	set      bool
}

// NoBounds returns an unset Bounds.
func NoBounds() Bounds {
	return Bounds{}
}

// Between builds a Bounds from min and max; either may be 0 for open-ended.
// Both zero yields an unset Bounds.
func Between(min, max int) Bounds {
	if min == 0 && max == 0 {
		return Bounds{}
	}
	return Bounds{min: min, max: max, set: true}
}

// Set reports whether the bounds constrain anything.
func (b Bounds) Set() bool {
	return b.set
}

// Min returns the lower bound (0 = open-ended below).
func (b Bounds) Min() int { return b.min }

// Max returns the upper bound (0 = open-ended above).
func (b Bounds) Max() int { return b.max }

// Contains reports whether v falls inside the bounds. Unset bounds contain
// everything.
func (b Bounds) Contains(v int) bool {
	if !b.set {
		return true
	}
	if b.min > 0 && v < b.min {
		return false
	}
	if b.max > 0 && v > b.max {
		return false
	}
	return true
}

// Preferences is one user's stored preference record for one domain.
// The zero value means "no constraints at all" and is what new users get.
type Preferences struct {
	Categories   Constraint // cuisines or genres; soft ranking signal
	Requirements Constraint // dietary restrictions; hard, substring match against entity tags
	Languages    Constraint // hard, exact membership
	Providers    Constraint // streaming providers; soft bonus
	MinRating    float64    // 0 = unset; same scale as the provider aggregate
	Years        Bounds     // release/first-air year
	Runtime      Bounds     // total minutes (movie) / avg episode minutes (tv)
}
