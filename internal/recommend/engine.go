package recommend

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"github.com/kalambet/whatnext/internal/prefs"
	"github.com/kalambet/whatnext/internal/storage"
)

// Catalog is the local entity store the engine reads and refreshes.
// Implemented by storage.Store.
type Catalog interface {
	ListEntities(domain string) ([]storage.Entity, error)
	UpsertEntity(e storage.Entity) (storage.Entity, error)
}

// History exposes the user's prior ratings. Implemented by storage.Store.
type History interface {
	ListRatings(userID, domain string) ([]storage.Rating, error)
}

// Provider is the external content source for one domain. A call that
// yields no data (missing credential, transport failure already logged by
// the client) returns an empty slice, never an error the engine must abort
// on; errors here are logged and treated as "no data" for that call.
type Provider interface {
	Popular(ctx context.Context, page int) ([]storage.Entity, error)
	Details(ctx context.Context, externalID string) (storage.Entity, error)
	Similar(ctx context.Context, externalID string) ([]storage.Entity, error)
}

// Exclusion is the set of entities never to recommend again: everything the
// user has seen, liked, or rated, plus items picked earlier in the current
// call. It is mutated in place as items are picked so later phases respect
// earlier picks.
type Exclusion struct {
	locals    map[int64]struct{}
	externals map[string]struct{}
}

// NewExclusion builds an exclusion set from seen local IDs.
func NewExclusion(localIDs []int64) *Exclusion {
	x := &Exclusion{
		locals:    make(map[int64]struct{}, len(localIDs)),
		externals: make(map[string]struct{}),
	}
	for _, id := range localIDs {
		x.locals[id] = struct{}{}
	}
	return x
}

// Add marks an entity as excluded by both its local and external ID.
func (x *Exclusion) Add(e storage.Entity) {
	if e.LocalID != 0 {
		x.locals[e.LocalID] = struct{}{}
	}
	if e.ExternalID != "" {
		x.externals[e.ExternalID] = struct{}{}
	}
}

// AddExternal marks an external ID as excluded before its entity has a
// local record (similar-phase results not yet upserted).
func (x *Exclusion) AddExternal(externalID string) {
	x.externals[externalID] = struct{}{}
}

// Has reports whether the entity is excluded by either ID.
func (x *Exclusion) Has(e storage.Entity) bool {
	if _, ok := x.locals[e.LocalID]; ok && e.LocalID != 0 {
		return true
	}
	_, ok := x.externals[e.ExternalID]
	return ok
}

// Engine assembles ranked recommendations for one domain.
type Engine struct {
	domain   string
	rules    Rules
	catalog  Catalog
	history  History
	provider Provider
	jitter   func() float64
	logger   *slog.Logger
}

// New creates an Engine for a domain. The random source for tie-breaking
// jitter is owned by the engine, not shared process state.
func New(domain string, rules Rules, catalog Catalog, history History, provider Provider) *Engine {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	return &Engine{
		domain:   domain,
		rules:    rules,
		catalog:  catalog,
		history:  history,
		provider: provider,
		jitter:   rng.Float64,
		logger:   slog.Default().With("domain", domain),
	}
}

// Recommend returns up to count recommendations for the user, best first,
// never including anything in the exclusion set. The result may be shorter
// than count when all sources are exhausted — a valid "insufficient
// inventory" outcome, not an error. The exclusion set is grown with every
// pick, so a caller can loop for "show next" behavior.
func (e *Engine) Recommend(ctx context.Context, userID string, p prefs.Preferences, excl *Exclusion, count int) ([]Scored, error) {
	if count <= 0 {
		count = DefaultCount
	}

	picks := e.contentPhase(ctx, p, excl, count, nil)

	if !e.rules.ContentOnly && len(picks) < count {
		picks = e.similarPhase(ctx, userID, p, excl, count, picks)
	}
	if !e.rules.ContentOnly && len(picks) < count {
		picks = e.fallbackPhase(ctx, excl, count, picks)
	}

	if len(picks) > count {
		picks = picks[:count]
	}
	return picks, nil
}

// contentPhase scores a bounded window of catalog candidates and takes the
// top unseen items. A thin catalog is topped up once from the provider's
// popular list before scoring.
func (e *Engine) contentPhase(ctx context.Context, p prefs.Preferences, excl *Exclusion, count int, picks []Scored) []Scored {
	candidates, err := e.catalog.ListEntities(e.domain)
	if err != nil {
		e.logger.Warn("listing catalog failed", "error", err)
		candidates = nil
	}

	if len(candidates) < e.rules.CandidateWindow {
		candidates = e.topUpFromPopular(ctx, candidates)
	}
	if len(candidates) > e.rules.CandidateWindow {
		candidates = candidates[:e.rules.CandidateWindow]
	}

	for _, s := range rank(candidates, p, e.rules, e.jitter) {
		if len(picks) >= count {
			break
		}
		if excl.Has(s.Entity) {
			continue
		}
		excl.Add(s.Entity)
		picks = append(picks, s)
	}
	return picks
}

// topUpFromPopular refreshes the candidate pool from the provider's popular
// list, upserting fetched items so the catalog keeps them.
func (e *Engine) topUpFromPopular(ctx context.Context, candidates []storage.Entity) []storage.Entity {
	have := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		have[c.ExternalID] = struct{}{}
	}

	for page := 1; len(candidates) < e.rules.CandidateWindow && page <= 2; page++ {
		fetched, err := e.provider.Popular(ctx, page)
		if err != nil {
			e.logger.Warn("popular fetch failed", "page", page, "error", err)
			break
		}
		if len(fetched) == 0 {
			break
		}
		for _, f := range fetched {
			if _, ok := have[f.ExternalID]; ok {
				continue
			}
			stored, err := e.catalog.UpsertEntity(f)
			if err != nil {
				e.logger.Warn("catalog upsert failed", "external_id", f.ExternalID, "error", err)
				continue
			}
			have[stored.ExternalID] = struct{}{}
			candidates = append(candidates, stored)
		}
	}
	return candidates
}

// similarPhase expands from the user's top-rated items via the provider's
// similar-items endpoint. Only entered with enough rating history. A failed
// fetch for one item is skipped, never fatal for the request.
func (e *Engine) similarPhase(ctx context.Context, userID string, p prefs.Preferences, excl *Exclusion, count int, picks []Scored) []Scored {
	ratings, err := e.history.ListRatings(userID, e.domain)
	if err != nil {
		e.logger.Warn("listing ratings failed", "error", err)
		return picks
	}
	if len(ratings) < e.rules.MinRatingsForSimilar {
		return picks
	}

	seeds := ratings
	if len(seeds) > e.rules.SimilarSeeds {
		seeds = seeds[:e.rules.SimilarSeeds]
	}

	for _, seed := range seeds {
		if len(picks) >= count {
			break
		}
		similar, err := e.provider.Similar(ctx, seed.ExternalID)
		if err != nil {
			e.logger.Warn("similar fetch failed", "seed", seed.ExternalID, "error", err)
			continue
		}
		for _, cand := range similar {
			if len(picks) >= count {
				break
			}
			if excl.Has(cand) {
				continue
			}
			excl.AddExternal(cand.ExternalID)

			detail, err := e.provider.Details(ctx, cand.ExternalID)
			if err != nil {
				// Fall back to the similar-list stub rather than dropping
				// the candidate for a single failed detail fetch.
				e.logger.Warn("detail fetch failed, using list data", "external_id", cand.ExternalID, "error", err)
				detail = cand
			}
			stored, err := e.catalog.UpsertEntity(detail)
			if err != nil {
				e.logger.Warn("catalog upsert failed", "external_id", cand.ExternalID, "error", err)
				continue
			}
			excl.Add(stored)
			picks = append(picks, Scored{Entity: stored, Score: Score(stored, p, e.rules)})
		}
	}
	return picks
}

// fallbackPhase walks the provider's popular list in order, appending unseen
// items until full or the source is exhausted.
func (e *Engine) fallbackPhase(ctx context.Context, excl *Exclusion, count int, picks []Scored) []Scored {
	for page := 1; len(picks) < count && page <= e.rules.FallbackPages; page++ {
		fetched, err := e.provider.Popular(ctx, page)
		if err != nil {
			e.logger.Warn("popular fetch failed", "page", page, "error", err)
			return picks
		}
		if len(fetched) == 0 {
			return picks
		}
		for _, cand := range fetched {
			if len(picks) >= count {
				break
			}
			if excl.Has(cand) {
				continue
			}
			stored, err := e.catalog.UpsertEntity(cand)
			if err != nil {
				e.logger.Warn("catalog upsert failed", "external_id", cand.ExternalID, "error", err)
				continue
			}
			if excl.Has(stored) {
				continue
			}
			excl.Add(stored)
			picks = append(picks, Scored{Entity: stored})
		}
	}
	return picks
}
