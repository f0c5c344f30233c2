package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/whatnext/internal/prefs"
	"github.com/kalambet/whatnext/internal/recommend"
	"github.com/kalambet/whatnext/internal/storage"
)

const maxBodySize = 1 << 20 // 1MB

type AppDeps struct {
	Store   *storage.Store
	Prefs   *prefs.Manager
	Engines map[string]*recommend.Engine
	Token   string
	Count   int // default recommendation count when the request omits one
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/health", handleHealth(deps))
	r.Get("/recommendations/{domain}", handleRecommendations(deps))
	r.Get("/preferences/{domain}", handleGetPreferences(deps))
	r.Patch("/preferences/{domain}", handlePatchPreferences(deps))
	r.Post("/interactions", handlePostInteraction(deps))
	r.Get("/catalog/{domain}", handleCatalog(deps))

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts := make(map[string]int, len(storage.Domains))
		for _, domain := range storage.Domains {
			n, err := deps.Store.CountEntities(domain)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "counting catalog: %v", err)
				return
			}
			counts[domain] = n
		}
		writeJSON(w, map[string]any{
			"status":  "ok",
			"catalog": counts,
		})
	}
}

// RecommendationItem is the wire form of one scored pick.
type RecommendationItem struct {
	LocalID    int64    `json:"local_id"`
	ExternalID string   `json:"external_id"`
	Name       string   `json:"name"`
	Score      float64  `json:"score"`
	Rating     float64  `json:"rating"`
	Year       int      `json:"year,omitempty"`
	Runtime    int      `json:"runtime,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Language   string   `json:"language,omitempty"`
	Address    string   `json:"address,omitempty"`
}

func handleRecommendations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain := chi.URLParam(r, "domain")
		engine, ok := deps.Engines[domain]
		if !ok {
			httpError(w, http.StatusNotFound, "invalid_request_error", "unknown domain %q", domain)
			return
		}

		user, ok := resolveUser(w, r, deps)
		if !ok {
			return
		}

		count := parseIntParam(r, "count", deps.Count, 50)
		if count <= 0 {
			count = deps.Count
		}

		p, err := deps.Prefs.Get(user.ID, domain)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading preferences: %v", err)
			return
		}

		seen, err := deps.Store.ListInteractionEntityIDs(user.ID, domain)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading history: %v", err)
			return
		}

		picks, err := engine.Recommend(r.Context(), user.ID, p, recommend.NewExclusion(seen), count)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recommendation failed: %v", err)
			return
		}

		items := make([]RecommendationItem, len(picks))
		for i, pick := range picks {
			items[i] = RecommendationItem{
				LocalID:    pick.Entity.LocalID,
				ExternalID: pick.Entity.ExternalID,
				Name:       pick.Entity.Name,
				Score:      pick.Score,
				Rating:     pick.Entity.Rating,
				Year:       pick.Entity.Year,
				Runtime:    pick.Entity.Runtime,
				Categories: pick.Entity.Categories,
				Language:   pick.Entity.Language,
				Address:    pick.Entity.Address,
			}
		}
		writeJSON(w, items)
	}
}

// PreferencesView is the wire form of a stored preference record. Null list
// fields and zero numerics mean "no constraint".
type PreferencesView struct {
	Categories   []string `json:"categories,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	Providers    []string `json:"providers,omitempty"`
	MinRating    float64  `json:"min_rating,omitempty"`
	YearMin      int      `json:"year_min,omitempty"`
	YearMax      int      `json:"year_max,omitempty"`
	RuntimeMin   int      `json:"runtime_min,omitempty"`
	RuntimeMax   int      `json:"runtime_max,omitempty"`
}

func ViewFromPreferences(p prefs.Preferences) PreferencesView {
	return PreferencesView{
		Categories:   p.Categories.Values(),
		Requirements: p.Requirements.Values(),
		Languages:    p.Languages.Values(),
		Providers:    p.Providers.Values(),
		MinRating:    p.MinRating,
		YearMin:      p.Years.Min(),
		YearMax:      p.Years.Max(),
		RuntimeMin:   p.Runtime.Min(),
		RuntimeMax:   p.Runtime.Max(),
	}
}

func handleGetPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain := chi.URLParam(r, "domain")
		if !storage.ValidDomain(domain) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "unknown domain %q", domain)
			return
		}

		user, ok := resolveUser(w, r, deps)
		if !ok {
			return
		}

		p, err := deps.Prefs.Get(user.ID, domain)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading preferences: %v", err)
			return
		}
		writeJSON(w, ViewFromPreferences(p))
	}
}

// preferencesPatch distinguishes "field absent" from "field cleared": a
// present-but-empty list or zero number resets that field to unconstrained.
type preferencesPatch struct {
	Categories   *[]string `json:"categories"`
	Requirements *[]string `json:"requirements"`
	Languages    *[]string `json:"languages"`
	Providers    *[]string `json:"providers"`
	MinRating    *float64  `json:"min_rating"`
	YearMin      *int      `json:"year_min"`
	YearMax      *int      `json:"year_max"`
	RuntimeMin   *int      `json:"runtime_min"`
	RuntimeMax   *int      `json:"runtime_max"`
}

func handlePatchPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain := chi.URLParam(r, "domain")
		if !storage.ValidDomain(domain) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "unknown domain %q", domain)
			return
		}

		user, ok := resolveUser(w, r, deps)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var patch preferencesPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		p, err := deps.Prefs.Get(user.ID, domain)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading preferences: %v", err)
			return
		}

		if patch.Categories != nil {
			p.Categories = prefs.Only(*patch.Categories...)
		}
		if patch.Requirements != nil {
			p.Requirements = prefs.Only(*patch.Requirements...)
		}
		if patch.Languages != nil {
			p.Languages = prefs.Only(*patch.Languages...)
		}
		if patch.Providers != nil {
			p.Providers = prefs.Only(*patch.Providers...)
		}
		if patch.MinRating != nil {
			if *patch.MinRating < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "min_rating must not be negative")
				return
			}
			p.MinRating = *patch.MinRating
		}
		if patch.YearMin != nil || patch.YearMax != nil {
			min, max := p.Years.Min(), p.Years.Max()
			if patch.YearMin != nil {
				min = *patch.YearMin
			}
			if patch.YearMax != nil {
				max = *patch.YearMax
			}
			p.Years = prefs.Between(min, max)
		}
		if patch.RuntimeMin != nil || patch.RuntimeMax != nil {
			min, max := p.Runtime.Min(), p.Runtime.Max()
			if patch.RuntimeMin != nil {
				min = *patch.RuntimeMin
			}
			if patch.RuntimeMax != nil {
				max = *patch.RuntimeMax
			}
			p.Runtime = prefs.Between(min, max)
		}

		if err := deps.Prefs.Set(user.ID, domain, p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving preferences: %v", err)
			return
		}
		writeJSON(w, ViewFromPreferences(p))
	}
}

// InteractionRequest records feedback on a catalog entity. Exactly one of
// entity_id or external_id identifies the target.
type InteractionRequest struct {
	User       string `json:"user"`
	Domain     string `json:"domain"`
	EntityID   int64  `json:"entity_id"`
	ExternalID string `json:"external_id"`
	Value      int    `json:"value"`
}

func handlePostInteraction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req InteractionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !storage.ValidDomain(req.Domain) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown domain %q", req.Domain)
			return
		}
		if req.Value < -1 || req.Value > 5 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "value must be -1 (dismiss) or 1..5 (rating)")
			return
		}

		user, err := deps.Store.GetUserByName(req.User)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "invalid_request_error", "unknown user %q", req.User)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "looking up user: %v", err)
			return
		}

		entity, err := resolveEntity(deps.Store, req)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "invalid_request_error", "entity not found")
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if err := deps.Store.RecordInteraction(user.ID, req.Domain, entity.LocalID, req.Value); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recording interaction: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"entity_id": entity.LocalID,
			"name":      entity.Name,
			"value":     req.Value,
		})
	}
}

func resolveEntity(store *storage.Store, req InteractionRequest) (storage.Entity, error) {
	switch {
	case req.EntityID != 0:
		return store.GetEntity(req.EntityID)
	case req.ExternalID != "":
		return store.GetEntityByExternalID(req.Domain, req.ExternalID)
	default:
		return storage.Entity{}, fmt.Errorf("one of entity_id or external_id is required")
	}
}

func handleCatalog(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain := chi.URLParam(r, "domain")
		if !storage.ValidDomain(domain) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "unknown domain %q", domain)
			return
		}

		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		entities, err := deps.Store.ListEntities(domain)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing catalog: %v", err)
			return
		}

		if offset > len(entities) {
			offset = len(entities)
		}
		entities = entities[offset:]
		if limit > 0 && len(entities) > limit {
			entities = entities[:limit]
		}
		if entities == nil {
			entities = []storage.Entity{}
		}
		writeJSON(w, entities)
	}
}

// resolveUser maps the required ?user= query parameter to a stored user,
// writing the error response itself when that fails.
func resolveUser(w http.ResponseWriter, r *http.Request, deps AppDeps) (storage.User, bool) {
	name := r.URL.Query().Get("user")
	if name == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user query parameter is required")
		return storage.User{}, false
	}
	user, err := deps.Store.GetUserByName(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "unknown user %q", name)
			return storage.User{}, false
		}
		httpError(w, http.StatusInternalServerError, "api_error", "looking up user: %v", err)
		return storage.User{}, false
	}
	return user, true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
