// Package tmdb is a client for The Movie Database API, covering both the
// movie and TV domains. A client without an API key degrades to empty
// results after a one-time warning instead of failing calls.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/whatnext/internal/storage"
)

// DefaultBaseURL is the production TMDB API root.
const DefaultBaseURL = "https://api.themoviedb.org/3"

var errNoAPIKey = fmt.Errorf("tmdb: no API key configured")

// Client is the TMDB API client shared by the movie and TV providers.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client

	warnOnce sync.Once
	genres   genreCache
}

// NewClient creates a TMDB client. An empty apiKey is allowed; every call
// will then report "no data".
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Movies returns the movie-domain provider view of the client.
func (c *Client) Movies() *Provider {
	return &Provider{c: c, kind: "movie", domain: storage.DomainMovie}
}

// Shows returns the TV-domain provider view of the client.
func (c *Client) Shows() *Provider {
	return &Provider{c: c, kind: "tv", domain: storage.DomainTV}
}

// Provider implements recommend.Provider for one TMDB content kind.
type Provider struct {
	c      *Client
	kind   string // "movie" or "tv"
	domain string
}

// Popular fetches one page of the currently-popular list.
func (p *Provider) Popular(ctx context.Context, page int) ([]storage.Entity, error) {
	if !p.c.hasKey() {
		return nil, nil
	}
	var result listResponse
	path := fmt.Sprintf("/%s/popular", p.kind)
	if err := p.c.get(ctx, path, url.Values{"page": {strconv.Itoa(page)}}, &result); err != nil {
		return nil, err
	}
	return p.c.mapListItems(ctx, p.kind, p.domain, result.Results)
}

// Search runs a text search over the content kind.
func (p *Provider) Search(ctx context.Context, query string) ([]storage.Entity, error) {
	if !p.c.hasKey() {
		return nil, nil
	}
	var result listResponse
	path := fmt.Sprintf("/search/%s", p.kind)
	if err := p.c.get(ctx, path, url.Values{"query": {query}}, &result); err != nil {
		return nil, err
	}
	return p.c.mapListItems(ctx, p.kind, p.domain, result.Results)
}

// Details fetches full attributes for one item, including runtime and
// streaming-provider availability.
func (p *Provider) Details(ctx context.Context, externalID string) (storage.Entity, error) {
	if !p.c.hasKey() {
		return storage.Entity{}, errNoAPIKey
	}
	var result detailResponse
	path := fmt.Sprintf("/%s/%s", p.kind, externalID)
	q := url.Values{"append_to_response": {"watch/providers"}}
	if err := p.c.get(ctx, path, q, &result); err != nil {
		return storage.Entity{}, err
	}
	return result.entity(p.domain), nil
}

// Similar fetches the provider-side "items similar to X" list.
func (p *Provider) Similar(ctx context.Context, externalID string) ([]storage.Entity, error) {
	if !p.c.hasKey() {
		return nil, nil
	}
	var result listResponse
	path := fmt.Sprintf("/%s/%s/similar", p.kind, externalID)
	if err := p.c.get(ctx, path, nil, &result); err != nil {
		return nil, err
	}
	return p.c.mapListItems(ctx, p.kind, p.domain, result.Results)
}

func (c *Client) hasKey() bool {
	if c.apiKey != "" {
		return true
	}
	c.warnOnce.Do(func() {
		slog.Warn("TMDB API key not configured; movie/tv provider calls will return no data (set WHATNEXT_TMDB_API_KEY)")
	})
	return false
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tmdb request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("tmdb returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding tmdb response: %w", err)
	}
	return nil
}

// ---- response types ----

type listResponse struct {
	Page         int        `json:"page"`
	Results      []listItem `json:"results"`
	TotalPages   int        `json:"total_pages"`
	TotalResults int        `json:"total_results"`
}

type listItem struct {
	ID               int     `json:"id"`
	Title            string  `json:"title"`          // movies
	Name             string  `json:"name"`           // tv
	ReleaseDate      string  `json:"release_date"`   // movies
	FirstAirDate     string  `json:"first_air_date"` // tv
	GenreIDs         []int   `json:"genre_ids"`
	OriginalLanguage string  `json:"original_language"`
	VoteAverage      float64 `json:"vote_average"`
	Popularity       float64 `json:"popularity"`
}

type genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type detailResponse struct {
	ID               int     `json:"id"`
	Title            string  `json:"title"`
	Name             string  `json:"name"`
	ReleaseDate      string  `json:"release_date"`
	FirstAirDate     string  `json:"first_air_date"`
	Genres           []genre `json:"genres"`
	OriginalLanguage string  `json:"original_language"`
	VoteAverage      float64 `json:"vote_average"`
	Popularity       float64 `json:"popularity"`
	Runtime          int     `json:"runtime"`          // movies
	EpisodeRunTime   []int   `json:"episode_run_time"` // tv
	WatchProviders   struct {
		Results map[string]struct {
			Flatrate []struct {
				ProviderName string `json:"provider_name"`
			} `json:"flatrate"`
		} `json:"results"`
	} `json:"watch/providers"`
}

func (d detailResponse) entity(domain string) storage.Entity {
	e := storage.Entity{
		Domain:     domain,
		ExternalID: strconv.Itoa(d.ID),
		Name:       firstNonEmpty(d.Title, d.Name),
		Language:   d.OriginalLanguage,
		Year:       yearOf(firstNonEmpty(d.ReleaseDate, d.FirstAirDate)),
		Rating:     d.VoteAverage,
		Popularity: d.Popularity,
		Runtime:    d.Runtime,
	}
	for _, g := range d.Genres {
		e.Categories = append(e.Categories, g.Name)
	}
	if e.Runtime == 0 && len(d.EpisodeRunTime) > 0 {
		sum := 0
		for _, r := range d.EpisodeRunTime {
			sum += r
		}
		e.Runtime = sum / len(d.EpisodeRunTime)
	}
	// Streaming availability: flatrate providers for the US region.
	if region, ok := d.WatchProviders.Results["US"]; ok {
		for _, f := range region.Flatrate {
			e.Tags = append(e.Tags, f.ProviderName)
		}
	}
	return e
}

func (c *Client) mapListItems(ctx context.Context, kind, domain string, items []listItem) ([]storage.Entity, error) {
	names, err := c.genres.lookup(ctx, c, kind)
	if err != nil {
		slog.Debug("genre list unavailable, list items will carry no categories", "error", err)
		names = nil
	}

	entities := make([]storage.Entity, 0, len(items))
	for _, it := range items {
		e := storage.Entity{
			Domain:     domain,
			ExternalID: strconv.Itoa(it.ID),
			Name:       firstNonEmpty(it.Title, it.Name),
			Language:   it.OriginalLanguage,
			Year:       yearOf(firstNonEmpty(it.ReleaseDate, it.FirstAirDate)),
			Rating:     it.VoteAverage,
			Popularity: it.Popularity,
		}
		for _, id := range it.GenreIDs {
			if name, ok := names[id]; ok {
				e.Categories = append(e.Categories, name)
			}
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

// genreCache memoizes the per-kind genre id→name table for the process
// lifetime. The cache is owned by the client; singleflight collapses
// concurrent first lookups into one fetch.
type genreCache struct {
	mu     sync.RWMutex
	byKind map[string]map[int]string
	group  singleflight.Group
}

func (g *genreCache) lookup(ctx context.Context, c *Client, kind string) (map[int]string, error) {
	g.mu.RLock()
	cached, ok := g.byKind[kind]
	g.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := g.group.Do(kind, func() (any, error) {
		var result struct {
			Genres []genre `json:"genres"`
		}
		if err := c.get(ctx, fmt.Sprintf("/genre/%s/list", kind), nil, &result); err != nil {
			return nil, err
		}
		names := make(map[int]string, len(result.Genres))
		for _, gn := range result.Genres {
			names[gn.ID] = gn.Name
		}

		g.mu.Lock()
		if g.byKind == nil {
			g.byKind = make(map[string]map[int]string)
		}
		g.byKind[kind] = names
		g.mu.Unlock()
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int]string), nil
}
