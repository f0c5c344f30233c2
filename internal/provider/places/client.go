// Package places is a client for the place-search API behind the restaurant
// domain. The API has no similar-items endpoint; discovery is free-text
// location search only. Like the TMDB client, a missing API key degrades to
// empty results after a one-time warning.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/whatnext/internal/storage"
)

// DefaultBaseURL is the production place-search API root.
const DefaultBaseURL = "https://api.yelp.com/v3"

var errNoAPIKey = fmt.Errorf("places: no API key configured")

// Client is the place-search API client.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client

	warnOnce sync.Once
}

// NewClient creates a places client. An empty apiKey is allowed; every call
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

// SearchByLocation runs a restaurant text search near the given free-text
// location ("Berlin", "10001", "Mission District, SF").
func (c *Client) SearchByLocation(ctx context.Context, location string) ([]storage.Entity, error) {
	if !c.hasKey() {
		return nil, nil
	}
	q := url.Values{
		"location": {location},
		"term":     {"restaurants"},
		"limit":    {"50"},
	}
	var result searchResponse
	if err := c.get(ctx, "/businesses/search", q, &result); err != nil {
		return nil, err
	}

	entities := make([]storage.Entity, 0, len(result.Businesses))
	for _, b := range result.Businesses {
		entities = append(entities, b.entity())
	}
	return entities, nil
}

// Details fetches one business by its provider ID.
func (c *Client) Details(ctx context.Context, externalID string) (storage.Entity, error) {
	if !c.hasKey() {
		return storage.Entity{}, errNoAPIKey
	}
	var b business
	if err := c.get(ctx, "/businesses/"+url.PathEscape(externalID), nil, &b); err != nil {
		return storage.Entity{}, err
	}
	return b.entity(), nil
}

func (c *Client) hasKey() bool {
	if c.apiKey != "" {
		return true
	}
	c.warnOnce.Do(func() {
		slog.Warn("places API key not configured; restaurant provider calls will return no data (set WHATNEXT_PLACES_API_KEY)")
	})
	return false
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("places request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("places returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding places response: %w", err)
	}
	return nil
}

// ---- response types ----

type searchResponse struct {
	Businesses []business `json:"businesses"`
	Total      int        `json:"total"`
}

type business struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Rating     float64 `json:"rating"` // 0-5
	ReviewCount int    `json:"review_count"`
	Categories []struct {
		Alias string `json:"alias"`
		Title string `json:"title"`
	} `json:"categories"`
	Location struct {
		DisplayAddress []string `json:"display_address"`
	} `json:"location"`
}

func (b business) entity() storage.Entity {
	e := storage.Entity{
		Domain:     storage.DomainRestaurant,
		ExternalID: b.ID,
		Name:       b.Name,
		Rating:     b.Rating,
		Popularity: float64(b.ReviewCount),
		Address:    strings.Join(b.Location.DisplayAddress, ", "),
	}
	// Categories double as dietary tags: the provider models "Vegetarian",
	// "Vegan", "Gluten-Free" as categories alongside cuisines.
	for _, cat := range b.Categories {
		e.Categories = append(e.Categories, cat.Title)
		e.Tags = append(e.Tags, cat.Title)
	}
	return e
}
