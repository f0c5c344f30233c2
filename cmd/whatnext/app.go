package main

import (
	"errors"
	"fmt"

	"github.com/kalambet/whatnext/internal/config"
	"github.com/kalambet/whatnext/internal/prefs"
	"github.com/kalambet/whatnext/internal/provider/places"
	"github.com/kalambet/whatnext/internal/provider/tmdb"
	"github.com/kalambet/whatnext/internal/recommend"
	"github.com/kalambet/whatnext/internal/storage"
	"github.com/kalambet/whatnext/internal/syncer"
)

// app wires config, storage, preferences, providers, and the per-domain
// recommendation engines for one CLI invocation.
type app struct {
	cfg     config.Config
	store   *storage.Store
	prefs   *prefs.Manager
	engines   map[string]*recommend.Engine
	sources   map[string]syncer.PopularSource // movie/tv popular sources
	searchers map[string]*tmdb.Provider       // movie/tv text search
	places    *places.Client
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	prefsMgr := prefs.NewManager(store)

	tmdbClient := tmdb.NewClient(cfg.TMDB.APIKey, cfg.TMDB.BaseURL)
	placesClient := places.NewClient(cfg.Places.APIKey, cfg.Places.BaseURL)

	movies := tmdbClient.Movies()
	shows := tmdbClient.Shows()

	engines := map[string]*recommend.Engine{
		storage.DomainRestaurant: recommend.New(storage.DomainRestaurant, recommend.RestaurantRules(), store, store, placesClient.Provider()),
		storage.DomainMovie:      recommend.New(storage.DomainMovie, recommend.MovieRules(), store, store, movies),
		storage.DomainTV:         recommend.New(storage.DomainTV, recommend.TVRules(), store, store, shows),
	}

	sources := map[string]syncer.PopularSource{
		storage.DomainMovie: movies,
		storage.DomainTV:    shows,
	}

	return &app{
		cfg:     cfg,
		store:   store,
		prefs:   prefsMgr,
		engines: engines,
		sources: sources,
		searchers: map[string]*tmdb.Provider{
			storage.DomainMovie: movies,
			storage.DomainTV:    shows,
		},
		places: placesClient,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}

// userByName resolves a user name, with a friendlier error than raw ErrNotFound.
func (a *app) userByName(name string) (storage.User, error) {
	if name == "" {
		return storage.User{}, fmt.Errorf("--user is required")
	}
	user, err := a.store.GetUserByName(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.User{}, fmt.Errorf("unknown user %q (create one with: whatnext user add %s)", name, name)
		}
		return storage.User{}, err
	}
	return user, nil
}

// resolveDomain validates and normalizes a domain argument, accepting a few
// common aliases.
func resolveDomain(arg string) (string, error) {
	switch arg {
	case "restaurant", "restaurants", "food":
		return storage.DomainRestaurant, nil
	case "movie", "movies", "film":
		return storage.DomainMovie, nil
	case "tv", "show", "shows", "series":
		return storage.DomainTV, nil
	default:
		return "", fmt.Errorf("unknown domain %q (expected restaurant, movie, or tv)", arg)
	}
}
