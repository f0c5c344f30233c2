// Package syncer refreshes the local catalog from the external providers:
// one-shot syncs behind the CLI `sync` command and a periodic refresh
// worker for serve mode. Catalog entities are refreshed by re-fetch and
// never deleted.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/whatnext/internal/storage"
)

// detailConcurrency bounds parallel detail fetches during a sync. The
// recommendation path itself stays sequential; only this offline refresh
// fans out.
const detailConcurrency = 3

// Catalog is the upsert surface of the entity store.
type Catalog interface {
	UpsertEntity(e storage.Entity) (storage.Entity, error)
}

// PopularSource lists popular items and resolves their full details.
type PopularSource interface {
	Popular(ctx context.Context, page int) ([]storage.Entity, error)
	Details(ctx context.Context, externalID string) (storage.Entity, error)
}

// LocationSource searches places near a free-text location.
type LocationSource interface {
	SearchByLocation(ctx context.Context, location string) ([]storage.Entity, error)
}

// SyncPopular walks the source's popular list for the given number of pages,
// resolves full details for each item, and upserts everything into the
// catalog. A failed detail fetch falls back to the list stub; a failed page
// ends the walk. Returns the number of entities upserted.
func SyncPopular(ctx context.Context, catalog Catalog, src PopularSource, pages int) (int, error) {
	if pages <= 0 {
		pages = 1
	}

	var stubs []storage.Entity
	for page := 1; page <= pages; page++ {
		fetched, err := src.Popular(ctx, page)
		if err != nil {
			slog.Warn("popular fetch failed, stopping sync walk", "page", page, "error", err)
			break
		}
		if len(fetched) == 0 {
			break
		}
		stubs = append(stubs, fetched...)
	}
	if len(stubs) == 0 {
		return 0, nil
	}

	// Resolve details with bounded concurrency, then upsert sequentially.
	detailed := make([]storage.Entity, len(stubs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailConcurrency)
	for i, stub := range stubs {
		g.Go(func() error {
			e, err := src.Details(gctx, stub.ExternalID)
			if err != nil {
				slog.Debug("detail fetch failed, keeping list data", "external_id", stub.ExternalID, "error", err)
				e = stub
			}
			mu.Lock()
			detailed[i] = e
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	count := 0
	for _, e := range detailed {
		if _, err := catalog.UpsertEntity(e); err != nil {
			slog.Warn("catalog upsert failed", "external_id", e.ExternalID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// SyncLocation searches the source near location and upserts every result.
// Returns the number of entities upserted.
func SyncLocation(ctx context.Context, catalog Catalog, src LocationSource, location string) (int, error) {
	if location == "" {
		return 0, fmt.Errorf("location must not be empty")
	}
	found, err := src.SearchByLocation(ctx, location)
	if err != nil {
		return 0, fmt.Errorf("searching location %q: %w", location, err)
	}

	count := 0
	for _, e := range found {
		if _, err := catalog.UpsertEntity(e); err != nil {
			slog.Warn("catalog upsert failed", "external_id", e.ExternalID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// Worker periodically re-fetches popular content so the serve-mode catalog
// stays fresh without manual syncs.
type Worker struct {
	catalog  Catalog
	sources  map[string]PopularSource // domain → source
	pages    int
	interval time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. If interval is <= 0, it defaults to 6 hours.
func NewWorker(catalog Catalog, sources map[string]PopularSource, pages int, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if pages <= 0 {
		pages = 1
	}
	return &Worker{
		catalog:  catalog,
		sources:  sources,
		pages:    pages,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run refreshes once immediately, then on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.RunOnce(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes every configured domain once. Per-domain failures are
// logged and skipped.
func (w *Worker) RunOnce(ctx context.Context) {
	for domain, src := range w.sources {
		n, err := SyncPopular(ctx, w.catalog, src, w.pages)
		if err != nil {
			w.logger.Warn("catalog refresh failed", "domain", domain, "error", err)
			continue
		}
		w.logger.Info("catalog refreshed", "domain", domain, "entities", n)
	}
}
