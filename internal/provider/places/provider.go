package places

import (
	"context"

	"github.com/kalambet/whatnext/internal/storage"
)

// Provider adapts the client to the recommendation engine's provider
// contract. The place-search API has no popularity or similarity endpoints,
// so those report no data; the restaurant engine works off the local
// catalog, filled by location sync.
type Provider struct {
	c *Client
}

// Provider returns the recommendation-engine view of the client.
func (c *Client) Provider() *Provider {
	return &Provider{c: c}
}

func (p *Provider) Popular(_ context.Context, _ int) ([]storage.Entity, error) {
	return nil, nil
}

func (p *Provider) Details(ctx context.Context, externalID string) (storage.Entity, error) {
	return p.c.Details(ctx, externalID)
}

func (p *Provider) Similar(_ context.Context, _ string) ([]storage.Entity, error) {
	return nil, nil
}
