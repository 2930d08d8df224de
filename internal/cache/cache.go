package cache

import (
	"context"
	"time"

	"github.com/amnsfrn/Store/internal/domain"
)

// SearchCache memoizes catalog search results. Invalidate drops every cached
// query at once; it is called after any mutation that changes what a search
// may return (intake, checkout, return).
type SearchCache interface {
	Get(ctx context.Context, query string) ([]domain.CatalogItem, bool, error)
	Set(ctx context.Context, query string, items []domain.CatalogItem, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSearchCache struct{}

func (NoopSearchCache) Get(_ context.Context, _ string) ([]domain.CatalogItem, bool, error) {
	return nil, false, nil
}

func (NoopSearchCache) Set(_ context.Context, _ string, _ []domain.CatalogItem, _ time.Duration) error {
	return nil
}

func (NoopSearchCache) Invalidate(_ context.Context) error {
	return nil
}
