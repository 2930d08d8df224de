// Package memory is the persistence-free Repository used for dev runs and
// tests. All state is guarded by one RWMutex; DecrementStock checks and
// applies under the write lock, so it is all-or-nothing per article.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amnsfrn/Store/internal/domain"
	"github.com/amnsfrn/Store/internal/store"
	"github.com/amnsfrn/Store/internal/xid"
)

type Store struct {
	mu    sync.RWMutex
	items map[string]domain.CatalogItem
	sales []domain.SaleRecord
}

func New() *Store {
	return &Store{items: make(map[string]domain.CatalogItem)}
}

// NewSeeded returns a store preloaded with a small boutique catalog for
// dev/demo mode (prices in DA).
func NewSeeded() *Store {
	items := []domain.CatalogItem{
		{Article: "Jeans Slim", PurchasePrice: dec(1000), ExtraCost: dec(100), SalePrice: dec(3000), QuantityOnHand: 12},
		{Article: "Pyjama Coton", PurchasePrice: dec(800), ExtraCost: dec(50), SalePrice: dec(2200), QuantityOnHand: 8},
		{Article: "Robe Soiree", PurchasePrice: dec(2500), ExtraCost: dec(200), SalePrice: dec(6500), QuantityOnHand: 4},
		{Article: "Chemise Lin", PurchasePrice: dec(1200), ExtraCost: dec(80), SalePrice: dec(3200), QuantityOnHand: 10},
		{Article: "Veste Hiver", PurchasePrice: dec(3500), ExtraCost: dec(300), SalePrice: dec(8900), QuantityOnHand: 5},
		{Article: "Foulard Soie", PurchasePrice: dec(400), ExtraCost: dec(30), SalePrice: dec(1200), QuantityOnHand: 20},
		{Article: "Ceinture Cuir", PurchasePrice: dec(600), ExtraCost: dec(40), SalePrice: dec(1800), QuantityOnHand: 15},
	}

	s := New()
	for _, item := range items {
		s.items[item.Article] = item
	}
	return s
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func (s *Store) ListItems(_ context.Context) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.CatalogItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Article < items[j].Article })
	return items, nil
}

func (s *Store) GetItem(_ context.Context, article string) (*domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[article]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

// SearchItems matches the query case-insensitively as a substring of the
// article name. Out-of-stock articles are excluded; results are sorted by
// name so repeated searches within a session are stable.
func (s *Store) SearchItems(_ context.Context, query string) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	matches := make([]domain.CatalogItem, 0, 16)
	for _, item := range s.items {
		if item.QuantityOnHand == 0 {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(item.Article), needle) {
			continue
		}
		matches = append(matches, item)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Article < matches[j].Article })
	return matches, nil
}

func (s *Store) UpsertItem(_ context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	if strings.TrimSpace(item.Article) == "" || item.QuantityOnHand < 0 {
		return nil, store.ErrInvalidItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.Article] = item
	saved := item
	return &saved, nil
}

// ApplyIntake folds a delivery into the catalog under the write lock: a new
// article is stored as-is, an existing one keeps its current stock plus the
// delivered quantity and takes the delivery's prices.
func (s *Store) ApplyIntake(_ context.Context, delivery domain.CatalogItem) (*domain.CatalogItem, error) {
	if strings.TrimSpace(delivery.Article) == "" || delivery.QuantityOnHand < 0 {
		return nil, store.ErrInvalidItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.items[delivery.Article]; ok {
		delivery.QuantityOnHand += existing.QuantityOnHand
	}
	s.items[delivery.Article] = delivery
	saved := delivery
	return &saved, nil
}

// AdjustStock applies a relative quantity change under the write lock, so it
// can never overwrite a concurrent decrement.
func (s *Store) AdjustStock(_ context.Context, article string, delta int) (*domain.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[article]
	if !ok {
		return nil, store.ErrNotFound
	}
	if item.QuantityOnHand+delta < 0 {
		return nil, &store.InsufficientStockError{
			Article:   article,
			Requested: -delta,
			Available: item.QuantityOnHand,
		}
	}
	item.QuantityOnHand += delta
	s.items[article] = item
	saved := item
	return &saved, nil
}

func (s *Store) DecrementStock(_ context.Context, article string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[article]
	if !ok {
		return store.ErrNotFound
	}
	if item.QuantityOnHand < qty {
		return &store.InsufficientStockError{
			Article:   article,
			Requested: qty,
			Available: item.QuantityOnHand,
		}
	}
	item.QuantityOnHand -= qty
	s.items[article] = item
	return nil
}

func (s *Store) AppendSale(_ context.Context, rec domain.SaleRecord) (*domain.SaleRecord, error) {
	if rec.Article == "" || rec.Quantity == 0 {
		return nil, store.ErrInvalidItem
	}
	if rec.ID == "" {
		rec.ID = xid.New("sale")
	}
	if rec.Date.IsZero() {
		rec.Date = domain.DateOnly(time.Now())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sales = append(s.sales, rec)
	saved := rec
	return &saved, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, article string) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SaleRecord, 0, len(s.sales))
	for _, rec := range s.sales {
		if !from.IsZero() && rec.Date.Before(from) {
			continue
		}
		if !to.IsZero() && rec.Date.After(to) {
			continue
		}
		if article != "" && rec.Article != article {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
