// Package file is the whole-file persistence gateway: the catalog and the
// sales ledger each live in one JSON snapshot that is rewritten wholesale on
// every mutation, before the mutating call returns. A missing or unparseable
// snapshot loads as an empty state, never as a fatal error.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amnsfrn/Store/internal/domain"
	"github.com/amnsfrn/Store/internal/store"
	"github.com/amnsfrn/Store/internal/xid"
)

const (
	catalogFile = "catalog.json"
	salesFile   = "sales.json"
)

type Store struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	items map[string]domain.CatalogItem
	sales []domain.SaleRecord
}

// Open loads the snapshots under dir, creating dir if needed. Corrupt or
// absent snapshots are logged and replaced by empty state on the next save.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		logger: logger,
		items:  make(map[string]domain.CatalogItem),
	}

	var items []domain.CatalogItem
	if ok := s.loadSnapshot(catalogFile, &items); ok {
		for _, item := range items {
			s.items[item.Article] = item
		}
	}
	s.loadSnapshot(salesFile, &s.sales)

	return s, nil
}

// loadSnapshot reads one snapshot into dest. Any failure leaves dest zeroed
// and reports the store as empty; losing a snapshot must not take the till
// down.
func (s *Store) loadSnapshot(name string, dest any) bool {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("snapshot unreadable, starting empty", zap.String("file", name), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.Warn("snapshot corrupt, starting empty", zap.String("file", name), zap.Error(err))
		return false
	}
	return true
}

// saveSnapshot rewrites one snapshot via temp file + rename so a crash
// mid-write can never leave a half-written file behind.
func (s *Store) saveSnapshot(name string, payload any) error {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp := filepath.Join(s.dir, name+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (s *Store) catalogSlice() []domain.CatalogItem {
	items := make([]domain.CatalogItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Article < items[j].Article })
	return items
}

func (s *Store) ListItems(_ context.Context) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalogSlice(), nil
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

	prev, existed := s.items[item.Article]
	s.items[item.Article] = item

	if err := s.saveSnapshot(catalogFile, s.catalogSlice()); err != nil {
		// Roll back so memory never diverges from disk.
		if existed {
			s.items[item.Article] = prev
		} else {
			delete(s.items, item.Article)
		}
		return nil, err
	}

	saved := item
	return &saved, nil
}

// ApplyIntake adds the delivered quantity to the article's current stock (or
// creates the article) and persists the catalog before returning, so the
// delivery can never overwrite a sale that landed since the caller last read.
func (s *Store) ApplyIntake(_ context.Context, delivery domain.CatalogItem) (*domain.CatalogItem, error) {
	if strings.TrimSpace(delivery.Article) == "" || delivery.QuantityOnHand < 0 {
		return nil, store.ErrInvalidItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.items[delivery.Article]
	if existed {
		delivery.QuantityOnHand += prev.QuantityOnHand
	}
	s.items[delivery.Article] = delivery

	if err := s.saveSnapshot(catalogFile, s.catalogSlice()); err != nil {
		if existed {
			s.items[delivery.Article] = prev
		} else {
			delete(s.items, delivery.Article)
		}
		return nil, err
	}

	saved := delivery
	return &saved, nil
}

// AdjustStock applies a relative quantity change and persists it before
// returning, refusing any change that would take stock below zero.
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

	prev := item
	item.QuantityOnHand += delta
	s.items[article] = item

	if err := s.saveSnapshot(catalogFile, s.catalogSlice()); err != nil {
		s.items[article] = prev
		return nil, err
	}

	saved := item
	return &saved, nil
}

// DecrementStock applies fully or not at all, and the decremented catalog
// snapshot reaches disk before the call returns. The checkout engine relies
// on that ordering: stock is durable before the matching ledger append.
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

	prev := item
	item.QuantityOnHand -= qty
	s.items[article] = item

	if err := s.saveSnapshot(catalogFile, s.catalogSlice()); err != nil {
		s.items[article] = prev
		return err
	}
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
	if err := s.saveSnapshot(salesFile, s.sales); err != nil {
		s.sales = s.sales[:len(s.sales)-1]
		return nil, err
	}

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
