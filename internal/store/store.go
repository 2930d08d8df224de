package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amnsfrn/Store/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidItem = errors.New("invalid item")
)

// InsufficientStockError names the offending article and the requested versus
// available quantity, so a failed checkout can tell the operator exactly which
// line blocked it.
type InsufficientStockError struct {
	Article   string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.Article, e.Requested, e.Available)
}

// PartialCommitError reports a checkout that failed mid-commit: some lines
// decremented stock and reached the ledger, the rest did not. It implies
// inventory/ledger divergence for the unapplied lines and must never be
// swallowed.
type PartialCommitError struct {
	Committed []string // articles fully committed (stock decremented, sale appended)
	Failed    string   // article whose commit step failed
	Unapplied []string // articles never attempted
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit: %d line(s) committed, failed on %q: %v", len(e.Committed), e.Failed, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }

// LedgerDivergenceError reports a compensating ledger record that was written
// while the matching stock adjustment failed. Like PartialCommitError it names
// exactly what diverged and must never be swallowed.
type LedgerDivergenceError struct {
	RecordID string
	Article  string
	Quantity int
	Err      error
}

func (e *LedgerDivergenceError) Error() string {
	return fmt.Sprintf("ledger diverged: record %s for %q written, stock adjustment of %d failed: %v", e.RecordID, e.Article, e.Quantity, e.Err)
}

func (e *LedgerDivergenceError) Unwrap() error { return e.Err }

// Repository is the durable state behind one or more tills: the article
// catalog and the append-only sales ledger.
//
// DecrementStock, AdjustStock and ApplyIntake are the optimistic-concurrency
// primitives: each applies fully or not at all against the stock at the
// instant of the call. Quantity changes are expressed relative to current
// stock, never as an absolute write computed from an earlier read, so a
// concurrent checkout between a caller's read and its mutation cannot be
// overwritten.
type Repository interface {
	ListItems(ctx context.Context) ([]domain.CatalogItem, error)
	GetItem(ctx context.Context, article string) (*domain.CatalogItem, error)
	SearchItems(ctx context.Context, query string) ([]domain.CatalogItem, error)
	// UpsertItem replaces the article wholesale, quantity included. It is for
	// seeding and admin correction; stock-moving paths use the relative
	// primitives below.
	UpsertItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error)
	// ApplyIntake creates the article, or refreshes its prices and adds
	// delivery.QuantityOnHand to the current stock, in one atomic step.
	ApplyIntake(ctx context.Context, delivery domain.CatalogItem) (*domain.CatalogItem, error)
	// AdjustStock adds delta (which may be negative) to the article's stock.
	// A result below zero is refused with an InsufficientStockError.
	AdjustStock(ctx context.Context, article string, delta int) (*domain.CatalogItem, error)
	DecrementStock(ctx context.Context, article string, qty int) error
	AppendSale(ctx context.Context, rec domain.SaleRecord) (*domain.SaleRecord, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, article string) ([]domain.SaleRecord, error)
}
