package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amnsfrn/Store/internal/cache"
	"github.com/amnsfrn/Store/internal/cart"
	"github.com/amnsfrn/Store/internal/domain"
	"github.com/amnsfrn/Store/internal/store"
	"github.com/amnsfrn/Store/internal/xid"
)

var ErrEmptyCart = errors.New("cart is empty")

// Service owns the checkout engine and the catalog/ledger operations around
// it. Stock-moving operations against one Service (checkout, intake, return)
// are serialized by checkoutMu, so the validate and commit phases of a
// checkout never interleave in-process with another mutation. Cross-process
// races are left to the repository's atomic stock primitives.
type Service struct {
	repo        store.Repository
	searchCache cache.SearchCache
	cacheTTL    time.Duration
	logger      *zap.Logger

	checkoutMu sync.Mutex
}

func New(repo store.Repository, searchCache cache.SearchCache, cacheTTL time.Duration, logger *zap.Logger) *Service {
	if searchCache == nil {
		searchCache = cache.NoopSearchCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:        repo,
		searchCache: searchCache,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

func (s *Service) ListCatalog(ctx context.Context) ([]domain.CatalogItem, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) GetItem(ctx context.Context, article string) (domain.CatalogItem, error) {
	article = strings.TrimSpace(article)
	if article == "" {
		return domain.CatalogItem{}, store.ErrInvalidItem
	}

	item, err := s.repo.GetItem(ctx, article)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return *item, nil
}

// Search answers the operator's till search, serving from the cache when a
// recent identical query is available. Cache failures degrade to a direct
// repository read; they never fail the search.
func (s *Service) Search(ctx context.Context, query string) ([]domain.CatalogItem, error) {
	query = strings.TrimSpace(query)

	if cached, ok, err := s.searchCache.Get(ctx, query); err != nil {
		s.logger.Warn("search cache read failed", zap.String("query", query), zap.Error(err))
	} else if ok {
		return cached, nil
	}

	items, err := s.repo.SearchItems(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := s.searchCache.Set(ctx, query, items, s.cacheTTL); err != nil {
		s.logger.Warn("search cache write failed", zap.String("query", query), zap.Error(err))
	}
	return items, nil
}

// Intake records a delivery: a new article is created as described, an
// existing one gets its per-unit prices replaced and the delivered quantity
// added to stock. The addition happens inside the repository as one atomic
// step, so a sale committed by another till mid-intake is never overwritten.
// Extra cost is already per-unit; batch-total division is an intake-UI
// concern, not handled here.
func (s *Service) Intake(ctx context.Context, req domain.IntakeRequest) (domain.CatalogItem, error) {
	req.Article = strings.TrimSpace(req.Article)
	if req.Article == "" || req.Quantity < 0 {
		return domain.CatalogItem{}, store.ErrInvalidItem
	}
	if req.PurchasePrice.IsNegative() || req.ExtraCost.IsNegative() || req.SalePrice.IsNegative() {
		return domain.CatalogItem{}, store.ErrInvalidItem
	}

	s.checkoutMu.Lock()
	defer s.checkoutMu.Unlock()

	saved, err := s.repo.ApplyIntake(ctx, domain.CatalogItem{
		Article:        req.Article,
		PurchasePrice:  req.PurchasePrice,
		ExtraCost:      req.ExtraCost,
		SalePrice:      req.SalePrice,
		QuantityOnHand: req.Quantity,
	})
	if err != nil {
		return domain.CatalogItem{}, err
	}

	s.invalidateSearchCache(ctx)
	s.logger.Info("intake recorded",
		zap.String("article", saved.Article),
		zap.Int("added", req.Quantity),
		zap.Int("quantity_on_hand", saved.QuantityOnHand),
	)
	return *saved, nil
}

// BuildCart assembles a cart from wire lines through the cart's own
// operations, so the request obeys the same bounds an interactive session
// would: snapshot on add, quantity clamped to add-time stock, free price
// override.
func (s *Service) BuildCart(ctx context.Context, req domain.CheckoutRequest) (*cart.Cart, error) {
	c := cart.New()
	for _, line := range req.Lines {
		article := strings.TrimSpace(line.Article)
		if article == "" || line.Quantity < 1 {
			return nil, store.ErrInvalidItem
		}

		item, err := s.repo.GetItem(ctx, article)
		if err != nil {
			return nil, fmt.Errorf("article %q: %w", article, err)
		}
		if err := c.Add(*item); err != nil {
			return nil, fmt.Errorf("article %q: %w", article, err)
		}
		if line.Quantity > 1 {
			if err := c.SetQuantity(article, line.Quantity); err != nil {
				return nil, fmt.Errorf("article %q: %w", article, err)
			}
		}
		if line.UnitPrice != nil {
			if err := c.SetPrice(article, *line.UnitPrice); err != nil {
				return nil, fmt.Errorf("article %q: %w", article, err)
			}
		}
	}
	return c, nil
}

// Checkout converts the cart into committed stock decrements and ledger
// records.
//
// Validating: every line is re-checked against current stock; add-time cart
// bounds are only a hint. Any shortfall aborts the whole checkout before
// anything is written.
//
// Committing: per line, stock is decremented (and persisted by the gateway)
// before the matching sale record is appended. If a line fails after earlier
// lines committed, the engine stops and returns a *store.PartialCommitError
// naming the committed, failed and unapplied lines; the cart is left intact
// so the condition stays visible to the caller.
func (s *Service) Checkout(ctx context.Context, c *cart.Cart) (domain.Receipt, error) {
	if c == nil || c.IsEmpty() {
		return domain.Receipt{}, ErrEmptyCart
	}

	s.checkoutMu.Lock()
	defer s.checkoutMu.Unlock()

	lines := c.Lines()

	// Validating.
	for _, line := range lines {
		item, err := s.repo.GetItem(ctx, line.Article)
		if err != nil {
			return domain.Receipt{}, fmt.Errorf("article %q: %w", line.Article, err)
		}
		if item.QuantityOnHand < line.Quantity {
			return domain.Receipt{}, &store.InsufficientStockError{
				Article:   line.Article,
				Requested: line.Quantity,
				Available: item.QuantityOnHand,
			}
		}
	}

	// Committing.
	saleDate := domain.DateOnly(time.Now())
	records := make([]domain.SaleRecord, 0, len(lines))
	totalRevenue := decimal.Zero
	totalProfit := decimal.Zero

	for i, line := range lines {
		if err := s.repo.DecrementStock(ctx, line.Article, line.Quantity); err != nil {
			return domain.Receipt{}, s.commitFailure(lines, records, i, line.Article, err)
		}

		qty := decimal.NewFromInt(int64(line.Quantity))
		rec := domain.SaleRecord{
			ID:       xid.New("sale"),
			Date:     saleDate,
			Article:  line.Article,
			Quantity: line.Quantity,
			Revenue:  line.UnitPrice.Mul(qty),
			Profit:   line.UnitProfit().Mul(qty),
		}

		saved, err := s.repo.AppendSale(ctx, rec)
		if err != nil {
			// Stock for this line already moved; this is always a partial commit.
			return domain.Receipt{}, &store.PartialCommitError{
				Committed: committedArticles(records),
				Failed:    line.Article,
				Unapplied: unappliedArticles(lines, i+1),
				Err:       err,
			}
		}

		records = append(records, *saved)
		totalRevenue = totalRevenue.Add(saved.Revenue)
		totalProfit = totalProfit.Add(saved.Profit)
	}

	c.Clear()
	s.invalidateSearchCache(ctx)

	receipt := domain.Receipt{
		ReceiptID:    xid.New("rcpt"),
		TotalRevenue: totalRevenue,
		TotalProfit:  totalProfit,
		LineCount:    len(records),
		Records:      records,
		CreatedAt:    time.Now().UTC(),
	}

	s.logger.Info("checkout committed",
		zap.String("receipt_id", receipt.ReceiptID),
		zap.Int("lines", receipt.LineCount),
		zap.String("revenue", receipt.TotalRevenue.String()),
		zap.String("profit", receipt.TotalProfit.String()),
	)
	return receipt, nil
}

// commitFailure classifies a failed decrement: with nothing committed yet the
// checkout aborts cleanly, otherwise inventory and ledger have diverged and
// the error says exactly how far the commit got.
func (s *Service) commitFailure(lines []cart.Line, records []domain.SaleRecord, idx int, article string, err error) error {
	if len(records) == 0 {
		return fmt.Errorf("article %q: %w", article, err)
	}

	partial := &store.PartialCommitError{
		Committed: committedArticles(records),
		Failed:    article,
		Unapplied: unappliedArticles(lines, idx+1),
		Err:       err,
	}
	s.logger.Error("checkout partially committed",
		zap.Strings("committed", partial.Committed),
		zap.String("failed", partial.Failed),
		zap.Strings("unapplied", partial.Unapplied),
		zap.Error(err),
	)
	return partial
}

// RecordReturn appends a compensating ledger record with negative quantity,
// revenue and profit, then adds the returned units back to stock through the
// repository's atomic adjust, so concurrent sales are never overwritten.
// History is preserved: the original sale records are never touched.
func (s *Service) RecordReturn(ctx context.Context, req domain.ReturnRequest) (domain.SaleRecord, error) {
	req.Article = strings.TrimSpace(req.Article)
	if req.Article == "" || req.Quantity < 1 {
		return domain.SaleRecord{}, store.ErrInvalidItem
	}

	s.checkoutMu.Lock()
	defer s.checkoutMu.Unlock()

	item, err := s.repo.GetItem(ctx, req.Article)
	if err != nil {
		return domain.SaleRecord{}, err
	}

	unitPrice := item.SalePrice
	if req.UnitPrice != nil {
		unitPrice = *req.UnitPrice
	}

	qty := decimal.NewFromInt(int64(req.Quantity))
	rec := domain.SaleRecord{
		ID:       xid.New("ret"),
		Date:     domain.DateOnly(time.Now()),
		Article:  req.Article,
		Quantity: -req.Quantity,
		Revenue:  unitPrice.Mul(qty).Neg(),
		Profit:   unitPrice.Sub(item.UnitCost()).Mul(qty).Neg(),
	}

	saved, err := s.repo.AppendSale(ctx, rec)
	if err != nil {
		return domain.SaleRecord{}, err
	}

	if _, err := s.repo.AdjustStock(ctx, req.Article, req.Quantity); err != nil {
		// The compensating record is in the ledger but stock did not move.
		divergence := &store.LedgerDivergenceError{
			RecordID: saved.ID,
			Article:  req.Article,
			Quantity: req.Quantity,
			Err:      err,
		}
		s.logger.Error("return recorded but restock failed",
			zap.String("record_id", saved.ID),
			zap.String("article", req.Article),
			zap.Int("quantity", req.Quantity),
			zap.Error(err),
		)
		return domain.SaleRecord{}, divergence
	}

	s.invalidateSearchCache(ctx)
	return *saved, nil
}

// QuerySales serves the reporting layer: matching ledger records plus their
// revenue and profit sums.
func (s *Service) QuerySales(ctx context.Context, from time.Time, to time.Time, article string) (domain.SalesQueryResponse, error) {
	records, err := s.repo.ListSales(ctx, from, to, strings.TrimSpace(article))
	if err != nil {
		return domain.SalesQueryResponse{}, err
	}

	resp := domain.SalesQueryResponse{
		Records:      records,
		TotalRevenue: decimal.Zero,
		TotalProfit:  decimal.Zero,
	}
	for _, rec := range records {
		resp.TotalRevenue = resp.TotalRevenue.Add(rec.Revenue)
		resp.TotalProfit = resp.TotalProfit.Add(rec.Profit)
	}
	return resp, nil
}

func (s *Service) invalidateSearchCache(ctx context.Context) {
	if err := s.searchCache.Invalidate(ctx); err != nil {
		s.logger.Warn("search cache invalidation failed", zap.Error(err))
	}
}

func committedArticles(records []domain.SaleRecord) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Article)
	}
	return out
}

func unappliedArticles(lines []cart.Line, start int) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines[start:] {
		out = append(out, line.Article)
	}
	return out
}
