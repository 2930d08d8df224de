package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amnsfrn/Store/internal/cart"
	"github.com/amnsfrn/Store/internal/domain"
	"github.com/amnsfrn/Store/internal/store"
	"github.com/amnsfrn/Store/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.New()
	return New(repo, nil, time.Second, zap.NewNop()), repo
}

func seedJeans(t *testing.T, repo *memory.Store, qty int) domain.CatalogItem {
	t.Helper()
	item := domain.CatalogItem{
		Article:        "Jeans",
		PurchasePrice:  decimal.NewFromInt(1000),
		ExtraCost:      decimal.NewFromInt(100),
		SalePrice:      decimal.NewFromInt(3000),
		QuantityOnHand: qty,
	}
	if _, err := repo.UpsertItem(context.Background(), item); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return item
}

func TestCheckoutScenario(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	item := seedJeans(t, repo, 5)

	c := cart.New()
	if err := c.Add(item); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.SetQuantity("Jeans", 6); !errors.Is(err, cart.ErrOutOfRange) {
		t.Fatalf("expected out-of-range for quantity 6, got %v", err)
	}
	if err := c.SetQuantity("Jeans", 3); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}

	receipt, err := svc.Checkout(ctx, c)
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if receipt.LineCount != 1 {
		t.Fatalf("expected 1 receipt line, got %d", receipt.LineCount)
	}
	if !receipt.TotalRevenue.Equal(decimal.NewFromInt(9000)) {
		t.Fatalf("expected revenue 9000, got %s", receipt.TotalRevenue)
	}
	// 3 * (3000 - (1000 + 100)) = 5700
	if !receipt.TotalProfit.Equal(decimal.NewFromInt(5700)) {
		t.Fatalf("expected profit 5700, got %s", receipt.TotalProfit)
	}

	after, err := repo.GetItem(ctx, "Jeans")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if after.QuantityOnHand != 2 {
		t.Fatalf("expected quantity 2 after checkout, got %d", after.QuantityOnHand)
	}

	sales, err := repo.ListSales(ctx, time.Time{}, time.Time{}, "Jeans")
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 1 || sales[0].Quantity != 3 {
		t.Fatalf("expected one sale of 3 units, got %+v", sales)
	}

	if !c.IsEmpty() {
		t.Fatalf("cart must be cleared after successful checkout")
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Checkout(context.Background(), cart.New()); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestCheckoutRevalidatesAgainstCurrentStock(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	item := seedJeans(t, repo, 5)

	c := cart.New()
	_ = c.Add(item)
	if err := c.SetQuantity("Jeans", 3); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}

	// Another till sold most of the stock after the add-time snapshot.
	if err := repo.DecrementStock(ctx, "Jeans", 4); err != nil {
		t.Fatalf("concurrent decrement failed: %v", err)
	}

	_, err := svc.Checkout(ctx, c)
	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Article != "Jeans" || insufficient.Requested != 3 || insufficient.Available != 1 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}

	// Nothing may be committed on a validation failure.
	sales, _ := repo.ListSales(ctx, time.Time{}, time.Time{}, "")
	if len(sales) != 0 {
		t.Fatalf("expected no sale records, got %d", len(sales))
	}
	after, _ := repo.GetItem(ctx, "Jeans")
	if after.QuantityOnHand != 1 {
		t.Fatalf("stock must be untouched by the failed checkout, got %d", after.QuantityOnHand)
	}
	if c.IsEmpty() {
		t.Fatalf("cart must survive a failed checkout")
	}
}

func TestCheckoutAcceptsNegativeProfit(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	item := seedJeans(t, repo, 5)

	c := cart.New()
	_ = c.Add(item)
	if err := c.SetPrice("Jeans", decimal.NewFromInt(900)); err != nil {
		t.Fatalf("set price failed: %v", err)
	}

	receipt, err := svc.Checkout(ctx, c)
	if err != nil {
		t.Fatalf("below-cost sale must not be blocked: %v", err)
	}
	// 1 * (900 - 1100) = -200
	if !receipt.TotalProfit.Equal(decimal.NewFromInt(-200)) {
		t.Fatalf("expected profit -200, got %s", receipt.TotalProfit)
	}
}

func TestLedgerStockReconciliation(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	const initial = 10
	item := seedJeans(t, repo, initial)

	for _, qty := range []int{2, 3, 1} {
		c := cart.New()
		_ = c.Add(item)
		if err := c.SetQuantity("Jeans", qty); err != nil {
			t.Fatalf("set quantity failed: %v", err)
		}
		if _, err := svc.Checkout(ctx, c); err != nil {
			t.Fatalf("checkout of %d failed: %v", qty, err)
		}
	}

	sales, err := repo.ListSales(ctx, time.Time{}, time.Time{}, "Jeans")
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	sold := 0
	for _, rec := range sales {
		sold += rec.Quantity
	}

	after, err := repo.GetItem(ctx, "Jeans")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if initial-sold != after.QuantityOnHand {
		t.Fatalf("ledger and stock diverged: initial %d, sold %d, on hand %d", initial, sold, after.QuantityOnHand)
	}
}

func TestConcurrentCheckoutsOverLastUnit(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	item := seedJeans(t, repo, 1)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := cart.New()
			if err := c.Add(item); err != nil {
				results <- err
				return
			}
			_, err := svc.Checkout(ctx, c)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		switch {
		case err == nil:
			successes++
		default:
			var insufficient *store.InsufficientStockError
			if !errors.As(err, &insufficient) {
				t.Fatalf("unexpected error: %v", err)
			}
			conflicts++
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d conflicts", successes, conflicts)
	}

	after, _ := repo.GetItem(ctx, "Jeans")
	if after.QuantityOnHand != 0 {
		t.Fatalf("expected stock 0, got %d", after.QuantityOnHand)
	}
}

// faultyRepo fails DecrementStock for one article, simulating a backend that
// dies mid-commit.
type faultyRepo struct {
	store.Repository
	failArticle string
}

func (f *faultyRepo) DecrementStock(ctx context.Context, article string, qty int) error {
	if article == f.failArticle {
		return errors.New("backing store unavailable")
	}
	return f.Repository.DecrementStock(ctx, article, qty)
}

func TestPartialCommitIsSurfaced(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	jeans := seedJeans(t, repo, 5)
	pyjama := domain.CatalogItem{
		Article:        "Pyjama",
		PurchasePrice:  decimal.NewFromInt(800),
		ExtraCost:      decimal.NewFromInt(50),
		SalePrice:      decimal.NewFromInt(2200),
		QuantityOnHand: 5,
	}
	if _, err := repo.UpsertItem(ctx, pyjama); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	svc := New(&faultyRepo{Repository: repo, failArticle: "Pyjama"}, nil, time.Second, zap.NewNop())

	c := cart.New()
	_ = c.Add(jeans)
	_ = c.Add(pyjama)

	_, err := svc.Checkout(ctx, c)
	var partial *store.PartialCommitError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialCommitError, got %v", err)
	}
	if len(partial.Committed) != 1 || partial.Committed[0] != "Jeans" {
		t.Fatalf("expected Jeans committed, got %+v", partial.Committed)
	}
	if partial.Failed != "Pyjama" {
		t.Fatalf("expected failure on Pyjama, got %q", partial.Failed)
	}

	// The committed line is real: stock moved and the ledger has its record.
	after, _ := repo.GetItem(ctx, "Jeans")
	if after.QuantityOnHand != 4 {
		t.Fatalf("expected Jeans stock 4, got %d", after.QuantityOnHand)
	}
	sales, _ := repo.ListSales(ctx, time.Time{}, time.Time{}, "")
	if len(sales) != 1 || sales[0].Article != "Jeans" {
		t.Fatalf("expected exactly the Jeans sale in the ledger, got %+v", sales)
	}
	if c.IsEmpty() {
		t.Fatalf("cart must not be cleared after a partial commit")
	}
}

func TestCleanAbortWhenFirstLineFails(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	jeans := seedJeans(t, repo, 5)

	svc := New(&faultyRepo{Repository: repo, failArticle: "Jeans"}, nil, time.Second, zap.NewNop())

	c := cart.New()
	_ = c.Add(jeans)

	_, err := svc.Checkout(ctx, c)
	if err == nil {
		t.Fatalf("expected checkout to fail")
	}
	var partial *store.PartialCommitError
	if errors.As(err, &partial) {
		t.Fatalf("a failure before any commit is not a partial commit: %v", err)
	}

	sales, _ := repo.ListSales(ctx, time.Time{}, time.Time{}, "")
	if len(sales) != 0 {
		t.Fatalf("expected empty ledger, got %d records", len(sales))
	}
}

func TestIntakeCreatesAndTopsUp(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	created, err := svc.Intake(ctx, domain.IntakeRequest{
		Article:       "Foulard",
		PurchasePrice: decimal.NewFromInt(400),
		ExtraCost:     decimal.NewFromInt(30),
		SalePrice:     decimal.NewFromInt(1200),
		Quantity:      10,
	})
	if err != nil {
		t.Fatalf("intake failed: %v", err)
	}
	if created.QuantityOnHand != 10 {
		t.Fatalf("expected quantity 10, got %d", created.QuantityOnHand)
	}

	updated, err := svc.Intake(ctx, domain.IntakeRequest{
		Article:       "Foulard",
		PurchasePrice: decimal.NewFromInt(450),
		ExtraCost:     decimal.NewFromInt(30),
		SalePrice:     decimal.NewFromInt(1300),
		Quantity:      5,
	})
	if err != nil {
		t.Fatalf("second intake failed: %v", err)
	}
	if updated.QuantityOnHand != 15 {
		t.Fatalf("expected stock topped up to 15, got %d", updated.QuantityOnHand)
	}
	if !updated.SalePrice.Equal(decimal.NewFromInt(1300)) {
		t.Fatalf("expected refreshed sale price, got %s", updated.SalePrice)
	}

	if _, err := repo.GetItem(ctx, "Foulard"); err != nil {
		t.Fatalf("item missing from repo: %v", err)
	}
}

// racingTillRepo commits a sale on the underlying store at the instant an
// intake is applied, simulating another till selling between the operator's
// last catalog read and the delivery being recorded.
type racingTillRepo struct {
	store.Repository
	sellArticle string
	sellQty     int
}

func (r *racingTillRepo) ApplyIntake(ctx context.Context, delivery domain.CatalogItem) (*domain.CatalogItem, error) {
	if err := r.Repository.DecrementStock(ctx, r.sellArticle, r.sellQty); err != nil {
		return nil, err
	}
	if _, err := r.Repository.AppendSale(ctx, domain.SaleRecord{
		Article:  r.sellArticle,
		Quantity: r.sellQty,
		Revenue:  decimal.NewFromInt(6000),
		Profit:   decimal.NewFromInt(3800),
	}); err != nil {
		return nil, err
	}
	return r.Repository.ApplyIntake(ctx, delivery)
}

func TestIntakeDoesNotOverwriteConcurrentSale(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	seedJeans(t, repo, 5)

	svc := New(&racingTillRepo{Repository: repo, sellArticle: "Jeans", sellQty: 2}, nil, time.Second, zap.NewNop())

	saved, err := svc.Intake(ctx, domain.IntakeRequest{
		Article:       "Jeans",
		PurchasePrice: decimal.NewFromInt(1000),
		ExtraCost:     decimal.NewFromInt(100),
		SalePrice:     decimal.NewFromInt(3000),
		Quantity:      10,
	})
	if err != nil {
		t.Fatalf("intake failed: %v", err)
	}

	// 5 seeded - 2 sold + 10 delivered: the sale must not be resurrected.
	if saved.QuantityOnHand != 13 {
		t.Fatalf("expected quantity 13, got %d", saved.QuantityOnHand)
	}

	sales, _ := repo.ListSales(ctx, time.Time{}, time.Time{}, "Jeans")
	sold := 0
	for _, rec := range sales {
		sold += rec.Quantity
	}
	after, _ := repo.GetItem(ctx, "Jeans")
	if 5+10-sold != after.QuantityOnHand {
		t.Fatalf("reconciliation broken: intaken 15, sold %d, on hand %d", sold, after.QuantityOnHand)
	}
}

// restockFailRepo fails AdjustStock, simulating a backend that dies between a
// return's ledger append and its restock.
type restockFailRepo struct {
	store.Repository
}

func (r *restockFailRepo) AdjustStock(context.Context, string, int) (*domain.CatalogItem, error) {
	return nil, errors.New("backing store unavailable")
}

func TestReturnRestockFailureIsSurfaced(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	seedJeans(t, repo, 5)

	svc := New(&restockFailRepo{Repository: repo}, nil, time.Second, zap.NewNop())

	_, err := svc.RecordReturn(ctx, domain.ReturnRequest{Article: "Jeans", Quantity: 1})
	var divergence *store.LedgerDivergenceError
	if !errors.As(err, &divergence) {
		t.Fatalf("expected LedgerDivergenceError, got %v", err)
	}
	if divergence.Article != "Jeans" || divergence.Quantity != 1 || divergence.RecordID == "" {
		t.Fatalf("unexpected divergence detail: %+v", divergence)
	}

	// The compensating record is in the ledger; stock never moved.
	sales, _ := repo.ListSales(ctx, time.Time{}, time.Time{}, "Jeans")
	if len(sales) != 1 || sales[0].Quantity != -1 {
		t.Fatalf("expected the compensating record in the ledger, got %+v", sales)
	}
	after, _ := repo.GetItem(ctx, "Jeans")
	if after.QuantityOnHand != 5 {
		t.Fatalf("expected stock untouched at 5, got %d", after.QuantityOnHand)
	}
}

func TestRecordReturnCompensates(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	item := seedJeans(t, repo, 5)

	c := cart.New()
	_ = c.Add(item)
	_ = c.SetQuantity("Jeans", 3)
	if _, err := svc.Checkout(ctx, c); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	rec, err := svc.RecordReturn(ctx, domain.ReturnRequest{Article: "Jeans", Quantity: 1})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if rec.Quantity != -1 || !rec.Revenue.Equal(decimal.NewFromInt(-3000)) {
		t.Fatalf("expected compensating record, got %+v", rec)
	}

	after, _ := repo.GetItem(ctx, "Jeans")
	if after.QuantityOnHand != 3 {
		t.Fatalf("expected restocked quantity 3, got %d", after.QuantityOnHand)
	}

	// Reconciliation holds across the sale and the return.
	sales, _ := repo.ListSales(ctx, time.Time{}, time.Time{}, "Jeans")
	sold := 0
	for _, r := range sales {
		sold += r.Quantity
	}
	if 5-sold != after.QuantityOnHand {
		t.Fatalf("ledger and stock diverged after return: sold %d, on hand %d", sold, after.QuantityOnHand)
	}
}

// countingCache records cache traffic so the search path can be asserted.
type countingCache struct {
	mu      sync.Mutex
	entries map[string][]domain.CatalogItem
	hits    int
	sets    int
}

func (c *countingCache) Get(_ context.Context, query string) ([]domain.CatalogItem, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.entries[query]
	if ok {
		c.hits++
	}
	return items, ok, nil
}

func (c *countingCache) Set(_ context.Context, query string, items []domain.CatalogItem, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string][]domain.CatalogItem)
	}
	c.entries[query] = items
	c.sets++
	return nil
}

func (c *countingCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	return nil
}

func TestSearchUsesCacheAndInvalidatesOnMutation(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	seedJeans(t, repo, 5)

	cc := &countingCache{}
	svc := New(repo, cc, time.Second, zap.NewNop())

	if _, err := svc.Search(ctx, "jean"); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if _, err := svc.Search(ctx, "jean"); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if cc.sets != 1 || cc.hits != 1 {
		t.Fatalf("expected one fill and one hit, got sets=%d hits=%d", cc.sets, cc.hits)
	}

	if _, err := svc.Intake(ctx, domain.IntakeRequest{
		Article:       "Jeans",
		PurchasePrice: decimal.NewFromInt(1000),
		ExtraCost:     decimal.NewFromInt(100),
		SalePrice:     decimal.NewFromInt(3000),
		Quantity:      1,
	}); err != nil {
		t.Fatalf("intake failed: %v", err)
	}

	if _, err := svc.Search(ctx, "jean"); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if cc.sets != 2 {
		t.Fatalf("expected cache refill after invalidation, sets=%d", cc.sets)
	}
}

func TestQuerySalesTotals(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	item := seedJeans(t, repo, 5)

	c := cart.New()
	_ = c.Add(item)
	_ = c.SetQuantity("Jeans", 2)
	if _, err := svc.Checkout(ctx, c); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	resp, err := svc.QuerySales(ctx, time.Time{}, time.Time{}, "Jeans")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(resp.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(resp.Records))
	}
	if !resp.TotalRevenue.Equal(decimal.NewFromInt(6000)) {
		t.Fatalf("expected revenue total 6000, got %s", resp.TotalRevenue)
	}
	if !resp.TotalProfit.Equal(decimal.NewFromInt(3800)) {
		t.Fatalf("expected profit total 3800, got %s", resp.TotalProfit)
	}
}
