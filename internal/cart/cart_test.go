package cart

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/amnsfrn/Store/internal/domain"
)

func jeans() domain.CatalogItem {
	return domain.CatalogItem{
		Article:        "Jeans",
		PurchasePrice:  decimal.NewFromInt(1000),
		ExtraCost:      decimal.NewFromInt(100),
		SalePrice:      decimal.NewFromInt(3000),
		QuantityOnHand: 5,
	}
}

func TestAddSnapshotsCatalogItem(t *testing.T) {
	c := New()
	if err := c.Add(jeans()); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	lines := c.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	line := lines[0]
	if line.Quantity != 1 {
		t.Fatalf("expected quantity 1, got %d", line.Quantity)
	}
	if line.MaxQuantity != 5 {
		t.Fatalf("expected max quantity 5, got %d", line.MaxQuantity)
	}
	if !line.UnitPrice.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected default price 3000, got %s", line.UnitPrice)
	}
}

func TestReAddIncrementsExistingLine(t *testing.T) {
	c := New()
	_ = c.Add(jeans())
	_ = c.Add(jeans())

	lines := c.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected a single line after re-add, got %d", len(lines))
	}
	if lines[0].Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", lines[0].Quantity)
	}
}

func TestReAddClampsAtMax(t *testing.T) {
	item := jeans()
	item.QuantityOnHand = 2

	c := New()
	for i := 0; i < 5; i++ {
		if err := c.Add(item); err != nil {
			t.Fatalf("add %d failed: %v", i, err)
		}
	}
	if got := c.Lines()[0].Quantity; got != 2 {
		t.Fatalf("expected quantity clamped to 2, got %d", got)
	}
}

func TestAddOutOfStockItem(t *testing.T) {
	item := jeans()
	item.QuantityOnHand = 0

	c := New()
	if err := c.Add(item); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
	if !c.IsEmpty() {
		t.Fatalf("cart should stay empty after a rejected add")
	}
}

func TestSetQuantityBounds(t *testing.T) {
	c := New()
	_ = c.Add(jeans())

	if err := c.SetQuantity("Jeans", 6); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange above max, got %v", err)
	}
	if err := c.SetQuantity("Jeans", 0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange below 1, got %v", err)
	}
	if err := c.SetQuantity("Jeans", 3); err != nil {
		t.Fatalf("expected in-range quantity to succeed: %v", err)
	}
	if err := c.SetQuantity("Pyjama", 1); !errors.Is(err, ErrNotInCart) {
		t.Fatalf("expected ErrNotInCart, got %v", err)
	}
}

func TestSetPriceIsUnbounded(t *testing.T) {
	c := New()
	_ = c.Add(jeans())

	// Selling below cost is allowed; the cart enforces no price bounds.
	if err := c.SetPrice("Jeans", decimal.NewFromInt(500)); err != nil {
		t.Fatalf("discount below cost rejected: %v", err)
	}
	if got := c.Lines()[0].UnitProfit(); !got.IsNegative() {
		t.Fatalf("expected negative unit profit, got %s", got)
	}
}

func TestTotalRecomputedAfterEdits(t *testing.T) {
	c := New()
	_ = c.Add(jeans())
	_ = c.SetQuantity("Jeans", 3)

	if got := c.Total(); !got.Equal(decimal.NewFromInt(9000)) {
		t.Fatalf("expected total 9000, got %s", got)
	}

	_ = c.SetPrice("Jeans", decimal.NewFromInt(2500))
	if got := c.Total(); !got.Equal(decimal.NewFromInt(7500)) {
		t.Fatalf("expected total 7500 after reprice, got %s", got)
	}
}

func TestRemoveKeepsOrderAndIndex(t *testing.T) {
	second := jeans()
	second.Article = "Pyjama"
	third := jeans()
	third.Article = "Robe"

	c := New()
	_ = c.Add(jeans())
	_ = c.Add(second)
	_ = c.Add(third)

	if err := c.Remove("Pyjama"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	lines := c.Lines()
	if len(lines) != 2 || lines[0].Article != "Jeans" || lines[1].Article != "Robe" {
		t.Fatalf("unexpected lines after remove: %+v", lines)
	}

	// The surviving lines must still be editable through the index.
	if err := c.SetQuantity("Robe", 2); err != nil {
		t.Fatalf("edit after remove failed: %v", err)
	}
}

func TestClear(t *testing.T) {
	c := New()
	_ = c.Add(jeans())
	c.Clear()

	if !c.IsEmpty() || c.Len() != 0 {
		t.Fatalf("expected empty cart after clear")
	}
	if !c.Total().Equal(decimal.Zero) {
		t.Fatalf("expected zero total after clear, got %s", c.Total())
	}
}
