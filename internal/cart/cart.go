// Package cart holds the operator's in-progress sale: an ordered set of
// lines snapshotted from the catalog, unique by article. A cart belongs to
// exactly one till session, lives only in memory, and is destroyed on
// checkout success or explicit clear.
package cart

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/amnsfrn/Store/internal/domain"
)

var (
	ErrNotInCart  = errors.New("article not in cart")
	ErrOutOfRange = errors.New("quantity out of range")
	ErrAtCapacity = errors.New("article out of stock")
)

// Line is a snapshot of a catalog item taken at add time. MaxQuantity is the
// stock observed then; it bounds cart edits as a UI hint only, the checkout
// engine re-validates against current stock.
type Line struct {
	Article       string          `json:"article"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	UnitExtraCost decimal.Decimal `json:"unit_extra_cost"`
	Quantity      int             `json:"quantity"`
	MaxQuantity   int             `json:"max_quantity"`
}

// Subtotal is the line's contribution to the cart total.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// UnitProfit is the per-unit margin at the line's current price. It may be
// negative: selling below cost is an operator decision, not an error.
func (l Line) UnitProfit() decimal.Decimal {
	return l.UnitPrice.Sub(l.UnitCost.Add(l.UnitExtraCost))
}

type Cart struct {
	lines []Line
	index map[string]int
}

func New() *Cart {
	return &Cart{index: make(map[string]int)}
}

// Add puts the item in the cart with quantity 1, or bumps an existing line's
// quantity by 1 clamped to its add-time max (a clamped re-add is a silent
// no-op). Adding an item with zero stock fails with ErrAtCapacity and leaves
// the cart untouched.
func (c *Cart) Add(item domain.CatalogItem) error {
	if idx, ok := c.index[item.Article]; ok {
		if c.lines[idx].Quantity < c.lines[idx].MaxQuantity {
			c.lines[idx].Quantity++
		}
		return nil
	}

	if item.QuantityOnHand < 1 {
		return ErrAtCapacity
	}

	c.index[item.Article] = len(c.lines)
	c.lines = append(c.lines, Line{
		Article:       item.Article,
		UnitPrice:     item.SalePrice,
		UnitCost:      item.PurchasePrice,
		UnitExtraCost: item.ExtraCost,
		Quantity:      1,
		MaxQuantity:   item.QuantityOnHand,
	})
	return nil
}

func (c *Cart) SetQuantity(article string, qty int) error {
	idx, ok := c.index[article]
	if !ok {
		return ErrNotInCart
	}
	if qty < 1 || qty > c.lines[idx].MaxQuantity {
		return ErrOutOfRange
	}
	c.lines[idx].Quantity = qty
	return nil
}

// SetPrice overrides the line's unit price. No bounds are enforced: discounts
// and markups are trusted operator input.
func (c *Cart) SetPrice(article string, price decimal.Decimal) error {
	idx, ok := c.index[article]
	if !ok {
		return ErrNotInCart
	}
	c.lines[idx].UnitPrice = price
	return nil
}

func (c *Cart) Remove(article string) error {
	idx, ok := c.index[article]
	if !ok {
		return ErrNotInCart
	}
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	delete(c.index, article)
	for i := idx; i < len(c.lines); i++ {
		c.index[c.lines[i].Article] = i
	}
	return nil
}

// Total is recomputed on every call; lines are mutable so a cached value
// would go stale.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// Lines returns a copy of the cart lines in add order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int { return len(c.lines) }

func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }

func (c *Cart) Clear() {
	c.lines = nil
	c.index = make(map[string]int)
}
