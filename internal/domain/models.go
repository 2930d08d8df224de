package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogItem is one sellable article. The article name is the primary key:
// unique within the catalog and the join key into the sales ledger.
type CatalogItem struct {
	Article        string          `json:"article"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	ExtraCost      decimal.Decimal `json:"extra_cost"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	QuantityOnHand int             `json:"quantity_on_hand"`
}

// UnitCost is the full per-unit cost of the article: purchase price plus
// per-unit handling cost.
func (i CatalogItem) UnitCost() decimal.Decimal {
	return i.PurchasePrice.Add(i.ExtraCost)
}

// SaleRecord is one committed ledger line. Records are immutable once written;
// returns are modelled as additional records with negative quantity, revenue
// and profit, never by altering prior entries.
type SaleRecord struct {
	ID       string          `json:"id"`
	Date     time.Time       `json:"date"`
	Article  string          `json:"article"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
	Profit   decimal.Decimal `json:"profit"`
}

type IntakeRequest struct {
	Article       string          `json:"article"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	ExtraCost     decimal.Decimal `json:"extra_cost"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	Quantity      int             `json:"quantity"`
}

// CheckoutLine is the wire form of one cart line. UnitPrice overrides the
// catalog sale price when set; the operator is trusted to discount or mark up.
type CheckoutLine struct {
	Article   string           `json:"article"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type CheckoutRequest struct {
	Lines []CheckoutLine `json:"lines"`
}

// Receipt summarizes one successful checkout.
type Receipt struct {
	ReceiptID    string          `json:"receipt_id"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
	LineCount    int             `json:"line_count"`
	Records      []SaleRecord    `json:"records"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ReturnRequest struct {
	Article   string           `json:"article"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

type CatalogListResponse struct {
	Items []CatalogItem `json:"items"`
}

type SalesQueryResponse struct {
	Records      []SaleRecord    `json:"records"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
}

// DateOnly truncates t to UTC date precision, the granularity the ledger keeps.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
