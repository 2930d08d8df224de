// Package postgres is the multi-till Repository. DecrementStock is a single
// conditional UPDATE, so concurrent checkouts over the same article are
// resolved by the database: at most one till wins the last unit.
//
// Expected schema:
//
//	CREATE TABLE catalog_items (
//	    article          TEXT PRIMARY KEY,
//	    purchase_price   NUMERIC(14,2) NOT NULL,
//	    extra_cost       NUMERIC(14,2) NOT NULL,
//	    sale_price       NUMERIC(14,2) NOT NULL,
//	    quantity_on_hand INTEGER NOT NULL CHECK (quantity_on_hand >= 0),
//	    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE sale_records (
//	    id       TEXT PRIMARY KEY,
//	    date     DATE NOT NULL,
//	    article  TEXT NOT NULL,
//	    quantity INTEGER NOT NULL,
//	    revenue  NUMERIC(14,2) NOT NULL,
//	    profit   NUMERIC(14,2) NOT NULL
//	);
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/amnsfrn/Store/internal/domain"
	"github.com/amnsfrn/Store/internal/store"
	"github.com/amnsfrn/Store/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListItems(ctx context.Context) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT article, purchase_price, extra_cost, sale_price, quantity_on_hand
		FROM catalog_items
		ORDER BY article
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows)
}

func (s *Store) GetItem(ctx context.Context, article string) (*domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := s.db.QueryRowContext(ctx, `
		SELECT article, purchase_price, extra_cost, sale_price, quantity_on_hand
		FROM catalog_items
		WHERE article = $1
	`, article).Scan(&item.Article, &item.PurchasePrice, &item.ExtraCost, &item.SalePrice, &item.QuantityOnHand)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) SearchItems(ctx context.Context, query string) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT article, purchase_price, extra_cost, sale_price, quantity_on_hand
		FROM catalog_items
		WHERE quantity_on_hand > 0 AND article ILIKE '%' || $1 || '%'
		ORDER BY article
	`, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows)
}

func (s *Store) UpsertItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	if strings.TrimSpace(item.Article) == "" || item.QuantityOnHand < 0 {
		return nil, store.ErrInvalidItem
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_items (article, purchase_price, extra_cost, sale_price, quantity_on_hand, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (article) DO UPDATE SET
			purchase_price = EXCLUDED.purchase_price,
			extra_cost = EXCLUDED.extra_cost,
			sale_price = EXCLUDED.sale_price,
			quantity_on_hand = EXCLUDED.quantity_on_hand,
			updated_at = now()
	`, item.Article, item.PurchasePrice, item.ExtraCost, item.SalePrice, item.QuantityOnHand)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidItem
		}
		return nil, err
	}

	saved := item
	return &saved, nil
}

// ApplyIntake lets the database do the quantity addition, so a checkout
// committed by another till between this till's read and the intake cannot be
// overwritten.
func (s *Store) ApplyIntake(ctx context.Context, delivery domain.CatalogItem) (*domain.CatalogItem, error) {
	if strings.TrimSpace(delivery.Article) == "" || delivery.QuantityOnHand < 0 {
		return nil, store.ErrInvalidItem
	}

	var item domain.CatalogItem
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO catalog_items (article, purchase_price, extra_cost, sale_price, quantity_on_hand, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (article) DO UPDATE SET
			purchase_price = EXCLUDED.purchase_price,
			extra_cost = EXCLUDED.extra_cost,
			sale_price = EXCLUDED.sale_price,
			quantity_on_hand = catalog_items.quantity_on_hand + EXCLUDED.quantity_on_hand,
			updated_at = now()
		RETURNING article, purchase_price, extra_cost, sale_price, quantity_on_hand
	`, delivery.Article, delivery.PurchasePrice, delivery.ExtraCost, delivery.SalePrice, delivery.QuantityOnHand).
		Scan(&item.Article, &item.PurchasePrice, &item.ExtraCost, &item.SalePrice, &item.QuantityOnHand)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// AdjustStock is a single relative UPDATE guarded against going negative; a
// zero row count is resolved into not-found versus insufficient-stock with a
// follow-up read.
func (s *Store) AdjustStock(ctx context.Context, article string, delta int) (*domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := s.db.QueryRowContext(ctx, `
		UPDATE catalog_items
		SET quantity_on_hand = quantity_on_hand + $1, updated_at = now()
		WHERE article = $2 AND quantity_on_hand + $1 >= 0
		RETURNING article, purchase_price, extra_cost, sale_price, quantity_on_hand
	`, delta, article).Scan(&item.Article, &item.PurchasePrice, &item.ExtraCost, &item.SalePrice, &item.QuantityOnHand)
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var available int
	err = s.db.QueryRowContext(ctx, `
		SELECT quantity_on_hand FROM catalog_items WHERE article = $1
	`, article).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return nil, &store.InsufficientStockError{Article: article, Requested: -delta, Available: available}
}

// DecrementStock lets the database arbitrate concurrent tills: the UPDATE
// only applies while enough stock remains, and a zero row count is resolved
// into not-found versus insufficient-stock with a follow-up read.
func (s *Store) DecrementStock(ctx context.Context, article string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidItem
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE catalog_items
		SET quantity_on_hand = quantity_on_hand - $1, updated_at = now()
		WHERE article = $2 AND quantity_on_hand >= $1
	`, qty, article)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var available int
	err = s.db.QueryRowContext(ctx, `
		SELECT quantity_on_hand FROM catalog_items WHERE article = $1
	`, article).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return &store.InsufficientStockError{Article: article, Requested: qty, Available: available}
}

func (s *Store) AppendSale(ctx context.Context, rec domain.SaleRecord) (*domain.SaleRecord, error) {
	if rec.Article == "" || rec.Quantity == 0 {
		return nil, store.ErrInvalidItem
	}
	if rec.ID == "" {
		rec.ID = xid.New("sale")
	}
	if rec.Date.IsZero() {
		rec.Date = domain.DateOnly(time.Now())
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sale_records (id, date, article, quantity, revenue, profit)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.ID, rec.Date, rec.Article, rec.Quantity, rec.Revenue, rec.Profit)
	if err != nil {
		return nil, err
	}

	saved := rec
	return &saved, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, article string) ([]domain.SaleRecord, error) {
	query := `
		SELECT id, date, article, quantity, revenue, profit
		FROM sale_records
		WHERE ($1::date IS NULL OR date >= $1)
		  AND ($2::date IS NULL OR date <= $2)
		  AND ($3::text IS NULL OR article = $3)
		ORDER BY date, id
	`
	rows, err := s.db.QueryContext(ctx, query, nullDate(from), nullDate(to), nullIfEmpty(article))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.SaleRecord, 0, 128)
	for rows.Next() {
		var rec domain.SaleRecord
		if err := rows.Scan(&rec.ID, &rec.Date, &rec.Article, &rec.Quantity, &rec.Revenue, &rec.Profit); err != nil {
			return nil, err
		}
		rec.Date = domain.DateOnly(rec.Date)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func scanItems(rows *sql.Rows) ([]domain.CatalogItem, error) {
	items := make([]domain.CatalogItem, 0, 128)
	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(&item.Article, &item.PurchasePrice, &item.ExtraCost, &item.SalePrice, &item.QuantityOnHand); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return domain.DateOnly(val)
}
