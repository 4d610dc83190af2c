package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_pos/internal/domain"
)

// GetProduct returns the product with its stock at locationID. A product that
// was never stocked at the location has zero stock.
func (r *Repository) GetProduct(ctx context.Context, locationID, productID int64) (*domain.Product, error) {
	query := `
		SELECT p.id, p.sku, p.name, p.unit_price, p.active, COALESCE(s.quantity, 0)
		FROM products p
		LEFT JOIN product_stock s ON s.product_id = p.id AND s.location_id = $1
		WHERE p.id = $2
	`

	p := &domain.Product{}
	err := r.db.QueryRowContext(ctx, query, locationID, productID).Scan(
		&p.ID,
		&p.SKU,
		&p.Name,
		&p.UnitPrice,
		&p.Active,
		&p.Stock,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

// SearchProducts matches active products whose name or SKU contains query,
// case-insensitively. An empty query lists products by name.
func (r *Repository) SearchProducts(ctx context.Context, locationID int64, query string, limit int) ([]*domain.Product, error) {
	q := `
		SELECT p.id, p.sku, p.name, p.unit_price, p.active, COALESCE(s.quantity, 0)
		FROM products p
		LEFT JOIN product_stock s ON s.product_id = p.id AND s.location_id = $1
		WHERE p.active = $2
		  AND (LOWER(p.name) LIKE $3 ESCAPE '\' OR LOWER(p.sku) LIKE $3 ESCAPE '\')
		ORDER BY p.name, p.id
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, q, locationID, true, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p := &domain.Product{}
		if err := rows.Scan(
			&p.ID,
			&p.SKU,
			&p.Name,
			&p.UnitPrice,
			&p.Active,
			&p.Stock,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return products, nil
}

func likePattern(query string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(query))
	return "%" + escaped + "%"
}

// UpsertProduct creates the product or updates it by SKU and sets its ID.
func (r *Repository) UpsertProduct(ctx context.Context, p *domain.Product) error {
	query := `
		INSERT INTO products (sku, name, unit_price, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sku) DO UPDATE
		SET name = excluded.name, unit_price = excluded.unit_price, active = excluded.active
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		p.SKU,
		p.Name,
		domain.RoundMoney(p.UnitPrice),
		p.Active,
		now(),
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// SetStock overwrites the stock of a product at a location and records the
// difference as an adjustment in the stock ledger.
func (r *Repository) SetStock(ctx context.Context, locationID, productID int64, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("stock cannot be negative: %d", quantity)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRowContext(ctx,
			`SELECT quantity FROM product_stock WHERE product_id = $1 AND location_id = $2`,
			productID, locationID,
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read stock: %w", err)
		}

		ts := now()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO product_stock (product_id, location_id, quantity, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (product_id, location_id) DO UPDATE
			SET quantity = excluded.quantity, updated_at = excluded.updated_at
		`, productID, locationID, quantity, ts)
		if err != nil {
			if isForeignKeyViolation(err) {
				return ErrProductNotFound
			}
			return fmt.Errorf("set stock: %w", err)
		}

		if diff := quantity - current; diff != 0 {
			if err := insertStockMovement(ctx, tx, productID, locationID, domain.StockMovementAdjustment, diff, "", ts); err != nil {
				return err
			}
		}
		return nil
	})
}

// StockMovement is one row of the stock ledger.
type StockMovement struct {
	ProductID  int64
	LocationID int64
	Kind       domain.StockMovementKind
	Quantity   int
	Reference  string
}

func (r *Repository) ListStockMovements(ctx context.Context, locationID, productID int64) ([]StockMovement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, location_id, kind, quantity, reference
		FROM stock_movements
		WHERE location_id = $1 AND product_id = $2
		ORDER BY id
	`, locationID, productID)
	if err != nil {
		return nil, fmt.Errorf("query stock movements: %w", err)
	}
	defer rows.Close()

	var out []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ProductID, &m.LocationID, &m.Kind, &m.Quantity, &m.Reference); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func insertStockMovement(ctx context.Context, q querier, productID, locationID int64, kind domain.StockMovementKind, quantity int, reference string, ts time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_movements (product_id, location_id, kind, quantity, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, productID, locationID, string(kind), quantity, reference, ts)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

// decrementStock takes quantity units if at least that many are on hand.
func decrementStock(ctx context.Context, q querier, productID, locationID int64, quantity int, ts time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE product_stock
		SET quantity = quantity - $1, updated_at = $2
		WHERE product_id = $3 AND location_id = $4 AND quantity >= $1
	`, quantity, ts, productID, locationID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: product %d", ErrInsufficientStock, productID)
	}
	return nil
}

func incrementStock(ctx context.Context, q querier, productID, locationID int64, quantity int, ts time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO product_stock (product_id, location_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, location_id) DO UPDATE
		SET quantity = product_stock.quantity + excluded.quantity, updated_at = excluded.updated_at
	`, productID, locationID, quantity, ts)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	return nil
}
