package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const saleColumns = `id, display_number, location_id, operator_id, total, payment_method,
	amount_received, change_due, idempotency_key, created_at`

// CreateSale records a sale in one transaction: the next display number for
// the location, the header, every line, the stock decrement and ledger row
// per line, and the sale.completed outbox event. Any failure rolls all of it
// back. Stock is re-checked at commit, so a line whose stock ran out since it
// was staged fails the whole sale with ErrInsufficientStock. The timestamp is
// taken once the location's counter row is locked, so sales and cash session
// closes at a location agree on which side of closed_at a sale falls.
func (r *Repository) CreateSale(ctx context.Context, draft *domain.SaleDraft) (*domain.Sale, error) {
	if len(draft.Lines) == 0 {
		return nil, errors.New("sale has no lines")
	}

	total := draft.Total()
	received := domain.RoundMoney(draft.AmountReceived)
	sale := &domain.Sale{
		ID:             uuid.New(),
		LocationID:     draft.LocationID,
		OperatorID:     draft.OperatorID,
		Total:          total,
		PaymentMethod:  draft.PaymentMethod,
		AmountReceived: received,
		Change:         received.Sub(total),
		IdempotencyKey: draft.IdempotencyKey,
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		number, err := nextDisplayNumber(ctx, tx, draft.LocationID)
		if err != nil {
			return err
		}
		sale.DisplayNumber = number
		ts := now()
		sale.CreatedAt = ts

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sales (`+saleColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			sale.ID,
			sale.DisplayNumber,
			sale.LocationID,
			sale.OperatorID,
			sale.Total,
			string(sale.PaymentMethod),
			sale.AmountReceived,
			sale.Change,
			nullString(sale.IdempotencyKey),
			sale.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateSale
			}
			return fmt.Errorf("insert sale: %w", err)
		}

		for i, l := range draft.Lines {
			line := domain.SaleLine{
				ID:          uuid.New(),
				SaleID:      sale.ID,
				ProductID:   l.ProductID,
				ProductName: l.ProductName,
				Quantity:    l.Quantity,
				UnitPrice:   domain.RoundMoney(l.UnitPrice),
				LineTotal:   l.LineTotal(),
				LocationID:  sale.LocationID,
				CreatedAt:   ts,
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO sale_lines (id, sale_id, position, product_id, product_name, quantity, unit_price, line_total, location_id, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`,
				line.ID,
				line.SaleID,
				i,
				line.ProductID,
				line.ProductName,
				line.Quantity,
				line.UnitPrice,
				line.LineTotal,
				line.LocationID,
				line.CreatedAt,
			)
			if err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: %d", ErrProductNotFound, line.ProductID)
				}
				return fmt.Errorf("insert sale line: %w", err)
			}

			if err := decrementStock(ctx, tx, line.ProductID, line.LocationID, line.Quantity, ts); err != nil {
				return err
			}
			if err := insertStockMovement(ctx, tx, line.ProductID, line.LocationID, domain.StockMovementSale, -line.Quantity, sale.ID.String(), ts); err != nil {
				return err
			}
			sale.Lines = append(sale.Lines, line)
		}

		event := domain.SaleCompletedEvent{
			SaleID:        sale.ID.String(),
			DisplayNumber: sale.DisplayNumber,
			LocationID:    sale.LocationID,
			OperatorID:    sale.OperatorID,
			PaymentMethod: sale.PaymentMethod,
			Total:         sale.Total,
			Lines:         sale.Lines,
			CompletedAt:   sale.CreatedAt,
		}
		return insertOutboxEvent(ctx, tx, sale.ID.String(), domain.EventSaleCompleted, event, ts)
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// nextDisplayNumber allocates the next sequential ticket number for a
// location. The row update locks the counter until the transaction ends.
func nextDisplayNumber(ctx context.Context, tx *sql.Tx, locationID int64) (int64, error) {
	if err := initSaleCounter(ctx, tx, locationID); err != nil {
		return 0, err
	}

	var number int64
	err := tx.QueryRowContext(ctx, `
		UPDATE sale_counters SET last_number = last_number + 1
		WHERE location_id = $1
		RETURNING last_number
	`, locationID).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("allocate display number: %w", err)
	}
	return number, nil
}

func initSaleCounter(ctx context.Context, tx *sql.Tx, locationID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sale_counters (location_id, last_number) VALUES ($1, 0)
		ON CONFLICT (location_id) DO NOTHING
	`, locationID)
	if err != nil {
		return fmt.Errorf("init sale counter: %w", err)
	}
	return nil
}

// lockSaleCounter takes the location's counter row lock without allocating a
// number. Holders are serialized against CreateSale at that location.
func lockSaleCounter(ctx context.Context, tx *sql.Tx, locationID int64) error {
	if err := initSaleCounter(ctx, tx, locationID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE sale_counters SET last_number = last_number WHERE location_id = $1`, locationID,
	)
	if err != nil {
		return fmt.Errorf("lock sale counter: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var (
		s       domain.Sale
		method  string
		idemKey sql.NullString
	)
	err := row.Scan(
		&s.ID,
		&s.DisplayNumber,
		&s.LocationID,
		&s.OperatorID,
		&s.Total,
		&method,
		&s.AmountReceived,
		&s.Change,
		&idemKey,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.PaymentMethod = domain.PaymentMethod(method)
	s.IdempotencyKey = idemKey.String
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func (r *Repository) GetSale(ctx context.Context, locationID int64, id uuid.UUID) (*domain.Sale, error) {
	sale, err := scanSale(r.db.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1 AND location_id = $2`,
		id, locationID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query sale by id: %w", err)
	}

	lines, err := r.saleLines(ctx, r.db, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines
	return sale, nil
}

func (r *Repository) GetSaleByIdempotencyKey(ctx context.Context, locationID int64, key string) (*domain.Sale, error) {
	if key == "" {
		return nil, ErrSaleNotFound
	}

	sale, err := scanSale(r.db.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE location_id = $1 AND idempotency_key = $2`,
		locationID, key,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query sale by idempotency key: %w", err)
	}

	lines, err := r.saleLines(ctx, r.db, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines
	return sale, nil
}

func (r *Repository) saleLines(ctx context.Context, q querier, saleID uuid.UUID) ([]domain.SaleLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price, line_total, location_id, created_at
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY position
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("query sale lines: %w", err)
	}
	defer rows.Close()

	lines := []domain.SaleLine{}
	for rows.Next() {
		var l domain.SaleLine
		if err := rows.Scan(
			&l.ID,
			&l.SaleID,
			&l.ProductID,
			&l.ProductName,
			&l.Quantity,
			&l.UnitPrice,
			&l.LineTotal,
			&l.LocationID,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		l.CreatedAt = l.CreatedAt.UTC()
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}

// ListSales returns sale headers of a location created in [from, to), newest
// first. A zero bound is open.
func (r *Repository) ListSales(ctx context.Context, locationID int64, from, to time.Time, limit int) ([]*domain.Sale, error) {
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE location_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, display_number DESC
		LIMIT $4
	`, locationID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	sales := []*domain.Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale row: %w", err)
		}
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sales, nil
}

// DeleteSale removes a sale and puts its stock back through the
// stock-increment path, in one transaction with the sale.deleted event. A
// sale inside the window of a closed cash session is already part of that
// session's stored reconciliation and fails with ErrSaleInClosedSession.
func (r *Repository) DeleteSale(ctx context.Context, locationID int64, id uuid.UUID) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockSaleCounter(ctx, tx, locationID); err != nil {
			return err
		}

		var createdAt time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT created_at FROM sales WHERE id = $1 AND location_id = $2`, id, locationID,
		).Scan(&createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSaleNotFound
		}
		if err != nil {
			return fmt.Errorf("query sale: %w", err)
		}

		var closed int
		err = tx.QueryRowContext(ctx, `
			SELECT 1 FROM cash_sessions
			WHERE location_id = $1 AND state = $2 AND opened_at <= $3 AND closed_at >= $3
			LIMIT 1
		`, locationID, string(domain.CashSessionClosed), createdAt.UTC()).Scan(&closed)
		if err == nil {
			return ErrSaleInClosedSession
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query closed sessions: %w", err)
		}

		lines, err := r.saleLines(ctx, tx, id)
		if err != nil {
			return err
		}

		ts := now()
		for _, l := range lines {
			if err := incrementStock(ctx, tx, l.ProductID, l.LocationID, l.Quantity, ts); err != nil {
				return err
			}
			if err := insertStockMovement(ctx, tx, l.ProductID, l.LocationID, domain.StockMovementSaleReversal, l.Quantity, id.String(), ts); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, id); err != nil {
			return fmt.Errorf("delete sale lines: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete sale: %w", err)
		}

		event := domain.SaleDeletedEvent{
			SaleID:     id.String(),
			LocationID: locationID,
			DeletedAt:  ts,
		}
		return insertOutboxEvent(ctx, tx, id.String(), domain.EventSaleDeleted, event, ts)
	})
}

// sumSales adds up the totals of every sale at a location created from since
// on, up to and including until when it is set.
func sumSales(ctx context.Context, q querier, locationID int64, since time.Time, until *time.Time) (decimal.Decimal, error) {
	end := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	if until != nil {
		end = until.UTC()
	}
	rows, err := q.QueryContext(ctx,
		`SELECT total FROM sales WHERE location_id = $1 AND created_at >= $2 AND created_at <= $3`,
		locationID, since.UTC(), end,
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query sales totals: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var total decimal.Decimal
		if err := rows.Scan(&total); err != nil {
			return decimal.Zero, fmt.Errorf("scan sale total: %w", err)
		}
		sum = sum.Add(total)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("row iteration error: %w", err)
	}
	return sum, nil
}
