package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const cashSessionColumns = `id, location_id, state, opened_by, opening_amount, opened_at,
	closed_by, closing_amount_counted, theoretical_amount, variance, closed_at`

func scanCashSession(row rowScanner) (*domain.CashSession, error) {
	var (
		s           domain.CashSession
		state       string
		closedBy    sql.NullInt64
		counted     decimal.NullDecimal
		theoretical decimal.NullDecimal
		variance    decimal.NullDecimal
		closedAt    sql.NullTime
	)
	err := row.Scan(
		&s.ID,
		&s.LocationID,
		&state,
		&s.OpenedBy,
		&s.OpeningAmount,
		&s.OpenedAt,
		&closedBy,
		&counted,
		&theoretical,
		&variance,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	s.State = domain.CashSessionState(state)
	s.OpenedAt = s.OpenedAt.UTC()
	if closedBy.Valid {
		s.ClosedBy = &closedBy.Int64
	}
	if counted.Valid {
		s.ClosingAmountCounted = &counted.Decimal
	}
	if theoretical.Valid {
		s.TheoreticalAmount = &theoretical.Decimal
	}
	if variance.Valid {
		s.Variance = &variance.Decimal
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		s.ClosedAt = &t
	}
	return &s, nil
}

// OpenCashSession starts a register cycle for a location. The partial unique
// index on open sessions turns a concurrent second open into
// ErrSessionAlreadyOpen.
func (r *Repository) OpenCashSession(ctx context.Context, locationID, operatorID int64, openingAmount decimal.Decimal) (*domain.CashSession, error) {
	s := &domain.CashSession{
		ID:            uuid.New(),
		LocationID:    locationID,
		State:         domain.CashSessionOpen,
		OpenedBy:      operatorID,
		OpeningAmount: domain.RoundMoney(openingAmount),
		OpenedAt:      now(),
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cash_sessions (id, location_id, state, opened_by, opening_amount, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.LocationID, string(s.State), s.OpenedBy, s.OpeningAmount, s.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSessionAlreadyOpen
		}
		return nil, fmt.Errorf("insert cash session: %w", err)
	}
	return s, nil
}

func (r *Repository) GetOpenCashSession(ctx context.Context, locationID int64) (*domain.CashSession, error) {
	s, err := scanCashSession(r.db.QueryRowContext(ctx,
		`SELECT `+cashSessionColumns+` FROM cash_sessions WHERE location_id = $1 AND state = $2`,
		locationID, string(domain.CashSessionOpen),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCashSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query open cash session: %w", err)
	}
	return s, nil
}

func (r *Repository) GetCashSession(ctx context.Context, locationID int64, id uuid.UUID) (*domain.CashSession, error) {
	s, err := scanCashSession(r.db.QueryRowContext(ctx,
		`SELECT `+cashSessionColumns+` FROM cash_sessions WHERE id = $1 AND location_id = $2`,
		id, locationID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCashSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cash session: %w", err)
	}
	return s, nil
}

// ListCashSessions returns the most recent sessions of a location first.
func (r *Repository) ListCashSessions(ctx context.Context, locationID int64, limit int) ([]*domain.CashSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+cashSessionColumns+`
		FROM cash_sessions
		WHERE location_id = $1
		ORDER BY opened_at DESC
		LIMIT $2
	`, locationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query cash sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*domain.CashSession{}
	for rows.Next() {
		s, err := scanCashSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cash session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sessions, nil
}

// lockOpenSession returns the open session of a location and holds its row
// lock until the transaction ends, so movements and the close of the same
// session are applied one after the other.
func lockOpenSession(ctx context.Context, tx *sql.Tx, locationID int64) (*domain.CashSession, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE cash_sessions SET state = state WHERE location_id = $1 AND state = $2`,
		locationID, string(domain.CashSessionOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("lock open cash session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("lock open cash session: %w", err)
	}
	if n == 0 {
		return nil, ErrSessionNotOpen
	}

	s, err := scanCashSession(tx.QueryRowContext(ctx,
		`SELECT `+cashSessionColumns+` FROM cash_sessions WHERE location_id = $1 AND state = $2`,
		locationID, string(domain.CashSessionOpen),
	))
	if err != nil {
		return nil, fmt.Errorf("query open cash session: %w", err)
	}
	return s, nil
}

// AddCashMovement records a movement against the open session of the
// location. It fails with ErrSessionNotOpen when no session is open.
func (r *Repository) AddCashMovement(ctx context.Context, locationID int64, m *domain.CashMovement) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		session, err := lockOpenSession(ctx, tx, locationID)
		if err != nil {
			return err
		}

		m.ID = uuid.New()
		m.SessionID = session.ID
		m.Amount = domain.RoundMoney(m.Amount)
		m.CreatedAt = now()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO cash_movements (id, session_id, type, amount, reason, operator_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, m.ID, m.SessionID, string(m.Type), m.Amount, m.Reason, m.OperatorID, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert cash movement: %w", err)
		}
		return nil
	})
}

func (r *Repository) ListCashMovements(ctx context.Context, sessionID uuid.UUID) ([]domain.CashMovement, error) {
	return listCashMovements(ctx, r.db, sessionID)
}

func listCashMovements(ctx context.Context, q querier, sessionID uuid.UUID) ([]domain.CashMovement, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, session_id, type, amount, reason, operator_id, created_at
		FROM cash_movements
		WHERE session_id = $1
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query cash movements: %w", err)
	}
	defer rows.Close()

	movements := []domain.CashMovement{}
	for rows.Next() {
		var (
			m   domain.CashMovement
			typ string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &typ, &m.Amount, &m.Reason, &m.OperatorID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cash movement: %w", err)
		}
		m.Type = domain.MovementType(typ)
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return movements, nil
}

// reconcile derives the close-time sums of a session: sales of the location
// while the session was open and the session's own movements.
func reconcile(ctx context.Context, q querier, s *domain.CashSession) (*domain.Reconciliation, error) {
	sales, err := sumSales(ctx, q, s.LocationID, s.OpenedAt, s.ClosedAt)
	if err != nil {
		return nil, err
	}

	movements, err := listCashMovements(ctx, q, s.ID)
	if err != nil {
		return nil, err
	}

	rec := &domain.Reconciliation{
		SessionID:     s.ID,
		OpeningAmount: s.OpeningAmount,
		SalesTotal:    sales,
		IngressTotal:  decimal.Zero,
		EgressTotal:   decimal.Zero,
	}
	for _, m := range movements {
		switch m.Type {
		case domain.MovementIngress:
			rec.IngressTotal = rec.IngressTotal.Add(m.Amount)
		case domain.MovementEgress:
			rec.EgressTotal = rec.EgressTotal.Add(m.Amount)
		}
	}
	return rec, nil
}

// Reconcile computes the theoretical amount of the open session of a location.
func (r *Repository) Reconcile(ctx context.Context, locationID int64) (*domain.Reconciliation, error) {
	s, err := r.GetOpenCashSession(ctx, locationID)
	if errors.Is(err, ErrCashSessionNotFound) {
		return nil, ErrSessionNotOpen
	}
	if err != nil {
		return nil, err
	}
	return reconcile(ctx, r.db, s)
}

// ReconcileSession re-derives the sums of any session, open or closed.
func (r *Repository) ReconcileSession(ctx context.Context, s *domain.CashSession) (*domain.Reconciliation, error) {
	return reconcile(ctx, r.db, s)
}

// CloseCashSession reconciles and closes the open session of a location in
// one transaction. The session row and the location's sale counter are locked
// before the sums are read, so no movement or sale can land between
// reconciliation and close. On any error the session stays open.
func (r *Repository) CloseCashSession(ctx context.Context, locationID, closedBy int64, counted decimal.Decimal) (*domain.CashSession, *domain.Reconciliation, error) {
	counted = domain.RoundMoney(counted)

	var (
		session *domain.CashSession
		rec     *domain.Reconciliation
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		s, err := lockOpenSession(ctx, tx, locationID)
		if err != nil {
			return err
		}
		// A sale in flight at the location either commits before closedAt is
		// taken or gets a timestamp after it.
		if err := lockSaleCounter(ctx, tx, locationID); err != nil {
			return err
		}

		closedAt := now()
		s.ClosedAt = &closedAt
		rec, err = reconcile(ctx, tx, s)
		if err != nil {
			return err
		}

		theoretical := rec.Theoretical()
		variance := rec.Variance(counted)

		res, err := tx.ExecContext(ctx, `
			UPDATE cash_sessions
			SET state = $1, closed_by = $2, closing_amount_counted = $3,
			    theoretical_amount = $4, variance = $5, closed_at = $6
			WHERE id = $7 AND state = $8
		`,
			string(domain.CashSessionClosed),
			closedBy,
			counted,
			theoretical,
			variance,
			closedAt,
			s.ID,
			string(domain.CashSessionOpen),
		)
		if err != nil {
			return fmt.Errorf("close cash session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("close cash session: %w", err)
		}
		if n == 0 {
			return ErrSessionNotOpen
		}

		s.State = domain.CashSessionClosed
		s.ClosedBy = &closedBy
		s.ClosingAmountCounted = &counted
		s.TheoreticalAmount = &theoretical
		s.Variance = &variance
		session = s

		event := domain.CashSessionClosedEvent{
			SessionID:   s.ID.String(),
			LocationID:  s.LocationID,
			ClosedBy:    closedBy,
			Theoretical: theoretical,
			Counted:     counted,
			Variance:    variance,
			ClosedAt:    closedAt,
		}
		return insertOutboxEvent(ctx, tx, s.ID.String(), domain.EventCashSessionClosed, event, closedAt)
	})
	if err != nil {
		return nil, nil, err
	}
	return session, rec, nil
}
