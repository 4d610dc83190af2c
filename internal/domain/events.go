package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types written to the outbox and published on the POS events topic.
const (
	EventSaleCompleted     = "sale.completed"
	EventSaleDeleted       = "sale.deleted"
	EventCashSessionClosed = "cash_session.closed"
)

type SaleCompletedEvent struct {
	SaleID        string          `json:"sale_id"`
	DisplayNumber int64           `json:"display_number"`
	LocationID    int64           `json:"location_id"`
	OperatorID    int64           `json:"operator_id"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Total         decimal.Decimal `json:"total"`
	Lines         []SaleLine      `json:"lines"`
	CompletedAt   time.Time       `json:"completed_at"`
}

type SaleDeletedEvent struct {
	SaleID     string    `json:"sale_id"`
	LocationID int64     `json:"location_id"`
	DeletedAt  time.Time `json:"deleted_at"`
}

type CashSessionClosedEvent struct {
	SessionID   string          `json:"session_id"`
	LocationID  int64           `json:"location_id"`
	ClosedBy    int64           `json:"closed_by"`
	Theoretical decimal.Decimal `json:"theoretical_amount"`
	Counted     decimal.Decimal `json:"closing_amount_counted"`
	Variance    decimal.Decimal `json:"variance"`
	ClosedAt    time.Time       `json:"closed_at"`
}
