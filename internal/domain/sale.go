package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	}
	return false
}

func (p PaymentMethod) String() string {
	return string(p)
}

// Sale is the persisted header of a completed checkout.
type Sale struct {
	ID             uuid.UUID       `json:"id"`
	DisplayNumber  int64           `json:"display_number"`
	LocationID     int64           `json:"location_id"`
	OperatorID     int64           `json:"operator_id"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	Change         decimal.Decimal `json:"change"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Lines          []SaleLine      `json:"lines"`
}

type SaleLine struct {
	ID          uuid.UUID       `json:"id"`
	SaleID      uuid.UUID       `json:"sale_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	LocationID  int64           `json:"location_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SaleDraft is everything needed to record a sale in one transaction.
type SaleDraft struct {
	LocationID     int64
	OperatorID     int64
	PaymentMethod  PaymentMethod
	AmountReceived decimal.Decimal
	IdempotencyKey string
	Lines          []SaleLineDraft
}

type SaleLineDraft struct {
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (l SaleLineDraft) LineTotal() decimal.Decimal {
	return RoundMoney(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

func (d SaleDraft) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}
