package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CashSessionState string

const (
	CashSessionOpen   CashSessionState = "open"
	CashSessionClosed CashSessionState = "closed"
)

func (s CashSessionState) IsTerminal() bool {
	return s == CashSessionClosed
}

// CashSession is one open-to-close cycle of a physical register. The closing
// fields stay nil while the session is open.
type CashSession struct {
	ID                   uuid.UUID        `json:"id"`
	LocationID           int64            `json:"location_id"`
	State                CashSessionState `json:"state"`
	OpenedBy             int64            `json:"opened_by"`
	OpeningAmount        decimal.Decimal  `json:"opening_amount"`
	OpenedAt             time.Time        `json:"opened_at"`
	ClosedBy             *int64           `json:"closed_by,omitempty"`
	ClosingAmountCounted *decimal.Decimal `json:"closing_amount_counted,omitempty"`
	TheoreticalAmount    *decimal.Decimal `json:"theoretical_amount,omitempty"`
	Variance             *decimal.Decimal `json:"variance,omitempty"`
	ClosedAt             *time.Time       `json:"closed_at,omitempty"`
}

type MovementType string

const (
	MovementIngress MovementType = "ingress"
	MovementEgress  MovementType = "egress"
)

func (t MovementType) Valid() bool {
	return t == MovementIngress || t == MovementEgress
}

// CashMovement is a manual ingress or egress. Immutable once recorded.
type CashMovement struct {
	ID         uuid.UUID       `json:"id"`
	SessionID  uuid.UUID       `json:"session_id"`
	Type       MovementType    `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	OperatorID int64           `json:"operator_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Reconciliation holds the sums a register close is checked against.
type Reconciliation struct {
	SessionID     uuid.UUID       `json:"session_id"`
	OpeningAmount decimal.Decimal `json:"opening_amount"`
	SalesTotal    decimal.Decimal `json:"sales_total"`
	IngressTotal  decimal.Decimal `json:"ingress_total"`
	EgressTotal   decimal.Decimal `json:"egress_total"`
}

func (r Reconciliation) Theoretical() decimal.Decimal {
	return r.OpeningAmount.Add(r.SalesTotal).Add(r.IngressTotal).Sub(r.EgressTotal)
}

func (r Reconciliation) Variance(counted decimal.Decimal) decimal.Decimal {
	return counted.Sub(r.Theoretical())
}

type VarianceKind string

const (
	VarianceBalanced VarianceKind = "balanced"
	VarianceSurplus  VarianceKind = "surplus"
	VarianceShortage VarianceKind = "shortage"
)

func ClassifyVariance(v decimal.Decimal) VarianceKind {
	switch v.Sign() {
	case 0:
		return VarianceBalanced
	case 1:
		return VarianceSurplus
	default:
		return VarianceShortage
	}
}
