package domain

import "github.com/shopspring/decimal"

// Product is a catalog entry together with the stock on hand at one location.
type Product struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Active    bool            `json:"active"`
	Stock     int             `json:"stock"`
}

type StockMovementKind string

const (
	StockMovementSale         StockMovementKind = "sale"
	StockMovementSaleReversal StockMovementKind = "sale_reversal"
	StockMovementAdjustment   StockMovementKind = "adjustment"
)
