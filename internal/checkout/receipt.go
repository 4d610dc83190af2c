package checkout

import (
	"time"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReceiptLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Receipt is the printable view of a committed sale.
type Receipt struct {
	SaleID         uuid.UUID            `json:"sale_id"`
	DisplayNumber  int64                `json:"display_number"`
	LocationID     int64                `json:"location_id"`
	OperatorID     int64                `json:"operator_id"`
	PaymentMethod  domain.PaymentMethod `json:"payment_method"`
	Lines          []ReceiptLine        `json:"lines"`
	Tax            domain.TaxBreakdown  `json:"tax"`
	Total          decimal.Decimal      `json:"total"`
	AmountReceived decimal.Decimal      `json:"amount_received"`
	Change         decimal.Decimal      `json:"change"`
	CreatedAt      time.Time            `json:"created_at"`
	PrintPath      string               `json:"print_path"`
	Replayed       bool                 `json:"replayed,omitempty"`
}

func PrintPath(saleID uuid.UUID) string {
	return "/api/v1/sales/" + saleID.String() + "/receipt"
}

func BuildReceipt(sale *domain.Sale) *Receipt {
	r := &Receipt{
		SaleID:         sale.ID,
		DisplayNumber:  sale.DisplayNumber,
		LocationID:     sale.LocationID,
		OperatorID:     sale.OperatorID,
		PaymentMethod:  sale.PaymentMethod,
		Lines:          make([]ReceiptLine, 0, len(sale.Lines)),
		Tax:            domain.SplitInclusiveTax(sale.Total),
		Total:          sale.Total,
		AmountReceived: sale.AmountReceived,
		Change:         sale.Change,
		CreatedAt:      sale.CreatedAt,
		PrintPath:      PrintPath(sale.ID),
	}
	for _, l := range sale.Lines {
		r.Lines = append(r.Lines, ReceiptLine{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LineTotal:   l.LineTotal,
		})
	}
	return r
}
