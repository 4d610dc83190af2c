package domain

import "github.com/shopspring/decimal"

// TaxRate is the sales tax already included in every price.
var TaxRate = decimal.RequireFromString("0.18")

// TaxBreakdown splits a tax-inclusive total into its net and tax parts.
type TaxBreakdown struct {
	Net   decimal.Decimal `json:"net"`
	Tax   decimal.Decimal `json:"tax"`
	Total decimal.Decimal `json:"total"`
}

func SplitInclusiveTax(total decimal.Decimal) TaxBreakdown {
	net := total.Div(decimal.NewFromInt(1).Add(TaxRate)).Round(2)
	return TaxBreakdown{
		Net:   net,
		Tax:   total.Sub(net),
		Total: total,
	}
}

// RoundMoney rounds to cents, the precision every amount is stored with.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MaxAmount is the largest amount the money columns can store.
var MaxAmount = decimal.RequireFromString("9999999999.99")

// ExceedsMaxAmount reports whether d, rounded to cents, is above MaxAmount.
func ExceedsMaxAmount(d decimal.Decimal) bool {
	return RoundMoney(d).GreaterThan(MaxAmount)
}
