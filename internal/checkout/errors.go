package checkout

import (
	"errors"

	"github.com/fjod/go_pos/internal/repository"
)

var (
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrInsufficientPayment  = errors.New("amount received is less than the total")
	ErrInvalidAmount        = errors.New("amount is out of range")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	ErrInvalidRange         = errors.New("invalid date range")

	ErrSaleNotFound        = repository.ErrSaleNotFound
	ErrInsufficientStock   = repository.ErrInsufficientStock
	ErrSaleInClosedSession = repository.ErrSaleInClosedSession
)

// failureReason is the metrics label of a rejected checkout.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrUnknownPaymentMethod):
		return "unknown_payment_method"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, repository.ErrProductNotFound):
		return "product_not_found"
	default:
		return "internal"
	}
}
