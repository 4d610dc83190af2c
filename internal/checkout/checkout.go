package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_pos/internal/cart"
	"github.com/fjod/go_pos/internal/domain"
	"github.com/fjod/go_pos/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Request struct {
	Session        domain.Session
	PaymentMethod  domain.PaymentMethod
	AmountReceived decimal.Decimal
	IdempotencyKey string
}

// Quote is the checkout panel of a session: what would be charged now.
type Quote struct {
	Lines           []cart.Line         `json:"lines"`
	ItemCount       int                 `json:"item_count"`
	Tax             domain.TaxBreakdown `json:"tax"`
	Total           decimal.Decimal     `json:"total"`
	CheckoutEnabled bool                `json:"checkout_enabled"`
}

// ChangeDue returns received minus total.
func ChangeDue(total, received decimal.Decimal) (decimal.Decimal, error) {
	if received.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	if received.LessThan(total) {
		return decimal.Zero, ErrInsufficientPayment
	}
	return domain.RoundMoney(received.Sub(total)), nil
}

func (s *Service) Quote(ctx context.Context, session domain.Session) (*Quote, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	c, err := s.carts.Get(ctx, cart.KeyFor(session))
	if err != nil {
		return nil, err
	}

	return QuoteCart(c), nil
}

// QuoteCart summarizes a cart for the checkout panel.
func QuoteCart(c *cart.Cart) *Quote {
	lines := c.Lines()
	items := 0
	for _, l := range lines {
		items += l.Quantity
	}
	return &Quote{
		Lines:           lines,
		ItemCount:       items,
		Tax:             c.Tax(),
		Total:           c.Total(),
		CheckoutEnabled: !c.IsEmpty(),
	}
}

// Checkout commits the session's cart as a sale. The cart stays locked from
// the read until it is cleared after the sale is stored; on any error it is
// left as it was.
func (s *Service) Checkout(ctx context.Context, req *Request) (*Receipt, error) {
	receipt, err := s.checkout(ctx, req)
	if err != nil {
		s.metrics.CheckoutFailed(failureReason(err))
		return nil, err
	}
	return receipt, nil
}

// errReplayed ends a checkout that returns an earlier sale without touching
// the cart.
var errReplayed = errors.New("replayed")

func (s *Service) checkout(ctx context.Context, req *Request) (*Receipt, error) {
	if err := req.Session.Validate(); err != nil {
		return nil, err
	}
	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, req.PaymentMethod)
	}
	if req.AmountReceived.IsNegative() || domain.ExceedsMaxAmount(req.AmountReceived) {
		return nil, ErrInvalidAmount
	}

	var receipt *Receipt
	err := s.carts.Checkout(ctx, cart.KeyFor(req.Session), func(c *cart.Cart) error {
		if req.IdempotencyKey != "" {
			existing, err := s.sales.GetSaleByIdempotencyKey(ctx, req.Session.LocationID, req.IdempotencyKey)
			if err != nil && !errors.Is(err, repository.ErrSaleNotFound) {
				return fmt.Errorf("failed to check idempotency: %w", err)
			}
			if existing != nil {
				s.log.Info().
					Str("idempotency_key", req.IdempotencyKey).
					Str("sale_id", existing.ID.String()).
					Msg("duplicate checkout request, returning original sale")
				receipt = replayed(existing)
				return errReplayed
			}
		}

		sale, err := s.commit(ctx, req, c)
		if errors.Is(err, repository.ErrDuplicateSale) {
			// A concurrent request with the same key committed first
			existing, getErr := s.sales.GetSaleByIdempotencyKey(ctx, req.Session.LocationID, req.IdempotencyKey)
			if getErr != nil {
				return fmt.Errorf("failed to load duplicate sale: %w", getErr)
			}
			receipt = replayed(existing)
			return errReplayed
		}
		if err != nil {
			return err
		}
		receipt = BuildReceipt(sale)
		return nil
	})
	switch {
	case errors.Is(err, errReplayed):
		return receipt, nil
	case errors.Is(err, cart.ErrClearFailed):
		s.log.Warn().Err(err).Str("sale_id", receipt.SaleID.String()).Msg("sale committed but cart was not cleared")
		return receipt, nil
	case err != nil:
		return nil, err
	}
	return receipt, nil
}

// commit stores the cart as a sale.
func (s *Service) commit(ctx context.Context, req *Request, c *cart.Cart) (*domain.Sale, error) {
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	total := c.Total()
	if domain.ExceedsMaxAmount(total) {
		return nil, fmt.Errorf("%w: total %s", ErrInvalidAmount, total.StringFixed(2))
	}
	received := req.AmountReceived
	if req.PaymentMethod == domain.PaymentCash {
		if _, err := ChangeDue(total, received); err != nil {
			return nil, err
		}
	} else {
		received = total
	}

	draft := &domain.SaleDraft{
		LocationID:     req.Session.LocationID,
		OperatorID:     req.Session.OperatorID,
		PaymentMethod:  req.PaymentMethod,
		AmountReceived: received,
		IdempotencyKey: req.IdempotencyKey,
		Lines:          c.SaleLines(),
	}

	sale, err := s.sales.CreateSale(ctx, draft)
	if err != nil {
		if !errors.Is(err, repository.ErrDuplicateSale) {
			s.log.Warn().Err(err).
				Int64("location_id", req.Session.LocationID).
				Int64("operator_id", req.Session.OperatorID).
				Msg("sale commit failed, cart kept")
		}
		return nil, err
	}

	s.metrics.SaleCompleted(sale.PaymentMethod.String(), sale.Total)
	s.log.Info().
		Str("sale_id", sale.ID.String()).
		Int64("display_number", sale.DisplayNumber).
		Int64("location_id", sale.LocationID).
		Str("total", sale.Total.StringFixed(2)).
		Msg("sale completed")
	return sale, nil
}

func replayed(sale *domain.Sale) *Receipt {
	r := BuildReceipt(sale)
	r.Replayed = true
	return r
}

func (s *Service) GetReceipt(ctx context.Context, locationID int64, saleID uuid.UUID) (*Receipt, error) {
	if locationID <= 0 {
		return nil, domain.ErrMissingContext
	}
	sale, err := s.sales.GetSale(ctx, locationID, saleID)
	if err != nil {
		return nil, err
	}
	return BuildReceipt(sale), nil
}

// ListSales returns the sale headers of a location in [from, to), newest
// first. Zero bounds are open.
func (s *Service) ListSales(ctx context.Context, locationID int64, from, to time.Time, limit int) ([]*domain.Sale, error) {
	if locationID <= 0 {
		return nil, domain.ErrMissingContext
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidRange)
	}
	return s.sales.ListSales(ctx, locationID, from, to, limit)
}

// DeleteSale removes a sale and returns its units to stock.
func (s *Service) DeleteSale(ctx context.Context, session domain.Session, saleID uuid.UUID) error {
	if err := session.Validate(); err != nil {
		return err
	}
	if err := s.sales.DeleteSale(ctx, session.LocationID, saleID); err != nil {
		return err
	}

	s.metrics.SaleDeleted()
	s.log.Info().
		Str("sale_id", saleID.String()).
		Int64("location_id", session.LocationID).
		Int64("operator_id", session.OperatorID).
		Msg("sale deleted")
	return nil
}
