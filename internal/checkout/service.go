// Package checkout turns the cart of a checkout session into a committed
// sale and serves the receipts of committed sales.
package checkout

import (
	"context"
	"time"

	"github.com/fjod/go_pos/internal/cart"
	"github.com/fjod/go_pos/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SaleStore commits and reads sales. CreateSale must record the whole sale
// atomically or nothing at all.
type SaleStore interface {
	CreateSale(ctx context.Context, draft *domain.SaleDraft) (*domain.Sale, error)
	GetSale(ctx context.Context, locationID int64, id uuid.UUID) (*domain.Sale, error)
	GetSaleByIdempotencyKey(ctx context.Context, locationID int64, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, locationID int64, from, to time.Time, limit int) ([]*domain.Sale, error)
	DeleteSale(ctx context.Context, locationID int64, id uuid.UUID) error
}

// Carts is the part of the cart service checkout needs.
type Carts interface {
	Get(ctx context.Context, key cart.Key) (*cart.Cart, error)
	Checkout(ctx context.Context, key cart.Key, commit func(c *cart.Cart) error) error
}

type Recorder interface {
	SaleCompleted(method string, total decimal.Decimal)
	CheckoutFailed(reason string)
	SaleDeleted()
}

type Service struct {
	sales   SaleStore
	carts   Carts
	metrics Recorder
	log     zerolog.Logger
}

func NewService(sales SaleStore, carts Carts, metrics Recorder, log zerolog.Logger) *Service {
	return &Service{
		sales:   sales,
		carts:   carts,
		metrics: metrics,
		log:     log.With().Str("component", "checkout").Logger(),
	}
}
