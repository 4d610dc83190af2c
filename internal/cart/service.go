package cart

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/rs/zerolog"
)

// ProductLookup resolves a product with the stock currently on hand at a
// location.
type ProductLookup interface {
	GetProduct(ctx context.Context, locationID, productID int64) (*domain.Product, error)
}

const lockStripes = 64

// Service applies cart operations to the cart stored for a session. Each
// operation is load, mutate, save under a per-key lock, so double submits
// from the same register are applied one after the other.
type Service struct {
	store    Store
	products ProductLookup
	log      zerolog.Logger
	locks    [lockStripes]sync.Mutex
}

func NewService(store Store, products ProductLookup, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		products: products,
		log:      log.With().Str("component", "cart").Logger(),
	}
}

func (s *Service) lock(key Key) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	m := &s.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func (s *Service) load(ctx context.Context, key Key) (*Cart, error) {
	c, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrCartNotFound) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, key Key) (*Cart, error) {
	return s.load(ctx, key)
}

func (s *Service) mutate(ctx context.Context, key Key, fn func(c *Cart) error) (*Cart, error) {
	unlock := s.lock(key)
	defer unlock()

	c, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return c, err
	}
	if err := s.store.Save(ctx, key, c); err != nil {
		s.log.Error().Err(err).Str("cart", key.String()).Msg("save cart failed")
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return c, nil
}

// AddProduct looks up the product's current stock at the session location
// and stages one unit of it.
func (s *Service) AddProduct(ctx context.Context, key Key, productID int64) (*Cart, error) {
	product, err := s.products.GetProduct(ctx, key.LocationID, productID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, key, func(c *Cart) error {
		return c.AddLine(*product)
	})
}

func (s *Service) UpdateQuantity(ctx context.Context, key Key, productID int64, delta int) (*Cart, error) {
	return s.mutate(ctx, key, func(c *Cart) error {
		return c.UpdateQuantity(productID, delta)
	})
}

func (s *Service) RemoveLine(ctx context.Context, key Key, productID int64) (*Cart, error) {
	return s.mutate(ctx, key, func(c *Cart) error {
		c.RemoveLine(productID)
		return nil
	})
}

func (s *Service) Clear(ctx context.Context, key Key) error {
	unlock := s.lock(key)
	defer unlock()

	if err := s.store.Delete(ctx, key); err != nil {
		s.log.Error().Err(err).Str("cart", key.String()).Msg("delete cart failed")
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// ErrClearFailed reports that a checkout committed but its cart is still
// stored.
var ErrClearFailed = errors.New("cart was not cleared")

// Checkout runs commit on the stored cart while holding the cart's lock and
// deletes the cart once commit returns nil. Operations on the same cart wait
// until the cart is gone, so nothing staged meanwhile is lost. When commit
// fails the cart is kept as it was.
func (s *Service) Checkout(ctx context.Context, key Key, commit func(c *Cart) error) error {
	unlock := s.lock(key)
	defer unlock()

	c, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if err := commit(c); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrClearFailed, err)
	}
	return nil
}
