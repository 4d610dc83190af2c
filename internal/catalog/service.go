package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/fjod/go_pos/internal/repository"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	ErrProductNotFound = repository.ErrProductNotFound
	ErrProductInactive = errors.New("product is inactive")
	ErrInvalidQuery    = errors.New("invalid product query")
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Repository reads products with the stock on hand at a location.
type Repository interface {
	GetProduct(ctx context.Context, locationID, productID int64) (*domain.Product, error)
	SearchProducts(ctx context.Context, locationID int64, query string, limit int) ([]*domain.Product, error)
}

type Service struct {
	repo Repository
	log  zerolog.Logger
	sfg  singleflight.Group // Collapses concurrent lookups of the same product
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "catalog").Logger(),
	}
}

// GetProduct returns an active product with its current stock. Callers get
// their own copy even when the lookup was shared.
func (s *Service) GetProduct(ctx context.Context, locationID, productID int64) (*domain.Product, error) {
	if locationID <= 0 {
		return nil, domain.ErrMissingContext
	}
	if productID <= 0 {
		return nil, ErrProductNotFound
	}

	key := fmt.Sprintf("%d:%d", locationID, productID)
	v, err, _ := s.sfg.Do(key, func() (interface{}, error) {
		return s.repo.GetProduct(ctx, locationID, productID)
	})
	if err != nil {
		if !errors.Is(err, ErrProductNotFound) {
			s.log.Error().Err(err).Int64("product_id", productID).Msg("product lookup failed")
		}
		return nil, err
	}

	p := *v.(*domain.Product)
	if !p.Active {
		return nil, fmt.Errorf("%w: %s", ErrProductInactive, p.Name)
	}
	return &p, nil
}

// Search matches active products by name or SKU.
func (s *Service) Search(ctx context.Context, locationID int64, query string, limit int) ([]*domain.Product, error) {
	if locationID <= 0 {
		return nil, domain.ErrMissingContext
	}
	query = strings.TrimSpace(query)
	if len(query) > 100 {
		return nil, fmt.Errorf("%w: query too long", ErrInvalidQuery)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	products, err := s.repo.SearchProducts(ctx, locationID, query, limit)
	if err != nil {
		s.log.Error().Err(err).Str("query", query).Msg("product search failed")
		return nil, err
	}
	if products == nil {
		products = []*domain.Product{}
	}
	return products, nil
}
