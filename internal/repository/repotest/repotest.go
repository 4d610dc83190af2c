// Package repotest builds migrated repositories for tests.
package repotest

import (
	"context"
	"testing"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/fjod/go_pos/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// NewSQLite returns a repository on a fresh in-memory database with every
// migration applied. It is closed when the test ends.
func NewSQLite(t testing.TB) *repository.Repository {
	t.Helper()

	creds := &repository.Credentials{Driver: repository.DriverSQLite, Path: ":memory:"}
	repo, err := repository.NewRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))

	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

// SeedProduct creates an active product stocked at locationID.
func SeedProduct(t testing.TB, repo *repository.Repository, locationID int64, sku, name, price string, stock int) *domain.Product {
	t.Helper()
	ctx := context.Background()

	p := &domain.Product{
		SKU:       sku,
		Name:      name,
		UnitPrice: decimal.RequireFromString(price),
		Active:    true,
	}
	require.NoError(t, repo.UpsertProduct(ctx, p))
	require.NoError(t, repo.SetStock(ctx, locationID, p.ID, stock))
	p.Stock = stock
	return p
}

// Draft builds a sale draft for the given products, one unit each unless
// quantities are given in the same order.
func Draft(locationID, operatorID int64, method domain.PaymentMethod, received string, products []*domain.Product, quantities ...int) *domain.SaleDraft {
	d := &domain.SaleDraft{
		LocationID:     locationID,
		OperatorID:     operatorID,
		PaymentMethod:  method,
		AmountReceived: decimal.RequireFromString(received),
	}
	for i, p := range products {
		qty := 1
		if i < len(quantities) {
			qty = quantities[i]
		}
		d.Lines = append(d.Lines, domain.SaleLineDraft{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    qty,
			UnitPrice:   p.UnitPrice,
		})
	}
	return d
}
