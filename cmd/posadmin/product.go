package main

import (
	"fmt"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// productCmd maintains catalog rows and stock levels. The API only reads
// them.
func productCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage products and stock",
	}
	cmd.AddCommand(productUpsertCmd(opts), productStockCmd(opts))
	return cmd
}

func productUpsertCmd(opts *rootOptions) *cobra.Command {
	var (
		sku      string
		name     string
		price    string
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a product by SKU",
		RunE: func(cmd *cobra.Command, args []string) error {
			unitPrice, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", price, err)
			}
			if unitPrice.IsNegative() {
				return fmt.Errorf("price cannot be negative")
			}

			cfg, log, err := setup(opts)
			if err != nil {
				return err
			}
			repo, err := openRepository(cfg, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			p := &domain.Product{SKU: sku, Name: name, UnitPrice: unitPrice, Active: !inactive}
			if err := repo.UpsertProduct(cmd.Context(), p); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "product %d %s %q %s\n", p.ID, p.SKU, p.Name, domain.RoundMoney(p.UnitPrice).StringFixed(2))
			return nil
		},
	}

	cmd.Flags().StringVar(&sku, "sku", "", "Product SKU")
	cmd.Flags().StringVar(&name, "name", "", "Product name")
	cmd.Flags().StringVar(&price, "price", "", "Unit price, tax included")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Hide the product from sale")
	_ = cmd.MarkFlagRequired("sku")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func productStockCmd(opts *rootOptions) *cobra.Command {
	var (
		location int64
		product  int64
		quantity int
	)

	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Set the stock of a product at a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			if location <= 0 || product <= 0 {
				return fmt.Errorf("location and product must be positive")
			}

			cfg, log, err := setup(opts)
			if err != nil {
				return err
			}
			repo, err := openRepository(cfg, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.SetStock(cmd.Context(), location, product, quantity); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "stock of product %d at location %d set to %d\n", product, location, quantity)
			return nil
		},
	}

	cmd.Flags().Int64Var(&location, "location", 0, "Location ID")
	cmd.Flags().Int64Var(&product, "product", 0, "Product ID")
	cmd.Flags().IntVar(&quantity, "quantity", 0, "Units on hand")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}
