package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/go-chi/chi/v5"
)

type ProductService interface {
	GetProduct(ctx context.Context, locationID, productID int64) (*domain.Product, error)
	Search(ctx context.Context, locationID int64, query string, limit int) ([]*domain.Product, error)
}

type ProductHandler struct {
	products ProductService
	timeout  time.Duration
}

func NewProductHandler(products ProductService, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		products: products,
		timeout:  timeout,
	}
}

type ProductsResponse struct {
	Products []*domain.Product `json:"products"`
}

func (h *ProductHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, ok := queryInt(r, "limit")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}

	session := sessionFromContext(r.Context())
	products, err := h.products.Search(ctx, session.LocationID, r.URL.Query().Get("q"), limit)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, ProductsResponse{Products: products})
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, r, http.StatusBadRequest, "invalid_product_id", "product id must be a positive integer")
		return
	}

	session := sessionFromContext(r.Context())
	product, err := h.products.GetProduct(ctx, session.LocationID, productID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, product)
}

// queryInt reads an optional integer query parameter; absent means zero.
func queryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
