package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_pos/internal/cart"
	"github.com/fjod/go_pos/internal/checkout"
	"github.com/go-chi/chi/v5"
)

type CartService interface {
	Get(ctx context.Context, key cart.Key) (*cart.Cart, error)
	AddProduct(ctx context.Context, key cart.Key, productID int64) (*cart.Cart, error)
	UpdateQuantity(ctx context.Context, key cart.Key, productID int64, delta int) (*cart.Cart, error)
	RemoveLine(ctx context.Context, key cart.Key, productID int64) (*cart.Cart, error)
	Clear(ctx context.Context, key cart.Key) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
}

func NewCartHandler(carts CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
}

type UpdateQuantityRequestDTO struct {
	Delta int `json:"delta"`
}

// cartKey returns the key of the session cart, writing a 400 when the
// session is incomplete.
func cartKey(w http.ResponseWriter, r *http.Request) (cart.Key, bool) {
	session := sessionFromContext(r.Context())
	if err := session.Validate(); err != nil {
		handleError(w, r, err)
		return cart.Key{}, false
	}
	return cart.KeyFor(session), true
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key, ok := cartKey(w, r)
	if !ok {
		return
	}

	c, err := h.carts.Get(ctx, key)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, checkout.QuoteCart(c))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key, ok := cartKey(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, r, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	c, err := h.carts.AddProduct(ctx, key, req.ProductID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, checkout.QuoteCart(c))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key, ok := cartKey(w, r)
	if !ok {
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, r, http.StatusBadRequest, "invalid_product_id", "product id must be a positive integer")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Delta == 0 {
		respondError(w, r, http.StatusBadRequest, "invalid_delta", "delta must not be zero")
		return
	}

	c, err := h.carts.UpdateQuantity(ctx, key, productID, req.Delta)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, checkout.QuoteCart(c))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key, ok := cartKey(w, r)
	if !ok {
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, r, http.StatusBadRequest, "invalid_product_id", "product id must be a positive integer")
		return
	}

	c, err := h.carts.RemoveLine(ctx, key, productID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, checkout.QuoteCart(c))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key, ok := cartKey(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, key); err != nil {
		handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
