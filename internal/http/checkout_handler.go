package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_pos/internal/checkout"
	"github.com/fjod/go_pos/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckoutService interface {
	Quote(ctx context.Context, session domain.Session) (*checkout.Quote, error)
	Checkout(ctx context.Context, req *checkout.Request) (*checkout.Receipt, error)
	GetReceipt(ctx context.Context, locationID int64, saleID uuid.UUID) (*checkout.Receipt, error)
	ListSales(ctx context.Context, locationID int64, from, to time.Time, limit int) ([]*domain.Sale, error)
	DeleteSale(ctx context.Context, session domain.Session, saleID uuid.UUID) error
}

type CheckoutHandler struct {
	checkout CheckoutService
	timeout  time.Duration
}

func NewCheckoutHandler(checkout CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
	}
}

type CheckoutRequestDTO struct {
	PaymentMethod  domain.PaymentMethod `json:"payment_method"`
	AmountReceived decimal.Decimal      `json:"amount_received"`
	IdempotencyKey string               `json:"idempotency_key"`
}

type ChangeRequestDTO struct {
	AmountReceived decimal.Decimal `json:"amount_received"`
}

type ChangeResponse struct {
	Total          decimal.Decimal `json:"total"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	Change         decimal.Decimal `json:"change"`
}

type SalesResponse struct {
	Sales []*domain.Sale `json:"sales"`
}

// Change previews the change due for the session cart. Nothing is stored.
func (h *CheckoutHandler) Change(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ChangeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	quote, err := h.checkout.Quote(ctx, sessionFromContext(r.Context()))
	if err != nil {
		handleError(w, r, err)
		return
	}

	change, err := checkout.ChangeDue(quote.Total, req.AmountReceived)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, ChangeResponse{
		Total:          quote.Total,
		AmountReceived: req.AmountReceived,
		Change:         change,
	})
}

func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = r.Header.Get("Idempotency-Key")
	}

	receipt, err := h.checkout.Checkout(ctx, &checkout.Request{
		Session:        sessionFromContext(r.Context()),
		PaymentMethod:  req.PaymentMethod,
		AmountReceived: req.AmountReceived,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, r, status, receipt)
}

func (h *CheckoutHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	from, ok := queryTime(r, "from")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid_from", "from must be an RFC 3339 timestamp")
		return
	}
	to, ok := queryTime(r, "to")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid_to", "to must be an RFC 3339 timestamp")
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}

	session := sessionFromContext(r.Context())
	sales, err := h.checkout.ListSales(ctx, session.LocationID, from, to, limit)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, SalesResponse{Sales: sales})
}

func (h *CheckoutHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	saleID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_sale_id", "sale id must be a UUID")
		return
	}

	session := sessionFromContext(r.Context())
	receipt, err := h.checkout.GetReceipt(ctx, session.LocationID, saleID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, receipt)
}

func (h *CheckoutHandler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	saleID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_sale_id", "sale id must be a UUID")
		return
	}

	if err := h.checkout.DeleteSale(ctx, sessionFromContext(r.Context()), saleID); err != nil {
		handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func queryTime(r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
