package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_pos/internal/cart"
	"github.com/fjod/go_pos/internal/cashsession"
	"github.com/fjod/go_pos/internal/catalog"
	"github.com/fjod/go_pos/internal/checkout"
	"github.com/fjod/go_pos/internal/domain"
	"github.com/rs/zerolog/hlog"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, r, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings turns service sentinels into HTTP responses. The first match
// wins.
var errorMappings = []errorMapping{
	{domain.ErrMissingContext, http.StatusBadRequest, "missing_context"},

	{cart.ErrOutOfStock, http.StatusConflict, "out_of_stock"},
	{cart.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{cart.ErrQuantityBelowOne, http.StatusUnprocessableEntity, "quantity_below_one"},
	{cart.ErrLineNotFound, http.StatusNotFound, "line_not_found"},
	{cart.ErrInvalidProduct, http.StatusBadRequest, "invalid_product"},

	{catalog.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{catalog.ErrProductInactive, http.StatusConflict, "product_inactive"},
	{catalog.ErrInvalidQuery, http.StatusBadRequest, "invalid_query"},

	{checkout.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
	{checkout.ErrInsufficientPayment, http.StatusUnprocessableEntity, "insufficient_payment"},
	{checkout.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{checkout.ErrUnknownPaymentMethod, http.StatusBadRequest, "unknown_payment_method"},
	{checkout.ErrInvalidRange, http.StatusBadRequest, "invalid_range"},
	{checkout.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{checkout.ErrSaleNotFound, http.StatusNotFound, "sale_not_found"},
	{checkout.ErrSaleInClosedSession, http.StatusConflict, "sale_in_closed_session"},

	{cashsession.ErrSessionAlreadyOpen, http.StatusConflict, "session_already_open"},
	{cashsession.ErrNoOpenSession, http.StatusConflict, "no_open_session"},
	{cashsession.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{cashsession.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{cashsession.ErrReasonRequired, http.StatusBadRequest, "reason_required"},
	{cashsession.ErrUnknownMovementType, http.StatusBadRequest, "unknown_movement_type"},

	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// handleError writes the response for a service error. Anything unmapped is
// an infrastructure failure: it is logged and its text is not exposed.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			respondError(w, r, m.status, m.code, err.Error())
			return
		}
	}

	hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	respondError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
}
