package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_pos/internal/cashsession"
	"github.com/fjod/go_pos/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CashSessionService interface {
	Status(ctx context.Context, locationID int64) (*cashsession.Status, error)
	Open(ctx context.Context, req *cashsession.OpenRequest) (*domain.CashSession, error)
	RegisterMovement(ctx context.Context, req *cashsession.MovementRequest) (*domain.CashMovement, error)
	Reconcile(ctx context.Context, locationID int64) (*domain.Reconciliation, error)
	Preview(rec *domain.Reconciliation, counted decimal.Decimal) (*cashsession.Preview, error)
	Close(ctx context.Context, req *cashsession.CloseRequest) (*cashsession.CloseResult, error)
	Get(ctx context.Context, locationID int64, id uuid.UUID) (*cashsession.Detail, error)
	History(ctx context.Context, locationID int64, limit int) ([]*domain.CashSession, error)
}

type CashSessionHandler struct {
	sessions CashSessionService
	timeout  time.Duration
}

func NewCashSessionHandler(sessions CashSessionService, timeout time.Duration) *CashSessionHandler {
	return &CashSessionHandler{
		sessions: sessions,
		timeout:  timeout,
	}
}

type OpenSessionRequestDTO struct {
	OpeningAmount decimal.Decimal `json:"opening_amount"`
}

type MovementRequestDTO struct {
	Type   domain.MovementType `json:"type"`
	Amount decimal.Decimal     `json:"amount"`
	Reason string              `json:"reason"`
}

type CloseSessionRequestDTO struct {
	CountedAmount decimal.Decimal `json:"counted_amount"`
}

// ReconciliationResponse is the close screen: the sums, the theoretical
// amount and, when a count was given, the live variance.
type ReconciliationResponse struct {
	Reconciliation *domain.Reconciliation `json:"reconciliation"`
	Theoretical    decimal.Decimal        `json:"theoretical_amount"`
	Preview        *cashsession.Preview   `json:"preview,omitempty"`
}

type SessionsResponse struct {
	Sessions []*domain.CashSession `json:"sessions"`
}

func (h *CashSessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session := sessionFromContext(r.Context())
	status, err := h.sessions.Status(ctx, session.LocationID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, status)
}

func (h *CashSessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req OpenSessionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	opened, err := h.sessions.Open(ctx, &cashsession.OpenRequest{
		Session:       sessionFromContext(r.Context()),
		OpeningAmount: req.OpeningAmount,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, opened)
}

func (h *CashSessionHandler) RegisterMovement(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req MovementRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	movement, err := h.sessions.RegisterMovement(ctx, &cashsession.MovementRequest{
		Session: sessionFromContext(r.Context()),
		Type:    req.Type,
		Amount:  req.Amount,
		Reason:  req.Reason,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, movement)
}

func (h *CashSessionHandler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var counted *decimal.Decimal
	if v := r.URL.Query().Get("counted"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid_counted", "counted must be a decimal amount")
			return
		}
		counted = &d
	}

	session := sessionFromContext(r.Context())
	rec, err := h.sessions.Reconcile(ctx, session.LocationID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	resp := ReconciliationResponse{Reconciliation: rec, Theoretical: rec.Theoretical()}
	if counted != nil {
		preview, err := h.sessions.Preview(rec, *counted)
		if err != nil {
			handleError(w, r, err)
			return
		}
		resp.Preview = preview
	}

	respondJSON(w, r, http.StatusOK, resp)
}

func (h *CashSessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CloseSessionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	result, err := h.sessions.Close(ctx, &cashsession.CloseRequest{
		Session:       sessionFromContext(r.Context()),
		CountedAmount: req.CountedAmount,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, result)
}

func (h *CashSessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_session_id", "session id must be a UUID")
		return
	}

	session := sessionFromContext(r.Context())
	detail, err := h.sessions.Get(ctx, session.LocationID, id)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, detail)
}

func (h *CashSessionHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, ok := queryInt(r, "limit")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}

	session := sessionFromContext(r.Context())
	sessions, err := h.sessions.History(ctx, session.LocationID, limit)
	if err != nil {
		handleError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, SessionsResponse{Sessions: sessions})
}
