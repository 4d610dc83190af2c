package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_pos/internal/cart"
	"github.com/fjod/go_pos/internal/cashsession"
	"github.com/fjod/go_pos/internal/catalog"
	"github.com/fjod/go_pos/internal/checkout"
	"github.com/fjod/go_pos/internal/domain"
	"github.com/fjod/go_pos/internal/metrics"
	"github.com/fjod/go_pos/internal/repository/repotest"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router  http.Handler
	x, y, z *domain.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	repo := repotest.NewSQLite(t)
	m := metrics.New(nil)

	products := catalog.NewService(repo, log)
	carts := cart.NewService(cart.NewMemoryStore(), products, log)
	sales := checkout.NewService(repo, carts, m, log)
	sessions := cashsession.NewService(repo, m, log)

	return &fixture{
		router: NewRouter(RouterConfig{
			Log:          log,
			DB:           repo,
			Metrics:      m.Handler(),
			Products:     NewProductHandler(products, 5*time.Second),
			Carts:        NewCartHandler(carts, 5*time.Second),
			Checkout:     NewCheckoutHandler(sales, 5*time.Second),
			CashSessions: NewCashSessionHandler(sessions, 5*time.Second),
		}),
		x: repotest.SeedProduct(t, repo, 1, "X", "Product X", "10.00", 5),
		y: repotest.SeedProduct(t, repo, 1, "Y", "Product Y", "5.00", 5),
		z: repotest.SeedProduct(t, repo, 1, "Z", "Product Z", "3.00", 0),
	}
}

// do sends a request as operator 9 at location 1.
func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return f.doAs(t, "1", "9", method, path, body)
}

func (f *fixture) doAs(t *testing.T, location, operator, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if location != "" {
		req.Header.Set(HeaderLocationID, location)
	}
	if operator != "" {
		req.Header.Set(HeaderOperatorID, operator)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), rec.Body.String())
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, code, resp.Code)
	assert.NotEmpty(t, resp.Error)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.doAs(t, "", "", http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRegisterDay(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/cash-sessions", OpenSessionRequestDTO{OpeningAmount: decimal.NewFromInt(100)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, id := range []int64{f.x.ID, f.x.ID, f.y.ID} {
		rec = f.do(t, http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{ProductID: id})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/v1/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var quote checkout.Quote
	decode(t, rec, &quote)
	assert.Equal(t, 3, quote.ItemCount)
	assert.True(t, quote.CheckoutEnabled)
	assertMoney(t, "25", quote.Total)
	require.Len(t, quote.Lines, 2)
	assert.Equal(t, f.x.ID, quote.Lines[0].ProductID)
	assert.Equal(t, 2, quote.Lines[0].Quantity)

	rec = f.do(t, http.MethodPost, "/api/v1/checkout/change", ChangeRequestDTO{AmountReceived: decimal.NewFromInt(30)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var change ChangeResponse
	decode(t, rec, &change)
	assertMoney(t, "5", change.Change)

	rec = f.do(t, http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{
		PaymentMethod:  domain.PaymentCash,
		AmountReceived: decimal.NewFromInt(30),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var receipt checkout.Receipt
	decode(t, rec, &receipt)
	assert.Equal(t, int64(1), receipt.DisplayNumber)
	assertMoney(t, "25", receipt.Total)
	assertMoney(t, "5", receipt.Change)
	assert.Equal(t, checkout.PrintPath(receipt.SaleID), receipt.PrintPath)

	rec = f.do(t, http.MethodGet, receipt.PrintPath, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/cart", nil)
	decode(t, rec, &quote)
	assert.False(t, quote.CheckoutEnabled)
	assert.Empty(t, quote.Lines)

	rec = f.do(t, http.MethodGet, "/api/v1/products/"+fmt.Sprint(f.x.ID), nil)
	var product domain.Product
	decode(t, rec, &product)
	assert.Equal(t, 3, product.Stock)

	rec = f.do(t, http.MethodGet, "/api/v1/sales", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sales SalesResponse
	decode(t, rec, &sales)
	require.Len(t, sales.Sales, 1)
	assert.Equal(t, receipt.SaleID, sales.Sales[0].ID)

	rec = f.do(t, http.MethodPost, "/api/v1/cash-sessions/current/movements", MovementRequestDTO{
		Type:   domain.MovementEgress,
		Amount: decimal.NewFromInt(10),
		Reason: "supplier",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/cash-sessions/current/reconciliation?counted=110", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var recon ReconciliationResponse
	decode(t, rec, &recon)
	assertMoney(t, "115", recon.Theoretical)
	require.NotNil(t, recon.Preview)
	assertMoney(t, "-5", recon.Preview.Variance)
	assert.Equal(t, domain.VarianceShortage, recon.Preview.Kind)

	rec = f.do(t, http.MethodPost, "/api/v1/cash-sessions/current/close", CloseSessionRequestDTO{CountedAmount: decimal.NewFromInt(118)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var closed cashsession.CloseResult
	decode(t, rec, &closed)
	assert.Equal(t, domain.CashSessionClosed, closed.Session.State)
	assertMoney(t, "3", *closed.Session.Variance)
	assert.Equal(t, domain.VarianceSurplus, closed.Kind)

	rec = f.do(t, http.MethodGet, "/api/v1/cash-sessions/current", nil)
	var status cashsession.Status
	decode(t, rec, &status)
	assert.True(t, status.CanOpen)
	assert.Nil(t, status.Session)

	rec = f.do(t, http.MethodGet, "/api/v1/cash-sessions/"+closed.Session.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var detail cashsession.Detail
	decode(t, rec, &detail)
	require.Len(t, detail.Movements, 1)
	assertMoney(t, "115", detail.Reconciliation.Theoretical())

	rec = f.do(t, http.MethodGet, "/api/v1/cash-sessions?limit=5", nil)
	var history SessionsResponse
	decode(t, rec, &history)
	assert.Len(t, history.Sessions, 1)
}

func TestCheckout_IdempotentReplay(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{ProductID: f.y.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := CheckoutRequestDTO{PaymentMethod: domain.PaymentCard, IdempotencyKey: "register-1-0001"}
	rec = f.do(t, http.MethodPost, "/api/v1/checkout", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first checkout.Receipt
	decode(t, rec, &first)
	assertMoney(t, "5", first.AmountReceived)

	rec = f.do(t, http.MethodPost, "/api/v1/checkout", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second checkout.Receipt
	decode(t, rec, &second)
	assert.Equal(t, first.SaleID, second.SaleID)
	assert.True(t, second.Replayed)
}

func TestDeleteSale(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{ProductID: f.x.ID})
	rec := f.do(t, http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{PaymentMethod: domain.PaymentTransfer})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var receipt checkout.Receipt
	decode(t, rec, &receipt)

	rec = f.do(t, http.MethodDelete, "/api/v1/sales/"+receipt.SaleID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/products/"+fmt.Sprint(f.x.ID), nil)
	var product domain.Product
	decode(t, rec, &product)
	assert.Equal(t, 5, product.Stock)

	rec = f.do(t, http.MethodDelete, "/api/v1/sales/"+receipt.SaleID.String(), nil)
	assertErrorCode(t, rec, http.StatusNotFound, "sale_not_found")
}

func TestDeleteSale_ClosedSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/cash-sessions", OpenSessionRequestDTO{OpeningAmount: decimal.NewFromInt(100)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	f.do(t, http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{ProductID: f.x.ID})
	rec = f.do(t, http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{PaymentMethod: domain.PaymentCash, AmountReceived: decimal.NewFromInt(10)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var receipt checkout.Receipt
	decode(t, rec, &receipt)
	rec = f.do(t, http.MethodPost, "/api/v1/cash-sessions/current/close", CloseSessionRequestDTO{CountedAmount: decimal.NewFromInt(110)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/api/v1/sales/"+receipt.SaleID.String(), nil)
	assertErrorCode(t, rec, http.StatusConflict, "sale_in_closed_session")

	rec = f.do(t, http.MethodGet, "/api/v1/products/"+fmt.Sprint(f.x.ID), nil)
	var product domain.Product
	decode(t, rec, &product)
	assert.Equal(t, 4, product.Stock)
}

func TestCartOperations(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{ProductID: f.x.ID})
	f.do(t, http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{ProductID: f.y.ID})

	rec := f.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/cart/items/%d", f.x.ID), UpdateQuantityRequestDTO{Delta: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var quote checkout.Quote
	decode(t, rec, &quote)
	assertMoney(t, "35", quote.Total)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/cart/items/%d", f.y.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &quote)
	require.Len(t, quote.Lines, 1)
	assertMoney(t, "30", quote.Total)

	// Another operator at the same location has a separate cart
	rec = f.doAs(t, "1", "10", http.MethodGet, "/api/v1/cart", nil)
	decode(t, rec, &quote)
	assert.Empty(t, quote.Lines)

	rec = f.do(t, http.MethodDelete, "/api/v1/cart", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/cart", nil)
	decode(t, rec, &quote)
	assert.Empty(t, quote.Lines)
}

func TestProductSearch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/products?q=product&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ProductsResponse
	decode(t, rec, &resp)
	assert.Len(t, resp.Products, 2)

	rec = f.do(t, http.MethodGet, "/api/v1/products?limit=many", nil)
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_limit")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, f *fixture)
		method string
		path   func(f *fixture) string
		body   interface{}
		status int
		code   string
	}{
		{
			name:   "empty cart",
			method: http.MethodPost,
			path:   func(*fixture) string { return "/api/v1/checkout" },
			body:   CheckoutRequestDTO{PaymentMethod: domain.PaymentCash, AmountReceived: decimal.NewFromInt(10)},
			status: http.StatusUnprocessableEntity,
			code:   "empty_cart",
		},
		{
			name: "insufficient payment",
			setup: func(t *testing.T, f *fixture) {
				f.do(t, http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{ProductID: f.x.ID})
			},
			method: http.MethodPost,
			path:   func(*fixture) string { return "/api/v1/checkout" },
			body:   CheckoutRequestDTO{PaymentMethod: domain.PaymentCash, AmountReceived: decimal.NewFromInt(5)},
			status: http.StatusUnprocessableEntity,
			code:   "insufficient_payment",
		},
		{
			name:   "unknown payment method",
			method: http.MethodPost,
			path:   func(*fixture) string { return "/api/v1/checkout" },
			body:   CheckoutRequestDTO{PaymentMethod: "voucher"},
			status: http.StatusBadRequest,
			code:   "unknown_payment_method",
		},
		{
			name:   "out of stock",
			method: http.MethodPost,
			path:   func(*fixture) string { return "/api/v1/cart/items" },
			body:   func(f *fixture) interface{} { return AddItemRequestDTO{ProductID: f.z.ID} },
			status: http.StatusConflict,
			code:   "out_of_stock",
		},
		{
			name:   "unknown product",
			method: http.MethodPost,
			path:   func(*fixture) string { return "/api/v1/cart/items" },
			body:   AddItemRequestDTO{ProductID: 9999},
			status: http.StatusNotFound,
			code:   "product_not_found",
		},
		{
			name: "quantity below one",
			setup: func(t *testing.T, f *fixture) {
				f.do(t, http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{ProductID: f.x.ID})
			},
			method: http.MethodPatch,
			path:   func(f *fixture) string { return fmt.Sprintf("/api/v1/cart/items/%d", f.x.ID) },
			body:   UpdateQuantityRequestDTO{Delta: -1},
			status: http.StatusUnprocessableEntity,
			code:   "quantity_below_one",
		},
		{
			name:   "line not found",
			method: http.MethodPatch,
			path:   func(f *fixture) string { return fmt.Sprintf("/api/v1/cart/items/%d", f.y.ID) },
			body:   UpdateQuantityRequestDTO{Delta: 1},
			status: http.StatusNotFound,
			code:   "line_not_found",
		},
		{
			name: "second open",
			setup: func(t *testing.T, f *fixture) {
				f.do(t, http.MethodPost, "/api/v1/cash-sessions", OpenSessionRequestDTO{OpeningAmount: decimal.NewFromInt(50)})
			},
			method: http.MethodPost,
			path:   func(*fixture) string { return "/api/v1/cash-sessions" },
			body:   OpenSessionRequestDTO{OpeningAmount: decimal.NewFromInt(50)},
			status: http.StatusConflict,
			code:   "session_already_open",
		},
		{
			name:   "movement without session",
			method: http.MethodPost,
			path:   func(*fixture) string { return "/api/v1/cash-sessions/current/movements" },
			body:   MovementRequestDTO{Type: domain.MovementIngress, Amount: decimal.NewFromInt(5), Reason: "change"},
			status: http.StatusConflict,
			code:   "no_open_session",
		},
		{
			name: "movement without reason",
			setup: func(t *testing.T, f *fixture) {
				f.do(t, http.MethodPost, "/api/v1/cash-sessions", OpenSessionRequestDTO{OpeningAmount: decimal.NewFromInt(50)})
			},
			method: http.MethodPost,
			path:   func(*fixture) string { return "/api/v1/cash-sessions/current/movements" },
			body:   MovementRequestDTO{Type: domain.MovementIngress, Amount: decimal.NewFromInt(5), Reason: "  "},
			status: http.StatusBadRequest,
			code:   "reason_required",
		},
		{
			name:   "close without session",
			method: http.MethodPost,
			path:   func(*fixture) string { return "/api/v1/cash-sessions/current/close" },
			body:   CloseSessionRequestDTO{CountedAmount: decimal.NewFromInt(5)},
			status: http.StatusConflict,
			code:   "no_open_session",
		},
		{
			name:   "unknown session",
			method: http.MethodGet,
			path:   func(*fixture) string { return "/api/v1/cash-sessions/6f1c5d8e-3c1b-4a56-9d0e-0b8f2a4c7e11" },
			status: http.StatusNotFound,
			code:   "session_not_found",
		},
		{
			name:   "bad sale id",
			method: http.MethodGet,
			path:   func(*fixture) string { return "/api/v1/sales/not-a-uuid/receipt" },
			status: http.StatusBadRequest,
			code:   "invalid_sale_id",
		},
		{
			name:   "inverted sales range",
			method: http.MethodGet,
			path: func(*fixture) string {
				return "/api/v1/sales?from=2026-01-02T00:00:00Z&to=2026-01-01T00:00:00Z"
			},
			status: http.StatusBadRequest,
			code:   "invalid_range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			body := tt.body
			if build, ok := body.(func(*fixture) interface{}); ok {
				body = build(f)
			}

			rec := f.do(t, tt.method, tt.path(f), body)

			assertErrorCode(t, rec, tt.status, tt.code)
		})
	}
}

func TestSessionHeaders(t *testing.T) {
	f := newFixture(t)

	rec := f.doAs(t, "", "", http.MethodGet, "/api/v1/cart", nil)
	assertErrorCode(t, rec, http.StatusBadRequest, "missing_context")

	rec = f.doAs(t, "abc", "9", http.MethodGet, "/api/v1/cart", nil)
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_location")

	rec = f.doAs(t, "1", "-3", http.MethodGet, "/api/v1/cart", nil)
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_operator")

	rec = f.doAs(t, "1", "", http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{PaymentMethod: domain.PaymentCard})
	assertErrorCode(t, rec, http.StatusBadRequest, "missing_context")
}

func TestInvalidJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader("{"))
	req.Header.Set(HeaderLocationID, "1")
	req.Header.Set(HeaderOperatorID, "9")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{PaymentMethod: domain.PaymentCard})

	rec := f.doAs(t, "", "", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pos_checkout_failures_total{reason="empty_cart"} 1`)
}
