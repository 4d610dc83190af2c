package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Pinger reports whether the store behind the API is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Log            zerolog.Logger
	RequestTimeout time.Duration
	DB             Pinger
	Metrics        http.Handler

	Products     *ProductHandler
	Carts        *CartHandler
	Checkout     *CheckoutHandler
	CashSessions *CashSessionHandler
}

func NewRouter(cfg RouterConfig) chi.Router {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(cfg.Log))
	r.Use(requestLogger)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", health(cfg.DB))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SessionMiddleware)

		r.Get("/products", cfg.Products.Search)
		r.Get("/products/{id}", cfg.Products.Get)

		r.Get("/cart", cfg.Carts.GetCart)
		r.Delete("/cart", cfg.Carts.ClearCart)
		r.Post("/cart/items", cfg.Carts.AddItem)
		r.Patch("/cart/items/{product_id}", cfg.Carts.UpdateQuantity)
		r.Delete("/cart/items/{product_id}", cfg.Carts.RemoveItem)

		r.Post("/checkout/change", cfg.Checkout.Change)
		r.Post("/checkout", cfg.Checkout.Checkout)
		r.Get("/sales", cfg.Checkout.ListSales)
		r.Get("/sales/{id}/receipt", cfg.Checkout.Receipt)
		r.Delete("/sales/{id}", cfg.Checkout.DeleteSale)

		r.Get("/cash-sessions", cfg.CashSessions.History)
		r.Post("/cash-sessions", cfg.CashSessions.Open)
		r.Get("/cash-sessions/current", cfg.CashSessions.Current)
		r.Post("/cash-sessions/current/movements", cfg.CashSessions.RegisterMovement)
		r.Get("/cash-sessions/current/reconciliation", cfg.CashSessions.Reconciliation)
		r.Post("/cash-sessions/current/close", cfg.CashSessions.Close)
		r.Get("/cash-sessions/{id}", cfg.CashSessions.Get)
	})

	return r
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
				respondError(w, r, http.StatusServiceUnavailable, "unavailable", "database unreachable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
