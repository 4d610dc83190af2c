// Package metrics holds the prometheus collectors of the POS service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "pos"

type Metrics struct {
	reg prometheus.Gatherer

	SalesCompleted   *prometheus.CounterVec
	SalesAmount      *prometheus.CounterVec
	CheckoutFailures *prometheus.CounterVec
	SalesDeleted     prometheus.Counter
	SessionsOpened   prometheus.Counter
	SessionsClosed   prometheus.Counter
	CashMovements    *prometheus.CounterVec
	CloseVariance    prometheus.Histogram
	OutboxPublished  *prometheus.CounterVec
	OutboxFailures   prometheus.Counter
}

// New registers every collector on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		reg: reg,
		SalesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_completed_total",
			Help:      "Sales committed, by payment method.",
		}, []string{"payment_method"}),
		SalesAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_amount_total",
			Help:      "Sum of committed sale totals, by payment method.",
		}, []string{"payment_method"}),
		CheckoutFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_failures_total",
			Help:      "Rejected or failed checkouts, by reason.",
		}, []string{"reason"}),
		SalesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_deleted_total",
			Help:      "Sales removed administratively.",
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cash_sessions_opened_total",
			Help:      "Cash sessions opened.",
		}),
		SessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cash_sessions_closed_total",
			Help:      "Cash sessions closed.",
		}),
		CashMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cash_movements_total",
			Help:      "Cash movements registered, by type.",
		}, []string{"type"}),
		CloseVariance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cash_session_close_variance_abs",
			Help:      "Absolute variance between counted and theoretical cash at close.",
			Buckets:   []float64{0, 0.5, 1, 5, 10, 50, 100, 500},
		}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Outbox events delivered to the broker, by event type.",
		}, []string{"event_type"}),
		OutboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_failures_total",
			Help:      "Outbox events that failed to publish.",
		}),
	}

	reg.MustRegister(
		m.SalesCompleted,
		m.SalesAmount,
		m.CheckoutFailures,
		m.SalesDeleted,
		m.SessionsOpened,
		m.SessionsClosed,
		m.CashMovements,
		m.CloseVariance,
		m.OutboxPublished,
		m.OutboxFailures,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) SaleCompleted(method string, total decimal.Decimal) {
	m.SalesCompleted.WithLabelValues(method).Inc()
	m.SalesAmount.WithLabelValues(method).Add(total.InexactFloat64())
}

func (m *Metrics) CheckoutFailed(reason string) {
	m.CheckoutFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SaleDeleted() {
	m.SalesDeleted.Inc()
}

func (m *Metrics) SessionOpened() {
	m.SessionsOpened.Inc()
}

func (m *Metrics) SessionClosed(variance decimal.Decimal) {
	m.SessionsClosed.Inc()
	m.CloseVariance.Observe(variance.Abs().InexactFloat64())
}

func (m *Metrics) MovementRegistered(typ string) {
	m.CashMovements.WithLabelValues(typ).Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	m.OutboxPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) PublishFailed() {
	m.OutboxFailures.Inc()
}
