package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

// Checkout outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeReplay   = "replay"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type Metrics struct {
	CheckoutTotal    *prometheus.CounterVec
	CheckoutDuration *prometheus.HistogramVec
	StockConflicts   prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Checkout attempts by payment method and outcome.",
		}, []string{"method", "outcome"}),
		CheckoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Checkout latency by payment method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		StockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_conflicts_total",
			Help:      "Checkouts aborted because a conditional stock decrement lost.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	if reg != nil {
		reg.MustRegister(m.CheckoutTotal, m.CheckoutDuration, m.StockConflicts, m.HTTPRequests, m.HTTPDuration)
	}
	return m
}

func (m *Metrics) ObserveCheckout(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.CheckoutTotal.WithLabelValues(method, outcome).Inc()
	m.CheckoutDuration.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) StockConflict() {
	if m == nil {
		return
	}
	m.StockConflicts.Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}
