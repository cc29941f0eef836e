package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCheckout("cod", OutcomeSuccess, 0.2)
	m.ObserveCheckout("cod", OutcomeSuccess, 0.1)
	m.ObserveCheckout("gateway", OutcomeRejected, 0.01)
	m.StockConflict()
	m.ObserveHTTP("POST", "/api/orders", "201", 0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CheckoutTotal.WithLabelValues("cod", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckoutTotal.WithLabelValues("gateway", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/orders", "201")))

	count, err := testutil.GatherAndCount(reg, "storefront_checkout_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCheckout("cod", OutcomeFailed, 1)
		m.StockConflict()
		m.ObserveHTTP("GET", "/health", "200", 0)
	})
}
