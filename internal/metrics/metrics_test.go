package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.WebhookProcessed("checkout.session.completed", "confirmed", 0.01)
	m.WebhookProcessed("checkout.session.completed", "confirmed", 0.02)
	m.BookingConflict("webhook")
	m.HoldsSwept(3)
	m.AvailableSeats("35", 98)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhooks.WithLabelValues("checkout.session.completed", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("webhook")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.holdsSwept))
	assert.Equal(t, 98.0, testutil.ToFloat64(m.availability.WithLabelValues("35")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.WebhookProcessed("x", "y", 1)
		m.BookingTransition("confirmed")
		m.HoldPlaced("ok")
		m.HTTPRequest("GET", "/healthz", "200", 0.001)
	})
	assert.NotNil(t, m.Handler())
}
