package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	webhooks        *prometheus.CounterVec
	webhookDuration prometheus.Histogram
	bookings        *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	holds           *prometheus.CounterVec
	holdsSwept      prometheus.Counter
	availability    *prometheus.GaugeVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_webhook_events_total",
			Help: "Payment webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		webhookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "seatledger_webhook_processing_seconds",
			Help:    "Time spent processing one webhook delivery.",
			Buckets: prometheus.DefBuckets,
		}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_booking_transitions_total",
			Help: "Booking status transitions.",
		}, []string{"status"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_booking_conflicts_total",
			Help: "Bookings rejected because the table was already taken.",
		}, []string{"source"}),
		holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_holds_total",
			Help: "Hold placement attempts by result.",
		}, []string{"result"}),
		holdsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seatledger_holds_swept_total",
			Help: "Expired holds removed by the sweeper.",
		}),
		availability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "seatledger_event_available_seats",
			Help: "Last computed available seats per event.",
		}, []string{"event_id"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seatledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.webhooks,
		m.webhookDuration,
		m.bookings,
		m.conflicts,
		m.holds,
		m.holdsSwept,
		m.availability,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) WebhookProcessed(eventType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(eventType, outcome).Inc()
	m.webhookDuration.Observe(seconds)
}

func (m *Metrics) BookingTransition(status string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(status).Inc()
}

func (m *Metrics) BookingConflict(source string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(source).Inc()
}

func (m *Metrics) HoldPlaced(result string) {
	if m == nil {
		return
	}
	m.holds.WithLabelValues(result).Inc()
}

func (m *Metrics) HoldsSwept(n int64) {
	if m == nil {
		return
	}
	m.holdsSwept.Add(float64(n))
}

func (m *Metrics) AvailableSeats(eventID string, seats int64) {
	if m == nil {
		return
	}
	m.availability.WithLabelValues(eventID).Set(float64(seats))
}

func (m *Metrics) HTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}
