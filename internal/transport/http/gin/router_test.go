package httpgin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/metrics"
	"github.com/kirinyoku/seatledger/internal/payment"
	"github.com/kirinyoku/seatledger/internal/payment/paymenttest"
	"github.com/kirinyoku/seatledger/internal/repository/memory"
	"github.com/kirinyoku/seatledger/internal/service"
	"github.com/kirinyoku/seatledger/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "s3cret"

var fixedNow = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type memIdem struct {
	mu   sync.Mutex
	vals map[string]string
}

func (m *memIdem) Begin(_ context.Context, key string, _ time.Duration) (string, bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vals[key]
	if !ok {
		m.vals[key] = ""
		return "", false, true, nil
	}
	if v == "" {
		return "", false, false, nil
	}
	return v, true, false, nil
}

func (m *memIdem) SaveResult(_ context.Context, key, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = payload
	return nil
}

func (m *memIdem) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

type testServer struct {
	store  *memory.Store
	router *gin.Engine
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	store.PutEvent(domain.Event{ID: 35, VenueID: 1, Title: "Harvest dinner", TotalSeats: 100, AvailableSeats: 100,
		IsActive: true, StartsAt: fixedNow.AddDate(0, 0, 10)})
	store.PutEvent(domain.Event{ID: 40, VenueID: 1, TotalSeats: 50, AvailableSeats: 50,
		IsActive: true, IsPrivate: true, StartsAt: fixedNow.AddDate(0, 0, 10)})
	store.PutTable(domain.Table{ID: 286, VenueID: 1, Label: "T12", Capacity: 4})
	store.PutTable(domain.Table{ID: 287, VenueID: 1, Label: "T13", Capacity: 6})

	now := func() time.Time { return fixedNow }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())

	svcs := service.NewServices(service.Deps{
		Store:     store,
		Validator: validation.New(validation.Config{}, now),
		Parser:    payment.NewVerifier(paymenttest.Secret),
		Metrics:   m,
		Logger:    logger,
		Now:       now,
	})

	router := NewRouter(svcs, logger, Options{
		AdminToken:  token,
		Metrics:     m,
		Idempotency: &memIdem{vals: map[string]string{}},
	})

	return &testServer{store: store, router: router}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func admin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminToken, "X-Actor": "ops@example.com"}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func bookingMetadata(seats string) map[string]string {
	return map[string]string{
		"event_id":       "35",
		"table_id":       "286",
		"seat_numbers":   seats,
		"customer_email": "guest@example.com",
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, adminToken)

	w := s.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestStripeWebhook(t *testing.T) {
	s := newTestServer(t, adminToken)
	d := paymenttest.Signed("evt_1", payment.TypeCheckoutCompleted,
		paymenttest.CheckoutSession("cs_1", "pi_1", 12000, bookingMetadata("1,2")))

	w := s.do(http.MethodPost, "/api/stripe-webhook", d.Payload, map[string]string{"Stripe-Signature": d.Header})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[WebhookResponse](t, w)
	assert.True(t, res.Received)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, "evt_1", raw["eventId"])
	assert.Equal(t, payment.TypeCheckoutCompleted, raw["type"])
	assert.Equal(t, "confirmed", res.Outcome)
	assert.NotEmpty(t, res.BookingID)

	w = s.do(http.MethodPost, "/api/stripe-webhook", d.Payload, map[string]string{"Stripe-Signature": d.Header})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[WebhookResponse](t, w).Duplicate)

	w = s.do(http.MethodGet, "/api/bookings/"+res.BookingID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	b := decode[domain.Booking](t, w)
	assert.Equal(t, "T12", b.TableLabel)

	w = s.do(http.MethodGet, "/api/events/35/availability", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(98), decode[domain.AvailabilitySnapshot](t, w).AvailableSeats)

	tag := w.Header().Get("ETag")
	require.NotEmpty(t, tag)
	w = s.do(http.MethodGet, "/api/events/35/availability", nil, map[string]string{"If-None-Match": tag})
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestStripeWebhook_Rejections(t *testing.T) {
	s := newTestServer(t, adminToken)

	bad := paymenttest.SignedWith("whsec_other", "evt_1", payment.TypeCheckoutCompleted,
		paymenttest.CheckoutSession("cs_1", "pi_1", 12000, bookingMetadata("1,2")))
	w := s.do(http.MethodPost, "/api/stripe-webhook", bad.Payload, map[string]string{"Stripe-Signature": bad.Header})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := bytes.Repeat([]byte("x"), defaultWebhookMaxBytes+1)
	w = s.do(http.MethodPost, "/api/stripe-webhook", big, map[string]string{"Stripe-Signature": "t=1,v1=00"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	assert.Empty(t, s.store.AllBookings())
}

func TestCreateHold(t *testing.T) {
	s := newTestServer(t, adminToken)
	req := CreateHoldRequest{TableID: ptr(286), SeatNumbers: []int{1, 2}, PartySize: 2, CustomerRef: "guest@example.com"}
	idem := map[string]string{"Idempotency-Key": "k-1"}

	w := s.do(http.MethodPost, "/api/events/35/holds", req, idem)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[HoldResponse](t, w)
	assert.Equal(t, fixedNow.Add(20*time.Minute), first.ExpiresAt.UTC())

	w = s.do(http.MethodPost, "/api/events/35/holds", req, idem)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, first.HoldID, decode[HoldResponse](t, w).HoldID)
	assert.Equal(t, "k-1", w.Header().Get("Idempotency-Key"))

	other := CreateHoldRequest{TableID: ptr(286), SeatNumbers: []int{2, 3}, PartySize: 2, CustomerRef: "other@example.com"}
	w = s.do(http.MethodPost, "/api/events/35/holds", other, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/events/35/occupancy?tableId=286&seats=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[OccupancyResponse](t, w).HeldOrBooked)

	w = s.do(http.MethodDelete, "/api/holds/"+first.HoldID, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodDelete, "/api/holds/"+first.HoldID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/events/35/occupancy?tableId=286&seats=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[OccupancyResponse](t, w).HeldOrBooked)
}

func TestCreateHold_Errors(t *testing.T) {
	s := newTestServer(t, adminToken)

	w := s.do(http.MethodPost, "/api/events/abc/holds", CreateHoldRequest{PartySize: 2, CustomerRef: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/events/35/holds", map[string]any{"partySize": 2}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "customerRef", decode[ErrorResponse](t, w).Field)

	w = s.do(http.MethodPost, "/api/events/35/holds", map[string]any{"partySize": "two", "customerRef": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "partySize", decode[ErrorResponse](t, w).Field)

	w = s.do(http.MethodPost, "/api/events/99/holds", CreateHoldRequest{PartySize: 2, CustomerRef: "x"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/events/40/holds",
		CreateHoldRequest{TableID: ptr(287), PartySize: 2, CustomerRef: "stranger@example.com"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/events/35/holds",
		CreateHoldRequest{TableID: ptr(286), SeatNumbers: []int{1, 2, 3, 4, 5}, PartySize: 5, CustomerRef: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode[ErrorResponse](t, w).Field)
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t, adminToken)

	w := s.do(http.MethodGet, "/api/admin/log", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/admin/log", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/admin/log", nil, admin())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	locked := newTestServer(t, "")
	w = locked.do(http.MethodGet, "/api/admin/log", nil, admin())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateBooking_RequestBody(t *testing.T) {
	s := newTestServer(t, adminToken)

	body := map[string]any{
		"eventId":        35,
		"tableId":        286,
		"seatNumbers":    []int{1, 2},
		"customerEmail":  "a@example.com",
		"wineSelections": []map[string]any{{"name": "Riesling", "type": "wine_glass", "quantity": 2}},
		"guestNames":     []string{"Ann"},
	}
	w := s.do(http.MethodPost, "/api/bookings", body, admin())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	b := decode[domain.Booking](t, w)
	assert.Equal(t, 2, b.PartySize)
	assert.Equal(t, []int{1, 2}, b.SeatNumbers)
	assert.Equal(t, "T12", b.TableLabel)

	w = s.do(http.MethodPost, "/api/bookings", map[string]any{"eventId": 35, "tableId": 287, "seatNumbers": []int{1}}, admin())
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "customerEmail", decode[ErrorResponse](t, w).Field)

	w = s.do(http.MethodPost, "/api/bookings", []byte(`{"eventId":`), admin())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminBookingLifecycle(t *testing.T) {
	s := newTestServer(t, adminToken)

	create := CreateBookingRequest{
		EventID:       35,
		TableID:       ptr(286),
		SeatNumbers:   []int{1, 2},
		PartySize:     2,
		CustomerEmail: "walkin@example.com",
		Amount:        8000,
	}

	w := s.do(http.MethodPost, "/api/bookings", create, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/bookings", create, admin())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	b := decode[domain.Booking](t, w)

	w = s.do(http.MethodPost, "/api/bookings", create, admin())
	require.Equal(t, http.StatusConflict, w.Code)
	assert.NotNil(t, decode[ErrorResponse](t, w).Conflict)

	w = s.do(http.MethodPost, "/api/admin/bookings/"+b.ID.String()+"/reassign", ReassignBookingRequest{TableID: 287}, admin())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "T13", decode[domain.Booking](t, w).TableLabel)

	w = s.do(http.MethodPost, "/api/admin/bookings/"+b.ID.String()+"/cancel", CancelBookingRequest{Reason: "no show"}, admin())
	require.Equal(t, http.StatusOK, w.Code)
	rel := decode[ReleaseResponse](t, w)
	assert.True(t, rel.Changed)
	assert.Equal(t, domain.StatusCanceled, rel.Booking.Status)

	w = s.do(http.MethodPost, "/api/admin/bookings/"+b.ID.String()+"/reassign", ReassignBookingRequest{TableID: 286}, admin())
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/admin/log?limit=10", nil, admin())
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]domain.AdminLogEntry](t, w)
	require.Len(t, entries, 4)
	assert.Equal(t, domain.ActionCancel, entries[0].Action)
	assert.Equal(t, "ops@example.com", entries[0].Actor)
	assert.Equal(t, domain.ActionReassign, entries[1].Action)
	assert.Equal(t, domain.ActionReconciliationRequired, entries[2].Action)
	assert.Equal(t, domain.ActionManualBooking, entries[3].Action)
}

func TestAdminRefund(t *testing.T) {
	s := newTestServer(t, adminToken)
	d := paymenttest.Signed("evt_1", payment.TypeCheckoutCompleted,
		paymenttest.CheckoutSession("cs_1", "pi_1", 12000, bookingMetadata("1,2")))
	w := s.do(http.MethodPost, "/api/stripe-webhook", d.Payload, map[string]string{"Stripe-Signature": d.Header})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/admin/refunds", RefundRequest{PaymentRef: "pi_1", Amount: 12000}, admin())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[ReleaseResponse](t, w).Changed)

	w = s.do(http.MethodPost, "/api/admin/refunds", RefundRequest{PaymentRef: "pi_unknown"}, admin())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminSyncAndRecovery(t *testing.T) {
	s := newTestServer(t, adminToken)

	w := s.do(http.MethodPost, "/api/admin/sync-all-availability", nil, admin())
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[SyncReport](t, w)
	assert.Len(t, report.Events, 2)
	assert.Empty(t, report.Error)

	again := s.do(http.MethodPost, "/api/admin/sync-all-availability", nil, admin())
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, w.Body.String(), again.Body.String())

	w = s.do(http.MethodPost, "/api/admin/recover-booking", RecoverBookingRequest{SessionID: "cs_1"}, admin())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no provider client configured")

	w = s.do(http.MethodPost, "/api/admin/recover-booking", map[string]string{}, admin())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, adminToken)
	s.do(http.MethodGet, "/healthz", nil, nil)

	w := s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "seatledger_http_requests_total"))
}

func TestAvailabilityStream_NoBroadcast(t *testing.T) {
	s := newTestServer(t, adminToken)

	// gin's Stream needs a CloseNotifier, which the plain recorder lacks.
	w := &closeNotifyingRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events/35/availability/stream", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event:availability")
	assert.Contains(t, w.Body.String(), `"available_seats":100`)
}

type closeNotifyingRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyingRecorder) CloseNotify() <-chan bool { return r.closed }

func ptr(v int64) *int64 { return &v }
