package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/payment"
	"github.com/kirinyoku/seatledger/internal/payment/paymenttest"
	"github.com/kirinyoku/seatledger/internal/repository"
	"github.com/kirinyoku/seatledger/internal/repository/memory"
	"github.com/kirinyoku/seatledger/internal/service/availability"
	"github.com/kirinyoku/seatledger/internal/service/booking"
	"github.com/kirinyoku/seatledger/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	proc  *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	store.PutEvent(domain.Event{ID: 35, VenueID: 1, TotalSeats: 100, AvailableSeats: 100, IsActive: true,
		StartsAt: fixedNow.AddDate(0, 0, 10)})
	store.PutTable(domain.Table{ID: 286, VenueID: 1, Label: "T12", Capacity: 4})

	now := func() time.Time { return fixedNow }
	v := validation.New(validation.Config{}, now)
	avail := availability.New(store, nil, nil, nil, nil, now)
	bookings := booking.New(store, v, avail, nil, nil, nil)

	return &fixture{
		store: store,
		proc:  NewProcessor(payment.NewVerifier(paymenttest.Secret), store, bookings, nil, nil, now),
	}
}

func metadata(seats string, partySize string) map[string]string {
	return map[string]string{
		"event_id":       "35",
		"table_id":       "286",
		"table_label":    "T12",
		"seat_numbers":   seats,
		"party_size":     partySize,
		"customer_email": "guest@example.com",
	}
}

func checkout(eventID, session string, md map[string]string) paymenttest.Delivery {
	return paymenttest.Signed(eventID, payment.TypeCheckoutCompleted,
		paymenttest.CheckoutSession(session, "pi_"+session, 12000, md))
}

func (f *fixture) process(t *testing.T, d paymenttest.Delivery) (Result, error) {
	t.Helper()
	return f.proc.Process(context.Background(), d.Payload, d.Header)
}

func (f *fixture) available(t *testing.T) int64 {
	t.Helper()
	e, err := f.store.Events().Get(context.Background(), 35)
	require.NoError(t, err)
	return e.AvailableSeats
}

func (f *fixture) processed(t *testing.T, id string) bool {
	t.Helper()
	ok, err := f.store.Webhooks().Exists(context.Background(), id)
	require.NoError(t, err)
	return ok
}

func TestProcess_CheckoutCompleted(t *testing.T) {
	f := newFixture(t)

	res, err := f.process(t, checkout("evt_1", "cs_1", metadata("1,2", "2")))
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.False(t, res.Duplicate)
	require.NotNil(t, res.BookingID)

	bookings := f.store.AllBookings()
	require.Len(t, bookings, 1)
	b := bookings[0]
	assert.Equal(t, domain.StatusConfirmed, b.Status)
	assert.Equal(t, int64(286), *b.TableID)
	assert.Equal(t, "T12", b.TableLabel)
	assert.Equal(t, []int{1, 2}, b.SeatNumbers)
	assert.Equal(t, "cs_1", b.StripeSessionID)
	assert.Equal(t, "pi_cs_1", b.StripePaymentID)

	assert.Equal(t, int64(98), f.available(t))
	assert.True(t, f.processed(t, "evt_1"))
}

func TestProcess_DuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	d := checkout("evt_1", "cs_1", metadata("1,2", "2"))

	for i := 0; i < 3; i++ {
		res, err := f.process(t, d)
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, res.Duplicate)
			assert.Equal(t, OutcomeDuplicate, res.Outcome)
		}
	}

	assert.Len(t, f.store.AllBookings(), 1)
	assert.Equal(t, int64(98), f.available(t))
}

func TestProcess_SamePaymentDifferentEvents(t *testing.T) {
	f := newFixture(t)

	_, err := f.process(t, checkout("evt_1", "cs_1", metadata("1,2", "2")))
	require.NoError(t, err)

	md := metadata("1,2", "2")
	pi := paymenttest.Signed("evt_2", payment.TypePaymentSucceeded, map[string]any{
		"id": "pi_cs_1", "object": "payment_intent", "amount": 12000, "amount_received": 12000,
		"status": "succeeded", "metadata": md,
	})
	res, err := f.process(t, pi)
	require.NoError(t, err)

	assert.Equal(t, OutcomeExisting, res.Outcome)
	assert.Len(t, f.store.AllBookings(), 1)
}

func TestProcess_RaceLoss(t *testing.T) {
	f := newFixture(t)

	_, err := f.process(t, checkout("evt_a", "cs_a", metadata("1,2", "2")))
	require.NoError(t, err)

	res, err := f.process(t, checkout("evt_b", "cs_b", metadata("3,4", "2")))
	require.NoError(t, err, "conflicts are acknowledged")

	assert.Equal(t, OutcomeConflict, res.Outcome)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, "cs_b", res.Conflict.PaymentRef)
	assert.True(t, f.processed(t, "evt_b"))

	assert.Len(t, f.store.AllBookings(), 1)
	assert.Equal(t, int64(98), f.available(t))

	log, err := f.store.AdminLog().List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, domain.ActionReconciliationRequired, log[0].Action)
}

func TestProcess_RefundReleasesSeats(t *testing.T) {
	f := newFixture(t)

	_, err := f.process(t, checkout("evt_1", "cs_1", metadata("1,2,3,4", "4")))
	require.NoError(t, err)
	require.Equal(t, int64(96), f.available(t))

	refund := paymenttest.Signed("evt_2", payment.TypeChargeRefunded,
		paymenttest.RefundedCharge("ch_1", "pi_cs_1", 12000, 12000, metadata("1,2,3,4", "4")))

	res, err := f.process(t, refund)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefunded, res.Outcome)
	assert.Equal(t, int64(100), f.available(t))

	b := f.store.AllBookings()[0]
	assert.Equal(t, domain.StatusRefunded, b.Status)
	assert.Equal(t, int64(12000), b.RefundAmount)

	second := paymenttest.Signed("evt_3", payment.TypePaymentIntentRefunded, map[string]any{
		"id": "pi_cs_1", "object": "payment_intent", "amount": 12000, "amount_refunded": 12000,
	})
	res, err = f.process(t, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.Equal(t, int64(100), f.available(t))

	res, err = f.process(t, refund)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestProcess_RefundBeforeConfirmation(t *testing.T) {
	f := newFixture(t)

	refund := paymenttest.Signed("evt_r", payment.TypeChargeRefunded,
		paymenttest.RefundedCharge("ch_1", "pi_cs_1", 12000, 12000, metadata("1,2", "2")))

	_, err := f.process(t, refund)
	require.ErrorIs(t, err, ErrBookingNotReady)
	assert.False(t, f.processed(t, "evt_r"), "left for redelivery")

	_, err = f.process(t, checkout("evt_1", "cs_1", metadata("1,2", "2")))
	require.NoError(t, err)

	res, err := f.process(t, refund)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefunded, res.Outcome)
	assert.Equal(t, int64(100), f.available(t))
}

func TestProcess_RefundAfterRaceLossIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	_, err := f.process(t, checkout("evt_a", "cs_a", metadata("1,2", "2")))
	require.NoError(t, err)

	res, err := f.process(t, checkout("evt_b", "cs_b", metadata("3,4", "2")))
	require.NoError(t, err)
	require.Equal(t, OutcomeConflict, res.Outcome)

	refund := paymenttest.Signed("evt_rb", payment.TypeChargeRefunded,
		paymenttest.RefundedCharge("ch_b", "pi_cs_b", 12000, 12000, metadata("3,4", "2")))

	res, err = f.process(t, refund)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, res.Outcome)
	assert.Nil(t, res.BookingID)
	assert.True(t, f.processed(t, "evt_rb"))

	res, err = f.process(t, refund)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	bookings := f.store.AllBookings()
	require.Len(t, bookings, 1)
	assert.Equal(t, "cs_a", bookings[0].StripeSessionID)
	assert.Equal(t, domain.StatusConfirmed, bookings[0].Status)
	assert.Equal(t, int64(98), f.available(t))

	log, err := f.store.AdminLog().List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, domain.ActionRefund, log[0].Action)
	assert.Nil(t, log[0].BookingID)
	assert.Equal(t, []string{"pi_cs_b", "ch_b"}, log[0].PaymentRefs)
	assert.Equal(t, domain.ActionReconciliationRequired, log[1].Action)
	assert.Equal(t, []string{"cs_b", "pi_cs_b"}, log[1].PaymentRefs)
}

func TestProcess_RefundAfterInvalidDataIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	md := metadata("1,2", "2")
	md["wine_selections"] = `[{"name":"Lager","type":"beer","quantity":1}]`

	res, err := f.process(t, checkout("evt_1", "cs_1", md))
	require.NoError(t, err)
	require.Equal(t, OutcomeInvalid, res.Outcome)

	res, err = f.process(t, paymenttest.Signed("evt_r", payment.TypeChargeRefunded,
		paymenttest.RefundedCharge("ch_1", "pi_cs_1", 12000, 12000, md)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, res.Outcome)
	assert.Empty(t, f.store.AllBookings())
}

func TestProcess_ForeignRefundIsNoop(t *testing.T) {
	f := newFixture(t)

	refund := paymenttest.Signed("evt_r", payment.TypeChargeRefunded,
		paymenttest.RefundedCharge("ch_9", "pi_other", 500, 500, map[string]string{"order": "42"}))

	res, err := f.process(t, refund)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.True(t, f.processed(t, "evt_r"))
}

func TestProcess_DisputeCancels(t *testing.T) {
	f := newFixture(t)

	_, err := f.process(t, checkout("evt_1", "cs_1", metadata("1,2", "2")))
	require.NoError(t, err)

	res, err := f.process(t, paymenttest.Signed("evt_d", payment.TypeDisputeCreated,
		paymenttest.Dispute("dp_1", "ch_1", "pi_cs_1", 12000)))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCanceled, res.Outcome)
	assert.Equal(t, domain.StatusCanceled, f.store.AllBookings()[0].Status)
	assert.Equal(t, int64(100), f.available(t))
}

func TestProcess_BadSignature(t *testing.T) {
	f := newFixture(t)
	d := paymenttest.SignedWith("whsec_wrong", "evt_1", payment.TypeCheckoutCompleted,
		paymenttest.CheckoutSession("cs_1", "pi_1", 12000, metadata("1,2", "2")))

	_, err := f.process(t, d)
	require.ErrorIs(t, err, domain.ErrAuthenticity)

	assert.Empty(t, f.store.AllBookings())
	assert.False(t, f.processed(t, "evt_1"))
	assert.Equal(t, int64(100), f.available(t))
}

func TestProcess_InvalidSelectionNeedsReconciliation(t *testing.T) {
	f := newFixture(t)
	md := metadata("1,2", "2")
	md["wine_selections"] = `[{"name":"Lager","type":"beer","quantity":1}]`

	res, err := f.process(t, checkout("evt_1", "cs_1", md))
	require.NoError(t, err)

	assert.Equal(t, OutcomeInvalid, res.Outcome)
	assert.Empty(t, f.store.AllBookings())
	assert.True(t, f.processed(t, "evt_1"))

	log, err := f.store.AdminLog().List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, domain.ActionReconciliationRequired, log[0].Action)
}

func TestProcess_UnsupportedAndUnpaid(t *testing.T) {
	f := newFixture(t)

	res, err := f.process(t, paymenttest.Signed("evt_x", "customer.created", map[string]any{"id": "cus_1"}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	session := paymenttest.CheckoutSession("cs_1", "pi_1", 12000, metadata("1,2", "2"))
	session["payment_status"] = "unpaid"
	res, err = f.process(t, paymenttest.Signed("evt_u", payment.TypeCheckoutCompleted, session))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Empty(t, f.store.AllBookings())
}

func TestProcess_TransientFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	d := checkout("evt_1", "cs_1", metadata("1,2", "2"))

	f.store.FailNext = errors.New("connection reset")
	_, err := f.process(t, d)
	require.ErrorIs(t, err, repository.ErrTransient)
	assert.False(t, f.processed(t, "evt_1"))

	res, err := f.process(t, d)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
}
