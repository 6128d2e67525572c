package booking

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/repository/memory"
	"github.com/kirinyoku/seatledger/internal/service/availability"
	"github.com/kirinyoku/seatledger/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type eventSink struct {
	mu     sync.Mutex
	events []domain.BookingEvent
}

func (s *eventSink) PublishBookingEvent(_ context.Context, ev domain.BookingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *eventSink) kinds() []domain.BookingEventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BookingEventKind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	store *memory.Store
	sink  *eventSink
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	store.PutEvent(domain.Event{ID: 35, VenueID: 1, TotalSeats: 100, AvailableSeats: 100, IsActive: true,
		StartsAt: fixedNow.AddDate(0, 0, 10)})
	store.PutEvent(domain.Event{ID: 40, VenueID: 1, TotalSeats: 5, AvailableSeats: 5, IsActive: true,
		TicketOnly: true, StartsAt: fixedNow.AddDate(0, 0, 10)})
	store.PutTable(domain.Table{ID: 286, VenueID: 1, Label: "T12", Capacity: 4})
	store.PutTable(domain.Table{ID: 287, VenueID: 1, Label: "T13", Capacity: 4})
	store.PutTable(domain.Table{ID: 288, VenueID: 1, Label: "T14", Capacity: 2})

	now := func() time.Time { return fixedNow }
	v := validation.New(validation.Config{}, now)
	avail := availability.New(store, nil, nil, nil, nil, now)
	sink := &eventSink{}

	return &fixture{store: store, sink: sink, svc: New(store, v, avail, sink, nil, nil)}
}

func ptr(v int64) *int64 { return &v }

func paidInput(session string, tableID int64, seats []int) ConfirmInput {
	return ConfirmInput{
		EventID:         35,
		TableID:         ptr(tableID),
		SeatNumbers:     seats,
		PartySize:       len(seats),
		CustomerEmail:   "guest@example.com",
		StripeSessionID: session,
		StripePaymentID: "pi_" + session,
		Amount:          12000,
		Source:          "webhook",
	}
}

func availableSeats(t *testing.T, f *fixture, eventID int64) int64 {
	t.Helper()
	e, err := f.store.Events().Get(context.Background(), eventID)
	require.NoError(t, err)
	return e.AvailableSeats
}

func TestConfirm_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	holdID := uuid.New()
	require.NoError(t, f.store.Holds().Create(ctx, &domain.Hold{
		ID: holdID, EventID: 35, TableID: ptr(286), SeatNumbers: []int{1, 2}, PartySize: 2,
		CustomerRef: "guest@example.com", HoldStartTime: fixedNow,
	}))

	in := paidInput("cs_1", 286, []int{1, 2})
	in.HoldID = &holdID
	out, err := f.svc.Confirm(ctx, in)
	require.NoError(t, err)

	require.Nil(t, out.Conflict)
	assert.False(t, out.Existing)
	require.NotNil(t, out.Booking)
	assert.Equal(t, domain.StatusConfirmed, out.Booking.Status)
	assert.Equal(t, "T12", out.Booking.TableLabel)
	assert.Equal(t, int64(98), availableSeats(t, f, 35))

	_, err = f.store.Holds().Get(ctx, holdID)
	assert.Error(t, err, "hold released")

	assert.Equal(t, []domain.BookingEventKind{domain.BookingConfirmed}, f.sink.kinds())
	assert.Equal(t, "T12", f.sink.events[0].TableLabel)
}

func TestConfirm_SamePaymentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Confirm(ctx, paidInput("cs_1", 286, []int{1, 2}))
	require.NoError(t, err)

	again, err := f.svc.Confirm(ctx, paidInput("cs_1", 286, []int{1, 2}))
	require.NoError(t, err)

	assert.True(t, again.Existing)
	assert.Equal(t, first.Booking.ID, again.Booking.ID)
	assert.Len(t, f.store.AllBookings(), 1)
	assert.Equal(t, int64(98), availableSeats(t, f, 35))
}

func TestConfirm_RaceLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Confirm(ctx, paidInput("cs_a", 286, []int{1, 2}))
	require.NoError(t, err)

	out, err := f.svc.Confirm(ctx, paidInput("cs_b", 286, []int{3, 4}))
	require.NoError(t, err)

	require.NotNil(t, out.Conflict)
	assert.Nil(t, out.Booking)
	assert.Equal(t, "cs_b", out.Conflict.PaymentRef)
	require.NotNil(t, out.Conflict.ExistingBookingID)

	assert.Len(t, f.store.AllBookings(), 1)
	assert.Equal(t, int64(98), availableSeats(t, f, 35))

	log, err := f.store.AdminLog().List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, domain.ActionReconciliationRequired, log[0].Action)
	assert.Equal(t, []string{"cs_b", "pi_cs_b"}, log[0].PaymentRefs)
}

func TestConfirm_ConflictLogsTableID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var buf bytes.Buffer
	f.svc.log = slog.New(slog.NewJSONHandler(&buf, nil))

	_, err := f.svc.Confirm(ctx, paidInput("cs_a", 286, []int{1, 2}))
	require.NoError(t, err)
	out, err := f.svc.Confirm(ctx, paidInput("cs_b", 286, []int{3, 4}))
	require.NoError(t, err)
	require.NotNil(t, out.Conflict)

	assert.Contains(t, buf.String(), `"table_id":286`)
	assert.Equal(t, "none", tableIDAttr(nil))
}

func TestConfirm_ConcurrentDeliveriesKeepOneActiveBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.svc.Confirm(ctx, paidInput(fmt.Sprintf("cs_%d", i), 286, []int{1, 2}))
			if err != nil {
				t.Error(err)
				return
			}
			if out.Conflict != nil {
				mu.Lock()
				conflicts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	active := 0
	for _, b := range f.store.AllBookings() {
		if b.Status.Occupies() && b.TableID != nil && *b.TableID == 286 {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, 7, conflicts)
}

func TestConfirm_InvalidWineSelection(t *testing.T) {
	f := newFixture(t)

	in := paidInput("cs_1", 286, []int{1, 2})
	in.WineSelections = []domain.WineSelection{{Name: "Lager", Type: "beer", Quantity: 1}}

	_, err := f.svc.Confirm(context.Background(), in)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, f.store.AllBookings())
}

func TestConfirm_TicketOnlySoldOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := ConfirmInput{EventID: 40, PartySize: 4, CustomerEmail: "a@b.co", StripeSessionID: "cs_1", Source: "webhook"}
	out, err := f.svc.Confirm(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, out.Booking)

	in2 := ConfirmInput{EventID: 40, PartySize: 2, CustomerEmail: "c@d.co", StripeSessionID: "cs_2", Source: "webhook"}
	out, err = f.svc.Confirm(ctx, in2)
	require.NoError(t, err)
	require.NotNil(t, out.Conflict)
	assert.Equal(t, int64(1), availableSeats(t, f, 40))
}

func TestConfirm_TicketOnlySeatAlreadyBooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := ConfirmInput{EventID: 40, SeatNumbers: []int{1, 2}, PartySize: 2, CustomerEmail: "a@b.co",
		StripeSessionID: "cs_1", Source: "webhook"}
	out, err := f.svc.Confirm(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, out.Booking)

	in2 := ConfirmInput{EventID: 40, SeatNumbers: []int{2, 3}, PartySize: 2, CustomerEmail: "c@d.co",
		StripeSessionID: "cs_2", Source: "webhook"}
	out, err = f.svc.Confirm(ctx, in2)
	require.NoError(t, err)
	require.NotNil(t, out.Conflict)
	assert.Equal(t, "seats already booked", out.Conflict.Reason)

	in3 := ConfirmInput{EventID: 40, SeatNumbers: []int{3, 4}, PartySize: 2, CustomerEmail: "c@d.co",
		StripeSessionID: "cs_3", Source: "webhook"}
	out, err = f.svc.Confirm(ctx, in3)
	require.NoError(t, err)
	require.NotNil(t, out.Booking)
	assert.Equal(t, int64(1), availableSeats(t, f, 40))
}

func TestRefund_ReleasesSeatsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Confirm(ctx, paidInput("cs_1", 286, []int{1, 2, 3, 4}))
	require.NoError(t, err)
	require.Equal(t, int64(96), availableSeats(t, f, 35))

	out, err := f.svc.Refund(ctx, "pi_cs_1", 12000, "stripe")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, domain.StatusRefunded, out.Booking.Status)
	assert.Equal(t, int64(12000), out.Booking.RefundAmount)
	assert.Equal(t, int64(100), availableSeats(t, f, 35))

	out, err = f.svc.Refund(ctx, "pi_cs_1", 12000, "stripe")
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, int64(100), availableSeats(t, f, 35))

	assert.Equal(t, []domain.BookingEventKind{domain.BookingConfirmed, domain.BookingRefunded}, f.sink.kinds())
}

func TestRefund_UnknownBooking(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Refund(context.Background(), "pi_missing", 100, "stripe")
	require.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conf, err := f.svc.Confirm(ctx, paidInput("cs_1", 286, []int{1, 2}))
	require.NoError(t, err)

	out, err := f.svc.Cancel(ctx, conf.Booking.ID, "ops@example.com", "guest called")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, out.Booking.Status)
	assert.Equal(t, int64(100), availableSeats(t, f, 35))

	// the table is free again
	again, err := f.svc.Confirm(ctx, paidInput("cs_2", 286, []int{1, 2}))
	require.NoError(t, err)
	assert.NotNil(t, again.Booking)
}

func TestReassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Confirm(ctx, paidInput("cs_a", 286, []int{1, 2}))
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, paidInput("cs_b", 287, []int{1, 2}))
	require.NoError(t, err)

	t.Run("to an occupied table", func(t *testing.T) {
		_, err := f.svc.Reassign(ctx, a.Booking.ID, 287, "ops@example.com")
		var ce *domain.ConflictError
		require.ErrorAs(t, err, &ce)
	})

	t.Run("to a free table", func(t *testing.T) {
		b, err := f.svc.Reassign(ctx, a.Booking.ID, 288, "ops@example.com")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusConfirmed, b.Status)
		assert.Equal(t, "T14", b.TableLabel)

		stored, err := f.svc.Get(ctx, a.Booking.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(288), *stored.TableID)
	})

	t.Run("refunded booking cannot move", func(t *testing.T) {
		_, err := f.svc.Refund(ctx, "cs_a", 0, "stripe")
		require.NoError(t, err)

		_, err = f.svc.Reassign(ctx, a.Booking.ID, 286, "ops@example.com")
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestCreateDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.CreateDirect(ctx, CreateInput{
		EventID: 35, TableID: ptr(286), PartySize: 3, CustomerEmail: "walkin@example.com", Actor: "ops@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, b.Status)

	_, err = f.svc.CreateDirect(ctx, CreateInput{
		EventID: 35, TableID: ptr(286), PartySize: 2, CustomerEmail: "other@example.com", Actor: "ops@example.com",
	})
	assert.True(t, domain.IsConflict(err))

	log, err := f.store.AdminLog().List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, domain.ActionReconciliationRequired, log[0].Action)
	assert.Equal(t, domain.ActionManualBooking, log[1].Action)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrBookingNotFound)
}
