// Package memory is an in-process implementation of the ledger repositories.
// It mirrors the uniqueness guarantees of the Postgres schema and runs
// transactions one at a time with snapshot rollback.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/repository"
)

type state struct {
	events   map[int64]domain.Event
	tables   map[int64]domain.Table
	access   map[int64]map[string]bool
	holds    map[uuid.UUID]domain.Hold
	bookings map[uuid.UUID]domain.Booking
	webhooks map[string]domain.ProcessedWebhookEvent
	adminLog []domain.AdminLogEntry
}

func newState() *state {
	return &state{
		events:   map[int64]domain.Event{},
		tables:   map[int64]domain.Table{},
		access:   map[int64]map[string]bool{},
		holds:    map[uuid.UUID]domain.Hold{},
		bookings: map[uuid.UUID]domain.Booking{},
		webhooks: map[string]domain.ProcessedWebhookEvent{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.tables {
		c.tables[k] = v
	}
	for k, v := range s.access {
		m := make(map[string]bool, len(v))
		for ref, ok := range v {
			m[ref] = ok
		}
		c.access[k] = m
	}
	for k, v := range s.holds {
		c.holds[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.webhooks {
		c.webhooks[k] = v
	}
	c.adminLog = append(c.adminLog, s.adminLog...)
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
	// FailNext, when set, is returned by the next store call. Used to
	// simulate a store outage.
	FailNext error
}

func NewStore() *Store {
	return &Store{st: newState()}
}

// RunTx serializes transactions; on error the pre-transaction state is
// restored.
func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, view{s: s, inTx: true}); err != nil {
		s.st = snapshot
		return err
	}

	return nil
}

func (s *Store) Holds() repository.HoldRepository            { return holdRepo{view{s: s}} }
func (s *Store) Bookings() repository.BookingRepository      { return bookingRepo{view{s: s}} }
func (s *Store) Events() repository.EventRepository          { return eventRepo{view{s: s}} }
func (s *Store) Webhooks() repository.WebhookEventRepository { return webhookRepo{view{s: s}} }
func (s *Store) AdminLog() repository.AdminLogRepository     { return adminLogRepo{view{s: s}} }

// PutEvent seeds an event.
func (s *Store) PutEvent(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.events[e.ID] = e
}

// PutTable seeds a table.
func (s *Store) PutTable(t domain.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.tables[t.ID] = t
}

// GrantAccess adds customerRef to the allowlist of a private event.
func (s *Store) GrantAccess(eventID int64, customerRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.access[eventID] == nil {
		s.st.access[eventID] = map[string]bool{}
	}
	s.st.access[eventID][strings.ToLower(customerRef)] = true
}

// AllBookings returns every booking ordered by creation time.
func (s *Store) AllBookings() []domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Booking, 0, len(s.st.bookings))
	for _, b := range s.st.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SetBookingStatus edits a booking behind the engine's back, the way a manual
// database fix would.
func (s *Store) SetBookingStatus(id uuid.UUID, status domain.BookingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.st.bookings[id]
	b.Status = status
	s.st.bookings[id] = b
}

type view struct {
	s    *Store
	inTx bool
}

func (v view) Holds() repository.HoldRepository            { return holdRepo{v} }
func (v view) Bookings() repository.BookingRepository      { return bookingRepo{v} }
func (v view) Events() repository.EventRepository          { return eventRepo{v} }
func (v view) Webhooks() repository.WebhookEventRepository { return webhookRepo{v} }
func (v view) AdminLog() repository.AdminLogRepository     { return adminLogRepo{v} }

// do runs fn against the state, locking unless already inside RunTx.
func (v view) do(fn func(st *state) error) error {
	if !v.inTx {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	if err := v.s.FailNext; err != nil {
		v.s.FailNext = nil
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	}
	return fn(v.s.st)
}

type holdRepo struct{ v view }

func (r holdRepo) Create(_ context.Context, h *domain.Hold) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.holds[h.ID]; ok {
			return repository.ErrConflict
		}
		st.holds[h.ID] = copyHold(*h)
		return nil
	})
}

func (r holdRepo) Get(_ context.Context, id uuid.UUID) (*domain.Hold, error) {
	var out *domain.Hold
	err := r.v.do(func(st *state) error {
		h, ok := st.holds[id]
		if !ok {
			return repository.ErrNotFound
		}
		c := copyHold(h)
		out = &c
		return nil
	})
	return out, err
}

func (r holdRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.holds[id]; !ok {
			return repository.ErrNotFound
		}
		delete(st.holds, id)
		return nil
	})
}

func (r holdRepo) DeleteByCustomer(_ context.Context, eventID int64, customerRef string) (int64, error) {
	var n int64
	err := r.v.do(func(st *state) error {
		for id, h := range st.holds {
			if h.EventID == eventID && h.CustomerRef == customerRef {
				delete(st.holds, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r holdRepo) ListActive(_ context.Context, eventID int64, tableID *int64, since time.Time) ([]domain.Hold, error) {
	var out []domain.Hold
	err := r.v.do(func(st *state) error {
		for _, h := range st.holds {
			if h.EventID != eventID || h.HoldStartTime.Before(since) {
				continue
			}
			if tableID != nil && (h.TableID == nil || *h.TableID != *tableID) {
				continue
			}
			out = append(out, copyHold(h))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].HoldStartTime.Before(out[j].HoldStartTime) })
	return out, err
}

func (r holdRepo) DeleteStartedBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.v.do(func(st *state) error {
		for id, h := range st.holds {
			if h.HoldStartTime.Before(before) {
				delete(st.holds, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

type bookingRepo struct{ v view }

func (r bookingRepo) Create(_ context.Context, b *domain.Booking) error {
	return r.v.do(func(st *state) error {
		for _, other := range st.bookings {
			if other.ID == b.ID {
				return repository.ErrConflict
			}
			if b.TableID != nil && other.TableID != nil && *other.TableID == *b.TableID &&
				other.EventID == b.EventID && other.Status.Occupies() && b.Status.Occupies() {
				return fmt.Errorf("%w: bookings_one_active_per_table", repository.ErrConflict)
			}
			if b.StripeSessionID != "" && other.StripeSessionID == b.StripeSessionID {
				return fmt.Errorf("%w: bookings_stripe_session_uq", repository.ErrConflict)
			}
			if b.StripePaymentID != "" && other.StripePaymentID == b.StripePaymentID {
				return fmt.Errorf("%w: bookings_stripe_payment_uq", repository.ErrConflict)
			}
		}
		st.bookings[b.ID] = copyBooking(*b)
		return nil
	})
}

func (r bookingRepo) Get(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	var out *domain.Booking
	err := r.v.do(func(st *state) error {
		b, ok := st.bookings[id]
		if !ok {
			return repository.ErrNotFound
		}
		c := copyBooking(b)
		out = &c
		return nil
	})
	return out, err
}

func (r bookingRepo) FindByPaymentRef(_ context.Context, ref string) (*domain.Booking, error) {
	var out *domain.Booking
	err := r.v.do(func(st *state) error {
		if ref == "" {
			return repository.ErrNotFound
		}
		for _, b := range st.bookings {
			if b.StripeSessionID == ref || b.StripePaymentID == ref {
				if out == nil || b.CreatedAt.Before(out.CreatedAt) {
					c := copyBooking(b)
					out = &c
				}
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	return out, err
}

func (r bookingRepo) ActiveForTable(_ context.Context, eventID, tableID int64) (*domain.Booking, error) {
	var out *domain.Booking
	err := r.v.do(func(st *state) error {
		for _, b := range st.bookings {
			if b.EventID == eventID && b.TableID != nil && *b.TableID == tableID && b.Status.Occupies() {
				c := copyBooking(b)
				out = &c
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r bookingRepo) SumActivePartySize(_ context.Context, eventID int64) (int64, error) {
	var sum int64
	err := r.v.do(func(st *state) error {
		for _, b := range st.bookings {
			if b.EventID == eventID && b.Status.Occupies() {
				sum += int64(b.PartySize)
			}
		}
		return nil
	})
	return sum, err
}

func (r bookingRepo) ActiveSeats(_ context.Context, eventID int64) ([]int, error) {
	var seats []int
	err := r.v.do(func(st *state) error {
		for _, b := range st.bookings {
			if b.EventID == eventID && b.TableID == nil && b.Status.Occupies() {
				seats = append(seats, b.SeatNumbers...)
			}
		}
		return nil
	})
	sort.Ints(seats)
	return seats, err
}

func (r bookingRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.BookingStatus, refundAmount int64, at time.Time) error {
	return r.v.do(func(st *state) error {
		b, ok := st.bookings[id]
		if !ok {
			return repository.ErrNotFound
		}
		b.Status = status
		b.RefundAmount = refundAmount
		b.LastModified = at
		st.bookings[id] = b
		return nil
	})
}

func (r bookingRepo) UpdateTable(
	_ context.Context,
	id uuid.UUID,
	tableID int64,
	tableLabel string,
	status domain.BookingStatus,
	at time.Time,
) error {
	return r.v.do(func(st *state) error {
		b, ok := st.bookings[id]
		if !ok {
			return repository.ErrNotFound
		}
		if status.Occupies() {
			for _, other := range st.bookings {
				if other.ID != id && other.EventID == b.EventID && other.TableID != nil &&
					*other.TableID == tableID && other.Status.Occupies() {
					return fmt.Errorf("%w: bookings_one_active_per_table", repository.ErrConflict)
				}
			}
		}
		tid := tableID
		b.TableID = &tid
		b.TableLabel = tableLabel
		b.Status = status
		b.LastModified = at
		st.bookings[id] = b
		return nil
	})
}

type eventRepo struct{ v view }

func (r eventRepo) Get(_ context.Context, id int64) (*domain.Event, error) {
	var out *domain.Event
	err := r.v.do(func(st *state) error {
		e, ok := st.events[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (r eventRepo) ListIDs(_ context.Context) ([]int64, error) {
	var out []int64
	err := r.v.do(func(st *state) error {
		for id := range st.events {
			out = append(out, id)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, err
}

func (r eventRepo) SetAvailableSeats(_ context.Context, id int64, available int64) error {
	return r.v.do(func(st *state) error {
		e, ok := st.events[id]
		if !ok {
			return repository.ErrNotFound
		}
		e.AvailableSeats = available
		st.events[id] = e
		return nil
	})
}

func (r eventRepo) GetTable(_ context.Context, id int64) (*domain.Table, error) {
	var out *domain.Table
	err := r.v.do(func(st *state) error {
		t, ok := st.tables[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (r eventRepo) HasAccess(_ context.Context, eventID int64, customerRef string) (bool, error) {
	var ok bool
	err := r.v.do(func(st *state) error {
		ok = st.access[eventID][strings.ToLower(customerRef)]
		return nil
	})
	return ok, err
}

type webhookRepo struct{ v view }

func (r webhookRepo) Exists(_ context.Context, eventID string) (bool, error) {
	var ok bool
	err := r.v.do(func(st *state) error {
		_, ok = st.webhooks[eventID]
		return nil
	})
	return ok, err
}

func (r webhookRepo) Insert(_ context.Context, e domain.ProcessedWebhookEvent) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.webhooks[e.EventID]; ok {
			return repository.ErrConflict
		}
		st.webhooks[e.EventID] = e
		return nil
	})
}

type adminLogRepo struct{ v view }

func (r adminLogRepo) Append(_ context.Context, e *domain.AdminLogEntry) error {
	return r.v.do(func(st *state) error {
		e.ID = int64(len(st.adminLog) + 1)
		stored := *e
		stored.PaymentRefs = append([]string(nil), e.PaymentRefs...)
		st.adminLog = append(st.adminLog, stored)
		return nil
	})
}

func (r adminLogRepo) List(_ context.Context, limit, offset int) ([]domain.AdminLogEntry, error) {
	var out []domain.AdminLogEntry
	err := r.v.do(func(st *state) error {
		for i := len(st.adminLog) - 1 - offset; i >= 0 && len(out) < limit; i-- {
			out = append(out, st.adminLog[i])
		}
		return nil
	})
	return out, err
}

func (r adminLogRepo) HasPaymentRefs(_ context.Context, action domain.AdminAction, refs []string) (bool, error) {
	var found bool
	err := r.v.do(func(st *state) error {
		for _, e := range st.adminLog {
			if e.Action != action {
				continue
			}
			for _, have := range e.PaymentRefs {
				for _, want := range refs {
					if have == want {
						found = true
						return nil
					}
				}
			}
		}
		return nil
	})
	return found, err
}

func copyHold(h domain.Hold) domain.Hold {
	h.SeatNumbers = append([]int(nil), h.SeatNumbers...)
	if h.TableID != nil {
		tid := *h.TableID
		h.TableID = &tid
	}
	return h
}

func copyBooking(b domain.Booking) domain.Booking {
	b.SeatNumbers = append([]int(nil), b.SeatNumbers...)
	b.FoodSelections = append([]domain.FoodSelection(nil), b.FoodSelections...)
	b.WineSelections = append([]domain.WineSelection(nil), b.WineSelections...)
	b.GuestNames = append([]string(nil), b.GuestNames...)
	if b.TableID != nil {
		tid := *b.TableID
		b.TableID = &tid
	}
	return b
}

var _ repository.Transactor = (*Store)(nil)
