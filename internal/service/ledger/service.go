package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/metrics"
	"github.com/kirinyoku/seatledger/internal/repository"
	"github.com/kirinyoku/seatledger/internal/uow"
	"github.com/kirinyoku/seatledger/internal/validation"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, current int64, retryAfter time.Duration, err error)
}

type PlaceHoldInput struct {
	EventID     int64
	TableID     *int64
	SeatNumbers []int
	PartySize   int
	CustomerRef string
	// RateKey identifies the caller for rate limiting; empty disables it.
	RateKey string
}

// Service manages short-lived holds on tables and seats.
type Service struct {
	store     repository.Transactor
	uow       *uow.UoW
	validator *validation.Validator
	limiter   Limiter
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New builds the service. limiter may be nil.
func New(
	store repository.Transactor,
	v *validation.Validator,
	limiter Limiter,
	m *metrics.Metrics,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:     store,
		uow:       uow.NewUoW(store),
		validator: v,
		limiter:   limiter,
		metrics:   m,
		log:       log,
	}
}

// HoldTimeout is how long a hold blocks inventory after it was placed.
func (s *Service) HoldTimeout() time.Duration { return s.validator.HoldTimeout() }

// PlaceHold reserves a table or seats for a customer until the hold timeout
// elapses. A previous hold of the same customer for the event is replaced.
//
// Returns:
//   - *domain.Hold: the created hold.
//   - error: *domain.ValidationError for malformed input.
//   - error: *domain.HoldConflictError if the seats are held or booked.
//   - error: domain.ErrEventNotFound, domain.ErrTableNotFound, domain.ErrAccessDenied.
//   - error: *RateLimitError when the caller is throttled.
func (s *Service) PlaceHold(ctx context.Context, in PlaceHoldInput) (*domain.Hold, error) {
	const op = "service.ledger.PlaceHold"

	if s.limiter != nil && in.RateKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, in.RateKey)
		if err != nil {
			s.log.Warn("hold rate limiter unavailable", "err", err)
		} else if !ok {
			s.metrics.HoldPlaced("rate_limited")
			return nil, fmt.Errorf("%s:%w", op, &RateLimitError{RetryAfter: retry})
		}
	}

	if in.CustomerRef == "" {
		return nil, fmt.Errorf("%s:%w", op, domain.NewValidationError("customerRef", "is required"))
	}

	var hold *domain.Hold

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Repos, _ func(uow.AfterCommit)) error {
		h, err := s.placeTx(ctx, tx, in)
		if err != nil {
			return err
		}
		hold = h
		return nil
	})
	if err != nil {
		s.metrics.HoldPlaced(holdResult(err))
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.metrics.HoldPlaced("placed")
	s.log.Info("hold placed",
		"hold_id", hold.ID,
		"event_id", hold.EventID,
		"party_size", hold.PartySize,
	)

	return hold, nil
}

func (s *Service) placeTx(ctx context.Context, tx repository.Repos, in PlaceHoldInput) (*domain.Hold, error) {
	event, err := tx.Events().Get(ctx, in.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}
	if !event.IsActive {
		return nil, domain.NewValidationError("eventId", "event is not on sale")
	}

	if event.IsPrivate {
		has, err := tx.Events().HasAccess(ctx, event.ID, in.CustomerRef)
		if err != nil {
			return nil, err
		}
		if !validation.ValidateEventAccess(event.IsPrivate, has) {
			return nil, domain.ErrAccessDenied
		}
	}

	sel := validation.Selection{
		TicketOnly:  event.TicketOnly,
		SeatNumbers: in.SeatNumbers,
		PartySize:   in.PartySize,
	}

	var table *domain.Table
	if event.TicketOnly {
		if in.TableID != nil {
			return nil, domain.NewValidationError("tableId", "ticket-only events have no tables")
		}
		if !s.validator.IsWithinTicketCutoff(event.StartsAt, event.TicketCutoffDays) {
			return nil, domain.NewValidationError("eventId", "ticket sales have closed")
		}
	} else {
		if in.TableID == nil {
			return nil, domain.NewValidationError("tableId", "is required")
		}
		table, err = tx.Events().GetTable(ctx, *in.TableID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.ErrTableNotFound
			}
			return nil, err
		}
		if table.VenueID != event.VenueID {
			return nil, domain.ErrTableNotFound
		}
		sel.TableCapacity = table.Capacity
	}

	if err := validation.ValidateSelection(sel); err != nil {
		return nil, err
	}

	if _, err := tx.Holds().DeleteByCustomer(ctx, event.ID, in.CustomerRef); err != nil {
		return nil, err
	}

	now := s.validator.Now()
	since := now.Add(-s.validator.HoldTimeout())

	if event.TicketOnly {
		if err := s.checkTickets(ctx, tx, event, in.SeatNumbers, in.PartySize, since); err != nil {
			return nil, err
		}
	} else {
		if err := s.checkTable(ctx, tx, event.ID, table.ID, in.SeatNumbers, since); err != nil {
			return nil, err
		}
	}

	hold := &domain.Hold{
		ID:            uuid.New(),
		EventID:       event.ID,
		TableID:       in.TableID,
		SeatNumbers:   in.SeatNumbers,
		PartySize:     in.PartySize,
		CustomerRef:   in.CustomerRef,
		HoldStartTime: now,
	}
	if err := tx.Holds().Create(ctx, hold); err != nil {
		return nil, err
	}

	return hold, nil
}

func (s *Service) checkTable(
	ctx context.Context,
	tx repository.Repos,
	eventID, tableID int64,
	seats []int,
	since time.Time,
) error {
	free, err := s.validator.ValidateTableAvailability(ctx, tx.Bookings(), tableID, eventID)
	if err != nil {
		return err
	}
	if !free {
		return &domain.HoldConflictError{EventID: eventID, TableID: &tableID, Reason: "table is booked"}
	}

	holds, err := tx.Holds().ListActive(ctx, eventID, &tableID, since)
	if err != nil {
		return err
	}
	if taken := overlapping(holds, seats); taken != nil {
		return &domain.HoldConflictError{
			EventID:     eventID,
			TableID:     &tableID,
			SeatNumbers: taken,
			Reason:      "seats are held",
		}
	}

	return nil
}

func (s *Service) checkTickets(
	ctx context.Context,
	tx repository.Repos,
	event *domain.Event,
	seats []int,
	partySize int,
	since time.Time,
) error {
	holds, err := tx.Holds().ListActive(ctx, event.ID, nil, since)
	if err != nil {
		return err
	}

	load, err := loadTickets(ctx, tx, event, holds)
	if err != nil {
		return err
	}

	if taken := load.covered(seats); taken != nil {
		return &domain.HoldConflictError{
			EventID:     event.ID,
			SeatNumbers: taken,
			Reason:      "seats are held or booked",
		}
	}
	if int64(partySize) > load.remaining {
		return &domain.HoldConflictError{EventID: event.ID, Reason: "not enough seats left"}
	}

	return nil
}

// ticketLoad is the occupancy of an event sold without tables.
type ticketLoad struct {
	remaining int64
	taken     map[int]struct{}
}

func loadTickets(ctx context.Context, repos repository.Repos, event *domain.Event, holds []domain.Hold) (ticketLoad, error) {
	booked, err := repos.Bookings().SumActivePartySize(ctx, event.ID)
	if err != nil {
		return ticketLoad{}, err
	}
	bookedSeats, err := repos.Bookings().ActiveSeats(ctx, event.ID)
	if err != nil {
		return ticketLoad{}, err
	}

	load := ticketLoad{
		remaining: event.TotalSeats - booked,
		taken:     make(map[int]struct{}, len(bookedSeats)),
	}
	for _, n := range bookedSeats {
		load.taken[n] = struct{}{}
	}
	for _, h := range holds {
		load.remaining -= int64(h.PartySize)
		for _, n := range h.SeatNumbers {
			load.taken[n] = struct{}{}
		}
	}

	return load, nil
}

// covered returns the seats already held or booked, or nil when none are.
func (l ticketLoad) covered(seats []int) []int {
	var taken []int
	for _, n := range seats {
		if _, ok := l.taken[n]; ok {
			taken = append(taken, n)
		}
	}
	return taken
}

// ReleaseHold deletes a hold before it expires.
//
// Returns:
//   - int64: the event the hold was for.
//   - error: domain.ErrHoldNotFound if there is no such hold.
func (s *Service) ReleaseHold(ctx context.Context, holdID uuid.UUID) (int64, error) {
	const op = "service.ledger.ReleaseHold"

	var eventID int64

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Repos, _ func(uow.AfterCommit)) error {
		h, err := tx.Holds().Get(ctx, holdID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrHoldNotFound
			}
			return err
		}
		eventID = h.EventID

		return tx.Holds().Delete(ctx, holdID)
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return eventID, nil
}

// IsHeldOrBooked reports whether any of seatNumbers (or the whole table when
// seatNumbers is empty) is blocked at asOf by a live hold or an active
// booking. A nil tableID asks about the event's untabled seats; those are
// also blocked once the event has no capacity left. A zero asOf means now.
func (s *Service) IsHeldOrBooked(
	ctx context.Context,
	eventID int64,
	tableID *int64,
	seatNumbers []int,
	asOf time.Time,
) (bool, error) {
	const op = "service.ledger.IsHeldOrBooked"

	if asOf.IsZero() {
		asOf = s.validator.Now()
	}

	if tableID != nil {
		free, err := s.validator.ValidateTableAvailability(ctx, s.store.Bookings(), *tableID, eventID)
		if err != nil {
			return false, fmt.Errorf("%s:%w", op, err)
		}
		if !free {
			return true, nil
		}
	}

	holds, err := s.store.Holds().ListActive(ctx, eventID, tableID, asOf.Add(-s.validator.HoldTimeout()))
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, err)
	}

	var live []domain.Hold
	for _, h := range holds {
		if !h.ExpiredAt(asOf, s.validator.HoldTimeout()) {
			live = append(live, h)
		}
	}

	if tableID != nil {
		return overlapping(live, seatNumbers) != nil, nil
	}

	event, err := s.store.Events().Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, fmt.Errorf("%s:%w", op, domain.ErrEventNotFound)
		}
		return false, fmt.Errorf("%s:%w", op, err)
	}

	load, err := loadTickets(ctx, s.store, event, live)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, err)
	}

	return load.remaining <= 0 || load.covered(seatNumbers) != nil, nil
}

// SweepExpired deletes holds past the timeout. Expiry is already enforced on
// read; this only keeps the table small.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	const op = "service.ledger.SweepExpired"

	before := s.validator.Now().Add(-s.validator.HoldTimeout())

	n, err := s.store.Holds().DeleteStartedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	s.metrics.HoldsSwept(n)

	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				s.log.Error("hold sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("expired holds swept", "count", n)
			}
		}
	}
}

// overlapping returns the requested seats covered by holds, or nil when
// none are. A hold or request without seat numbers covers the whole table.
func overlapping(holds []domain.Hold, seats []int) []int {
	if len(holds) == 0 {
		return nil
	}
	if len(seats) == 0 {
		return []int{}
	}

	want := make(map[int]struct{}, len(seats))
	for _, n := range seats {
		want[n] = struct{}{}
	}

	var taken []int
	for _, h := range holds {
		if len(h.SeatNumbers) == 0 {
			return append([]int(nil), seats...)
		}
		for _, n := range h.SeatNumbers {
			if _, ok := want[n]; ok {
				taken = append(taken, n)
			}
		}
	}

	return taken
}

func holdResult(err error) string {
	var hc *domain.HoldConflictError
	switch {
	case errors.As(err, &hc):
		return "conflict"
	case domain.IsValidation(err):
		return "invalid"
	default:
		return "error"
	}
}
