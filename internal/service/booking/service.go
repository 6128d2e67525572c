package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/metrics"
	"github.com/kirinyoku/seatledger/internal/repository"
	"github.com/kirinyoku/seatledger/internal/uow"
	"github.com/kirinyoku/seatledger/internal/validation"
)

// confirmAttempts bounds how often a confirmation is re-run after losing a
// storage uniqueness race.
const confirmAttempts = 2

const systemActor = "system"

// Syncer recomputes event availability inside a transaction and publishes
// the result after commit.
type Syncer interface {
	SyncTx(ctx context.Context, tx repository.Repos, eventID int64) (domain.AvailabilitySnapshot, bool, error)
	Publish(ctx context.Context, snap domain.AvailabilitySnapshot)
}

type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, ev domain.BookingEvent) error
}

// ConfirmInput describes a paid reservation that should become a booking.
type ConfirmInput struct {
	EventID         int64
	TableID         *int64
	TableLabel      string
	SeatNumbers     []int
	PartySize       int
	CustomerEmail   string
	StripeSessionID string
	StripePaymentID string
	Amount          int64
	FoodSelections  []domain.FoodSelection
	WineSelections  []domain.WineSelection
	GuestNames      []string
	HoldID          *uuid.UUID

	Actor string
	// Action is written to the admin log when the booking is created.
	// Empty skips the entry.
	Action domain.AdminAction
	// Source labels metrics: webhook, recovery or admin.
	Source string
}

func (in ConfirmInput) paymentRefs() []string {
	var refs []string
	for _, ref := range []string{in.StripeSessionID, in.StripePaymentID} {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// ConfirmOutcome is the result of the confirm path. Exactly one of the
// following holds: Conflict is set and no booking was written; Existing is
// true and Booking is the one already stored for the payment; or Booking is
// a newly confirmed booking.
type ConfirmOutcome struct {
	Booking  *domain.Booking
	Conflict *domain.ConflictError
	Existing bool
}

type Service struct {
	store     repository.Transactor
	uow       *uow.UoW
	validator *validation.Validator
	sync      Syncer
	events    EventPublisher
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New builds the service. events may be nil.
func New(
	store repository.Transactor,
	v *validation.Validator,
	sync Syncer,
	events EventPublisher,
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
		sync:      sync,
		events:    events,
		metrics:   m,
		log:       log,
	}
}

// Confirm runs the confirm path in its own transaction.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (ConfirmOutcome, error) {
	const op = "service.booking.Confirm"

	var out ConfirmOutcome

	err := s.uow.DoRetryConflict(ctx, confirmAttempts, func(
		ctx context.Context,
		tx repository.Repos,
		after func(uow.AfterCommit),
	) error {
		o, err := s.ConfirmTx(ctx, tx, after, in)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// ConfirmTx moves a paid reservation into the confirmed state using tx.
// The table is re-checked inside the transaction; an occupied table yields
// a Conflict outcome and an admin log entry instead of a booking. A booking
// already stored under one of the payment references is returned unchanged.
//
// Returns:
//   - ConfirmOutcome: see the type.
//   - error: *domain.ValidationError, domain.ErrEventNotFound,
//     domain.ErrTableNotFound, or a storage error. A wrapped
//     repository.ErrConflict means the transaction lost a uniqueness race
//     and should be re-run.
func (s *Service) ConfirmTx(
	ctx context.Context,
	tx repository.Repos,
	after func(uow.AfterCommit),
	in ConfirmInput,
) (ConfirmOutcome, error) {
	const op = "service.booking.ConfirmTx"

	existing, err := findByRefs(ctx, tx, in.StripeSessionID, in.StripePaymentID)
	if err != nil && !errors.Is(err, domain.ErrBookingNotFound) {
		return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}
	if existing != nil {
		return ConfirmOutcome{Booking: existing, Existing: true}, nil
	}

	event, err := tx.Events().Get(ctx, in.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, domain.ErrEventNotFound)
		}
		return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	label, capacity, err := s.resolveTable(ctx, tx, event, in.TableID)
	if err != nil {
		return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}
	if label == "" {
		label = in.TableLabel
	}

	if err := validation.ValidateSelection(validation.Selection{
		TicketOnly:     event.TicketOnly,
		TableCapacity:  capacity,
		SeatNumbers:    in.SeatNumbers,
		PartySize:      in.PartySize,
		CustomerEmail:  in.CustomerEmail,
		FoodSelections: in.FoodSelections,
		WineSelections: in.WineSelections,
		GuestNames:     in.GuestNames,
	}); err != nil {
		return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	conflict, err := s.checkAvailable(ctx, tx, event, in)
	if err != nil {
		return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}
	if conflict != nil {
		if err := s.recordConflict(ctx, tx, after, in, conflict); err != nil {
			return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
		}
		return ConfirmOutcome{Conflict: conflict}, nil
	}

	if _, err := domain.Transition(domain.StatusPending, domain.StatusConfirmed); err != nil {
		return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	now := s.validator.Now()
	b := &domain.Booking{
		ID:              uuid.New(),
		EventID:         in.EventID,
		TableID:         in.TableID,
		TableLabel:      label,
		SeatNumbers:     in.SeatNumbers,
		PartySize:       in.PartySize,
		CustomerEmail:   in.CustomerEmail,
		Status:          domain.StatusConfirmed,
		StripeSessionID: in.StripeSessionID,
		StripePaymentID: in.StripePaymentID,
		Amount:          in.Amount,
		FoodSelections:  in.FoodSelections,
		WineSelections:  in.WineSelections,
		GuestNames:      in.GuestNames,
		CreatedAt:       now,
		LastModified:    now,
	}
	if err := tx.Bookings().Create(ctx, b); err != nil {
		return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	if err := releaseHolds(ctx, tx, in); err != nil {
		return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	snap, _, err := s.sync.SyncTx(ctx, tx, in.EventID)
	if err != nil {
		return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	if in.Action != "" {
		if err := appendLog(ctx, tx, in.Action, in.Actor, b, map[string]any{
			"table_label":  label,
			"party_size":   in.PartySize,
			"payment_refs": b.PaymentRefs(),
		}); err != nil {
			return ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
		}
	}

	confirmed := *b
	after(func(ctx context.Context) {
		s.sync.Publish(ctx, snap)
		s.publish(ctx, domain.NewBookingEvent(domain.BookingConfirmed, confirmed, now))
		s.metrics.BookingTransition(string(domain.StatusConfirmed))
		s.log.Info("booking confirmed",
			"booking_id", confirmed.ID,
			"event_id", confirmed.EventID,
			"table_label", confirmed.TableLabel,
			"party_size", confirmed.PartySize,
			"source", in.Source,
		)
	})

	return ConfirmOutcome{Booking: b}, nil
}

// resolveTable returns the table label and capacity for a table-based event.
func (s *Service) resolveTable(
	ctx context.Context,
	tx repository.Repos,
	event *domain.Event,
	tableID *int64,
) (string, int, error) {
	if event.TicketOnly {
		if tableID != nil {
			return "", 0, domain.NewValidationError("tableId", "ticket-only events have no tables")
		}
		return "", 0, nil
	}
	if tableID == nil {
		return "", 0, domain.NewValidationError("tableId", "is required")
	}

	table, err := tx.Events().GetTable(ctx, *tableID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", 0, domain.ErrTableNotFound
		}
		return "", 0, err
	}
	if table.VenueID != event.VenueID {
		return "", 0, domain.ErrTableNotFound
	}

	return table.Label, table.Capacity, nil
}

func (s *Service) checkAvailable(
	ctx context.Context,
	tx repository.Repos,
	event *domain.Event,
	in ConfirmInput,
) (*domain.ConflictError, error) {
	paymentRef := in.StripeSessionID
	if paymentRef == "" {
		paymentRef = in.StripePaymentID
	}

	if in.TableID == nil {
		booked, err := tx.Bookings().SumActivePartySize(ctx, event.ID)
		if err != nil {
			return nil, err
		}
		if booked+int64(in.PartySize) > event.TotalSeats {
			return &domain.ConflictError{
				EventID:    event.ID,
				PaymentRef: paymentRef,
				Reason:     "not enough seats left",
			}, nil
		}
		if len(in.SeatNumbers) == 0 {
			return nil, nil
		}

		bookedSeats, err := tx.Bookings().ActiveSeats(ctx, event.ID)
		if err != nil {
			return nil, err
		}
		if seatsOverlap(bookedSeats, in.SeatNumbers) {
			return &domain.ConflictError{
				EventID:    event.ID,
				PaymentRef: paymentRef,
				Reason:     "seats already booked",
			}, nil
		}
		return nil, nil
	}

	free, err := s.validator.ValidateTableAvailability(ctx, tx.Bookings(), *in.TableID, event.ID)
	if err != nil {
		return nil, err
	}
	if free {
		return nil, nil
	}

	tableID := *in.TableID
	conflict := &domain.ConflictError{
		EventID:    event.ID,
		TableID:    &tableID,
		PaymentRef: paymentRef,
		Reason:     "table already booked",
	}
	if other, err := tx.Bookings().ActiveForTable(ctx, event.ID, tableID); err == nil {
		conflict.ExistingBookingID = &other.ID
	}

	return conflict, nil
}

func (s *Service) recordConflict(
	ctx context.Context,
	tx repository.Repos,
	after func(uow.AfterCommit),
	in ConfirmInput,
	conflict *domain.ConflictError,
) error {
	details, err := json.Marshal(map[string]any{
		"conflict":       conflict,
		"customer_email": in.CustomerEmail,
		"amount":         in.Amount,
		"source":         in.Source,
	})
	if err != nil {
		return err
	}

	eventID := in.EventID
	entry := &domain.AdminLogEntry{
		Action:      domain.ActionReconciliationRequired,
		Actor:       actorOrSystem(in.Actor),
		EventID:     &eventID,
		PaymentRefs: in.paymentRefs(),
		Details:     details,
		CreatedAt:   s.validator.Now(),
	}
	if err := tx.AdminLog().Append(ctx, entry); err != nil {
		return err
	}

	after(func(context.Context) {
		s.metrics.BookingConflict(in.Source)
		s.log.Warn("booking conflict, payment needs reconciliation",
			"event_id", conflict.EventID,
			"table_id", tableIDAttr(conflict.TableID),
			"payment_ref", conflict.PaymentRef,
			"reason", conflict.Reason,
		)
	})

	return nil
}

// CreateInput is a booking entered by an operator without a checkout.
type CreateInput struct {
	EventID        int64
	TableID        *int64
	SeatNumbers    []int
	PartySize      int
	CustomerEmail  string
	Amount         int64
	FoodSelections []domain.FoodSelection
	WineSelections []domain.WineSelection
	GuestNames     []string
	Actor          string
}

// CreateDirect books directly, bypassing the payment provider.
//
// Returns:
//   - *domain.Booking: the confirmed booking.
//   - error: *domain.ConflictError if the table or seats are taken.
func (s *Service) CreateDirect(ctx context.Context, in CreateInput) (*domain.Booking, error) {
	const op = "service.booking.CreateDirect"

	if in.CustomerEmail == "" {
		return nil, fmt.Errorf("%s:%w", op, domain.NewValidationError("customerEmail", "is required"))
	}

	out, err := s.Confirm(ctx, ConfirmInput{
		EventID:        in.EventID,
		TableID:        in.TableID,
		SeatNumbers:    in.SeatNumbers,
		PartySize:      in.PartySize,
		CustomerEmail:  in.CustomerEmail,
		Amount:         in.Amount,
		FoodSelections: in.FoodSelections,
		WineSelections: in.WineSelections,
		GuestNames:     in.GuestNames,
		Actor:          in.Actor,
		Action:         domain.ActionManualBooking,
		Source:         "admin",
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if out.Conflict != nil {
		return nil, fmt.Errorf("%s:%w", op, out.Conflict)
	}

	return out.Booking, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "service.booking.Get"

	b, err := s.store.Bookings().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, domain.ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

func (s *Service) publish(ctx context.Context, ev domain.BookingEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishBookingEvent(ctx, ev); err != nil {
		s.log.Warn("booking event publish failed", "kind", ev.Kind, "booking_id", ev.BookingID, "err", err)
	}
}

// findByRefs returns the booking stored under any of refs.
func findByRefs(ctx context.Context, tx repository.Repos, refs ...string) (*domain.Booking, error) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		b, err := tx.Bookings().FindByPaymentRef(ctx, ref)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	return nil, domain.ErrBookingNotFound
}

// releaseHolds drops the customer's hold once it turned into a booking.
func releaseHolds(ctx context.Context, tx repository.Repos, in ConfirmInput) error {
	if in.HoldID != nil {
		if err := tx.Holds().Delete(ctx, *in.HoldID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}
	if in.CustomerEmail != "" {
		if _, err := tx.Holds().DeleteByCustomer(ctx, in.EventID, in.CustomerEmail); err != nil {
			return err
		}
	}

	return nil
}

func appendLog(
	ctx context.Context,
	tx repository.Repos,
	action domain.AdminAction,
	actor string,
	b *domain.Booking,
	details map[string]any,
) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}

	bookingID := b.ID
	eventID := b.EventID

	return tx.AdminLog().Append(ctx, &domain.AdminLogEntry{
		Action:    action,
		Actor:     actorOrSystem(actor),
		BookingID: &bookingID,
		EventID:   &eventID,
		Details:   raw,
		CreatedAt: b.LastModified,
	})
}

func seatsOverlap(booked, requested []int) bool {
	taken := make(map[int]struct{}, len(booked))
	for _, n := range booked {
		taken[n] = struct{}{}
	}
	for _, n := range requested {
		if _, ok := taken[n]; ok {
			return true
		}
	}
	return false
}

// tableIDAttr renders an optional table id for logs; ticket-only events
// have none.
func tableIDAttr(id *int64) any {
	if id == nil {
		return "none"
	}
	return *id
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return systemActor
	}
	return actor
}
