package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/repository"
	"github.com/kirinyoku/seatledger/internal/uow"
)

// ReleaseInput moves a booking into a terminal state. The booking is
// addressed by BookingID or, when that is zero, by any of PaymentRefs.
type ReleaseInput struct {
	BookingID    uuid.UUID
	PaymentRefs  []string
	Status       domain.BookingStatus
	RefundAmount int64
	Actor        string
	Action       domain.AdminAction
	Reason       string
}

type ReleaseOutcome struct {
	Booking *domain.Booking
	// Changed is false when the booking was already terminal.
	Changed bool
}

// ReleaseTx refunds or cancels a booking using tx and frees its seats.
// Releasing an already terminal booking is a no-op.
//
// Returns:
//   - ReleaseOutcome: the booking after the change.
//   - error: domain.ErrBookingNotFound if no booking matches.
//   - error: domain.ErrInvalidTransition for a pending booking.
func (s *Service) ReleaseTx(
	ctx context.Context,
	tx repository.Repos,
	after func(uow.AfterCommit),
	in ReleaseInput,
) (ReleaseOutcome, error) {
	const op = "service.booking.ReleaseTx"

	if !in.Status.IsTerminal() {
		return ReleaseOutcome{}, fmt.Errorf("%s:%w: %s", op, domain.ErrInvalidTransition, in.Status)
	}

	b, err := s.locate(ctx, tx, in)
	if err != nil {
		return ReleaseOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	changed, err := domain.Transition(b.Status, in.Status)
	if err != nil {
		return ReleaseOutcome{}, fmt.Errorf("%s:%w", op, err)
	}
	if !changed {
		return ReleaseOutcome{Booking: b}, nil
	}

	from := b.Status
	now := s.validator.Now()
	refund := b.RefundAmount
	if in.Status == domain.StatusRefunded {
		refund = in.RefundAmount
	}

	if err := tx.Bookings().UpdateStatus(ctx, b.ID, in.Status, refund, now); err != nil {
		return ReleaseOutcome{}, fmt.Errorf("%s:%w", op, err)
	}
	b.Status = in.Status
	b.RefundAmount = refund
	b.LastModified = now

	snap, _, err := s.sync.SyncTx(ctx, tx, b.EventID)
	if err != nil {
		return ReleaseOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	if in.Action != "" {
		if err := appendLog(ctx, tx, in.Action, in.Actor, b, map[string]any{
			"from":          from,
			"to":            in.Status,
			"refund_amount": refund,
			"reason":        in.Reason,
		}); err != nil {
			return ReleaseOutcome{}, fmt.Errorf("%s:%w", op, err)
		}
	}

	kind := domain.BookingCanceled
	if in.Status == domain.StatusRefunded {
		kind = domain.BookingRefunded
	}

	released := *b
	after(func(ctx context.Context) {
		s.sync.Publish(ctx, snap)
		s.publish(ctx, domain.NewBookingEvent(kind, released, now))
		s.metrics.BookingTransition(string(released.Status))
		s.log.Info("booking released",
			"booking_id", released.ID,
			"event_id", released.EventID,
			"status", released.Status,
			"party_size", released.PartySize,
		)
	})

	return ReleaseOutcome{Booking: b, Changed: true}, nil
}

func (s *Service) locate(ctx context.Context, tx repository.Repos, in ReleaseInput) (*domain.Booking, error) {
	if in.BookingID != uuid.Nil {
		b, err := tx.Bookings().Get(ctx, in.BookingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.ErrBookingNotFound
			}
			return nil, err
		}
		return b, nil
	}

	return findByRefs(ctx, tx, in.PaymentRefs...)
}

func (s *Service) release(ctx context.Context, in ReleaseInput) (ReleaseOutcome, error) {
	var out ReleaseOutcome

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		o, err := s.ReleaseTx(ctx, tx, after, in)
		if err != nil {
			return err
		}
		out = o
		return nil
	})

	return out, err
}

// Refund marks the booking paid with ref as refunded and frees its seats.
func (s *Service) Refund(ctx context.Context, ref string, amount int64, actor string) (ReleaseOutcome, error) {
	const op = "service.booking.Refund"

	out, err := s.release(ctx, ReleaseInput{
		PaymentRefs:  []string{ref},
		Status:       domain.StatusRefunded,
		RefundAmount: amount,
		Actor:        actor,
		Action:       domain.ActionRefund,
	})
	if err != nil {
		return ReleaseOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Cancel cancels a booking without touching the payment.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, actor, reason string) (ReleaseOutcome, error) {
	const op = "service.booking.Cancel"

	out, err := s.release(ctx, ReleaseInput{
		BookingID: bookingID,
		Status:    domain.StatusCanceled,
		Actor:     actor,
		Action:    domain.ActionCancel,
		Reason:    reason,
	})
	if err != nil {
		return ReleaseOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Reassign moves an active booking to another table of the same venue. The
// booking passes through modified and ends confirmed on the new table.
//
// Returns:
//   - *domain.Booking: the booking on its new table.
//   - error: *domain.ConflictError if the new table is taken.
//   - error: domain.ErrInvalidTransition if the booking is not active.
func (s *Service) Reassign(ctx context.Context, bookingID uuid.UUID, newTableID int64, actor string) (*domain.Booking, error) {
	const op = "service.booking.Reassign"

	var out *domain.Booking

	err := s.uow.DoRetryConflict(ctx, confirmAttempts, func(
		ctx context.Context,
		tx repository.Repos,
		after func(uow.AfterCommit),
	) error {
		b, err := s.reassignTx(ctx, tx, after, bookingID, newTableID, actor)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (s *Service) reassignTx(
	ctx context.Context,
	tx repository.Repos,
	after func(uow.AfterCommit),
	bookingID uuid.UUID,
	newTableID int64,
	actor string,
) (*domain.Booking, error) {
	b, err := tx.Bookings().Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, err
	}

	if b.Status != domain.StatusModified {
		if _, err := domain.Transition(b.Status, domain.StatusModified); err != nil {
			return nil, err
		}
	}
	if b.TableID == nil {
		return nil, domain.NewValidationError("tableId", "ticket-only bookings have no table")
	}
	if *b.TableID == newTableID {
		return b, nil
	}

	event, err := tx.Events().Get(ctx, b.EventID)
	if err != nil {
		return nil, err
	}
	label, capacity, err := s.resolveTable(ctx, tx, event, &newTableID)
	if err != nil {
		return nil, err
	}
	if b.PartySize > capacity {
		return nil, domain.NewValidationError("tableId", "table is too small for the party")
	}

	free, err := s.validator.ValidateTableReassignment(ctx, tx.Bookings(), newTableID, b.EventID)
	if err != nil {
		return nil, err
	}
	if !free {
		conflict := &domain.ConflictError{EventID: b.EventID, TableID: &newTableID, Reason: "table already booked"}
		if other, err := tx.Bookings().ActiveForTable(ctx, b.EventID, newTableID); err == nil {
			conflict.ExistingBookingID = &other.ID
		}
		return nil, conflict
	}

	fromLabel := b.TableLabel
	now := s.validator.Now()

	if err := tx.Bookings().UpdateTable(ctx, b.ID, newTableID, label, domain.StatusModified, now); err != nil {
		return nil, err
	}
	if _, err := domain.Transition(domain.StatusModified, domain.StatusConfirmed); err != nil {
		return nil, err
	}
	if err := tx.Bookings().UpdateStatus(ctx, b.ID, domain.StatusConfirmed, b.RefundAmount, now); err != nil {
		return nil, err
	}

	b.TableID = &newTableID
	b.TableLabel = label
	b.Status = domain.StatusConfirmed
	b.LastModified = now

	snap, _, err := s.sync.SyncTx(ctx, tx, b.EventID)
	if err != nil {
		return nil, err
	}

	if err := appendLog(ctx, tx, domain.ActionReassign, actor, b, map[string]any{
		"from_table_label": fromLabel,
		"to_table_label":   label,
	}); err != nil {
		return nil, err
	}

	moved := *b
	after(func(ctx context.Context) {
		s.sync.Publish(ctx, snap)
		s.publish(ctx, domain.NewBookingEvent(domain.BookingModified, moved, now))
		s.metrics.BookingTransition(string(domain.StatusModified))
		s.log.Info("booking reassigned",
			"booking_id", moved.ID,
			"from_table_label", fromLabel,
			"to_table_label", label,
		)
	})

	return b, nil
}
