package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/payment"
	"github.com/kirinyoku/seatledger/internal/service/booking"
	"github.com/kirinyoku/seatledger/internal/service/webhook"
)

var (
	ErrSessionNotPaid = errors.New("checkout session is not paid")
	ErrUnavailable    = errors.New("payment provider client is not configured")
)

type SessionFetcher interface {
	FetchCheckoutSession(ctx context.Context, sessionID string) (payment.CheckoutCompleted, error)
}

// Service rebuilds bookings whose confirmation webhook was lost, replaying
// the provider's session through the regular confirm path.
type Service struct {
	sessions SessionFetcher
	bookings *booking.Service
	log      *slog.Logger
}

func New(sessions SessionFetcher, bookings *booking.Service, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{sessions: sessions, bookings: bookings, log: log}
}

// Recover confirms the booking paid with sessionID on behalf of actor.
//
// Returns:
//   - booking.ConfirmOutcome: Existing is true when the booking was already
//     there; Conflict is set when the table was taken meanwhile.
//   - error: ErrSessionNotPaid, *domain.ValidationError for sessions without
//     booking metadata, or a provider/storage error.
func (s *Service) Recover(ctx context.Context, sessionID, actor string) (booking.ConfirmOutcome, error) {
	const op = "service.recovery.Recover"

	if sessionID == "" {
		return booking.ConfirmOutcome{}, fmt.Errorf("%s:%w", op, domain.NewValidationError("sessionId", "is required"))
	}

	if s.sessions == nil {
		return booking.ConfirmOutcome{}, fmt.Errorf("%s:%w", op, ErrUnavailable)
	}

	sess, err := s.sessions.FetchCheckoutSession(ctx, sessionID)
	if err != nil {
		return booking.ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}
	if !sess.Paid {
		return booking.ConfirmOutcome{}, fmt.Errorf("%s:%w", op, ErrSessionNotPaid)
	}
	if !payment.OwnedByEngine(sess.Metadata) {
		return booking.ConfirmOutcome{}, fmt.Errorf("%s:%w", op,
			domain.NewValidationError("sessionId", "session carries no booking metadata"))
	}

	in, err := webhook.CheckoutConfirmInput(sess)
	if err != nil {
		return booking.ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}
	in.Actor = actor
	in.Action = domain.ActionBookingRecovered
	in.Source = "recovery"

	out, err := s.bookings.Confirm(ctx, in)
	if err != nil {
		return booking.ConfirmOutcome{}, fmt.Errorf("%s:%w", op, err)
	}

	switch {
	case out.Conflict != nil:
		s.log.Warn("recovery hit a conflict", "session_id", sessionID, "actor", actor, "reason", out.Conflict.Reason)
	case out.Existing:
		s.log.Info("booking already present", "session_id", sessionID, "booking_id", out.Booking.ID)
	default:
		s.log.Info("booking recovered", "session_id", sessionID, "booking_id", out.Booking.ID, "actor", actor)
	}

	return out, nil
}
