package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/metrics"
	"github.com/kirinyoku/seatledger/internal/payment"
	"github.com/kirinyoku/seatledger/internal/repository"
	"github.com/kirinyoku/seatledger/internal/service/booking"
	"github.com/kirinyoku/seatledger/internal/uow"
)

// ErrBookingNotReady means a refund arrived for an engine payment whose
// confirmation has not landed yet. The delivery must be retried.
var ErrBookingNotReady = errors.New("booking for payment is not confirmed yet")

const (
	processAttempts = 2
	webhookActor    = "stripe"
)

// Outcomes recorded for processed events.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeExisting   = "existing"
	OutcomeConflict   = "conflict"
	OutcomeInvalid    = "invalid"
	OutcomeRefunded   = "refunded"
	OutcomeCanceled   = "canceled"
	OutcomeNoop       = "noop"
	OutcomeReconciled = "reconciled"
	OutcomeIgnored    = "ignored"
	OutcomeDuplicate  = "duplicate"
)

type Parser interface {
	Parse(payload []byte, signatureHeader string) (payment.Event, error)
}

// Result is what the provider is acknowledged with.
type Result struct {
	EventID   string
	Type      string
	Duplicate bool
	Outcome   string
	BookingID *uuid.UUID
	Conflict  *domain.ConflictError
}

// Processor applies payment webhooks to the ledger exactly once per provider
// event id.
type Processor struct {
	parser   Parser
	store    repository.Transactor
	uow      *uow.UoW
	bookings *booking.Service
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewProcessor(
	parser Parser,
	store repository.Transactor,
	bookings *booking.Service,
	m *metrics.Metrics,
	log *slog.Logger,
	now func() time.Time,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}

	return &Processor{
		parser:   parser,
		store:    store,
		uow:      uow.NewUoW(store),
		bookings: bookings,
		metrics:  m,
		log:      log,
		now:      now,
	}
}

// Process verifies, deduplicates and applies one webhook delivery. State
// changes, the availability recount and the processed-event record commit
// together; on any error nothing is recorded and the provider may retry.
//
// Returns:
//   - Result: what happened.
//   - error: domain.ErrAuthenticity for a bad signature.
//   - error: *domain.ValidationError for an undecodable payload.
//   - error: ErrBookingNotReady or a storage error; both are retryable.
func (p *Processor) Process(ctx context.Context, payload []byte, signatureHeader string) (Result, error) {
	const op = "service.webhook.Process"

	start := time.Now()

	ev, err := p.parser.Parse(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, domain.ErrAuthenticity) {
			p.metrics.WebhookProcessed("unknown", "unauthenticated", time.Since(start).Seconds())
			return Result{}, fmt.Errorf("%s:%w", op, err)
		}
		return Result{}, fmt.Errorf("%s:%w", op, domain.NewValidationError("payload", err.Error()))
	}

	meta := ev.Meta()
	res := Result{EventID: meta.ID, Type: meta.Type}

	seen, err := p.store.Webhooks().Exists(ctx, meta.ID)
	if err != nil {
		return res, fmt.Errorf("%s:%w", op, err)
	}
	if seen {
		return p.duplicate(res, start), nil
	}

	err = p.uow.DoRetryConflict(ctx, processAttempts, func(
		ctx context.Context,
		tx repository.Repos,
		after func(uow.AfterCommit),
	) error {
		res = Result{EventID: meta.ID, Type: meta.Type}

		seen, err := tx.Webhooks().Exists(ctx, meta.ID)
		if err != nil {
			return err
		}
		if seen {
			res.Duplicate = true
			return nil
		}

		if err := p.dispatch(ctx, tx, after, ev, &res); err != nil {
			return err
		}

		return tx.Webhooks().Insert(ctx, domain.ProcessedWebhookEvent{
			EventID:     meta.ID,
			Type:        meta.Type,
			Outcome:     res.Outcome,
			ProcessedAt: p.now(),
		})
	})
	if err != nil {
		p.metrics.WebhookProcessed(meta.Type, "error", time.Since(start).Seconds())
		p.log.Error("webhook processing failed", "event_id", meta.ID, "type", meta.Type, "err", err)
		return res, fmt.Errorf("%s:%w", op, err)
	}
	if res.Duplicate {
		return p.duplicate(res, start), nil
	}

	p.metrics.WebhookProcessed(meta.Type, res.Outcome, time.Since(start).Seconds())
	p.log.Info("webhook processed", "event_id", meta.ID, "type", meta.Type, "outcome", res.Outcome)

	return res, nil
}

func (p *Processor) duplicate(res Result, start time.Time) Result {
	res.Duplicate = true
	res.Outcome = OutcomeDuplicate
	p.metrics.WebhookProcessed(res.Type, OutcomeDuplicate, time.Since(start).Seconds())
	p.log.Info("duplicate webhook ignored", "event_id", res.EventID, "type", res.Type)
	return res
}

func (p *Processor) dispatch(
	ctx context.Context,
	tx repository.Repos,
	after func(uow.AfterCommit),
	ev payment.Event,
	res *Result,
) error {
	switch e := ev.(type) {
	case payment.CheckoutCompleted:
		if !e.Paid || !payment.OwnedByEngine(e.Metadata) {
			res.Outcome = OutcomeIgnored
			return nil
		}
		in, err := CheckoutConfirmInput(e)
		if err != nil {
			return p.reconcileInvalid(ctx, tx, e, err, res)
		}
		return p.confirm(ctx, tx, after, e, in, res)

	case payment.PaymentSucceeded:
		if !payment.OwnedByEngine(e.Metadata) {
			res.Outcome = OutcomeIgnored
			return nil
		}
		in, err := paymentConfirmInput(e)
		if err != nil {
			return p.reconcileInvalid(ctx, tx, e, err, res)
		}
		return p.confirm(ctx, tx, after, e, in, res)

	case payment.ChargeRefunded:
		return p.release(ctx, tx, after, ev, e.Metadata, e.RefundAmount, domain.StatusRefunded, "", res)

	case payment.PaymentIntentRefunded:
		return p.release(ctx, tx, after, ev, e.Metadata, e.RefundAmount, domain.StatusRefunded, "", res)

	case payment.DisputeCreated:
		return p.release(ctx, tx, after, ev, nil, 0, domain.StatusCanceled, e.Reason, res)
	}

	res.Outcome = OutcomeIgnored
	return nil
}

func (p *Processor) confirm(
	ctx context.Context,
	tx repository.Repos,
	after func(uow.AfterCommit),
	ev payment.Event,
	in booking.ConfirmInput,
	res *Result,
) error {
	out, err := p.bookings.ConfirmTx(ctx, tx, after, in)
	if err != nil {
		if domain.IsValidation(err) ||
			errors.Is(err, domain.ErrEventNotFound) ||
			errors.Is(err, domain.ErrTableNotFound) {
			return p.reconcileInvalid(ctx, tx, ev, err, res)
		}
		return err
	}

	switch {
	case out.Conflict != nil:
		res.Outcome = OutcomeConflict
		res.Conflict = out.Conflict
	case out.Existing:
		res.Outcome = OutcomeExisting
		res.BookingID = &out.Booking.ID
	default:
		res.Outcome = OutcomeConfirmed
		res.BookingID = &out.Booking.ID
	}

	return nil
}

// reconcileInvalid records a paid event whose booking data cannot be
// applied. Retrying would not help, so the event is marked processed and
// left for an operator.
func (p *Processor) reconcileInvalid(
	ctx context.Context,
	tx repository.Repos,
	ev payment.Event,
	cause error,
	res *Result,
) error {
	details, err := json.Marshal(map[string]any{
		"event_id":     ev.Meta().ID,
		"type":         ev.Meta().Type,
		"payment_refs": payment.PaymentRefs(ev),
		"error":        cause.Error(),
	})
	if err != nil {
		return err
	}

	if err := tx.AdminLog().Append(ctx, &domain.AdminLogEntry{
		Action:      domain.ActionReconciliationRequired,
		Actor:       webhookActor,
		PaymentRefs: payment.PaymentRefs(ev),
		Details:     details,
		CreatedAt:   p.now(),
	}); err != nil {
		return err
	}

	p.log.Warn("paid webhook could not be applied", "event_id", ev.Meta().ID, "err", cause)
	res.Outcome = OutcomeInvalid

	return nil
}

func (p *Processor) release(
	ctx context.Context,
	tx repository.Repos,
	after func(uow.AfterCommit),
	ev payment.Event,
	metadata map[string]string,
	refundAmount int64,
	status domain.BookingStatus,
	reason string,
	res *Result,
) error {
	action := domain.ActionRefund
	if status == domain.StatusCanceled {
		action = domain.ActionDispute
	}

	out, err := p.bookings.ReleaseTx(ctx, tx, after, booking.ReleaseInput{
		PaymentRefs:  payment.PaymentRefs(ev),
		Status:       status,
		RefundAmount: refundAmount,
		Actor:        webhookActor,
		Action:       action,
		Reason:       reason,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrBookingNotFound) {
			return err
		}
		if !payment.OwnedByEngine(metadata) {
			res.Outcome = OutcomeNoop
			return nil
		}
		return p.releaseUnbooked(ctx, tx, ev, action, refundAmount, res)
	}

	res.BookingID = &out.Booking.ID
	switch {
	case !out.Changed:
		res.Outcome = OutcomeNoop
	case status == domain.StatusRefunded:
		res.Outcome = OutcomeRefunded
	default:
		res.Outcome = OutcomeCanceled
	}

	return nil
}

// releaseUnbooked handles a refund or dispute for an engine payment that
// has no booking. A payment already left for reconciliation (lost table
// race, invalid booking data) never gets one, so the event is acknowledged
// and logged. Otherwise the confirmation is still in flight and the
// provider should redeliver.
func (p *Processor) releaseUnbooked(
	ctx context.Context,
	tx repository.Repos,
	ev payment.Event,
	action domain.AdminAction,
	refundAmount int64,
	res *Result,
) error {
	refs := payment.PaymentRefs(ev)

	reconciled, err := tx.AdminLog().HasPaymentRefs(ctx, domain.ActionReconciliationRequired, refs)
	if err != nil {
		return err
	}
	if !reconciled {
		return ErrBookingNotReady
	}

	details, err := json.Marshal(map[string]any{
		"event_id":      ev.Meta().ID,
		"type":          ev.Meta().Type,
		"refund_amount": refundAmount,
		"booking":       "none",
	})
	if err != nil {
		return err
	}

	if err := tx.AdminLog().Append(ctx, &domain.AdminLogEntry{
		Action:      action,
		Actor:       webhookActor,
		PaymentRefs: refs,
		Details:     details,
		CreatedAt:   p.now(),
	}); err != nil {
		return err
	}

	p.log.Info("payment released without booking", "event_id", ev.Meta().ID, "payment_refs", refs)
	res.Outcome = OutcomeReconciled

	return nil
}

// CheckoutConfirmInput maps a paid Checkout Session onto the confirm path.
func CheckoutConfirmInput(e payment.CheckoutCompleted) (booking.ConfirmInput, error) {
	md, err := payment.ParseBookingMetadata(e.Metadata)
	if err != nil {
		return booking.ConfirmInput{}, err
	}

	email := md.CustomerEmail
	if email == "" {
		email = e.CustomerEmail
	}

	return booking.ConfirmInput{
		EventID:         md.EventID,
		TableID:         md.TableID,
		TableLabel:      md.TableLabel,
		SeatNumbers:     md.SeatNumbers,
		PartySize:       md.PartySize,
		CustomerEmail:   email,
		StripeSessionID: e.SessionID,
		StripePaymentID: e.PaymentIntentID,
		Amount:          e.AmountTotal,
		FoodSelections:  md.FoodSelections,
		WineSelections:  md.WineSelections,
		GuestNames:      md.GuestNames,
		HoldID:          md.HoldID,
		Actor:           webhookActor,
		Source:          "webhook",
	}, nil
}

func paymentConfirmInput(e payment.PaymentSucceeded) (booking.ConfirmInput, error) {
	md, err := payment.ParseBookingMetadata(e.Metadata)
	if err != nil {
		return booking.ConfirmInput{}, err
	}

	email := md.CustomerEmail
	if email == "" {
		email = e.ReceiptEmail
	}

	return booking.ConfirmInput{
		EventID:         md.EventID,
		TableID:         md.TableID,
		TableLabel:      md.TableLabel,
		SeatNumbers:     md.SeatNumbers,
		PartySize:       md.PartySize,
		CustomerEmail:   email,
		StripePaymentID: e.PaymentIntentID,
		Amount:          e.Amount,
		FoodSelections:  md.FoodSelections,
		WineSelections:  md.WineSelections,
		GuestNames:      md.GuestNames,
		HoldID:          md.HoldID,
		Actor:           webhookActor,
		Source:          "webhook",
	}, nil
}
