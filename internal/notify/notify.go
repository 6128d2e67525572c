package notify

import (
	"context"
	"log/slog"

	"github.com/kirinyoku/seatledger/internal/domain"
)

// Notifier delivers a booking event to the customer.
type Notifier interface {
	Notify(ctx context.Context, ev domain.BookingEvent) error
}

// Source streams booking events until ctx is done.
type Source interface {
	Subscribe(ctx context.Context, handler func(ctx context.Context, ev domain.BookingEvent)) error
}

// Dispatcher forwards booking events to a Notifier. Delivery failures are
// logged and dropped; booking state is never touched from here.
type Dispatcher struct {
	source   Source
	notifier Notifier
	log      *slog.Logger
}

func NewDispatcher(source Source, notifier Notifier, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{source: source, notifier: notifier, log: log}
}

// Run consumes events until ctx is cancelled. A cancelled context is a clean
// stop and yields nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("notification dispatcher started")

	err := d.source.Subscribe(ctx, d.Handle)
	if ctx.Err() != nil {
		d.log.Info("notification dispatcher stopped")
		return nil
	}

	return err
}

func (d *Dispatcher) Handle(ctx context.Context, ev domain.BookingEvent) {
	if ev.CustomerEmail == "" {
		d.log.Debug("booking event without recipient", "kind", ev.Kind, "booking_id", ev.BookingID)
		return
	}

	if err := d.notifier.Notify(ctx, ev); err != nil {
		d.log.Error("notification failed",
			"kind", ev.Kind,
			"booking_id", ev.BookingID,
			"err", err,
		)
		return
	}

	d.log.Debug("notification sent", "kind", ev.Kind, "booking_id", ev.BookingID)
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, ev domain.BookingEvent) error {
	n.log.Info("customer notification",
		"kind", ev.Kind,
		"booking_id", ev.BookingID,
		"event_id", ev.EventID,
		"table_label", ev.TableLabel,
		"party_size", ev.PartySize,
		"to", ev.CustomerEmail,
	)
	return nil
}
