// Package payment turns verified payment-provider webhooks into a closed set
// of engine events. Provider payloads are decoded once here and never leak
// past this package as untyped maps.
package payment

import "time"

const (
	TypeCheckoutCompleted      = "checkout.session.completed"
	TypeCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	TypePaymentSucceeded       = "payment_intent.succeeded"
	TypeChargeRefunded         = "charge.refunded"
	TypePaymentIntentRefunded  = "payment_intent.refunded"
	TypeDisputeCreated         = "charge.dispute.created"
)

// Envelope is the part every provider event shares.
type Envelope struct {
	ID      string
	Type    string
	Created time.Time
}

// Event is one of CheckoutCompleted, PaymentSucceeded, ChargeRefunded,
// PaymentIntentRefunded, DisputeCreated or Unsupported.
type Event interface {
	Meta() Envelope
	isEvent()
}

func (e Envelope) Meta() Envelope { return e }
func (Envelope) isEvent()         {}

// CheckoutCompleted is a finished Checkout Session.
type CheckoutCompleted struct {
	Envelope
	SessionID       string
	PaymentIntentID string
	Paid            bool
	AmountTotal     int64
	CustomerEmail   string
	Metadata        map[string]string
}

// PaymentSucceeded is a PaymentIntent that reached the succeeded state.
type PaymentSucceeded struct {
	Envelope
	PaymentIntentID string
	Amount          int64
	ReceiptEmail    string
	Metadata        map[string]string
}

// ChargeRefunded carries the amount of the latest single refund.
type ChargeRefunded struct {
	Envelope
	ChargeID        string
	PaymentIntentID string
	RefundAmount    int64
	Metadata        map[string]string
}

// PaymentIntentRefunded carries the cumulative refunded amount.
type PaymentIntentRefunded struct {
	Envelope
	PaymentIntentID string
	RefundAmount    int64
	Metadata        map[string]string
}

type DisputeCreated struct {
	Envelope
	DisputeID       string
	ChargeID        string
	PaymentIntentID string
	Amount          int64
	Reason          string
}

// Unsupported is any event type the engine ignores.
type Unsupported struct {
	Envelope
}

// PaymentRefs returns the references a booking may be stored under, most
// specific first.
func PaymentRefs(ev Event) []string {
	var refs []string
	add := func(s string) {
		if s != "" {
			refs = append(refs, s)
		}
	}

	switch e := ev.(type) {
	case CheckoutCompleted:
		add(e.SessionID)
		add(e.PaymentIntentID)
	case PaymentSucceeded:
		add(e.PaymentIntentID)
	case ChargeRefunded:
		add(e.PaymentIntentID)
		add(e.ChargeID)
	case PaymentIntentRefunded:
		add(e.PaymentIntentID)
	case DisputeCreated:
		add(e.PaymentIntentID)
		add(e.ChargeID)
	}

	return refs
}
