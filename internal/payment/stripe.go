package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Verifier authenticates webhook deliveries with the endpoint signing secret.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Parse verifies the signature header and decodes the payload.
//
// Returns:
//   - Event: the decoded variant.
//   - error: domain.ErrAuthenticity when the signature does not match.
func (v *Verifier) Parse(payload []byte, signatureHeader string) (Event, error) {
	const op = "payment.Verifier.Parse"

	ev, err := webhook.ConstructEventWithOptions(
		payload,
		signatureHeader,
		v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w: %v", op, domain.ErrAuthenticity, err)
	}

	out, err := Decode(ev)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Decode maps a verified provider event onto the engine's variants.
func Decode(ev stripe.Event) (Event, error) {
	const op = "payment.Decode"

	env := Envelope{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Created: time.Unix(ev.Created, 0).UTC(),
	}

	var raw json.RawMessage
	if ev.Data != nil {
		raw = ev.Data.Raw
	}

	switch env.Type {
	case TypeCheckoutCompleted, TypeCheckoutAsyncSucceeded:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return checkoutFromSession(env, &s), nil

	case TypePaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		amount := pi.AmountReceived
		if amount == 0 {
			amount = pi.Amount
		}
		return PaymentSucceeded{
			Envelope:        env,
			PaymentIntentID: pi.ID,
			Amount:          amount,
			ReceiptEmail:    pi.ReceiptEmail,
			Metadata:        pi.Metadata,
		}, nil

	case TypeChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		out := ChargeRefunded{
			Envelope:     env,
			ChargeID:     ch.ID,
			RefundAmount: latestRefundAmount(&ch),
			Metadata:     ch.Metadata,
		}
		if ch.PaymentIntent != nil {
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
		return out, nil

	case TypePaymentIntentRefunded:
		var pi refundedIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		amount := pi.AmountRefunded
		if amount == 0 {
			amount = pi.Amount
		}
		return PaymentIntentRefunded{
			Envelope:        env,
			PaymentIntentID: pi.ID,
			RefundAmount:    amount,
			Metadata:        pi.Metadata,
		}, nil

	case TypeDisputeCreated:
		var d stripe.Dispute
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		out := DisputeCreated{
			Envelope:  env,
			DisputeID: d.ID,
			Amount:    d.Amount,
			Reason:    string(d.Reason),
		}
		if d.Charge != nil {
			out.ChargeID = d.Charge.ID
		}
		if d.PaymentIntent != nil {
			out.PaymentIntentID = d.PaymentIntent.ID
		}
		return out, nil
	}

	return Unsupported{Envelope: env}, nil
}

// refundedIntent is the subset of a refunded PaymentIntent the engine reads.
type refundedIntent struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Metadata       map[string]string `json:"metadata"`
}

// latestRefundAmount prefers the newest single refund, then the cumulative
// refunded amount, then the charge amount.
func latestRefundAmount(ch *stripe.Charge) int64 {
	if ch.Refunds != nil && len(ch.Refunds.Data) > 0 && ch.Refunds.Data[0] != nil {
		return ch.Refunds.Data[0].Amount
	}
	if ch.AmountRefunded > 0 {
		return ch.AmountRefunded
	}
	return ch.Amount
}

func checkoutFromSession(env Envelope, s *stripe.CheckoutSession) CheckoutCompleted {
	out := CheckoutCompleted{
		Envelope:    env,
		SessionID:   s.ID,
		Paid:        s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal: s.AmountTotal,
		Metadata:    s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		out.CustomerEmail = s.CustomerDetails.Email
	} else {
		out.CustomerEmail = s.CustomerEmail
	}
	return out
}

// StripeSessions fetches Checkout Sessions from the Stripe API.
type StripeSessions struct{}

func NewStripeSessions(secretKey string) *StripeSessions {
	stripe.Key = secretKey
	return &StripeSessions{}
}

// FetchCheckoutSession loads a session by id and returns it as a
// CheckoutCompleted event.
func (s *StripeSessions) FetchCheckoutSession(ctx context.Context, sessionID string) (CheckoutCompleted, error) {
	const op = "payment.StripeSessions.FetchCheckoutSession"

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := session.Get(sessionID, params)
	if err != nil {
		return CheckoutCompleted{}, fmt.Errorf("%s:%w", op, err)
	}

	env := Envelope{
		ID:      "recovery:" + sess.ID,
		Type:    TypeCheckoutCompleted,
		Created: time.Unix(sess.Created, 0).UTC(),
	}

	return checkoutFromSession(env, sess), nil
}
