// Package paymenttest builds signed webhook deliveries for tests.
package paymenttest

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

const Secret = "whsec_test_secret"

// Delivery is a signed webhook request body and its signature header.
type Delivery struct {
	Payload []byte
	Header  string
}

// Signed wraps object in an event envelope and signs it with Secret.
func Signed(eventID, eventType string, object map[string]any) Delivery {
	return SignedWith(Secret, eventID, eventType, object)
}

func SignedWith(secret, eventID, eventType string, object map[string]any) Delivery {
	body, err := json.Marshal(map[string]any{
		"id":      eventID,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: time.Now(),
	})

	return Delivery{Payload: signed.Payload, Header: signed.Header}
}

// CheckoutSession is a paid Checkout Session object.
func CheckoutSession(sessionID, paymentIntentID string, amount int64, metadata map[string]string) map[string]any {
	return map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"payment_status": "paid",
		"payment_intent": paymentIntentID,
		"amount_total":   amount,
		"customer_details": map[string]any{
			"email": metadata["customer_email"],
		},
		"metadata": metadata,
	}
}

// RefundedCharge is a charge whose newest refund is latestRefund.
func RefundedCharge(chargeID, paymentIntentID string, amount, latestRefund int64, metadata map[string]string) map[string]any {
	return map[string]any{
		"id":              chargeID,
		"object":          "charge",
		"amount":          amount,
		"amount_refunded": latestRefund,
		"payment_intent":  paymentIntentID,
		"refunds": map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "re_" + chargeID, "object": "refund", "amount": latestRefund},
			},
		},
		"metadata": metadata,
	}
}

func Dispute(disputeID, chargeID, paymentIntentID string, amount int64) map[string]any {
	return map[string]any{
		"id":             disputeID,
		"object":         "dispute",
		"amount":         amount,
		"charge":         chargeID,
		"payment_intent": paymentIntentID,
		"reason":         "fraudulent",
	}
}
