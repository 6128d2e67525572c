package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID               int64     `json:"id"`
	VenueID          int64     `json:"venue_id"`
	Title            string    `json:"title"`
	StartsAt         time.Time `json:"starts_at"`
	TotalSeats       int64     `json:"total_seats"`
	AvailableSeats   int64     `json:"available_seats"`
	TicketCutoffDays int       `json:"ticket_cutoff_days"`
	IsActive         bool      `json:"is_active"`
	IsPrivate        bool      `json:"is_private"`
	TicketOnly       bool      `json:"ticket_only"`
}

// Table is a physical inventory unit on a venue floor. Label is what
// customers see; ID is internal and never shown to them.
type Table struct {
	ID       int64  `json:"id"`
	VenueID  int64  `json:"venue_id"`
	Label    string `json:"label"`
	Capacity int    `json:"capacity"`
}

type Hold struct {
	ID            uuid.UUID `json:"id"`
	EventID       int64     `json:"event_id"`
	TableID       *int64    `json:"table_id,omitempty"`
	SeatNumbers   []int     `json:"seat_numbers"`
	PartySize     int       `json:"party_size"`
	CustomerRef   string    `json:"customer_ref"`
	HoldStartTime time.Time `json:"hold_start_time"`
}

// ExpiredAt reports whether the hold no longer blocks inventory at asOf.
func (h Hold) ExpiredAt(asOf time.Time, timeout time.Duration) bool {
	return asOf.Sub(h.HoldStartTime) > timeout
}

type WineType string

const (
	WineGlass  WineType = "wine_glass"
	WineBottle WineType = "wine_bottle"
)

type WineSelection struct {
	Name     string   `json:"name"`
	Type     WineType `json:"type"`
	Quantity int      `json:"quantity"`
}

type FoodSelection struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Guest    string `json:"guest,omitempty"`
}

type Booking struct {
	ID              uuid.UUID       `json:"id"`
	EventID         int64           `json:"event_id"`
	TableID         *int64          `json:"table_id,omitempty"`
	TableLabel      string          `json:"table_label,omitempty"`
	SeatNumbers     []int           `json:"seat_numbers"`
	PartySize       int             `json:"party_size"`
	CustomerEmail   string          `json:"customer_email"`
	Status          BookingStatus   `json:"status"`
	StripeSessionID string          `json:"stripe_session_id,omitempty"`
	StripePaymentID string          `json:"stripe_payment_id,omitempty"`
	Amount          int64           `json:"amount"`
	FoodSelections  []FoodSelection `json:"food_selections,omitempty"`
	WineSelections  []WineSelection `json:"wine_selections,omitempty"`
	GuestNames      []string        `json:"guest_names,omitempty"`
	RefundAmount    int64           `json:"refund_amount"`
	CreatedAt       time.Time       `json:"created_at"`
	LastModified    time.Time       `json:"last_modified"`
}

// PaymentRefs returns the non-empty external payment references of the booking.
func (b Booking) PaymentRefs() []string {
	var refs []string
	if b.StripeSessionID != "" {
		refs = append(refs, b.StripeSessionID)
	}
	if b.StripePaymentID != "" {
		refs = append(refs, b.StripePaymentID)
	}
	return refs
}

type ProcessedWebhookEvent struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	Outcome     string    `json:"outcome"`
	ProcessedAt time.Time `json:"processed_at"`
}

type AdminAction string

const (
	ActionManualBooking          AdminAction = "manual_booking"
	ActionBookingRecovered       AdminAction = "booking_recovered"
	ActionRefund                 AdminAction = "refund"
	ActionCancel                 AdminAction = "cancel"
	ActionDispute                AdminAction = "dispute"
	ActionReassign               AdminAction = "reassign"
	ActionReconciliationRequired AdminAction = "reconciliation_required"
	ActionAvailabilityResync     AdminAction = "availability_resync"
)

type AdminLogEntry struct {
	ID        int64       `json:"id"`
	Action    AdminAction `json:"action"`
	Actor     string      `json:"actor"`
	BookingID *uuid.UUID  `json:"booking_id,omitempty"`
	EventID   *int64      `json:"event_id,omitempty"`
	// PaymentRefs ties the entry to provider payments that have no booking,
	// such as a conflict left for reconciliation.
	PaymentRefs []string        `json:"payment_refs,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AvailabilitySnapshot struct {
	EventID        int64     `json:"event_id"`
	TotalSeats     int64     `json:"total_seats"`
	BookedSeats    int64     `json:"booked_seats"`
	AvailableSeats int64     `json:"available_seats"`
	ComputedAt     time.Time `json:"computed_at"`
}

// AvailabilityCount is a snapshot without its timestamp. Resyncing an
// unchanged ledger yields equal counts.
type AvailabilityCount struct {
	EventID        int64 `json:"event_id"`
	TotalSeats     int64 `json:"total_seats"`
	BookedSeats    int64 `json:"booked_seats"`
	AvailableSeats int64 `json:"available_seats"`
}

func (s AvailabilitySnapshot) Count() AvailabilityCount {
	return AvailabilityCount{
		EventID:        s.EventID,
		TotalSeats:     s.TotalSeats,
		BookedSeats:    s.BookedSeats,
		AvailableSeats: s.AvailableSeats,
	}
}

// BookingEventKind names a domain event emitted after a booking state change.
type BookingEventKind string

const (
	BookingConfirmed BookingEventKind = "booking.confirmed"
	BookingRefunded  BookingEventKind = "booking.refunded"
	BookingCanceled  BookingEventKind = "booking.canceled"
	BookingModified  BookingEventKind = "booking.modified"
)

type BookingEvent struct {
	Kind          BookingEventKind `json:"kind"`
	BookingID     uuid.UUID        `json:"booking_id"`
	EventID       int64            `json:"event_id"`
	TableLabel    string           `json:"table_label,omitempty"`
	SeatNumbers   []int            `json:"seat_numbers,omitempty"`
	PartySize     int              `json:"party_size"`
	CustomerEmail string           `json:"customer_email"`
	Amount        int64            `json:"amount"`
	RefundAmount  int64            `json:"refund_amount,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// NewBookingEvent builds the domain event for b. Only the customer-facing
// table label is carried, never the internal table id.
func NewBookingEvent(kind BookingEventKind, b Booking, at time.Time) BookingEvent {
	return BookingEvent{
		Kind:          kind,
		BookingID:     b.ID,
		EventID:       b.EventID,
		TableLabel:    b.TableLabel,
		SeatNumbers:   b.SeatNumbers,
		PartySize:     b.PartySize,
		CustomerEmail: b.CustomerEmail,
		Amount:        b.Amount,
		RefundAmount:  b.RefundAmount,
		OccurredAt:    at,
	}
}
