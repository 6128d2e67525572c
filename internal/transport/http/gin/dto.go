package httpgin

import (
	"time"

	"github.com/kirinyoku/seatledger/internal/domain"
)

type CreateHoldRequest struct {
	TableID     *int64 `json:"tableId"`
	SeatNumbers []int  `json:"seatNumbers" binding:"omitempty,dive,gt=0"`
	PartySize   int    `json:"partySize" binding:"gte=0"`
	CustomerRef string `json:"customerRef" binding:"required"`
}

func (r CreateHoldRequest) partySize() int {
	if r.PartySize > 0 {
		return r.PartySize
	}
	return len(r.SeatNumbers)
}

type HoldResponse struct {
	HoldID      string    `json:"holdId"`
	EventID     int64     `json:"eventId"`
	TableID     *int64    `json:"tableId,omitempty"`
	SeatNumbers []int     `json:"seatNumbers,omitempty"`
	PartySize   int       `json:"partySize"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type OccupancyResponse struct {
	EventID      int64  `json:"eventId"`
	TableID      *int64 `json:"tableId,omitempty"`
	SeatNumbers  []int  `json:"seatNumbers,omitempty"`
	HeldOrBooked bool   `json:"heldOrBooked"`
}

// CreateBookingRequest is the body of POST /api/bookings. PartySize
// defaults to the number of seats.
type CreateBookingRequest struct {
	EventID        int64                  `json:"eventId" binding:"required"`
	TableID        *int64                 `json:"tableId"`
	SeatNumbers    []int                  `json:"seatNumbers" binding:"omitempty,dive,gt=0"`
	PartySize      int                    `json:"partySize,omitempty" binding:"gte=0"`
	CustomerEmail  string                 `json:"customerEmail" binding:"required"`
	Amount         int64                  `json:"amount,omitempty" binding:"gte=0"`
	FoodSelections []domain.FoodSelection `json:"foodSelections,omitempty"`
	WineSelections []domain.WineSelection `json:"wineSelections,omitempty"`
	GuestNames     []string               `json:"guestNames,omitempty"`
}

func (r CreateBookingRequest) partySize() int {
	if r.PartySize > 0 {
		return r.PartySize
	}
	return len(r.SeatNumbers)
}

type RecoverBookingRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

type RecoverBookingResponse struct {
	Booking  *domain.Booking `json:"booking"`
	Existing bool            `json:"existing"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

type ReassignBookingRequest struct {
	TableID int64 `json:"tableId" binding:"required"`
}

type RefundRequest struct {
	PaymentRef string `json:"paymentRef" binding:"required"`
	Amount     int64  `json:"amount" binding:"gte=0"`
}

type ReleaseResponse struct {
	Booking *domain.Booking `json:"booking"`
	Changed bool            `json:"changed"`
}

type SyncReport struct {
	Events []domain.AvailabilityCount `json:"events"`
	Error  string                     `json:"error,omitempty"`
}

type WebhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"eventId,omitempty"`
	Type      string `json:"type,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	BookingID string `json:"bookingId,omitempty"`
}

type ErrorResponse struct {
	Error    string                `json:"error"`
	Field    string                `json:"field,omitempty"`
	Conflict *domain.ConflictError `json:"conflict,omitempty"`
}

func newHoldResponse(h *domain.Hold, timeout time.Duration) HoldResponse {
	return HoldResponse{
		HoldID:      h.ID.String(),
		EventID:     h.EventID,
		TableID:     h.TableID,
		SeatNumbers: h.SeatNumbers,
		PartySize:   h.PartySize,
		ExpiresAt:   h.HoldStartTime.Add(timeout),
	}
}
