package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidTransition = errors.New("invalid booking status transition")
	ErrAuthenticity      = errors.New("webhook signature verification failed")
	ErrEventNotFound     = errors.New("event not found")
	ErrTableNotFound     = errors.New("table not found")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrAccessDenied      = errors.New("event is private")
)

// ValidationError reports malformed input. It is raised before any side
// effect takes place.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError reports that a table was already occupied when a booking
// tried to enter the confirmed state. The payment is left untouched and the
// case is handed to an operator for reconciliation.
type ConflictError struct {
	EventID           int64      `json:"event_id"`
	TableID           *int64     `json:"table_id,omitempty"`
	ExistingBookingID *uuid.UUID `json:"existing_booking_id,omitempty"`
	PaymentRef        string     `json:"payment_ref,omitempty"`
	Reason            string     `json:"reason"`
}

func (e *ConflictError) Error() string {
	if e.TableID != nil {
		return fmt.Sprintf("table %d for event %d is unavailable: %s", *e.TableID, e.EventID, e.Reason)
	}
	return fmt.Sprintf("event %d is unavailable: %s", e.EventID, e.Reason)
}

// HoldConflictError reports that some requested seats are already held or
// booked.
type HoldConflictError struct {
	EventID     int64  `json:"event_id"`
	TableID     *int64 `json:"table_id,omitempty"`
	SeatNumbers []int  `json:"seat_numbers,omitempty"`
	Reason      string `json:"reason"`
}

func (e *HoldConflictError) Error() string {
	return fmt.Sprintf("hold conflict for event %d: %s %v", e.EventID, e.Reason, e.SeatNumbers)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
