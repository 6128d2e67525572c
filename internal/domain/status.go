package domain

import "fmt"

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusModified  BookingStatus = "modified"
	StatusRefunded  BookingStatus = "refunded"
	StatusCanceled  BookingStatus = "canceled"
)

// ActiveStatuses are the statuses that occupy inventory.
var ActiveStatuses = []BookingStatus{StatusConfirmed, StatusModified}

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusModified, StatusRefunded, StatusCanceled:
		return true
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return s == StatusRefunded || s == StatusCanceled
}

// Occupies reports whether a booking in this status holds its table/seats.
func (s BookingStatus) Occupies() bool {
	return s == StatusConfirmed || s == StatusModified
}

var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed},
	StatusConfirmed: {StatusModified, StatusRefunded, StatusCanceled},
	StatusModified:  {StatusConfirmed, StatusRefunded, StatusCanceled},
}

// Transition checks a status change.
//
// Returns:
//   - bool: false when the change is an idempotent no-op (refund/cancel of a
//     booking that is already terminal).
//   - error: ErrInvalidTransition when the change is not allowed.
func Transition(from, to BookingStatus) (bool, error) {
	if from.IsTerminal() {
		if to.IsTerminal() {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	for _, next := range transitions[from] {
		if next == to {
			return true, nil
		}
	}

	return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
