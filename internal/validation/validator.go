package validation

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/repository"
)

const (
	DefaultHoldTimeout = 20 * time.Minute
	DefaultCutoffDays  = 3

	MaxTicketOnlyParty = 6
	MaxTableParty      = 8
)

// OccupancyReader is the read-only ledger view the validator needs.
type OccupancyReader interface {
	ActiveForTable(ctx context.Context, eventID, tableID int64) (*domain.Booking, error)
}

type Config struct {
	HoldTimeout time.Duration
	// CutoffDays is the venue-wide ticket cutoff. Nil means
	// DefaultCutoffDays; zero keeps sales open until the event starts.
	CutoffDays *int
}

// Validator holds the booking rules. Apart from the availability checks,
// which read the ledger, every method is pure.
type Validator struct {
	holdTimeout time.Duration
	cutoffDays  int
	now         func() time.Time
}

func New(cfg Config, now func() time.Time) *Validator {
	v := &Validator{
		holdTimeout: cfg.HoldTimeout,
		cutoffDays:  DefaultCutoffDays,
		now:         now,
	}
	if v.holdTimeout <= 0 {
		v.holdTimeout = DefaultHoldTimeout
	}
	if cfg.CutoffDays != nil && *cfg.CutoffDays >= 0 {
		v.cutoffDays = *cfg.CutoffDays
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

func (v *Validator) HoldTimeout() time.Duration { return v.holdTimeout }

func (v *Validator) Now() time.Time { return v.now() }

// ValidateTableAvailability reports whether no confirmed or modified booking
// occupies tableID for eventID.
func (v *Validator) ValidateTableAvailability(
	ctx context.Context,
	r OccupancyReader,
	tableID, eventID int64,
) (bool, error) {
	const op = "validation.Validator.ValidateTableAvailability"

	_, err := r.ActiveForTable(ctx, eventID, tableID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("%s:%w", op, err)
	}

	return false, nil
}

// ValidateTableReassignment guards admin seat moves against double booking.
func (v *Validator) ValidateTableReassignment(
	ctx context.Context,
	r OccupancyReader,
	newTableID, eventID int64,
) (bool, error) {
	return v.ValidateTableAvailability(ctx, r, newTableID, eventID)
}

// IsBookingHoldExpired reports whether more than the hold timeout has elapsed
// since holdStartTime.
func (v *Validator) IsBookingHoldExpired(holdStartTime time.Time) bool {
	return v.now().Sub(holdStartTime) > v.holdTimeout
}

// IsWithinTicketCutoff reports whether ticket-only purchases are still open,
// i.e. now <= eventDate - cutoffDays. A non-positive cutoffDays, the
// per-event column's default, uses the configured cutoff.
func (v *Validator) IsWithinTicketCutoff(eventDate time.Time, cutoffDays int) bool {
	if cutoffDays <= 0 {
		cutoffDays = v.cutoffDays
	}
	deadline := eventDate.AddDate(0, 0, -cutoffDays)
	return !v.now().After(deadline)
}

func ValidateEventAccess(isPrivate, userHasAccess bool) bool {
	return !isPrivate || userHasAccess
}

// ValidateWineSelections fails closed: one malformed entry rejects the
// whole set.
func ValidateWineSelections(selections []domain.WineSelection) error {
	for i, s := range selections {
		field := fmt.Sprintf("wineSelections[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			return domain.NewValidationError(field, "name is required")
		}
		if s.Quantity <= 0 {
			return domain.NewValidationError(field, "quantity must be a positive integer")
		}
		switch s.Type {
		case domain.WineGlass, domain.WineBottle:
		default:
			return domain.NewValidationError(field, fmt.Sprintf("unsupported type %q", s.Type))
		}
	}
	return nil
}

func ValidateFoodSelections(selections []domain.FoodSelection) error {
	for i, s := range selections {
		field := fmt.Sprintf("foodSelections[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			return domain.NewValidationError(field, "name is required")
		}
		if s.Quantity <= 0 {
			return domain.NewValidationError(field, "quantity must be a positive integer")
		}
	}
	return nil
}

func ValidatePartySize(ticketOnly bool, partySize int) error {
	max := MaxTableParty
	if ticketOnly {
		max = MaxTicketOnlyParty
	}
	if partySize < 1 || partySize > max {
		return domain.NewValidationError("partySize", fmt.Sprintf("must be between 1 and %d", max))
	}
	return nil
}

// ValidateSeatNumbers checks seat numbers against the party size and, for
// table-based bookings, the table capacity (capacity <= 0 skips that check).
func ValidateSeatNumbers(seats []int, partySize, capacity int) error {
	if len(seats) == 0 {
		return nil
	}
	if len(seats) != partySize {
		return domain.NewValidationError("seatNumbers", "must match party size")
	}
	seen := make(map[int]struct{}, len(seats))
	for _, s := range seats {
		if s < 1 || (capacity > 0 && s > capacity) {
			return domain.NewValidationError("seatNumbers", fmt.Sprintf("seat %d out of range", s))
		}
		if _, dup := seen[s]; dup {
			return domain.NewValidationError("seatNumbers", fmt.Sprintf("seat %d repeated", s))
		}
		seen[s] = struct{}{}
	}
	return nil
}

func ValidateGuestNames(names []string, partySize int) error {
	if len(names) > partySize {
		return domain.NewValidationError("guestNames", "more guests than party size")
	}
	for i, n := range names {
		if strings.TrimSpace(n) == "" {
			return domain.NewValidationError(fmt.Sprintf("guestNames[%d]", i), "must not be blank")
		}
	}
	return nil
}

func ValidateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.NewValidationError("customerEmail", "must be a valid email address")
	}
	return nil
}

// Selection is everything a customer chose for one booking.
type Selection struct {
	TicketOnly     bool
	TableCapacity  int
	SeatNumbers    []int
	PartySize      int
	CustomerEmail  string
	FoodSelections []domain.FoodSelection
	WineSelections []domain.WineSelection
	GuestNames     []string
}

// ValidateSelection runs the format checks that must pass before a hold or
// booking is written.
func ValidateSelection(s Selection) error {
	if err := ValidatePartySize(s.TicketOnly, s.PartySize); err != nil {
		return err
	}
	if s.TableCapacity > 0 && s.PartySize > s.TableCapacity {
		return domain.NewValidationError("partySize", "exceeds table capacity")
	}
	if err := ValidateSeatNumbers(s.SeatNumbers, s.PartySize, s.TableCapacity); err != nil {
		return err
	}
	if s.CustomerEmail != "" {
		if err := ValidateEmail(s.CustomerEmail); err != nil {
			return err
		}
	}
	if err := ValidateFoodSelections(s.FoodSelections); err != nil {
		return err
	}
	if err := ValidateWineSelections(s.WineSelections); err != nil {
		return err
	}
	return ValidateGuestNames(s.GuestNames, s.PartySize)
}
