package postgresrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/repository"
)

type BookingRepo struct {
	db DB
}

const bookingColumns = `id, event_id, table_id, table_label, seat_numbers, party_size, customer_email,
	status, stripe_session_id, stripe_payment_id, amount, food_selections, wine_selections,
	guest_names, refund_amount, created_at, last_modified`

func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	const op = "postgresrepo.BookingRepo.Create"

	food, wine, guests, err := marshalSelections(b)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	seats := b.SeatNumbers
	if seats == nil {
		seats = []int{}
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO bookings(`+bookingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		b.ID, b.EventID, b.TableID, b.TableLabel, seats, b.PartySize, b.CustomerEmail,
		string(b.Status), b.StripeSessionID, b.StripePaymentID, b.Amount, food, wine,
		guests, b.RefundAmount, b.CreatedAt, b.LastModified,
	)

	return wrapDBErr(op, err)
}

func (r *BookingRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.Get"

	b, err := scanBooking(r.db.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

// FindByPaymentRef matches either the checkout session id or the payment
// intent id.
func (r *BookingRepo) FindByPaymentRef(ctx context.Context, ref string) (*domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.FindByPaymentRef"

	if ref == "" {
		return nil, wrapDBErr(op, repository.ErrNotFound)
	}

	b, err := scanBooking(r.db.QueryRow(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE stripe_session_id = $1 OR stripe_payment_id = $1
		 ORDER BY created_at
		 LIMIT 1`,
		ref,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

func (r *BookingRepo) ActiveForTable(ctx context.Context, eventID, tableID int64) (*domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.ActiveForTable"

	b, err := scanBooking(r.db.QueryRow(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE event_id = $1 AND table_id = $2 AND status IN ('confirmed', 'modified')`,
		eventID, tableID,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

func (r *BookingRepo) SumActivePartySize(ctx context.Context, eventID int64) (int64, error) {
	const op = "postgresrepo.BookingRepo.SumActivePartySize"

	var sum int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(party_size), 0)
		 FROM bookings
		 WHERE event_id = $1 AND status IN ('confirmed', 'modified')`,
		eventID,
	).Scan(&sum)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return sum, nil
}

func (r *BookingRepo) ActiveSeats(ctx context.Context, eventID int64) ([]int, error) {
	const op = "postgresrepo.BookingRepo.ActiveSeats"

	var seats []int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(array_agg(s), '{}')
		 FROM bookings, unnest(seat_numbers) AS s
		 WHERE event_id = $1 AND table_id IS NULL AND status IN ('confirmed', 'modified')`,
		eventID,
	).Scan(&seats)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return seats, nil
}

func (r *BookingRepo) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.BookingStatus,
	refundAmount int64,
	at time.Time,
) error {
	const op = "postgresrepo.BookingRepo.UpdateStatus"

	tag, err := r.db.Exec(ctx,
		`UPDATE bookings
		 SET status = $2, refund_amount = $3, last_modified = $4
		 WHERE id = $1`,
		id, string(status), refundAmount, at,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, repository.ErrNotFound)
	}

	return nil
}

func (r *BookingRepo) UpdateTable(
	ctx context.Context,
	id uuid.UUID,
	tableID int64,
	tableLabel string,
	status domain.BookingStatus,
	at time.Time,
) error {
	const op = "postgresrepo.BookingRepo.UpdateTable"

	tag, err := r.db.Exec(ctx,
		`UPDATE bookings
		 SET table_id = $2, table_label = $3, status = $4, last_modified = $5
		 WHERE id = $1`,
		id, tableID, tableLabel, string(status), at,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, repository.ErrNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var (
		b                  domain.Booking
		status             string
		food, wine, guests []byte
	)

	if err := row.Scan(
		&b.ID,
		&b.EventID,
		&b.TableID,
		&b.TableLabel,
		&b.SeatNumbers,
		&b.PartySize,
		&b.CustomerEmail,
		&status,
		&b.StripeSessionID,
		&b.StripePaymentID,
		&b.Amount,
		&food,
		&wine,
		&guests,
		&b.RefundAmount,
		&b.CreatedAt,
		&b.LastModified,
	); err != nil {
		return nil, err
	}

	b.Status = domain.BookingStatus(status)

	if err := json.Unmarshal(food, &b.FoodSelections); err != nil {
		return nil, fmt.Errorf("decode food_selections: %w", err)
	}
	if err := json.Unmarshal(wine, &b.WineSelections); err != nil {
		return nil, fmt.Errorf("decode wine_selections: %w", err)
	}
	if err := json.Unmarshal(guests, &b.GuestNames); err != nil {
		return nil, fmt.Errorf("decode guest_names: %w", err)
	}

	return &b, nil
}

func marshalSelections(b *domain.Booking) (food, wine, guests []byte, err error) {
	food, err = json.Marshal(nonNil(b.FoodSelections))
	if err != nil {
		return nil, nil, nil, err
	}
	wine, err = json.Marshal(nonNil(b.WineSelections))
	if err != nil {
		return nil, nil, nil, err
	}
	guests, err = json.Marshal(nonNil(b.GuestNames))
	if err != nil {
		return nil, nil, nil, err
	}
	return food, wine, guests, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
