package postgresrepo

import (
	"context"

	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/repository"
)

type EventRepo struct {
	db DB
}

func (r *EventRepo) Get(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgresrepo.EventRepo.Get"

	var e domain.Event
	err := r.db.QueryRow(ctx,
		`SELECT id, venue_id, title, starts_at, total_seats, available_seats,
		        ticket_cutoff_days, is_active, is_private, ticket_only
		 FROM events WHERE id = $1`,
		id,
	).Scan(
		&e.ID,
		&e.VenueID,
		&e.Title,
		&e.StartsAt,
		&e.TotalSeats,
		&e.AvailableSeats,
		&e.TicketCutoffDays,
		&e.IsActive,
		&e.IsPrivate,
		&e.TicketOnly,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &e, nil
}

func (r *EventRepo) ListIDs(ctx context.Context) ([]int64, error) {
	const op = "postgresrepo.EventRepo.ListIDs"

	rows, err := r.db.Query(ctx, `SELECT id FROM events ORDER BY id`)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *EventRepo) SetAvailableSeats(ctx context.Context, id int64, available int64) error {
	const op = "postgresrepo.EventRepo.SetAvailableSeats"

	tag, err := r.db.Exec(ctx,
		`UPDATE events SET available_seats = $2 WHERE id = $1 AND available_seats <> $2`,
		id, available,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		// Either unchanged or missing; only the latter is an error.
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`, id).Scan(&exists); err != nil {
			return wrapDBErr(op, err)
		}
		if !exists {
			return wrapDBErr(op, repository.ErrNotFound)
		}
	}

	return nil
}

func (r *EventRepo) GetTable(ctx context.Context, id int64) (*domain.Table, error) {
	const op = "postgresrepo.EventRepo.GetTable"

	var t domain.Table
	err := r.db.QueryRow(ctx,
		`SELECT id, venue_id, label, capacity FROM venue_tables WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.VenueID, &t.Label, &t.Capacity)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &t, nil
}

func (r *EventRepo) HasAccess(ctx context.Context, eventID int64, customerRef string) (bool, error) {
	const op = "postgresrepo.EventRepo.HasAccess"

	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(
		     SELECT 1 FROM event_access WHERE event_id = $1 AND lower(customer_ref) = lower($2)
		 )`,
		eventID, customerRef,
	).Scan(&ok)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return ok, nil
}
