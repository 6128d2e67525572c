package postgresrepo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/repository"
)

type HoldRepo struct {
	db DB
}

func (r *HoldRepo) Create(ctx context.Context, h *domain.Hold) error {
	const op = "postgresrepo.HoldRepo.Create"

	seats := h.SeatNumbers
	if seats == nil {
		seats = []int{}
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO holds(id, event_id, table_id, seat_numbers, party_size, customer_ref, hold_start_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.EventID, h.TableID, seats, h.PartySize, h.CustomerRef, h.HoldStartTime,
	)

	return wrapDBErr(op, err)
}

func (r *HoldRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Hold, error) {
	const op = "postgresrepo.HoldRepo.Get"

	var h domain.Hold
	err := r.db.QueryRow(ctx,
		`SELECT id, event_id, table_id, seat_numbers, party_size, customer_ref, hold_start_time
		 FROM holds WHERE id = $1`,
		id,
	).Scan(&h.ID, &h.EventID, &h.TableID, &h.SeatNumbers, &h.PartySize, &h.CustomerRef, &h.HoldStartTime)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &h, nil
}

func (r *HoldRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "postgresrepo.HoldRepo.Delete"

	tag, err := r.db.Exec(ctx, `DELETE FROM holds WHERE id = $1`, id)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, repository.ErrNotFound)
	}

	return nil
}

func (r *HoldRepo) DeleteByCustomer(ctx context.Context, eventID int64, customerRef string) (int64, error) {
	const op = "postgresrepo.HoldRepo.DeleteByCustomer"

	tag, err := r.db.Exec(ctx,
		`DELETE FROM holds WHERE event_id = $1 AND customer_ref = $2`,
		eventID, customerRef,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}

func (r *HoldRepo) ListActive(
	ctx context.Context,
	eventID int64,
	tableID *int64,
	since time.Time,
) ([]domain.Hold, error) {
	const op = "postgresrepo.HoldRepo.ListActive"

	rows, err := r.db.Query(ctx,
		`SELECT id, event_id, table_id, seat_numbers, party_size, customer_ref, hold_start_time
		 FROM holds
		 WHERE event_id = $1
		   AND ($2::BIGINT IS NULL OR table_id = $2)
		   AND hold_start_time >= $3
		 ORDER BY hold_start_time`,
		eventID, tableID, since,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Hold
	for rows.Next() {
		var h domain.Hold
		if err := rows.Scan(
			&h.ID,
			&h.EventID,
			&h.TableID,
			&h.SeatNumbers,
			&h.PartySize,
			&h.CustomerRef,
			&h.HoldStartTime,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *HoldRepo) DeleteStartedBefore(ctx context.Context, before time.Time) (int64, error) {
	const op = "postgresrepo.HoldRepo.DeleteStartedBefore"

	tag, err := r.db.Exec(ctx, `DELETE FROM holds WHERE hold_start_time < $1`, before)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}
