package postgresrepo

import (
	"context"

	"github.com/kirinyoku/seatledger/internal/domain"
)

type AdminLogRepo struct {
	db DB
}

func (r *AdminLogRepo) Append(ctx context.Context, e *domain.AdminLogEntry) error {
	const op = "postgresrepo.AdminLogRepo.Append"

	var details []byte
	if len(e.Details) > 0 {
		details = e.Details
	}

	refs := e.PaymentRefs
	if refs == nil {
		refs = []string{}
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO admin_log(action, actor, booking_id, event_id, payment_refs, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		string(e.Action), e.Actor, e.BookingID, e.EventID, refs, details, e.CreatedAt,
	).Scan(&e.ID)

	return wrapDBErr(op, err)
}

func (r *AdminLogRepo) List(ctx context.Context, limit, offset int) ([]domain.AdminLogEntry, error) {
	const op = "postgresrepo.AdminLogRepo.List"

	rows, err := r.db.Query(ctx,
		`SELECT id, action, actor, booking_id, event_id, payment_refs, details, created_at
		 FROM admin_log
		 ORDER BY id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.AdminLogEntry
	for rows.Next() {
		var (
			e       domain.AdminLogEntry
			action  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &action, &e.Actor, &e.BookingID, &e.EventID, &e.PaymentRefs, &details, &e.CreatedAt); err != nil {
			return nil, wrapDBErr(op, err)
		}
		e.Action = domain.AdminAction(action)
		e.Details = details
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *AdminLogRepo) HasPaymentRefs(ctx context.Context, action domain.AdminAction, refs []string) (bool, error) {
	const op = "postgresrepo.AdminLogRepo.HasPaymentRefs"

	if len(refs) == 0 {
		return false, nil
	}

	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM admin_log WHERE action = $1 AND payment_refs && $2)`,
		string(action), refs,
	).Scan(&ok)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return ok, nil
}
