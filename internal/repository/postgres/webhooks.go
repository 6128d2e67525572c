package postgresrepo

import (
	"context"

	"github.com/kirinyoku/seatledger/internal/domain"
)

type WebhookRepo struct {
	db DB
}

func (r *WebhookRepo) Exists(ctx context.Context, eventID string) (bool, error) {
	const op = "postgresrepo.WebhookRepo.Exists"

	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_webhook_events WHERE event_id = $1)`,
		eventID,
	).Scan(&ok)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return ok, nil
}

func (r *WebhookRepo) Insert(ctx context.Context, e domain.ProcessedWebhookEvent) error {
	const op = "postgresrepo.WebhookRepo.Insert"

	_, err := r.db.Exec(ctx,
		`INSERT INTO processed_webhook_events(event_id, type, outcome, processed_at)
		 VALUES ($1, $2, $3, $4)`,
		e.EventID, e.Type, e.Outcome, e.ProcessedAt,
	)

	return wrapDBErr(op, err)
}
