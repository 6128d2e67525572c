package postgresrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/seatledger/internal/repository"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const (
	defaultTxAttempts = 3
	retryBackoff      = 20 * time.Millisecond
)

type Store struct {
	pool       *pgxpool.Pool
	txAttempts int
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:       pool,
		txAttempts: defaultTxAttempts,
	}
}

// RunTx runs fn inside a serializable read-write transaction. Serialization
// failures and deadlocks are retried with a fresh transaction.
func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repos) error) error {
	const op = "postgresrepo.Store.RunTx"

	var err error
	for attempt := 1; attempt <= s.txAttempts; attempt++ {
		err = s.runTxOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s:%w", op, ctx.Err())
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	if err != nil && IsRetryable(err) {
		return fmt.Errorf("%s: %w: %w", op, repository.ErrTransient, err)
	}

	return err
}

func (s *Store) runTxOnce(ctx context.Context, fn func(ctx context.Context, tx repository.Repos) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return translateDBErr(err)
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, txRepos{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", translateDBErr(err))
	}

	return nil
}

func (s *Store) Holds() repository.HoldRepository            { return &HoldRepo{db: s.pool} }
func (s *Store) Bookings() repository.BookingRepository      { return &BookingRepo{db: s.pool} }
func (s *Store) Events() repository.EventRepository          { return &EventRepo{db: s.pool} }
func (s *Store) Webhooks() repository.WebhookEventRepository { return &WebhookRepo{db: s.pool} }
func (s *Store) AdminLog() repository.AdminLogRepository     { return &AdminLogRepo{db: s.pool} }

type txRepos struct {
	db DB
}

func (t txRepos) Holds() repository.HoldRepository            { return &HoldRepo{db: t.db} }
func (t txRepos) Bookings() repository.BookingRepository      { return &BookingRepo{db: t.db} }
func (t txRepos) Events() repository.EventRepository          { return &EventRepo{db: t.db} }
func (t txRepos) Webhooks() repository.WebhookEventRepository { return &WebhookRepo{db: t.db} }
func (t txRepos) AdminLog() repository.AdminLogRepository     { return &AdminLogRepo{db: t.db} }

var _ repository.Transactor = (*Store)(nil)
