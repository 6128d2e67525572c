package uow

import (
	"context"
	"errors"

	"github.com/kirinyoku/seatledger/internal/repository"
)

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// UoW represents a unit of work.
type UoW struct {
	tx repository.Transactor
}

func NewUoW(tx repository.Transactor) *UoW {
	return &UoW{tx: tx}
}

// Do runs fn inside the transaction. After a successful commit,
// it executes all after-commit hooks registered by the final attempt.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	err := u.tx.RunTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		// a retried attempt starts from scratch
		hooks = hooks[:0]

		return fn(ctx, tx, func(h AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}

// DoRetryConflict behaves like Do but re-runs fn, up to attempts times in
// total, when it fails with repository.ErrConflict. A storage uniqueness
// violation aborts the transaction, so the decision about the row that won
// the race has to be made in a fresh one.
func (u *UoW) DoRetryConflict(
	ctx context.Context,
	attempts int,
	fn func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error,
) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = u.Do(ctx, fn)
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}

	return err
}
