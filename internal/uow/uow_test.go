package uow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/repository"
	"github.com/kirinyoku/seatledger/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUoW_RunsHooksAfterCommit(t *testing.T) {
	store := memory.NewStore()
	store.PutEvent(domain.Event{ID: 1, TotalSeats: 10})
	u := NewUoW(store)

	var ran int
	err := u.Do(context.Background(), func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error {
		after(func(context.Context) { ran++ })
		return tx.Events().SetAvailableSeats(ctx, 1, 7)
	})

	require.NoError(t, err)
	assert.Equal(t, 1, ran)

	e, err := store.Events().Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), e.AvailableSeats)
}

func TestUoW_RollbackSkipsHooks(t *testing.T) {
	store := memory.NewStore()
	store.PutEvent(domain.Event{ID: 1, TotalSeats: 10, AvailableSeats: 10})
	u := NewUoW(store)
	boom := errors.New("boom")

	var ran int
	err := u.Do(context.Background(), func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error {
		after(func(context.Context) { ran++ })
		if err := tx.Events().SetAvailableSeats(ctx, 1, 3); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Zero(t, ran)

	e, err := store.Events().Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), e.AvailableSeats, "rolled back")
}

func TestUoW_DoRetryConflict(t *testing.T) {
	store := memory.NewStore()
	u := NewUoW(store)

	var calls int
	err := u.DoRetryConflict(context.Background(), 2, func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("insert: %w", repository.ErrConflict)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = u.DoRetryConflict(context.Background(), 2, func(context.Context, repository.Repos, func(AfterCommit)) error {
		calls++
		return repository.ErrConflict
	})
	require.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, 2, calls)
}
