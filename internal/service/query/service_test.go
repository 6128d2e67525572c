package query

import (
	"context"
	"testing"
	"time"

	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEvent(t *testing.T) {
	store := memory.NewStore()
	store.PutEvent(domain.Event{ID: 35, Title: "Harvest dinner", TotalSeats: 100, AvailableSeats: 100})
	svc := New(store, Config{})

	e, err := svc.GetEvent(context.Background(), 35)
	require.NoError(t, err)
	assert.Equal(t, "Harvest dinner", e.Title)

	_, err = svc.GetEvent(context.Background(), 36)
	require.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestListAdminLog_Paging(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AdminLog().Append(ctx, &domain.AdminLogEntry{
			Action:    domain.ActionCancel,
			Actor:     "ops",
			CreatedAt: time.Unix(int64(i), 0),
		}))
	}

	svc := New(store, Config{DefaultLogPage: 2, MaxLogPage: 3})

	page, err := svc.ListAdminLog(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].ID, "newest first")

	page, err = svc.ListAdminLog(ctx, 100, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].ID)

	page, err = svc.ListAdminLog(ctx, 100, -1)
	require.NoError(t, err)
	assert.Len(t, page, 3)
}
