package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource []domain.BookingEvent

func (s sliceSource) Subscribe(ctx context.Context, handler func(context.Context, domain.BookingEvent)) error {
	for _, ev := range s {
		handler(ctx, ev)
	}
	<-ctx.Done()
	return ctx.Err()
}

type recorder struct {
	mu   sync.Mutex
	sent []domain.BookingEvent
	fail map[domain.BookingEventKind]bool
}

func (r *recorder) Notify(_ context.Context, ev domain.BookingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail[ev.Kind] {
		return errors.New("smtp unavailable")
	}
	r.sent = append(r.sent, ev)
	return nil
}

func event(kind domain.BookingEventKind, email string) domain.BookingEvent {
	return domain.BookingEvent{Kind: kind, BookingID: uuid.New(), EventID: 35, CustomerEmail: email}
}

func TestDispatcher_Run(t *testing.T) {
	src := sliceSource{
		event(domain.BookingRefunded, "a@example.com"),
		event(domain.BookingConfirmed, "b@example.com"),
		event(domain.BookingCanceled, ""),
		event(domain.BookingModified, "c@example.com"),
	}
	rec := &recorder{fail: map[domain.BookingEventKind]bool{domain.BookingRefunded: true}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewDispatcher(src, rec, nil).Run(ctx)
	require.NoError(t, err)

	require.Len(t, rec.sent, 2)
	assert.Equal(t, domain.BookingConfirmed, rec.sent[0].Kind)
	assert.Equal(t, domain.BookingModified, rec.sent[1].Kind)
}

type brokenSource struct{}

func (brokenSource) Subscribe(context.Context, func(context.Context, domain.BookingEvent)) error {
	return errors.New("connection refused")
}

func TestDispatcher_RunSourceError(t *testing.T) {
	err := NewDispatcher(brokenSource{}, NewLogNotifier(nil), nil).Run(context.Background())
	require.Error(t, err)
}
