package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AvailabilityPubSub broadcasts recomputed availability snapshots to every
// API instance.
type AvailabilityPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewAvailabilityPubSub(rdb *redis.Client) *AvailabilityPubSub {
	return &AvailabilityPubSub{
		rdb:     rdb,
		channel: ChannelAvailability(),
	}
}

func (p *AvailabilityPubSub) PublishAvailability(ctx context.Context, snap domain.AvailabilitySnapshot) error {
	const op = "redis.AvailabilityPubSub.PublishAvailability"

	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Subscribe delivers snapshots until ctx is done. A non-zero eventID filters
// the stream to that event.
func (p *AvailabilityPubSub) Subscribe(
	ctx context.Context,
	eventID int64,
	handler func(ctx context.Context, snap domain.AvailabilitySnapshot),
) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var snap domain.AvailabilitySnapshot
			if err := json.Unmarshal([]byte(m.Payload), &snap); err != nil || snap.EventID == 0 {
				continue
			}
			if eventID != 0 && snap.EventID != eventID {
				continue
			}
			handler(ctx, snap)
		}
	}
}

// BookingEventsPubSub carries booking domain events to out-of-band
// consumers such as the notification dispatcher.
type BookingEventsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewBookingEventsPubSub(rdb *redis.Client) *BookingEventsPubSub {
	return &BookingEventsPubSub{
		rdb:     rdb,
		channel: ChannelBookingEvents(),
	}
}

func (p *BookingEventsPubSub) PublishBookingEvent(ctx context.Context, ev domain.BookingEvent) error {
	const op = "redis.BookingEventsPubSub.PublishBookingEvent"

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (p *BookingEventsPubSub) Subscribe(
	ctx context.Context,
	handler func(ctx context.Context, ev domain.BookingEvent),
) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.BookingEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil || ev.Kind == "" {
				continue
			}
			handler(ctx, ev)
		}
	}
}
