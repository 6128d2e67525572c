package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const availabilityTTL = 30 * time.Second

type Cache struct {
	rdb *redis.Client
	sf  singleflight.Group
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{rdb: client}
}

func (c *Cache) getString(ctx context.Context, key string) (string, bool, error) {
	s, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return s, true, nil
}

func getJSON[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var zero T

	s, ok, err := c.getString(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}

	var out T
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return zero, false, err
	}

	return out, true, nil
}

func setJSON(ctx context.Context, c *Cache, key string, val any, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// getOrSetJSON reads key, falling back to loader on a miss. Concurrent misses
// for one key share a single loader call.
func getOrSetJSON[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	if v, ok, err := getJSON[T](ctx, c, key); err == nil && ok {
		return v, nil
	}

	vAny, err, _ := c.sf.Do(key, func() (any, error) {
		if v2, ok2, err2 := getJSON[T](ctx, c, key); err2 == nil && ok2 {
			return v2, nil
		}
		v3, err3 := loader(ctx)
		if err3 != nil {
			return nil, err3
		}
		_ = setJSON(ctx, c, key, v3, ttl)
		return v3, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	v, ok := vAny.(T)
	if !ok {
		var zero T
		return zero, errors.New("type assertion failed")
	}

	return v, nil
}

// Availability returns the cached snapshot for eventID, computing it with
// load on a miss. A Redis outage degrades to calling load directly.
func (c *Cache) Availability(
	ctx context.Context,
	eventID int64,
	load func(ctx context.Context) (domain.AvailabilitySnapshot, error),
) (domain.AvailabilitySnapshot, error) {
	const op = "redis.Cache.Availability"

	snap, err := getOrSetJSON(ctx, c, KeyEventAvailability(eventID), availabilityTTL, load)
	if err != nil {
		return domain.AvailabilitySnapshot{}, fmt.Errorf("%s:%w", op, err)
	}

	return snap, nil
}

func (c *Cache) SetAvailability(ctx context.Context, snap domain.AvailabilitySnapshot) error {
	const op = "redis.Cache.SetAvailability"

	if err := setJSON(ctx, c, KeyEventAvailability(snap.EventID), snap, availabilityTTL); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (c *Cache) InvalidateEvent(ctx context.Context, eventID int64) error {
	return c.rdb.Del(ctx, KeyEventAvailability(eventID)).Err()
}
