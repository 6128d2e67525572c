package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idemLocked = "LOCK"
	idemResult = "RES:"
)

// IdempotencyStore remembers the response of a hold request under the
// client's Idempotency-Key so a retried request gets the same hold back.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

// Begin claims key for lockTTL. It returns the stored payload when a previous
// request already completed, or claimed=false when another request holds it.
func (s *IdempotencyStore) Begin(
	ctx context.Context,
	key string,
	lockTTL time.Duration,
) (payload string, done bool, claimed bool, err error) {
	const op = "redis.IdempotencyStore.Begin"

	ok, err := s.rdb.SetNX(ctx, key, idemLocked, lockTTL).Result()
	if err != nil {
		return "", false, false, fmt.Errorf("%s:%w", op, err)
	}
	if ok {
		return "", false, true, nil
	}

	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, false, nil
	}
	if err != nil {
		return "", false, false, fmt.Errorf("%s:%w", op, err)
	}
	if strings.HasPrefix(v, idemResult) {
		return strings.TrimPrefix(v, idemResult), true, false, nil
	}

	return "", false, false, nil
}

func (s *IdempotencyStore) SaveResult(ctx context.Context, key string, jsonPayload string) error {
	return s.rdb.Set(ctx, key, idemResult+jsonPayload, s.ttl).Err()
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
