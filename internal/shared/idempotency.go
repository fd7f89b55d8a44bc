package shared

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// SubmitLockKey builds the redis key guarding the submission of one draft.
func SubmitLockKey(draftID string) string {
	return "invoice:submit:" + draftID + ":lock"
}

// IdempotencyStore claims keys in Redis so an operation runs at most once at
// a time.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyStore constructs the store. ttl bounds how long a crashed
// holder keeps the key.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Claim takes key or returns ErrInFlight when another holder has it.
func (s *IdempotencyStore) Claim(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	ok, err := s.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrInFlight
	}
	return nil
}

// Release frees key once the operation finished.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	return s.client.Del(ctx, key).Err()
}
