package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTokenTTL bounds how long a queued printout can wait for a worker.
const DefaultTokenTTL = 15 * time.Minute

// ErrTokenGone is returned when a print token expired or was already used.
var ErrTokenGone = errors.New("jobs: print token expired or already used")

// TokenVault keeps backend tokens out of task payloads. The task carries an
// opaque reference and the worker takes the token exactly once, so archived
// tasks hold nothing that can call the backend.
type TokenVault struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewTokenVault constructs a vault on the given Redis client.
func NewTokenVault(client redis.Cmdable, ttl time.Duration) *TokenVault {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenVault{client: client, ttl: ttl}
}

func tokenKey(ref string) string {
	return "print:token:" + ref
}

// Stash stores token and returns the reference to put in the task.
func (v *TokenVault) Stash(ctx context.Context, token string) (string, error) {
	if v == nil || v.client == nil {
		return "", errors.New("jobs: token vault not configured")
	}
	ref := uuid.NewString()
	if err := v.client.Set(ctx, tokenKey(ref), token, v.ttl).Err(); err != nil {
		return "", fmt.Errorf("jobs: stash token: %w", err)
	}
	return ref, nil
}

// Take returns the token behind ref and deletes it.
func (v *TokenVault) Take(ctx context.Context, ref string) (string, error) {
	if v == nil || v.client == nil {
		return "", errors.New("jobs: token vault not configured")
	}
	token, err := v.client.GetDel(ctx, tokenKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenGone
	}
	if err != nil {
		return "", fmt.Errorf("jobs: take token: %w", err)
	}
	return token, nil
}

// Drop discards a stashed token that was never enqueued.
func (v *TokenVault) Drop(ctx context.Context, ref string) error {
	if v == nil || v.client == nil {
		return nil
	}
	return v.client.Del(ctx, tokenKey(ref)).Err()
}
