// Package drafts keeps the invoice a session is composing in Redis until it
// is submitted or discarded.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/invoice-desk/internal/invoice"
)

// ErrNotFound is returned when the session has no open draft of the kind.
var ErrNotFound = errors.New("drafts: no open draft")

// Store persists one draft per session and kind.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewStore constructs a Store. Drafts idle for longer than ttl expire.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl, now: time.Now}
}

// Key is the redis key of a session's draft.
func Key(sessionID string, kind invoice.Kind) string {
	return fmt.Sprintf("draft:%s:%s", sessionID, kind)
}

// Open returns the session's current draft, creating an empty one when none
// exists.
func (s *Store) Open(ctx context.Context, sessionID string, kind invoice.Kind) (invoice.DraftInvoice, error) {
	draft, err := s.Get(ctx, sessionID, kind)
	if err == nil {
		return draft, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return invoice.DraftInvoice{}, err
	}
	draft = invoice.NewDraft(uuid.NewString(), kind, s.now().UTC())
	if err := s.Save(ctx, sessionID, draft); err != nil {
		return invoice.DraftInvoice{}, err
	}
	return draft, nil
}

// Get loads the session's draft.
func (s *Store) Get(ctx context.Context, sessionID string, kind invoice.Kind) (invoice.DraftInvoice, error) {
	raw, err := s.client.Get(ctx, Key(sessionID, kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return invoice.DraftInvoice{}, ErrNotFound
		}
		return invoice.DraftInvoice{}, fmt.Errorf("drafts: get: %w", err)
	}
	var draft invoice.DraftInvoice
	if err := json.Unmarshal(raw, &draft); err != nil {
		return invoice.DraftInvoice{}, fmt.Errorf("drafts: decode: %w", err)
	}
	if draft.Items == nil {
		draft.Items = []invoice.LineItem{}
	}
	return draft, nil
}

// Save stores the draft and refreshes its expiry.
func (s *Store) Save(ctx context.Context, sessionID string, draft invoice.DraftInvoice) error {
	draft.UpdatedAt = s.now().UTC()
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("drafts: encode: %w", err)
	}
	if err := s.client.Set(ctx, Key(sessionID, draft.Kind), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("drafts: save: %w", err)
	}
	return nil
}

// Discard deletes the draft. Discarding a missing draft is not an error.
func (s *Store) Discard(ctx context.Context, sessionID string, kind invoice.Kind) error {
	if err := s.client.Del(ctx, Key(sessionID, kind)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("drafts: discard: %w", err)
	}
	return nil
}
