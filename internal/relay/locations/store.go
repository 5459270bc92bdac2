package locations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"delivery-relay/internal/relay/contracts"
)

// TTL is how long a cached rider location outlives its last write. A key
// that expired simply reads as absent.
const TTL = 3600 * time.Second

// Key returns the redis key holding an order's last known rider location.
func Key(orderID string) string {
	return "order:" + orderID + ":location"
}

// Store caches the last known rider location per order in redis. Values
// are full replacements; there is no read-modify-write.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Set writes the location for one order and resets its TTL.
func (s *Store) Set(ctx context.Context, orderID string, loc contracts.LocationPayload) error {
	payload, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}
	if err := s.rdb.SetEx(ctx, Key(orderID), payload, TTL).Err(); err != nil {
		return fmt.Errorf("set location for %s: %w", orderID, err)
	}
	return nil
}

// SetBatch writes the same location under every order id in one pipelined
// round trip. A batch update from a rider stacking deliveries carries one
// point and many orders.
func (s *Store) SetBatch(ctx context.Context, orderIDs []string, loc contracts.LocationPayload) error {
	if len(orderIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}

	pipe := s.rdb.Pipeline()
	for _, orderID := range orderIDs {
		pipe.SetEx(ctx, Key(orderID), payload, TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline location batch: %w", err)
	}
	return nil
}

// Get returns the cached location, or nil when none is known (never
// written, expired, or already cleared).
func (s *Store) Get(ctx context.Context, orderID string) (*contracts.LocationPayload, error) {
	raw, err := s.rdb.Get(ctx, Key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get location for %s: %w", orderID, err)
	}

	var loc contracts.LocationPayload
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, fmt.Errorf("decode location for %s: %w", orderID, err)
	}
	return &loc, nil
}

// Clear removes the cached location. Clearing an absent key is a no-op.
func (s *Store) Clear(ctx context.Context, orderID string) error {
	if err := s.rdb.Del(ctx, Key(orderID)).Err(); err != nil {
		return fmt.Errorf("clear location for %s: %w", orderID, err)
	}
	return nil
}
