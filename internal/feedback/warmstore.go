package feedback

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// WarmStore mirrors drift windows so restarts can rebuild without a
// table scan. Optional: a nil store degrades to repo-backed rebuild.
type WarmStore struct {
	client *redis.Client
	window int
}

// NewWarmStore wraps a Redis client as a drift warm store.
func NewWarmStore(client *redis.Client, window int) *WarmStore {
	return &WarmStore{client: client, window: window}
}

func (s *WarmStore) key(itemCode string) string {
	return "stockcast:drift:" + itemCode
}

// Append pushes a MAPE% sample and trims the list to the window bound.
func (s *WarmStore) Append(ctx context.Context, itemCode string, mapePct float64) error {
	if s == nil || s.client == nil {
		return nil
	}
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.key(itemCode), strconv.FormatFloat(mapePct, 'f', -1, 64))
	pipe.LTrim(ctx, s.key(itemCode), int64(-s.window), -1)
	pipe.Expire(ctx, s.key(itemCode), 7*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror drift window for %s: %w", itemCode, err)
	}
	return nil
}

// Load returns the mirrored window, oldest first. Empty when the store is
// disabled or the key is cold.
func (s *WarmStore) Load(ctx context.Context, itemCode string) ([]float64, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	vals, err := s.client.LRange(ctx, s.key(itemCode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load drift window for %s: %w", itemCode, err)
	}
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
