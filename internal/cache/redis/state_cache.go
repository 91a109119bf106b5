package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emberhedge/firemark/internal/domain"
)

const marketTTL = 5 * time.Minute

// StateCache implements domain.StateCache using JSON-serialized market
// records under per-id keys with a short TTL. The registry remains the
// authority; the cache only relieves read traffic.
//
// Key schema:
//
//	firemark:market:{id} - JSON market record
type StateCache struct {
	rdb *redis.Client
}

// NewStateCache creates a StateCache backed by the given Client.
func NewStateCache(c *Client) *StateCache {
	return &StateCache{rdb: c.Underlying()}
}

func marketKey(id domain.MarketID) string {
	return "firemark:market:" + strconv.FormatUint(uint64(id), 10)
}

// Set stores a market record with the cache TTL.
func (sc *StateCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", market.ID, err)
	}

	if err := sc.rdb.Set(ctx, marketKey(market.ID), data, marketTTL).Err(); err != nil {
		return fmt.Errorf("redis: set market %d: %w", market.ID, err)
	}
	return nil
}

// Get retrieves a market record by id. It returns domain.ErrNotFound on a
// cache miss.
func (sc *StateCache) Get(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	data, err := sc.rdb.Get(ctx, marketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return market, nil
}

// Invalidate drops the cached record for a market, forcing the next read
// through to the registry. Called on every transition.
func (sc *StateCache) Invalidate(ctx context.Context, id domain.MarketID) error {
	if err := sc.rdb.Del(ctx, marketKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StateCache = (*StateCache)(nil)
