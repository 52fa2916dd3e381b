package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/siriusgroup/wa-notify/internal/model"
)

// RedisSummaryCache keeps recent batch summaries so the results endpoint
// can answer without hitting the message log. TTL-bounded; the log store
// stays the source of truth.
type RedisSummaryCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSummaryCache(rdb *redis.Client, ttl time.Duration) *RedisSummaryCache {
	return &RedisSummaryCache{rdb: rdb, ttl: ttl}
}

func batchKey(batchID string) string {
	return "batch:" + batchID
}

func (c *RedisSummaryCache) StoreSummary(ctx context.Context, res *model.DispatchResult) error {
	if res.BatchID == "" {
		return errors.New("batch id must not be empty")
	}

	b, err := json.Marshal(res)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, batchKey(res.BatchID), b, c.ttl).Err()
}

func (c *RedisSummaryCache) GetSummary(ctx context.Context, batchID string) (*model.DispatchResult, bool, error) {
	raw, err := c.rdb.Get(ctx, batchKey(batchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var res model.DispatchResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, err
	}
	return &res, true, nil
}
