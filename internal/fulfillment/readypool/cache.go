// Package readypool mirrors the set of orders awaiting courier pickup in a
// redis sorted set, scored by the moment production finished so couriers see
// the oldest orders first. The orders table stays authoritative; the pool is
// rebuilt from it on demand.
package readypool

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const key = "fulfillment:ready_pool"

// Cache is the redis-backed pool.
type Cache struct {
	rdb *redis.Client
}

// New wraps a redis client.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Add registers an order as ready for pickup.
func (c *Cache) Add(ctx context.Context, orderID int64, readyAt time.Time) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: strconv.FormatInt(orderID, 10),
	}).Err()
}

// Remove drops an order from the pool, typically after a pickup claim.
func (c *Cache) Remove(ctx context.Context, orderID int64) error {
	return c.rdb.ZRem(ctx, key, strconv.FormatInt(orderID, 10)).Err()
}

// List returns the pooled order ids, oldest ready first.
func (c *Cache) List(ctx context.Context) ([]int64, error) {
	members, err := c.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Entry is one order with the moment it became ready.
type Entry struct {
	OrderID int64
	ReadyAt time.Time
}

// Rebuild clears and repopulates the pool in one pipeline from the
// authoritative order list.
func (c *Cache) Rebuild(ctx context.Context, entries []Entry) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	for _, e := range entries {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(e.ReadyAt.Unix()),
			Member: strconv.FormatInt(e.OrderID, 10),
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}
