package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/redis/go-redis/v9"
)

// guardedSet hanya menulis kalau version baru > version di cache, jadi event
// lama yang datang telat tidak menimpa status yang lebih baru.
var guardedSet = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'body', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

type StatusCache struct {
	RDB redis.Cmdable
	TTL time.Duration
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{RDB: rdb, TTL: TTLStatusCache}
}

func statusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func (c *StatusCache) Get(ctx context.Context, orderID string) (orders.StatusView, bool, error) {
	var v orders.StatusView
	body, err := c.RDB.HGet(ctx, statusKey(orderID), "body").Result()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Put stores v unless the cache already holds the same or a newer version.
// It reports whether the write happened.
func (c *StatusCache) Put(ctx context.Context, v orders.StatusView) (bool, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = TTLStatusCache
	}
	n, err := guardedSet.Run(ctx, c.RDB, []string{statusKey(v.OrderID)},
		strconv.FormatInt(v.Version, 10), body, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
