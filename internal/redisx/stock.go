package redisx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] = stock:{id}; ARGV = version, stock, updated_at, deleted, ttl seconds (0 = persist).
// Writes only when ARGV version is newer than the stored one.
var casStock = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'stock', ARGV[2], 'updated_at', ARGV[3], 'deleted', ARGV[4])
if tonumber(ARGV[5]) > 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[5])
else
  redis.call('PERSIST', KEYS[1])
end
return 1
`)

type StockSnapshot struct {
	ProductID int64
	Stock     int
	Version   int64
	UpdatedAt time.Time
}

// StockProjection is the read model of product stock maintained from lifecycle events.
type StockProjection struct {
	Client       *redis.Client
	TombstoneTTL time.Duration
}

// Apply stores snap unless a snapshot with the same or a newer version is already there.
func (s *StockProjection) Apply(ctx context.Context, snap StockSnapshot) (bool, error) {
	return s.write(ctx, snap.ProductID, snap.Version, snap.Stock, snap.UpdatedAt, false)
}

// Tombstone marks a product deleted at version. The marker outranks every earlier write and
// expires after TombstoneTTL.
func (s *StockProjection) Tombstone(ctx context.Context, productID, version int64, at time.Time) (bool, error) {
	return s.write(ctx, productID, version, 0, at, true)
}

func (s *StockProjection) write(ctx context.Context, productID, version int64, stock int, at time.Time, deleted bool) (bool, error) {
	ttl, del := 0, "0"
	if deleted {
		del = "1"
		ttl = int(s.tombstoneTTL() / time.Second)
	}
	n, err := casStock.Run(ctx, s.Client, []string{fmt.Sprintf(KeyStock, productID)},
		version, stock, at.UTC().Format(time.RFC3339Nano), del, ttl,
	).Int()
	if err != nil {
		return false, errors.Wrapf(err, "write stock snapshot of product %d", productID)
	}
	return n == 1, nil
}

func (s *StockProjection) tombstoneTTL() time.Duration {
	if s.TombstoneTTL >= time.Second {
		return s.TombstoneTTL
	}
	return TTLTombstone
}

// Get returns the current snapshot; ok is false when there is none or the product is deleted.
func (s *StockProjection) Get(ctx context.Context, productID int64) (snap StockSnapshot, ok bool, err error) {
	h, err := s.Client.HGetAll(ctx, fmt.Sprintf(KeyStock, productID)).Result()
	if err != nil {
		return StockSnapshot{}, false, errors.Wrapf(err, "read stock snapshot of product %d", productID)
	}
	if len(h) == 0 || h["deleted"] == "1" {
		return StockSnapshot{}, false, nil
	}

	snap.ProductID = productID
	if snap.Stock, err = strconv.Atoi(h["stock"]); err != nil {
		return StockSnapshot{}, false, errors.Wrap(err, "decode stock")
	}
	if snap.Version, err = strconv.ParseInt(h["version"], 10, 64); err != nil {
		return StockSnapshot{}, false, errors.Wrap(err, "decode version")
	}
	if snap.UpdatedAt, err = time.Parse(time.RFC3339Nano, h["updated_at"]); err != nil {
		return StockSnapshot{}, false, errors.Wrap(err, "decode updated_at")
	}
	return snap, true, nil
}
