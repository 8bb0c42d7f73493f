package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// setIfHigherLua stores ARGV[1] (integer minor units) unless the key already
// holds a larger value. ARGV[2] is the TTL in milliseconds.
const setIfHigherLua = `
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
    return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`

// HighestBidCache implements domain.HighestBidCache. Amounts are stored as
// integer minor units at "auction:{id}:highest" so the comparison in Lua is
// exact.
type HighestBidCache struct {
	c           *Client
	ttl         time.Duration
	setIfHigher *redis.Script
}

// NewHighestBidCache creates a HighestBidCache backed by the given Client.
func NewHighestBidCache(c *Client, ttl time.Duration) *HighestBidCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &HighestBidCache{c: c, ttl: ttl, setIfHigher: redis.NewScript(setIfHigherLua)}
}

func (hc *HighestBidCache) highestKey(auctionID string) string {
	return hc.c.key("auction:" + auctionID + ":highest")
}

// toMinorUnits converts a money amount to an integer count of cents.
func toMinorUnits(d decimal.Decimal) int64 {
	return domain.RoundMoney(d).Shift(domain.MoneyScale).IntPart()
}

// fromMinorUnits is the inverse of toMinorUnits.
func fromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -domain.MoneyScale)
}

// SetIfHigher records amount unless a higher amount is cached.
func (hc *HighestBidCache) SetIfHigher(ctx context.Context, auctionID string, amount decimal.Decimal) error {
	err := hc.setIfHigher.Run(ctx, hc.c.rdb,
		[]string{hc.highestKey(auctionID)},
		toMinorUnits(amount), hc.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set highest bid %s: %w", auctionID, err)
	}
	return nil
}

// Get returns the cached highest amount, or domain.ErrNotFound on a miss.
func (hc *HighestBidCache) Get(ctx context.Context, auctionID string) (decimal.Decimal, error) {
	raw, err := hc.c.rdb.Get(ctx, hc.highestKey(auctionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Decimal{}, domain.ErrNotFound
		}
		return decimal.Decimal{}, fmt.Errorf("redis: get highest bid %s: %w", auctionID, err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("redis: parse highest bid %s: %w", auctionID, err)
	}
	return fromMinorUnits(n), nil
}

var _ domain.HighestBidCache = (*HighestBidCache)(nil)
