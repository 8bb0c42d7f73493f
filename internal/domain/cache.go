package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// HighestBidCache keeps the latest known highest amount per auction for
// cheap reads.
type HighestBidCache interface {
	// SetIfHigher stores amount unless a larger amount is already cached.
	SetIfHigher(ctx context.Context, auctionID string, amount decimal.Decimal) error
	// Get returns ErrNotFound on a miss.
	Get(ctx context.Context, auctionID string) (decimal.Decimal, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
