package redis

import (
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"101000", 10100000},
		{"0.01", 1},
		{"99.955", 9996},
		{"1234.5", 123450},
	}
	for _, tc := range cases {
		d := decimal.RequireFromString(tc.in)
		check.Equal(t, tc.want, toMinorUnits(d))
	}
	check.True(t, fromMinorUnits(10100000).Equal(decimal.NewFromInt(101000)))
	check.Equal(t, "99.96", fromMinorUnits(9996).String())
}

func TestKeysAreNamespaced(t *testing.T) {
	c := &Client{prefix: defaultPrefix}

	check.Equal(t, "auctionhouse:lock:auction:a1", NewLockManager(c).lockKey("auction:a1"))
	check.Equal(t, "auctionhouse:ratelimit:bid:u1", NewRateLimiter(c, 0, 0).rateLimitKey("bid:u1"))
	check.Equal(t, "auctionhouse:auction:a1:highest", NewHighestBidCache(c, 0).highestKey("a1"))
}

func TestHasPattern(t *testing.T) {
	check.True(t, hasPattern("auction:*"))
	check.False(t, hasPattern("auction:a1"))
}
