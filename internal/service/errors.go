package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// wrapStoreErr passes not-found through and marks everything else as a
// persistence failure.
func wrapStoreErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
