package storage

import (
	"context"
	"time"
)

// DefaultOpTimeout bounds a single component operation against the store.
const DefaultOpTimeout = 5 * time.Second

// Bound derives a context that expires after d, or DefaultOpTimeout when d is
// not positive. An earlier parent deadline still wins.
func Bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultOpTimeout
	}
	return context.WithTimeout(ctx, d)
}
