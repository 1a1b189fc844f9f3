package location

import (
	"context"
	"time"

	"github.com/shiva/gaadisathi/pkg/geo"
)

// Throttle forwards fixes from in, dropping any fix that is closer than
// minDistanceM to the last forwarded one or arrives sooner than minInterval
// after it. The first fix always passes. The output closes when in closes or
// ctx ends.
func Throttle(ctx context.Context, in <-chan Fix, minDistanceM float64, minInterval time.Duration) <-chan Fix {
	out := make(chan Fix, 1)

	go func() {
		defer close(out)

		var (
			last Fix
			sent bool
		)
		for {
			select {
			case <-ctx.Done():
				return
			case fix, ok := <-in:
				if !ok {
					return
				}
				if fix.At.IsZero() {
					fix.At = time.Now()
				}
				if sent && !moved(last, fix, minDistanceM, minInterval) {
					continue
				}
				select {
				case out <- fix:
					last, sent = fix, true
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func moved(last, next Fix, minDistanceM float64, minInterval time.Duration) bool {
	if next.At.Sub(last.At) < minInterval {
		return false
	}
	return geo.HaversineM(last.Location, next.Location) >= minDistanceM
}
