package search

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter spaces external calls to a per-minute budget. All search calls
// share one limiter and all scrape requests share another; both are safe for
// concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows callsPerMinute calls with even spacing. A non-positive
// rate disables limiting.
func NewLimiter(callsPerMinute int) *Limiter {
	if callsPerMinute <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	interval := rate.Limit(float64(callsPerMinute) / 60.0)
	return &Limiter{limiter: rate.NewLimiter(interval, 1)}
}

// Wait blocks until a call may proceed or the context is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
