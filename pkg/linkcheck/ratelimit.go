package linkcheck

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit gates HTTP attempts for a single LinkGroup. Acquire blocks
// cooperatively until a credit is available, is safe to call repeatedly
// from the sequential validation loop, and must not leak a credit when the
// caller's context is cancelled.
type RateLimit interface {
	Acquire(ctx context.Context) error
}

type noneRateLimit struct{}

// None returns a RateLimit that never blocks.
func None() RateLimit {
	return noneRateLimit{}
}

func (noneRateLimit) Acquire(ctx context.Context) error {
	return ctx.Err()
}

// tokenBucketRateLimit admits at most n requests in any rolling window of
// width interval, backed by golang.org/x/time/rate's token bucket (burst
// equal to n so the first n requests in an empty window are unthrottled,
// then the bucket refills continuously at n/interval).
type tokenBucketRateLimit struct {
	limiter *rate.Limiter
}

// RequestsPerTimeInterval admits at most n requests in any rolling window
// of the given interval.
func RequestsPerTimeInterval(n int, interval time.Duration) RateLimit {
	if n <= 0 {
		n = 1
	}
	limit := rate.Every(interval / time.Duration(n))
	return &tokenBucketRateLimit{limiter: rate.NewLimiter(limit, n)}
}

func (t *tokenBucketRateLimit) Acquire(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
