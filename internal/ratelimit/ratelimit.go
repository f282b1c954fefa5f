package ratelimit

import (
	"context"
	"time"

	"Parley/internal/redisx"
)

type Limiter struct {
	R *redisx.Client
}

func New(r *redisx.Client) *Limiter { return &Limiter{R: r} }

// AllowSliding counts a hit against key within window and reports whether
// the count is still within limit.
func (l *Limiter) AllowSliding(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	k := "rl:" + key
	pipe := l.R.R.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	n := incr.Val()
	return n <= limit, n, nil
}
