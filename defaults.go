package asyncache

import (
	"math"
	"time"
)

// Never disables a timer-driven behaviour (retry, staling, expiry).
const Never time.Duration = math.MaxInt64

const (
	defaultRetryAfter           = time.Minute
	defaultCollectionRetryAfter = 15 * time.Second
	defaultStaleAfter           = 15 * time.Minute
	defaultReactionLimit        = 32
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func enabled(d time.Duration) bool { return d > 0 && d != Never }
