package ratelimit

import (
	"time"

	"pathledger/internal/domain"
)

const defaultWindow = time.Second

// alignedWindow returns the index of the wall-clock window holding now and
// the instant that window closes. Windows are aligned to the Unix epoch so
// every replica counts into the same bucket.
func alignedWindow(now time.Time, window time.Duration) (int64, time.Time) {
	if window <= 0 {
		window = defaultWindow
	}
	idx := now.UnixNano() / int64(window)
	return idx, time.Unix(0, (idx+1)*int64(window)).In(now.Location())
}

func decide(limit int, count int64, resetAt time.Time) domain.RateLimitDecision {
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}
}

func unlimited(limit int) domain.RateLimitDecision {
	return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}
}
