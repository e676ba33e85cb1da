package service

import (
	"math/rand/v2"
	"time"
)

// backoff is initial * 2^(attempt-1) capped at maxDelay, plus up to 20% jitter.
func backoff(attempt int, initial, maxDelay time.Duration, jitter func(int64) int64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := initial
	for i := 1; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	if spread := int64(delay) / 5; spread > 0 && jitter != nil {
		delay += time.Duration(jitter(spread))
	}
	return delay
}

func defaultJitter(n int64) int64 {
	return rand.Int64N(n)
}
