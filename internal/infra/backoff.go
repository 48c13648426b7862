package infra

import (
	"math"
	"time"
)

const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffMax  = 60 * time.Second
)

// CalculateBackoff returns the reconnect delay for the given attempt using the default bounds.
func CalculateBackoff(retryCount int) time.Duration {
	return BackoffDelay(retryCount, DefaultBackoffBase, DefaultBackoffMax)
}

// BackoffDelay returns base * 2^retryCount, capped at max.
func BackoffDelay(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		return max
	}
	delay := base * time.Duration(math.Pow(2, float64(retryCount)))
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}
