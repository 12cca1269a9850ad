package ratelimiter

import (
	"fmt"
	"time"
)

// Config is loaded from the environment with pkg/config.
type Config struct {
	Capacity       int           `env:"BILLING_RATE_CAPACITY" envDefault:"5"`
	RefillRate     int           `env:"BILLING_RATE_REFILL" envDefault:"1"`
	RefillInterval time.Duration `env:"BILLING_RATE_INTERVAL" envDefault:"10s"`
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("%w: refill rate must be positive, got %d", ErrInvalidConfig, c.RefillRate)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("%w: refill interval must be positive, got %v", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}

// idleTTL is how long an untouched bucket takes to refill completely.
func (c Config) idleTTL() time.Duration {
	return c.RefillInterval * time.Duration(c.Capacity/c.RefillRate+1)
}

// refill returns the tokens and refill time after the intervals elapsed
// since refilled. Refill times advance in whole intervals.
func (c Config) refill(tokens int, refilled, now time.Time) (int, time.Time) {
	if now.Before(refilled) {
		return tokens, refilled
	}
	maxIntervals := int64(c.Capacity/c.RefillRate + 1)
	intervals := min(int64(now.Sub(refilled)/c.RefillInterval), maxIntervals)
	if intervals <= 0 {
		return tokens, refilled
	}
	tokens = min(tokens+int(intervals)*c.RefillRate, c.Capacity)
	if tokens == c.Capacity {
		return tokens, now
	}
	return tokens, refilled.Add(time.Duration(intervals) * c.RefillInterval)
}
