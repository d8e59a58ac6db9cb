package sim

import "time"

// Option customises simulated chain behaviour.
type Option func(*Chain)

// WithLatency inserts a fixed confirmation delay before every operation.
func WithLatency(d time.Duration) Option {
	return func(c *Chain) {
		if d > 0 {
			c.latency = d
		}
	}
}

// WithFailureRate makes a fraction of trading operations fail with a rotating
// contract error, exercising the recovery policies under load.
func WithFailureRate(rate float64) Option {
	return func(c *Chain) {
		if rate > 0 && rate <= 1 {
			c.failureRate = rate
		}
	}
}

// WithSeed fixes the fault-injection random source for reproducible runs.
func WithSeed(seed int64) Option {
	return func(c *Chain) {
		c.seed = seed
	}
}

// WithFeePerOperation overrides the flat native fee charged per operation.
func WithFeePerOperation(fee uint64) Option {
	return func(c *Chain) {
		c.fee = fee
	}
}
