package resilience

import "time"

// RetryPolicy shapes the exponential backoff between attempts.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter spreads each wait by up to ±Jitter of its length.
	Jitter float64
	// RetryAfterCap bounds server-provided Retry-After hints.
	RetryAfterCap time.Duration
}

// BreakerPolicy trips an operation's breaker once FailureRatio of at least
// MinRequests calls failed, and probes again after OpenTimeout.
type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy

	// OnStateChange observes breaker transitions, e.g. for metrics.
	OnStateChange func(operation, from, to string)
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2,
			Jitter:         0.2,
			RetryAfterCap:  30 * time.Second,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
	}
}

// SingleAttempt keeps the breaker but disables retries, for callers whose
// retry policy lives elsewhere.
func (c Config) SingleAttempt() Config {
	c.Retry.MaxAttempts = 1
	return c
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	r, b := &c.Retry, &c.Breaker

	if r.MaxAttempts <= 0 {
		r.MaxAttempts = def.Retry.MaxAttempts
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = def.Retry.InitialBackoff
	}
	r.MaxBackoff = max(r.MaxBackoff, r.InitialBackoff)
	if r.Multiplier < 1 {
		r.Multiplier = def.Retry.Multiplier
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		r.Jitter = 0
	}
	if r.RetryAfterCap <= 0 {
		r.RetryAfterCap = def.Retry.RetryAfterCap
	}

	if b.MinRequests == 0 {
		b.MinRequests = def.Breaker.MinRequests
	}
	if b.FailureRatio <= 0 || b.FailureRatio > 1 {
		b.FailureRatio = def.Breaker.FailureRatio
	}
	if b.OpenTimeout <= 0 {
		b.OpenTimeout = def.Breaker.OpenTimeout
	}
	if b.HalfOpenMaxCalls == 0 {
		b.HalfOpenMaxCalls = def.Breaker.HalfOpenMaxCalls
	}
	return c
}
