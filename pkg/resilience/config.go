package resilience

import (
	"time"

	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/metrics"
)

// Config configures a Breaker.
type Config struct {
	// Timeout bounds every protected call. 0 disables the timeout.
	Timeout time.Duration

	// CircuitBreaker configures the circuit breaker behavior
	CircuitBreaker CircuitBreakerConfig

	// IsSuccessful decides whether an error counts against the breaker.
	// If nil, only a nil error is a success.
	IsSuccessful func(err error) bool

	Metrics metrics.Collector
	Logger  *logging.Logger
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the CircuitBreaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for the CircuitBreaker
	// to clear the internal counts. If Interval is 0, it never clears.
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	// Default: 60s
	Timeout time.Duration

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// If nil, the breaker trips after 5 consecutive failures.
	ReadyToTrip func(counts Counts) bool
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"totalSuccesses"`
	TotalFailures        uint32 `json:"totalFailures"`
	ConsecutiveSuccesses uint32 `json:"consecutiveSuccesses"`
	ConsecutiveFailures  uint32 `json:"consecutiveFailures"`
}

// DefaultConfig returns defaults suited to a shared cache tier.
func DefaultConfig() Config {
	return Config{
		Timeout: 500 * time.Millisecond,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts Counts) bool {
				// Require at least 20 requests before considering error rate
				if counts.Requests < 20 {
					return false
				}
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRate >= 0.15
			},
		},
	}
}

// GenerationConfig returns defaults suited to the generative service:
// a longer per-call timeout and a breaker that trips on consecutive
// failures, since request volume is low.
func GenerationConfig(timeout time.Duration) Config {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return Config{
		Timeout: timeout,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests: 1,
			Interval:    5 * time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified circuit breaker timeout.
func (c Config) WithCircuitBreakerTimeout(timeout time.Duration) Config {
	c.CircuitBreaker.Timeout = timeout
	return c
}
