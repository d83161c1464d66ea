package resilience

import (
	"context"
	"errors"
	"fmt"

	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a call without running it
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")

	// ErrTimeout is returned when a protected call exceeds the configured timeout
	ErrTimeout = errors.New("resilience: operation timeout")
)

// Breaker guards calls to a remote dependency with a circuit breaker and a
// per-call timeout.
type Breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	config  Config
	metrics metrics.Collector
	logger  *logging.Logger
}

// NewBreaker creates a breaker identified by name in logs and metrics.
func NewBreaker(name string, config Config) *Breaker {
	if config.Logger == nil {
		config.Logger = logging.Global()
	}

	b := &Breaker{
		name:    name,
		config:  config,
		metrics: metrics.OrNoOp(config.Metrics),
		logger:  config.Logger.Named("resilience").With(zap.String("breaker", name)),
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.CircuitBreaker.MaxRequests,
		Interval:    config.CircuitBreaker.Interval,
		Timeout:     config.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreaker.ReadyToTrip != nil {
				return config.CircuitBreaker.ReadyToTrip(fromGobreaker(counts))
			}
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			b.metrics.RecordCircuitState(name, toCircuitState(to))
		},
	}
	if config.IsSuccessful != nil {
		settings.IsSuccessful = config.IsSuccessful
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)

	b.logger.Debug("breaker initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreaker.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreaker.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreaker.Timeout),
	)

	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state.
func (b *Breaker) State() metrics.CircuitState {
	return toCircuitState(b.cb.State())
}

// Counts returns the breaker's counts for the current interval.
func (b *Breaker) Counts() Counts {
	return fromGobreaker(b.cb.Counts())
}

// Execute runs fn under the breaker and timeout.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do runs fn under the breaker and timeout and returns its result.
// A rejected call returns ErrCircuitOpen; a call cut off by the timeout
// returns an error matching both ErrTimeout and context.DeadlineExceeded.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if b.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrCircuitOpen
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %w", ErrTimeout, b.config.Timeout, err)
		}
		return zero, err
	}

	value, _ := result.(T)
	return value, nil
}

func fromGobreaker(c gobreaker.Counts) Counts {
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

func toCircuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}
