package resilience

import (
	"context"
	"errors"
	"time"

	"neighbor-assist/pkg/cache"
	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/metrics"

	"go.uber.org/zap"
)

// Layer wraps a shared cache tier with a circuit breaker and timeout so a
// slow or unreachable tier degrades to misses instead of stalling requests.
type Layer struct {
	layer   cache.Layer
	breaker *Breaker
	metrics metrics.Collector
	logger  *logging.Logger
}

// NewLayer wraps layer. Cache misses never count against the breaker.
func NewLayer(layer cache.Layer, config Config) *Layer {
	config.IsSuccessful = func(err error) bool {
		return err == nil || cache.IsNotFound(err)
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}

	return &Layer{
		layer:   layer,
		breaker: NewBreaker(layer.Name(), config),
		metrics: metrics.OrNoOp(config.Metrics),
		logger:  config.Logger.Named("resilience").Named(layer.Name()),
	}
}

// Name returns the name of the wrapped tier.
func (rl *Layer) Name() string {
	return rl.layer.Name()
}

// State returns the breaker state.
func (rl *Layer) State() metrics.CircuitState {
	return rl.breaker.State()
}

// Get retrieves a value with timeout and circuit breaker protection.
func (rl *Layer) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	value, err := Do(ctx, rl.breaker, func(ctx context.Context) ([]byte, error) {
		return rl.layer.Get(ctx, key)
	})

	rl.metrics.RecordGet(rl.layer.Name(), err == nil, time.Since(start))

	if err != nil && !cache.IsNotFound(err) {
		return nil, rl.translate(err, "get", key, time.Since(start))
	}
	return value, err
}

// Set stores a value with timeout and circuit breaker protection.
func (rl *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()

	err := rl.breaker.Execute(ctx, func(ctx context.Context) error {
		return rl.layer.Set(ctx, key, value, ttl)
	})

	rl.metrics.RecordSet(rl.layer.Name(), err == nil, time.Since(start))

	if err != nil {
		return rl.translate(err, "set", key, time.Since(start))
	}
	return nil
}

// Delete removes a value with timeout and circuit breaker protection.
func (rl *Layer) Delete(ctx context.Context, key string) error {
	start := time.Now()

	err := rl.breaker.Execute(ctx, func(ctx context.Context) error {
		return rl.layer.Delete(ctx, key)
	})

	rl.metrics.RecordDelete(rl.layer.Name(), err == nil, time.Since(start))

	if err != nil {
		return rl.translate(err, "delete", key, time.Since(start))
	}
	return nil
}

// DeleteMatching removes matching keys with timeout and circuit breaker protection.
func (rl *Layer) DeleteMatching(ctx context.Context, substr string) (int, error) {
	start := time.Now()

	removed, err := Do(ctx, rl.breaker, func(ctx context.Context) (int, error) {
		return rl.layer.DeleteMatching(ctx, substr)
	})

	rl.metrics.RecordDelete(rl.layer.Name(), err == nil, time.Since(start))

	if err != nil {
		return removed, rl.translate(err, "delete_matching", substr, time.Since(start))
	}
	return removed, nil
}

// Close closes the wrapped tier.
func (rl *Layer) Close() error {
	return rl.layer.Close()
}

// translate maps breaker errors onto the cache sentinels and logs once.
func (rl *Layer) translate(err error, op, key string, elapsed time.Duration) error {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		rl.logger.Warn("circuit breaker open - request rejected",
			zap.String("operation", op),
			zap.String("key", key),
		)
		return cache.ErrCircuitOpen
	case errors.Is(err, ErrTimeout):
		rl.logger.Warn("operation timeout",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Duration("elapsed", elapsed),
		)
		return cache.ErrTimeout
	default:
		rl.logger.Error("operation failed",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return cache.WrapError(err, rl.layer.Name(), op)
	}
}

var _ cache.Layer = (*Layer)(nil)
