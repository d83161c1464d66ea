package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"neighbor-assist/pkg/cache"
	"neighbor-assist/pkg/cache/memory"
	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/metrics"
	"neighbor-assist/pkg/writer"

	"go.uber.org/zap"
)

// Tiered is a two-level cache: a bounded in-process L1 and an optional
// shared L2. Reads try L1, then L2, warming L1 on an L2 hit. Writes land
// in L1 synchronously and reach L2 through an async writer. L2 failures
// only ever turn into misses.
//
// L2 entries carry their creation time, so an entry warmed into L1 expires
// when it would have expired where it was generated.
type Tiered[V any] struct {
	name   string
	l1     *memory.Cache[V]
	l2     cache.Layer
	writer *writer.AsyncWriter
	policy cache.LayerConfig
	logger *logging.Logger

	// Patterns whose L2 invalidation failed. Keys matching one bypass L2
	// until a retry succeeds.
	mu            sync.Mutex
	pending       map[string]struct{}
	lastRetry     time.Time
	retryInterval time.Duration
}

// envelope is the L2 payload.
type envelope[V any] struct {
	Value     V         `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

// Config configures a Tiered cache.
type Config struct {
	// Name identifies the cache and namespaces its L2 keys
	Name string

	// L1 configures the in-process cache. Its Name defaults to Name.
	L1 memory.Config

	// L2 is the shared tier, usually wrapped for resilience. Nil disables it.
	// The caller owns L2 and closes it.
	L2 cache.Layer

	// L2Policy caps L2 TTLs. DefaultTTL defaults to the L1 TTL.
	L2Policy cache.LayerConfig

	// Writer configures the async L2 writer
	Writer writer.Config

	// InvalidationRetry is the minimum time between retries of a failed L2
	// invalidation (default 5s)
	InvalidationRetry time.Duration

	Metrics metrics.Collector
	Logger  *logging.Logger
}

// New creates a Tiered cache.
func New[V any](config Config) (*Tiered[V], error) {
	if config.Name == "" {
		return nil, errors.New("chain: name required")
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}
	if config.L1.Name == "" {
		config.L1.Name = config.Name
	}
	if config.L1.Metrics == nil {
		config.L1.Metrics = config.Metrics
	}
	if config.L1.Logger == nil {
		config.L1.Logger = config.Logger
	}

	l1, err := memory.NewCache[V](config.L1)
	if err != nil {
		return nil, fmt.Errorf("chain %s: %w", config.Name, err)
	}

	if config.InvalidationRetry <= 0 {
		config.InvalidationRetry = 5 * time.Second
	}

	t := &Tiered[V]{
		name:          config.Name,
		l1:            l1,
		logger:        config.Logger.Named("chain").With(zap.String("cache", config.Name)),
		pending:       make(map[string]struct{}),
		retryInterval: config.InvalidationRetry,
	}

	if config.L2 != nil {
		policy := config.L2Policy
		if policy.Name == "" {
			policy.Name = config.Name + "-L2"
		}
		if policy.DefaultTTL == 0 {
			policy.DefaultTTL = l1.TTL()
			if policy.MaxTTL > 0 && policy.DefaultTTL > policy.MaxTTL {
				policy.DefaultTTL = policy.MaxTTL
			}
		}
		policy.Enabled = true
		if err := policy.Validate(); err != nil {
			l1.Close()
			return nil, fmt.Errorf("chain %s: L2 policy: %w", config.Name, err)
		}

		if config.Writer.Metrics == nil {
			config.Writer.Metrics = config.Metrics
		}
		if config.Writer.Logger == nil {
			config.Writer.Logger = config.Logger
		}

		t.l2 = config.L2
		t.policy = policy
		t.writer = writer.New(config.L2, config.Writer)
	}

	return t, nil
}

// Name returns the cache name.
func (t *Tiered[V]) Name() string {
	return t.name
}

// Get returns the value for key from L1, falling back to L2.
func (t *Tiered[V]) Get(ctx context.Context, key string) (V, bool) {
	if v, ok := t.l1.Get(key); ok {
		return v, true
	}

	var zero V
	if t.l2 == nil || t.bypassL2(ctx, key) {
		return zero, false
	}

	data, err := t.l2.Get(ctx, t.l2Key(key))
	if err != nil {
		if !cache.IsNotFound(err) {
			t.logger.Debug("L2 read failed, treating as miss",
				zap.String("key", key),
				zap.String("category", cache.ClassifyError(err)),
				zap.Error(err),
			)
		}
		return zero, false
	}

	var env envelope[V]
	if err := json.Unmarshal(data, &env); err != nil || env.CreatedAt.IsZero() {
		t.logger.Warn("discarding undecodable L2 entry",
			zap.String("key", key),
			zap.Error(err),
		)
		return zero, false
	}

	if !t.l1.SetWithCreatedAt(key, env.Value, env.CreatedAt) {
		return zero, false
	}
	return env.Value, true
}

// Has reports whether L1 holds a live entry for key.
func (t *Tiered[V]) Has(key string) bool {
	return t.l1.Has(key)
}

// Set stores value in L1 and queues it for L2.
func (t *Tiered[V]) Set(ctx context.Context, key string, value V) {
	t.l1.Set(key, value)

	if t.writer == nil {
		return
	}

	data, err := json.Marshal(envelope[V]{Value: value, CreatedAt: t.l1.Now()})
	if err != nil {
		t.logger.Warn("value not encodable for L2", zap.String("key", key), zap.Error(err))
		return
	}

	ttl := t.policy.EffectiveTTL(t.l1.TTL())
	if err := t.writer.Write(ctx, t.l2Key(key), data, ttl); err != nil {
		t.logger.Debug("L2 write not queued", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes every entry whose key contains substr and returns how
// many L1 entries were removed. Matching L2 entries are removed as well,
// including writes still queued for L2. The L2 match is not namespaced, so
// it also reaches other caches sharing the tier. When L2 cannot be reached
// the pattern is remembered: matching keys skip L2 until a retry succeeds.
func (t *Tiered[V]) Invalidate(ctx context.Context, substr string) int {
	if t.writer != nil && substr != "" {
		t.writer.Invalidate(substr)
	}

	removed := t.l1.ClearByPattern(substr)

	if t.l2 != nil && substr != "" {
		t.retryPending(ctx, true)
		if !t.deleteL2(ctx, substr) {
			t.mu.Lock()
			t.pending[substr] = struct{}{}
			t.mu.Unlock()
		}
	}

	return removed
}

// PendingInvalidations returns how many failed L2 invalidations await a retry.
func (t *Tiered[V]) PendingInvalidations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tiered[V]) deleteL2(ctx context.Context, substr string) bool {
	n, err := t.l2.DeleteMatching(ctx, substr)
	if err != nil {
		t.logger.Warn("L2 invalidation failed, will retry",
			zap.String("pattern", substr),
			zap.String("category", cache.ClassifyError(err)),
			zap.Error(err),
		)
		return false
	}
	if n > 0 {
		t.logger.Debug("invalidated L2 entries", zap.String("pattern", substr), zap.Int("removed", n))
	}
	return true
}

// retryPending retries failed L2 invalidations, at most once per retry
// interval unless force is set.
func (t *Tiered[V]) retryPending(ctx context.Context, force bool) {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	now := t.l1.Now()
	if !force && now.Sub(t.lastRetry) < t.retryInterval {
		t.mu.Unlock()
		return
	}
	t.lastRetry = now
	patterns := make([]string, 0, len(t.pending))
	for p := range t.pending {
		patterns = append(patterns, p)
	}
	t.mu.Unlock()

	for _, p := range patterns {
		if t.deleteL2(ctx, p) {
			t.mu.Lock()
			delete(t.pending, p)
			t.mu.Unlock()
		}
	}
}

// bypassL2 reports whether key matches a pattern whose L2 invalidation
// has not succeeded yet, retrying those invalidations when due.
func (t *Tiered[V]) bypassL2(ctx context.Context, key string) bool {
	if !t.matchesPending(key) {
		return false
	}
	t.retryPending(ctx, false)
	return t.matchesPending(key)
}

func (t *Tiered[V]) matchesPending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for p := range t.pending {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}

// Clear empties L1 and resets its counters. L2 is left untouched.
func (t *Tiered[V]) Clear() {
	t.l1.Clear()
}

// Stats returns the L1 statistics.
func (t *Tiered[V]) Stats() memory.Stats {
	return t.l1.Stats()
}

// Flush waits for queued L2 writes.
func (t *Tiered[V]) Flush(timeout time.Duration) error {
	if t.writer == nil {
		return nil
	}
	return t.writer.Flush(timeout)
}

// Close drains the L2 writer and stops the L1 sweep.
func (t *Tiered[V]) Close() error {
	var errs []error
	if t.writer != nil {
		if err := t.writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.l1.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// String returns a string representation of the tiers.
func (t *Tiered[V]) String() string {
	if t.l2 == nil {
		return fmt.Sprintf("chain(%s): memory", t.name)
	}
	return fmt.Sprintf("chain(%s): memory → %s", t.name, t.l2.Name())
}

func (t *Tiered[V]) l2Key(key string) string {
	return t.name + cache.PairSeparator + key
}
