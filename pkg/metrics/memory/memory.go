package memory

import (
	"sync"
	"time"

	"neighbor-assist/pkg/metrics"
)

// Collector implements metrics.Collector in memory, for tests and the
// JSON stats endpoint.
type Collector struct {
	mu sync.RWMutex

	caches      map[string]*CacheMetrics
	layers      map[string]*LayerMetrics
	generations map[string]*GenerationMetrics
	rateLimits  map[string]*RateLimitMetrics
	circuits    map[string]metrics.CircuitState
}

// CacheMetrics holds counters for one bounded cache.
type CacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
}

// LayerMetrics holds metrics for a single shared tier.
type LayerMetrics struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64

	CircuitOpens int64

	QueueDepth    int
	DroppedWrites int64
	AsyncWrites   int64
	AsyncErrors   int64

	GetLatencies []time.Duration
}

// GenerationMetrics holds outcome counts for one feature.
type GenerationMetrics struct {
	Outcomes         map[metrics.Outcome]int64
	FallbackByReason map[string]int64
	Latencies        []time.Duration
}

// RateLimitMetrics holds decisions for one limiter.
type RateLimitMetrics struct {
	Allowed  int64
	Rejected int64
}

// NewCollector creates a new in-memory metrics collector.
func NewCollector() *Collector {
	return &Collector{
		caches:      make(map[string]*CacheMetrics),
		layers:      make(map[string]*LayerMetrics),
		generations: make(map[string]*GenerationMetrics),
		rateLimits:  make(map[string]*RateLimitMetrics),
		circuits:    make(map[string]metrics.CircuitState),
	}
}

// The helpers below must be called with mc.mu held.

func (mc *Collector) cache(name string) *CacheMetrics {
	if _, ok := mc.caches[name]; !ok {
		mc.caches[name] = &CacheMetrics{}
	}
	return mc.caches[name]
}

func (mc *Collector) layer(name string) *LayerMetrics {
	if _, ok := mc.layers[name]; !ok {
		mc.layers[name] = &LayerMetrics{}
	}
	return mc.layers[name]
}

func (mc *Collector) generation(feature string) *GenerationMetrics {
	if _, ok := mc.generations[feature]; !ok {
		mc.generations[feature] = &GenerationMetrics{
			Outcomes:         make(map[metrics.Outcome]int64),
			FallbackByReason: make(map[string]int64),
		}
	}
	return mc.generations[feature]
}

// RecordCacheGet records a bounded cache read.
func (mc *Collector) RecordCacheGet(cache string, hit bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if hit {
		mc.cache(cache).Hits++
	} else {
		mc.cache(cache).Misses++
	}
}

// RecordEviction records a capacity eviction.
func (mc *Collector) RecordEviction(cache string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.cache(cache).Evictions++
}

// RecordExpired records TTL removals.
func (mc *Collector) RecordExpired(cache string, count int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.cache(cache).Expired += int64(count)
}

// RecordGet records a shared tier get operation.
func (mc *Collector) RecordGet(layer string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if hit {
		lm.Hits++
	} else {
		lm.Misses++
	}
	lm.GetLatencies = append(lm.GetLatencies, duration)
}

// RecordSet records a shared tier set operation.
func (mc *Collector) RecordSet(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Sets++
	if !success {
		lm.Errors++
	}
}

// RecordDelete records a shared tier delete operation.
func (mc *Collector) RecordDelete(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Deletes++
	if !success {
		lm.Errors++
	}
}

// RecordCircuitState records the current circuit breaker state.
func (mc *Collector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	old := mc.circuits[name]
	mc.circuits[name] = state
	if old != metrics.CircuitOpen && state == metrics.CircuitOpen {
		mc.layer(name).CircuitOpens++
	}
}

// RecordQueueDepth records the current async writer queue depth.
func (mc *Collector) RecordQueueDepth(layer string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layer(layer).QueueDepth = depth
}

// RecordWriteDropped records a dropped async write.
func (mc *Collector) RecordWriteDropped(layer string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layer(layer).DroppedWrites++
}

// RecordAsyncWrite records an async write operation.
func (mc *Collector) RecordAsyncWrite(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.AsyncWrites++
	if !success {
		lm.AsyncErrors++
	}
}

// RecordGeneration records how a feature request was answered.
func (mc *Collector) RecordGeneration(feature string, outcome metrics.Outcome, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	gm := mc.generation(feature)
	gm.Outcomes[outcome]++
	gm.Latencies = append(gm.Latencies, duration)
}

// RecordFallback records why a fallback was served.
func (mc *Collector) RecordFallback(feature string, reason string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.generation(feature).FallbackByReason[reason]++
}

// RecordRateLimit records a limiter decision.
func (mc *Collector) RecordRateLimit(limiter string, allowed bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	rm, ok := mc.rateLimits[limiter]
	if !ok {
		rm = &RateLimitMetrics{}
		mc.rateLimits[limiter] = rm
	}
	if allowed {
		rm.Allowed++
	} else {
		rm.Rejected++
	}
}

// CacheMetrics returns a copy of the counters for cache, or nil.
func (mc *Collector) CacheMetrics(cache string) *CacheMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if cm, ok := mc.caches[cache]; ok {
		c := *cm
		return &c
	}
	return nil
}

// LayerMetrics returns a copy of the metrics for a shared tier, or nil.
func (mc *Collector) LayerMetrics(layer string) *LayerMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if lm, ok := mc.layers[layer]; ok {
		c := *lm
		c.GetLatencies = append([]time.Duration(nil), lm.GetLatencies...)
		return &c
	}
	return nil
}

// Outcomes returns a copy of the outcome counts for feature.
func (mc *Collector) Outcomes(feature string) map[metrics.Outcome]int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	out := make(map[metrics.Outcome]int64)
	if gm, ok := mc.generations[feature]; ok {
		for k, v := range gm.Outcomes {
			out[k] = v
		}
	}
	return out
}

// FallbackReasons returns a copy of the fallback reasons for feature.
func (mc *Collector) FallbackReasons(feature string) map[string]int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	out := make(map[string]int64)
	if gm, ok := mc.generations[feature]; ok {
		for k, v := range gm.FallbackByReason {
			out[k] = v
		}
	}
	return out
}

// RateLimitMetrics returns a copy of the decisions for limiter.
func (mc *Collector) RateLimitMetrics(limiter string) RateLimitMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if rm, ok := mc.rateLimits[limiter]; ok {
		return *rm
	}
	return RateLimitMetrics{}
}

// CircuitState returns the last recorded state for name.
func (mc *Collector) CircuitState(name string) metrics.CircuitState {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return mc.circuits[name]
}

// Snapshot is a JSON-friendly copy of the collected metrics.
type Snapshot struct {
	Caches      map[string]CacheMetrics            `json:"caches"`
	Generations map[string]map[metrics.Outcome]int64 `json:"generations"`
	Fallbacks   map[string]map[string]int64          `json:"fallbacks"`
	RateLimits  map[string]RateLimitMetrics          `json:"rateLimits"`
}

// Snapshot returns a copy of the current metrics state.
func (mc *Collector) Snapshot() interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	s := Snapshot{
		Caches:      make(map[string]CacheMetrics, len(mc.caches)),
		Generations: make(map[string]map[metrics.Outcome]int64, len(mc.generations)),
		Fallbacks:   make(map[string]map[string]int64, len(mc.generations)),
		RateLimits:  make(map[string]RateLimitMetrics, len(mc.rateLimits)),
	}
	for name, cm := range mc.caches {
		s.Caches[name] = *cm
	}
	for feature, gm := range mc.generations {
		outcomes := make(map[metrics.Outcome]int64, len(gm.Outcomes))
		for k, v := range gm.Outcomes {
			outcomes[k] = v
		}
		reasons := make(map[string]int64, len(gm.FallbackByReason))
		for k, v := range gm.FallbackByReason {
			reasons[k] = v
		}
		s.Generations[feature] = outcomes
		s.Fallbacks[feature] = reasons
	}
	for name, rm := range mc.rateLimits {
		s.RateLimits[name] = *rm
	}
	return s
}

// Reset clears all collected metrics.
func (mc *Collector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.caches = make(map[string]*CacheMetrics)
	mc.layers = make(map[string]*LayerMetrics)
	mc.generations = make(map[string]*GenerationMetrics)
	mc.rateLimits = make(map[string]*RateLimitMetrics)
	mc.circuits = make(map[string]metrics.CircuitState)
}
