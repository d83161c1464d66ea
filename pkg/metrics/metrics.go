package metrics

import (
	"time"
)

// Collector receives measurements from caches, the shared tier, the
// generation pipeline and the rate limiters. Implementations export them to
// a backend (Prometheus) or keep them in memory for tests.
type Collector interface {
	// Bounded in-process caches
	RecordCacheGet(cache string, hit bool)
	RecordEviction(cache string)
	RecordExpired(cache string, count int)

	// Shared tier operations
	RecordGet(layer string, hit bool, duration time.Duration)
	RecordSet(layer string, success bool, duration time.Duration)
	RecordDelete(layer string, success bool, duration time.Duration)

	// Circuit breaker
	RecordCircuitState(name string, state CircuitState)

	// Async writer
	RecordQueueDepth(layer string, depth int)
	RecordWriteDropped(layer string)
	RecordAsyncWrite(layer string, success bool, duration time.Duration)

	// Generation pipeline
	RecordGeneration(feature string, outcome Outcome, duration time.Duration)
	RecordFallback(feature string, reason string)

	// Rate limiting
	RecordRateLimit(limiter string, allowed bool)
}

// Outcome describes how a generation request was answered.
type Outcome string

const (
	// OutcomeCached means the answer came from a cache tier.
	OutcomeCached Outcome = "cached"
	// OutcomeGenerated means the upstream service produced the answer.
	OutcomeGenerated Outcome = "generated"
	// OutcomeFallback means a deterministic fallback produced the answer.
	OutcomeFallback Outcome = "fallback"
	// OutcomeSkipped means no work was needed (e.g. same-language translation).
	OutcomeSkipped Outcome = "skipped"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of Collector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordCacheGet(cache string, hit bool)                               {}
func (NoOpCollector) RecordEviction(cache string)                                         {}
func (NoOpCollector) RecordExpired(cache string, count int)                               {}
func (NoOpCollector) RecordGet(layer string, hit bool, duration time.Duration)            {}
func (NoOpCollector) RecordSet(layer string, success bool, duration time.Duration)        {}
func (NoOpCollector) RecordDelete(layer string, success bool, duration time.Duration)     {}
func (NoOpCollector) RecordCircuitState(name string, state CircuitState)                  {}
func (NoOpCollector) RecordQueueDepth(layer string, depth int)                            {}
func (NoOpCollector) RecordWriteDropped(layer string)                                     {}
func (NoOpCollector) RecordAsyncWrite(layer string, success bool, duration time.Duration) {}
func (NoOpCollector) RecordGeneration(feature string, outcome Outcome, d time.Duration)   {}
func (NoOpCollector) RecordFallback(feature string, reason string)                        {}
func (NoOpCollector) RecordRateLimit(limiter string, allowed bool)                        {}

// OrNoOp returns c, or a NoOpCollector when c is nil.
func OrNoOp(c Collector) Collector {
	if c == nil {
		return NoOpCollector{}
	}
	return c
}
