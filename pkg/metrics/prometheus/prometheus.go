package prometheus

import (
	"time"

	"neighbor-assist/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements metrics.Collector for Prometheus.
type Collector struct {
	namespace string

	// Bounded caches
	boundedHits      *prometheus.CounterVec
	boundedMisses    *prometheus.CounterVec
	boundedEvictions *prometheus.CounterVec
	boundedExpired   *prometheus.CounterVec

	// Shared tier
	tierHits    *prometheus.CounterVec
	tierMisses  *prometheus.CounterVec
	tierSets    *prometheus.CounterVec
	tierDeletes *prometheus.CounterVec
	tierErrors  *prometheus.CounterVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Async writer
	queueDepth    *prometheus.GaugeVec
	droppedWrites *prometheus.CounterVec
	asyncWrites   *prometheus.CounterVec

	// Generation
	generations       *prometheus.CounterVec
	fallbacks         *prometheus.CounterVec
	generationLatency *prometheus.HistogramVec

	// Rate limiting
	rateLimitDecisions *prometheus.CounterVec

	// Histograms
	getLatency    *prometheus.HistogramVec
	setLatency    *prometheus.HistogramVec
	deleteLatency *prometheus.HistogramVec
	asyncLatency  *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}, labels)
	}

	fast := prometheus.ExponentialBuckets(0.0001, 2, 15) // 0.1ms to ~3s

	return &Collector{
		namespace: namespace,

		boundedHits:      counter("bounded_cache_hits_total", "Total number of bounded cache hits", "cache"),
		boundedMisses:    counter("bounded_cache_misses_total", "Total number of bounded cache misses", "cache"),
		boundedEvictions: counter("bounded_cache_evictions_total", "Total number of capacity evictions", "cache"),
		boundedExpired:   counter("bounded_cache_expired_total", "Total number of entries removed on expiry", "cache"),

		tierHits:    counter("cache_hits_total", "Total number of shared tier hits", "layer"),
		tierMisses:  counter("cache_misses_total", "Total number of shared tier misses", "layer"),
		tierSets:    counter("cache_sets_total", "Total number of shared tier set operations", "layer"),
		tierDeletes: counter("cache_deletes_total", "Total number of shared tier delete operations", "layer"),
		tierErrors:  counter("cache_errors_total", "Total number of shared tier errors per operation", "layer", "operation"),

		circuitOpens: counter("circuit_opens_total", "Total number of circuit breaker opens", "name"),
		circuitState: gauge("circuit_state", "Current circuit breaker state (0=closed, 1=open, 2=half-open)", "name"),

		queueDepth:    gauge("queue_depth", "Current async writer queue depth per layer", "layer"),
		droppedWrites: counter("dropped_writes_total", "Total number of dropped async writes per layer", "layer"),
		asyncWrites:   counter("async_writes_total", "Total number of async writes per layer", "layer", "status"),

		generations: counter("generations_total", "Generation requests by feature and outcome", "feature", "outcome"),
		fallbacks:   counter("fallbacks_total", "Fallback answers by feature and reason", "feature", "reason"),
		generationLatency: histogram("generation_duration_seconds", "End-to-end generation latency",
			prometheus.ExponentialBuckets(0.001, 2, 15), "feature", "outcome"),

		rateLimitDecisions: counter("ratelimit_decisions_total", "Rate limit decisions per limiter", "limiter", "decision"),

		getLatency:    histogram("get_duration_seconds", "Shared tier get latency", fast, "layer"),
		setLatency:    histogram("set_duration_seconds", "Shared tier set latency", fast, "layer"),
		deleteLatency: histogram("delete_duration_seconds", "Shared tier delete latency", fast, "layer"),
		asyncLatency:  histogram("async_write_duration_seconds", "Async write latency", fast, "layer"),
	}
}

// Register registers all metrics with the given Prometheus registerer.
func (pc *Collector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.boundedHits,
		pc.boundedMisses,
		pc.boundedEvictions,
		pc.boundedExpired,
		pc.tierHits,
		pc.tierMisses,
		pc.tierSets,
		pc.tierDeletes,
		pc.tierErrors,
		pc.circuitOpens,
		pc.circuitState,
		pc.queueDepth,
		pc.droppedWrites,
		pc.asyncWrites,
		pc.generations,
		pc.fallbacks,
		pc.generationLatency,
		pc.rateLimitDecisions,
		pc.getLatency,
		pc.setLatency,
		pc.deleteLatency,
		pc.asyncLatency,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordCacheGet records a bounded cache read.
func (pc *Collector) RecordCacheGet(cache string, hit bool) {
	if hit {
		pc.boundedHits.WithLabelValues(cache).Inc()
	} else {
		pc.boundedMisses.WithLabelValues(cache).Inc()
	}
}

// RecordEviction records a capacity eviction.
func (pc *Collector) RecordEviction(cache string) {
	pc.boundedEvictions.WithLabelValues(cache).Inc()
}

// RecordExpired records TTL removals.
func (pc *Collector) RecordExpired(cache string, count int) {
	pc.boundedExpired.WithLabelValues(cache).Add(float64(count))
}

// RecordGet records a shared tier get operation.
func (pc *Collector) RecordGet(layer string, hit bool, duration time.Duration) {
	if hit {
		pc.tierHits.WithLabelValues(layer).Inc()
	} else {
		pc.tierMisses.WithLabelValues(layer).Inc()
	}
	pc.getLatency.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordSet records a shared tier set operation.
func (pc *Collector) RecordSet(layer string, success bool, duration time.Duration) {
	pc.tierSets.WithLabelValues(layer).Inc()
	if !success {
		pc.tierErrors.WithLabelValues(layer, "set").Inc()
	}
	pc.setLatency.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordDelete records a shared tier delete operation.
func (pc *Collector) RecordDelete(layer string, success bool, duration time.Duration) {
	pc.tierDeletes.WithLabelValues(layer).Inc()
	if !success {
		pc.tierErrors.WithLabelValues(layer, "delete").Inc()
	}
	pc.deleteLatency.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordCircuitState records the current circuit breaker state.
func (pc *Collector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordQueueDepth records the current async writer queue depth.
func (pc *Collector) RecordQueueDepth(layer string, depth int) {
	pc.queueDepth.WithLabelValues(layer).Set(float64(depth))
}

// RecordWriteDropped records a dropped async write.
func (pc *Collector) RecordWriteDropped(layer string) {
	pc.droppedWrites.WithLabelValues(layer).Inc()
}

// RecordAsyncWrite records an async write operation.
func (pc *Collector) RecordAsyncWrite(layer string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.asyncWrites.WithLabelValues(layer, status).Inc()
	pc.asyncLatency.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordGeneration records how a feature request was answered.
func (pc *Collector) RecordGeneration(feature string, outcome metrics.Outcome, duration time.Duration) {
	pc.generations.WithLabelValues(feature, string(outcome)).Inc()
	pc.generationLatency.WithLabelValues(feature, string(outcome)).Observe(duration.Seconds())
}

// RecordFallback records why a fallback was served.
func (pc *Collector) RecordFallback(feature string, reason string) {
	pc.fallbacks.WithLabelValues(feature, reason).Inc()
}

// RecordRateLimit records a limiter decision.
func (pc *Collector) RecordRateLimit(limiter string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "rejected"
	}
	pc.rateLimitDecisions.WithLabelValues(limiter, decision).Inc()
}
