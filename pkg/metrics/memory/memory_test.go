package memory

import (
	"testing"
	"time"

	"neighbor-assist/pkg/metrics"
)

var _ metrics.Collector = (*Collector)(nil)

func TestCollector_CacheCounters(t *testing.T) {
	mc := NewCollector()

	mc.RecordCacheGet("explanations", true)
	mc.RecordCacheGet("explanations", true)
	mc.RecordCacheGet("explanations", false)
	mc.RecordEviction("explanations")
	mc.RecordExpired("explanations", 3)

	cm := mc.CacheMetrics("explanations")
	if cm == nil {
		t.Fatal("Expected metrics for explanations")
	}
	if cm.Hits != 2 || cm.Misses != 1 || cm.Evictions != 1 || cm.Expired != 3 {
		t.Errorf("Unexpected cache metrics %+v", cm)
	}

	cm.Hits = 100
	if mc.CacheMetrics("explanations").Hits != 2 {
		t.Error("CacheMetrics must return a copy")
	}

	if mc.CacheMetrics("unknown") != nil {
		t.Error("Expected nil for an unknown cache")
	}
}

func TestCollector_LayerCounters(t *testing.T) {
	mc := NewCollector()

	mc.RecordGet("L2", true, time.Millisecond)
	mc.RecordGet("L2", false, 2*time.Millisecond)
	mc.RecordSet("L2", false, time.Millisecond)
	mc.RecordDelete("L2", true, time.Millisecond)
	mc.RecordQueueDepth("L2", 7)
	mc.RecordWriteDropped("L2")
	mc.RecordAsyncWrite("L2", false, time.Millisecond)

	lm := mc.LayerMetrics("L2")
	if lm.Hits != 1 || lm.Misses != 1 || lm.Sets != 1 || lm.Deletes != 1 || lm.Errors != 1 {
		t.Errorf("Unexpected tier counters %+v", lm)
	}
	if lm.QueueDepth != 7 || lm.DroppedWrites != 1 || lm.AsyncWrites != 1 || lm.AsyncErrors != 1 {
		t.Errorf("Unexpected writer counters %+v", lm)
	}
	if len(lm.GetLatencies) != 2 {
		t.Errorf("Expected 2 latencies, got %d", len(lm.GetLatencies))
	}
}

func TestCollector_CircuitOpensCountedOnTransition(t *testing.T) {
	mc := NewCollector()

	mc.RecordCircuitState("generate", metrics.CircuitOpen)
	mc.RecordCircuitState("generate", metrics.CircuitOpen)
	mc.RecordCircuitState("generate", metrics.CircuitHalfOpen)
	mc.RecordCircuitState("generate", metrics.CircuitOpen)

	if got := mc.LayerMetrics("generate").CircuitOpens; got != 2 {
		t.Errorf("Expected 2 opens, got %d", got)
	}
	if mc.CircuitState("generate") != metrics.CircuitOpen {
		t.Errorf("Expected open, got %v", mc.CircuitState("generate"))
	}
}

func TestCollector_GenerationAndRateLimits(t *testing.T) {
	mc := NewCollector()

	mc.RecordGeneration("translations", metrics.OutcomeGenerated, time.Millisecond)
	mc.RecordGeneration("translations", metrics.OutcomeFallback, time.Millisecond)
	mc.RecordFallback("translations", "quota")
	mc.RecordRateLimit("ip", true)
	mc.RecordRateLimit("ip", false)
	mc.RecordRateLimit("ip", false)

	outcomes := mc.Outcomes("translations")
	if outcomes[metrics.OutcomeGenerated] != 1 || outcomes[metrics.OutcomeFallback] != 1 {
		t.Errorf("Unexpected outcomes %v", outcomes)
	}
	if mc.FallbackReasons("translations")["quota"] != 1 {
		t.Errorf("Unexpected reasons %v", mc.FallbackReasons("translations"))
	}
	if rl := mc.RateLimitMetrics("ip"); rl.Allowed != 1 || rl.Rejected != 2 {
		t.Errorf("Unexpected rate limit metrics %+v", rl)
	}
	if len(mc.Outcomes("missing")) != 0 {
		t.Error("Unknown feature should have no outcomes")
	}
}

func TestCollector_SnapshotAndReset(t *testing.T) {
	mc := NewCollector()

	mc.RecordCacheGet("suggestions", true)
	mc.RecordGeneration("suggestions", metrics.OutcomeCached, time.Millisecond)
	mc.RecordFallback("suggestions", "no_client")
	mc.RecordRateLimit("user", true)

	s, ok := mc.Snapshot().(Snapshot)
	if !ok {
		t.Fatalf("Expected Snapshot, got %T", mc.Snapshot())
	}
	if s.Caches["suggestions"].Hits != 1 {
		t.Errorf("Unexpected cache snapshot %+v", s.Caches)
	}
	if s.Generations["suggestions"][metrics.OutcomeCached] != 1 {
		t.Errorf("Unexpected generation snapshot %+v", s.Generations)
	}
	if s.Fallbacks["suggestions"]["no_client"] != 1 {
		t.Errorf("Unexpected fallback snapshot %+v", s.Fallbacks)
	}
	if s.RateLimits["user"].Allowed != 1 {
		t.Errorf("Unexpected rate limit snapshot %+v", s.RateLimits)
	}

	mc.Reset()
	if mc.CacheMetrics("suggestions") != nil || len(mc.Outcomes("suggestions")) != 0 {
		t.Error("Reset should clear everything")
	}
}
