package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"neighbor-assist/pkg/metrics"
	metricsmemory "neighbor-assist/pkg/metrics/memory"
)

func tripAfter(n uint32) Config {
	return Config{
		Timeout: time.Second,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts Counts) bool {
				return counts.ConsecutiveFailures >= n
			},
		},
	}
}

func TestBreaker_Execute(t *testing.T) {
	b := NewBreaker("upstream", tripAfter(3))

	if err := b.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if b.State() != metrics.CircuitClosed {
		t.Errorf("Expected closed, got %s", b.State())
	}
	if b.Counts().TotalSuccesses != 1 {
		t.Errorf("Expected 1 success, got %d", b.Counts().TotalSuccesses)
	}
}

func TestBreaker_Do(t *testing.T) {
	b := NewBreaker("upstream", tripAfter(3))

	got, err := Do(context.Background(), b, func(ctx context.Context) (string, error) {
		return "generated", nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got != "generated" {
		t.Errorf("Expected 'generated', got %q", got)
	}
}

func TestBreaker_Opens(t *testing.T) {
	collector := metricsmemory.NewCollector()
	config := tripAfter(3)
	config.Metrics = collector
	b := NewBreaker("upstream", config)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		if err := b.Execute(context.Background(), func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected boom, got %v", i, err)
		}
	}

	called := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Open breaker must not run the call")
	}
	if b.State() != metrics.CircuitOpen {
		t.Errorf("Expected open, got %s", b.State())
	}
	if collector.CircuitState("upstream") != metrics.CircuitOpen {
		t.Error("Expected open state recorded in metrics")
	}
}

func TestBreaker_Timeout(t *testing.T) {
	config := tripAfter(3)
	config.Timeout = 20 * time.Millisecond
	b := NewBreaker("slow", config)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected wrapped DeadlineExceeded, got %v", err)
	}
}

func TestBreaker_IsSuccessful(t *testing.T) {
	benign := errors.New("benign")
	config := tripAfter(2)
	config.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, benign) }
	b := NewBreaker("filtered", config)

	for i := 0; i < 10; i++ {
		b.Execute(context.Background(), func(ctx context.Context) error { return benign })
	}
	if b.State() != metrics.CircuitClosed {
		t.Errorf("Errors reported as successful must not trip the breaker, state %s", b.State())
	}
}
