package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"neighbor-assist/pkg/cache/mock"
	metricsmemory "neighbor-assist/pkg/metrics/memory"
)

func recordingLayer(delay time.Duration) (*mock.MockLayer, func() []string) {
	var mu sync.Mutex
	var keys []string

	layer := mock.NewMockLayer("L2")
	layer.SetFunc = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
		if delay > 0 {
			time.Sleep(delay)
		}
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, key)
		return nil
	}

	return layer, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), keys...)
	}
}

func TestNew_Defaults(t *testing.T) {
	w := New(mock.NewMockLayer("L2"), Config{})
	defer w.Close()

	if cap(w.queue) != 1000 {
		t.Errorf("Expected default queue size 1000, got %d", cap(w.queue))
	}
	if w.workers != 2 {
		t.Errorf("Expected default workers 2, got %d", w.workers)
	}
	if w.config.MaxWaitTime != 10*time.Millisecond {
		t.Errorf("Expected default MaxWaitTime 10ms, got %v", w.config.MaxWaitTime)
	}
	if w.config.WriteTimeout != 2*time.Second {
		t.Errorf("Expected default WriteTimeout 2s, got %v", w.config.WriteTimeout)
	}
}

func TestAsyncWriter_Write(t *testing.T) {
	layer := mock.NewMockLayer("L2")
	w := New(layer, Config{QueueSize: 10, Workers: 1})
	defer w.Close()

	if err := w.Write(context.Background(), "viewer:candidate", []byte(`"hello"`), time.Minute); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	got, err := layer.Get(context.Background(), "viewer:candidate")
	if err != nil {
		t.Fatalf("Expected value in tier: %v", err)
	}
	if string(got) != `"hello"` {
		t.Errorf("Unexpected value %s", got)
	}
	if stats := w.Stats(); stats.TotalWrites != 1 {
		t.Errorf("Expected 1 total write, got %d", stats.TotalWrites)
	}
}

func TestAsyncWriter_ConcurrentWrites(t *testing.T) {
	layer, written := recordingLayer(0)
	w := New(layer, Config{QueueSize: 200, Workers: 4})
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := w.Write(context.Background(), fmt.Sprintf("key%d", n), []byte("v"), time.Minute); err != nil {
				t.Errorf("Write %d failed: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	if err := w.Flush(2 * time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n := len(written()); n != 100 {
		t.Errorf("Expected 100 writes, got %d", n)
	}
}

func TestAsyncWriter_Backpressure(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	layer := mock.NewMockLayer("L2")
	layer.SetFunc = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
		once.Do(func() {
			close(started)
			<-release
		})
		return nil
	}

	collector := metricsmemory.NewCollector()
	w := New(layer, Config{QueueSize: 5, Workers: 1, MaxWaitTime: 10 * time.Millisecond, Metrics: collector})
	defer func() {
		close(release)
		w.Close()
	}()

	// The first write occupies the worker, the next five fill the queue.
	if err := w.Write(context.Background(), "key0", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Write 0 failed: %v", err)
	}
	<-started
	for i := 1; i < 6; i++ {
		if err := w.Write(context.Background(), fmt.Sprintf("key%d", i), []byte("v"), time.Minute); err != nil {
			t.Fatalf("Write %d failed unexpectedly: %v", i, err)
		}
	}

	if err := w.Write(context.Background(), "key-extra", []byte("v"), time.Minute); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	stats := w.Stats()
	if stats.DroppedWrites != 1 {
		t.Errorf("Expected 1 dropped write, got %d", stats.DroppedWrites)
	}
	if stats.TotalWrites != 6 {
		t.Errorf("Expected 6 accepted writes, got %d", stats.TotalWrites)
	}
	if lm := collector.LayerMetrics("L2"); lm == nil || lm.DroppedWrites != 1 {
		t.Errorf("Expected dropped write recorded in metrics, got %+v", lm)
	}
}

func TestAsyncWriter_ContextCancellation(t *testing.T) {
	w := New(mock.NewMockLayer("L2"), Config{QueueSize: 10, Workers: 1})
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Write(ctx, "key", []byte("v"), time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestAsyncWriter_FailedWritesCounted(t *testing.T) {
	w := New(mock.NewFailingLayer("L2", errors.New("connection refused")), Config{QueueSize: 10, Workers: 1})
	defer w.Close()

	if err := w.Write(context.Background(), "key", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Write enqueue failed: %v", err)
	}
	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if stats := w.Stats(); stats.FailedWrites != 1 {
		t.Errorf("Expected 1 failed write in stats, got %d", stats.FailedWrites)
	}
}

func TestAsyncWriter_FlushWaitsForInFlight(t *testing.T) {
	layer, written := recordingLayer(20 * time.Millisecond)
	w := New(layer, Config{QueueSize: 10, Workers: 2})
	defer w.Close()

	for i := 0; i < 5; i++ {
		if err := w.Write(context.Background(), fmt.Sprintf("key%d", i), []byte("v"), time.Minute); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n := len(written()); n != 5 {
		t.Errorf("Expected 5 writes after flush, got %d", n)
	}
}

func TestAsyncWriter_FlushTimeout(t *testing.T) {
	blocker := make(chan struct{})
	var once sync.Once

	layer := mock.NewMockLayer("L2")
	layer.SetFunc = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
		once.Do(func() { <-blocker })
		return nil
	}

	w := New(layer, Config{QueueSize: 10, Workers: 1})
	defer func() {
		close(blocker)
		w.Close()
	}()

	for i := 0; i < 3; i++ {
		w.Write(context.Background(), fmt.Sprintf("key%d", i), []byte("v"), time.Minute)
	}

	if err := w.Flush(50 * time.Millisecond); !errors.Is(err, ErrFlushTimeout) {
		t.Errorf("Expected ErrFlushTimeout, got %v", err)
	}
}

func TestAsyncWriter_CloseDrains(t *testing.T) {
	layer, written := recordingLayer(10 * time.Millisecond)
	w := New(layer, Config{QueueSize: 10, Workers: 2})

	for i := 0; i < 3; i++ {
		if err := w.Write(context.Background(), fmt.Sprintf("key%d", i), []byte("v"), time.Minute); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := len(written()); n != 3 {
		t.Errorf("Expected 3 writes after close, got %d", n)
	}

	// Closing twice is harmless.
	if err := w.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestAsyncWriter_WriteAfterClose(t *testing.T) {
	w := New(mock.NewMockLayer("L2"), Config{QueueSize: 10, Workers: 1})
	w.Close()

	if err := w.Write(context.Background(), "key", []byte("v"), time.Minute); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Expected ErrWriterClosed, got %v", err)
	}
}

func TestAsyncWriter_Ordering(t *testing.T) {
	layer, written := recordingLayer(0)
	w := New(layer, Config{QueueSize: 20, Workers: 1})
	defer w.Close()

	keys := []string{"key1", "key2", "key3", "key4", "key5"}
	for _, key := range keys {
		w.Write(context.Background(), key, []byte("v"), time.Minute)
	}

	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	got := written()
	if len(got) != len(keys) {
		t.Fatalf("Expected %d writes, got %d", len(keys), len(got))
	}
	for i, key := range keys {
		if got[i] != key {
			t.Errorf("Expected write %d to be %s, got %s", i, key, got[i])
		}
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{ErrQueueFull, "writer: queue full, write dropped"},
		{ErrWriterClosed, "writer: writer is closed"},
		{ErrFlushTimeout, "writer: flush timeout exceeded"},
	}

	for _, tt := range tests {
		if tt.err.Error() != tt.expected {
			t.Errorf("Expected error message %q, got %q", tt.expected, tt.err.Error())
		}
	}
}

func BenchmarkAsyncWriter_Write(b *testing.B) {
	w := New(mock.NewMockLayer("L2"), Config{QueueSize: 10000, Workers: 4})
	defer w.Close()

	value := []byte("value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Write(context.Background(), "key", value, time.Minute)
	}
}

func TestAsyncWriter_InvalidateSkipsQueuedWrites(t *testing.T) {
	release := make(chan struct{})
	layer := mock.NewMockLayer("L2")
	var mu sync.Mutex
	stored := map[string]bool{}
	layer.SetFunc = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
		if key == "blocker" {
			<-release
		}
		mu.Lock()
		stored[key] = true
		mu.Unlock()
		return nil
	}

	w := New(layer, Config{QueueSize: 10, Workers: 1})
	defer w.Close()

	ctx := context.Background()
	w.Write(ctx, "blocker", []byte("x"), time.Minute)
	w.Write(ctx, "explanations:42:99", []byte("old"), time.Minute)
	w.Write(ctx, "explanations:7:8", []byte("other"), time.Minute)

	w.Invalidate("99")
	w.Write(ctx, "explanations:42:99", []byte("new"), time.Minute)
	close(release)

	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if stats := w.Stats(); stats.Superseded != 1 {
		t.Errorf("Expected 1 superseded write, got %d", stats.Superseded)
	}
	if layer.SetCalls() != 3 {
		t.Errorf("Expected the stale write skipped (3 sets), got %d", layer.SetCalls())
	}
	mu.Lock()
	defer mu.Unlock()
	if !stored["explanations:7:8"] || !stored["explanations:42:99"] {
		t.Errorf("Unrelated and newer writes must land, got %v", stored)
	}
}

func TestAsyncWriter_InvalidateUndoesInFlightWrite(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	layer := mock.NewMockLayer("L2")
	inner := mock.NewMockLayer("inner")
	layer.SetFunc = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
		close(started)
		<-release
		return inner.Set(ctx, key, value, ttl)
	}
	layer.DeleteFunc = inner.Delete

	w := New(layer, Config{QueueSize: 10, Workers: 1})
	defer w.Close()

	w.Write(context.Background(), "explanations:42:99", []byte("old"), time.Minute)
	<-started

	w.Invalidate("99")
	close(release)

	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if inner.Len() != 0 {
		t.Error("A write landing after invalidation must be removed again")
	}
	if layer.DeleteCalls() != 1 {
		t.Errorf("Expected 1 compensating delete, got %d", layer.DeleteCalls())
	}
}

func TestAsyncWriter_TombstonesForgotten(t *testing.T) {
	w := New(mock.NewMockLayer("L2"), Config{QueueSize: 10, Workers: 1})
	defer w.Close()

	w.Invalidate("99")
	w.mu.Lock()
	if len(w.tombstones) != 0 {
		t.Error("Invalidate with nothing pending should keep no tombstone")
	}
	w.mu.Unlock()

	w.Write(context.Background(), "a:99", []byte("v"), time.Minute)
	w.Invalidate("99")
	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.tombstones) != 0 || len(w.outstanding) != 0 {
		t.Errorf("Expected bookkeeping cleared, got %d tombstones %d generations", len(w.tombstones), len(w.outstanding))
	}
}
