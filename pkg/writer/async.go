package writer

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"neighbor-assist/pkg/cache"
	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/metrics"

	"go.uber.org/zap"
)

// AsyncWriter pushes shared tier writes off the request path using a
// worker pool and a bounded queue. A full queue drops writes rather than
// delaying the caller; the in-process cache already holds the value.
type AsyncWriter struct {
	layer      cache.Layer
	queue      chan writeOp
	workers    int
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
	config     Config
	metrics    metrics.Collector
	logger     *logging.Logger
	layerName  string

	// Statistics (accessed atomically)
	droppedWrites int64
	totalWrites   int64
	failedWrites  int64
	superseded    int64

	// mu guards the generation bookkeeping below. Every accepted write
	// carries the generation current when it was queued; Invalidate starts
	// a new generation and records a tombstone that older matching writes
	// must not outlive.
	mu          sync.Mutex
	generation  uint64
	outstanding map[uint64]int
	tombstones  []tombstone

	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

type writeOp struct {
	key        string
	value      []byte
	ttl        time.Duration
	generation uint64
}

type tombstone struct {
	substr     string
	generation uint64
}

// Config configures the async writer behavior.
type Config struct {
	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is the max time to wait if queue is full (default: 10ms)
	MaxWaitTime time.Duration

	// WriteTimeout bounds each write to the tier (default: 2s)
	WriteTimeout time.Duration

	Metrics metrics.Collector
	Logger  *logging.Logger
}

// New creates an async writer for layer. It starts processing immediately
// and must be closed with Close.
func New(layer cache.Layer, config Config) *AsyncWriter {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &AsyncWriter{
		layer:         layer,
		queue:         make(chan writeOp, config.QueueSize),
		workers:       config.Workers,
		ctx:           ctx,
		cancelFunc:    cancel,
		config:        config,
		metrics:       metrics.OrNoOp(config.Metrics),
		logger:        config.Logger.Named("writer").With(zap.String("layer", layer.Name())),
		layerName:     layer.Name(),
		metricsTicker: time.NewTicker(5 * time.Second),
		metricsStop:   make(chan struct{}),
		outstanding:   make(map[uint64]int),
	}

	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	go w.reportMetrics()

	return w
}

// Write enqueues a write. If the queue is full it waits up to MaxWaitTime
// and then drops the write with ErrQueueFull.
func (w *AsyncWriter) Write(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	select {
	case <-w.ctx.Done():
		return ErrWriterClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	op := writeOp{key: key, value: value, ttl: ttl, generation: w.track()}

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case w.queue <- op:
		atomic.AddInt64(&w.totalWrites, 1)
		return nil
	case <-timer.C:
		w.release(op.generation)
		atomic.AddInt64(&w.droppedWrites, 1)
		w.metrics.RecordWriteDropped(w.layerName)
		w.logger.Debug("write dropped, queue full", zap.String("key", key))
		return ErrQueueFull
	case <-ctx.Done():
		w.release(op.generation)
		return ctx.Err()
	case <-w.ctx.Done():
		w.release(op.generation)
		return ErrWriterClosed
	}
}

// Invalidate makes every write accepted so far whose key contains substr
// harmless: queued ones are skipped and one already in flight is deleted
// again once it lands. Writes accepted afterwards are unaffected.
func (w *AsyncWriter) Invalidate(substr string) {
	if substr == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.generation++
	if len(w.outstanding) > 0 {
		w.tombstones = append(w.tombstones, tombstone{substr: substr, generation: w.generation})
	}
}

// track registers a new write and returns its generation.
func (w *AsyncWriter) track() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.outstanding[w.generation]++
	return w.generation
}

// release marks a write of generation done and forgets tombstones no
// remaining write can match.
func (w *AsyncWriter) release(generation uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.outstanding[generation]--; w.outstanding[generation] <= 0 {
		delete(w.outstanding, generation)
	}

	if len(w.outstanding) == 0 {
		w.tombstones = nil
		return
	}

	oldest := w.generation
	for g := range w.outstanding {
		if g < oldest {
			oldest = g
		}
	}
	kept := w.tombstones[:0]
	for _, t := range w.tombstones {
		if t.generation > oldest {
			kept = append(kept, t)
		}
	}
	w.tombstones = kept
}

// supersededBy reports whether an invalidation issued after op was queued
// covers its key.
func (w *AsyncWriter) supersededBy(op writeOp) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, t := range w.tombstones {
		if op.generation < t.generation && strings.Contains(op.key, t.substr) {
			return true
		}
	}
	return false
}

func (w *AsyncWriter) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, c := range w.outstanding {
		n += c
	}
	return n
}

func (w *AsyncWriter) worker() {
	defer w.wg.Done()

	for {
		select {
		case op := <-w.queue:
			w.apply(op)
		case <-w.ctx.Done():
			// Drain what is left before exiting.
			for {
				select {
				case op := <-w.queue:
					w.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) apply(op writeOp) {
	defer w.release(op.generation)

	if w.supersededBy(op) {
		atomic.AddInt64(&w.superseded, 1)
		w.logger.Debug("skipping invalidated write", zap.String("key", op.key))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := w.layer.Set(ctx, op.key, op.value, op.ttl)
	w.metrics.RecordAsyncWrite(w.layerName, err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&w.failedWrites, 1)
		w.logger.Warn("async write failed",
			zap.String("key", op.key),
			zap.String("category", cache.ClassifyError(err)),
			zap.Error(err),
		)
		return
	}

	// An invalidation may have run while the write was in flight; its
	// pattern delete could not see this key yet.
	if w.supersededBy(op) {
		atomic.AddInt64(&w.superseded, 1)
		if err := w.layer.Delete(ctx, op.key); err != nil {
			w.logger.Warn("failed to undo invalidated write",
				zap.String("key", op.key),
				zap.String("category", cache.ClassifyError(err)),
				zap.Error(err),
			)
		}
	}
}

// Flush waits until every accepted write has been applied or skipped, or
// returns ErrFlushTimeout.
func (w *AsyncWriter) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if w.pending() == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}

		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops accepting writes, drains the queue and waits for workers.
func (w *AsyncWriter) Close() error {
	w.closeOnce.Do(func() {
		close(w.metricsStop)
		w.metricsTicker.Stop()
		w.cancelFunc()
		w.wg.Wait()
	})
	return nil
}

func (w *AsyncWriter) reportMetrics() {
	for {
		select {
		case <-w.metricsTicker.C:
			w.metrics.RecordQueueDepth(w.layerName, len(w.queue))
		case <-w.metricsStop:
			return
		}
	}
}

// Stats returns current statistics about the async writer.
func (w *AsyncWriter) Stats() Stats {
	return Stats{
		QueueDepth:    len(w.queue),
		DroppedWrites: atomic.LoadInt64(&w.droppedWrites),
		TotalWrites:   atomic.LoadInt64(&w.totalWrites),
		FailedWrites:  atomic.LoadInt64(&w.failedWrites),
		Superseded:    atomic.LoadInt64(&w.superseded),
	}
}
