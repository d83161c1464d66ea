package bloom

import (
	"context"
	"sync"
	"time"

	"neighbor-assist/pkg/cache"

	"github.com/bits-and-blooms/bloom/v3"
)

// Layer fronts a shared tier with a bloom filter of keys written through
// it, so lookups for keys never written skip the network round trip.
//
// The filter only learns keys written by this process. Enable it only when
// this process is the sole writer of the tier, otherwise keys written by
// other replicas are reported missing until written locally.
type Layer struct {
	layer  cache.Layer
	filter *bloom.BloomFilter
	mu     sync.RWMutex

	expectedItems     uint
	falsePositiveRate float64

	totalQueries   uint64
	bloomRejected  uint64
	falsePositives uint64
}

// Stats holds statistics about bloom filter performance.
type Stats struct {
	TotalQueries      uint64  `json:"totalQueries"`
	BloomRejected     uint64  `json:"bloomRejected"`
	FalsePositives    uint64  `json:"falsePositives"`
	RejectionRate     float64 `json:"rejectionRate"`
	FalsePositiveRate float64 `json:"falsePositiveRate"`
	FilterCapacity    uint    `json:"filterCapacity"`
}

// New wraps layer with a bloom filter sized for expectedItems at the given
// false positive rate.
func New(layer cache.Layer, expectedItems uint, falsePositiveRate float64) *Layer {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	return &Layer{
		layer:             layer,
		filter:            bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		expectedItems:     expectedItems,
		falsePositiveRate: falsePositiveRate,
	}
}

// Name returns the name of the wrapped tier.
func (bl *Layer) Name() string {
	return "bloom(" + bl.layer.Name() + ")"
}

// Get returns ErrKeyNotFound without touching the wrapped tier when the
// filter has never seen key.
func (bl *Layer) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bl.mu.Lock()
	bl.totalQueries++
	if !bl.filter.TestString(key) {
		bl.bloomRejected++
		bl.mu.Unlock()
		return nil, cache.ErrKeyNotFound
	}
	bl.mu.Unlock()

	value, err := bl.layer.Get(ctx, key)
	if cache.IsNotFound(err) {
		bl.mu.Lock()
		bl.falsePositives++
		bl.mu.Unlock()
	}

	return value, err
}

// Set records key in the filter and writes through.
func (bl *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bl.mu.Lock()
	bl.filter.AddString(key)
	bl.mu.Unlock()

	return bl.layer.Set(ctx, key, value, ttl)
}

// Delete removes key from the wrapped tier. Bloom filters cannot forget,
// so the key keeps passing the filter and costs one extra lookup.
func (bl *Layer) Delete(ctx context.Context, key string) error {
	return bl.layer.Delete(ctx, key)
}

// DeleteMatching forwards to the wrapped tier.
func (bl *Layer) DeleteMatching(ctx context.Context, substr string) (int, error) {
	return bl.layer.DeleteMatching(ctx, substr)
}

// Close closes the wrapped tier.
func (bl *Layer) Close() error {
	return bl.layer.Close()
}

// Reset clears the filter and its counters.
func (bl *Layer) Reset() {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	bl.filter = bloom.NewWithEstimates(bl.expectedItems, bl.falsePositiveRate)
	bl.totalQueries = 0
	bl.bloomRejected = 0
	bl.falsePositives = 0
}

// Stats returns statistics about the bloom filter.
func (bl *Layer) Stats() Stats {
	bl.mu.RLock()
	defer bl.mu.RUnlock()

	rejectionRate := 0.0
	falsePositiveRate := 0.0

	if bl.totalQueries > 0 {
		rejectionRate = float64(bl.bloomRejected) / float64(bl.totalQueries)
		queried := bl.totalQueries - bl.bloomRejected
		if queried > 0 {
			falsePositiveRate = float64(bl.falsePositives) / float64(queried)
		}
	}

	return Stats{
		TotalQueries:      bl.totalQueries,
		BloomRejected:     bl.bloomRejected,
		FalsePositives:    bl.falsePositives,
		RejectionRate:     rejectionRate,
		FalsePositiveRate: falsePositiveRate,
		FilterCapacity:    bl.filter.Cap(),
	}
}

var _ cache.Layer = (*Layer)(nil)
