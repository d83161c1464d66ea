package mock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"neighbor-assist/pkg/cache"
)

// MockLayer is a mock implementation of cache.Layer for testing.
// It allows injecting custom behavior for each method and tracks call counts.
// Methods without a hook fall back to an in-memory map, so an unconfigured
// MockLayer behaves like a working shared tier.
type MockLayer struct {
	// Function hooks - set these to customize behavior
	GetFunc            func(ctx context.Context, key string) ([]byte, error)
	SetFunc            func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteFunc         func(ctx context.Context, key string) error
	DeleteMatchingFunc func(ctx context.Context, substr string) (int, error)
	NameFunc           func() string
	CloseFunc          func() error

	mu    sync.Mutex
	store map[string][]byte

	// Call tracking (must use atomic operations for race-free access)
	getCalls    int64
	setCalls    int64
	deleteCalls int64
	matchCalls  int64
	closeCalls  int64
}

// NewMockLayer creates a MockLayer backed by an in-memory map.
func NewMockLayer(name string) *MockLayer {
	return &MockLayer{
		NameFunc: func() string { return name },
	}
}

// NewFailingLayer creates a MockLayer whose every operation returns err.
func NewFailingLayer(name string, err error) *MockLayer {
	return &MockLayer{
		NameFunc: func() string { return name },
		GetFunc: func(ctx context.Context, key string) ([]byte, error) {
			return nil, err
		},
		SetFunc: func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
			return err
		},
		DeleteFunc: func(ctx context.Context, key string) error {
			return err
		},
		DeleteMatchingFunc: func(ctx context.Context, substr string) (int, error) {
			return 0, err
		},
	}
}

// Get implements cache.Layer.Get with optional custom behavior.
func (m *MockLayer) Get(ctx context.Context, key string) ([]byte, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.store[key]; ok {
		return append([]byte(nil), v...), nil
	}
	return nil, cache.ErrKeyNotFound
}

// Set implements cache.Layer.Set with optional custom behavior.
func (m *MockLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	atomic.AddInt64(&m.setCalls, 1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		m.store = make(map[string][]byte)
	}
	m.store[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements cache.Layer.Delete with optional custom behavior.
func (m *MockLayer) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

// DeleteMatching implements cache.Layer.DeleteMatching with optional custom behavior.
func (m *MockLayer) DeleteMatching(ctx context.Context, substr string) (int, error) {
	atomic.AddInt64(&m.matchCalls, 1)
	if m.DeleteMatchingFunc != nil {
		return m.DeleteMatchingFunc(ctx, substr)
	}
	if substr == "" {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key := range m.store {
		if strings.Contains(key, substr) {
			delete(m.store, key)
			removed++
		}
	}
	return removed, nil
}

// Name implements cache.Layer.Name with optional custom behavior.
func (m *MockLayer) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

// Close implements cache.Layer.Close with optional custom behavior.
func (m *MockLayer) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Len returns the number of keys in the backing map.
func (m *MockLayer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

// GetCalls returns the number of Get calls (thread-safe).
func (m *MockLayer) GetCalls() int {
	return int(atomic.LoadInt64(&m.getCalls))
}

// SetCalls returns the number of Set calls (thread-safe).
func (m *MockLayer) SetCalls() int {
	return int(atomic.LoadInt64(&m.setCalls))
}

// DeleteCalls returns the number of Delete calls (thread-safe).
func (m *MockLayer) DeleteCalls() int {
	return int(atomic.LoadInt64(&m.deleteCalls))
}

// DeleteMatchingCalls returns the number of DeleteMatching calls (thread-safe).
func (m *MockLayer) DeleteMatchingCalls() int {
	return int(atomic.LoadInt64(&m.matchCalls))
}

// CloseCalls returns the number of Close calls (thread-safe).
func (m *MockLayer) CloseCalls() int {
	return int(atomic.LoadInt64(&m.closeCalls))
}

var _ cache.Layer = (*MockLayer)(nil)
