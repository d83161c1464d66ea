package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"neighbor-assist/pkg/cache"
)

func skipIfNoRedis(t *testing.T, r *Layer) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.Ping(ctx); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
}

func setupTestRedis(t *testing.T) *Layer {
	config := DefaultConfig()
	config.Name = "TestRedis"
	config.KeyPrefix = "test:assist:"
	config.DialTimeout = time.Second

	r, err := New(config)
	if err != nil {
		t.Skipf("Failed to create Redis client: %v", err)
	}

	skipIfNoRedis(t, r)

	r.FlushDB(context.Background())

	return r
}

func TestNew(t *testing.T) {
	config := DefaultConfig()
	config.Name = "TestRedis"
	config.DialTimeout = time.Second

	r, err := New(config)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer r.Close()

	if r.Name() != "TestRedis" {
		t.Errorf("Expected name 'TestRedis', got '%s'", r.Name())
	}

	skipIfNoRedis(t, r)
}

func TestNew_NoAddress(t *testing.T) {
	config := DefaultConfig()
	config.Addr = ""

	if _, err := New(config); err == nil {
		t.Error("Expected error when no address is configured")
	}
}

func TestLayer_SetGet(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	if err := r.Set(ctx, "viewer-1:candidate-2", []byte(`"Ana can help with plumbing"`), time.Minute); err != nil {
		t.Fatalf("Failed to set key: %v", err)
	}

	val, err := r.Get(ctx, "viewer-1:candidate-2")
	if err != nil {
		t.Fatalf("Failed to get key: %v", err)
	}

	if string(val) != `"Ana can help with plumbing"` {
		t.Errorf("Unexpected value %q", val)
	}
}

func TestLayer_GetMiss(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	_, err := r.Get(context.Background(), "nonexistent")
	if !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestLayer_Delete(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	r.Set(ctx, "key1", []byte("value1"), time.Minute)

	if err := r.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Failed to delete key: %v", err)
	}

	if _, err := r.Get(ctx, "key1"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestLayer_DeleteMatching(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()

	r.Set(ctx, "42:99", []byte("a"), time.Minute)
	r.Set(ctx, "77:42", []byte("b"), time.Minute)
	r.Set(ctx, "13:77", []byte("c"), time.Minute)

	removed, err := r.DeleteMatching(ctx, "42")
	if err != nil {
		t.Fatalf("DeleteMatching failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if _, err := r.Get(ctx, "13:77"); err != nil {
		t.Errorf("Unrelated key should survive, got %v", err)
	}
}

func TestLayer_DeleteMatchingWalksAllPages(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()
	r.config.ScanCount = 5

	ctx := context.Background()

	for i := 0; i < 40; i++ {
		r.Set(ctx, fmt.Sprintf("42:%d", i), []byte("x"), time.Minute)
		r.Set(ctx, fmt.Sprintf("7:%d", i+100), []byte("y"), time.Minute)
	}

	if n := len(r.client.Nodes()); n == 0 {
		t.Fatal("Expected at least one node")
	}

	removed, err := r.DeleteMatching(ctx, "42:")
	if err != nil {
		t.Fatalf("DeleteMatching failed: %v", err)
	}
	if removed != 40 {
		t.Errorf("Expected 40 removed, got %d", removed)
	}

	removed, err = r.DeleteMatching(ctx, "42:")
	if err != nil || removed != 0 {
		t.Errorf("Expected nothing left to remove, got %d/%v", removed, err)
	}
}

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a*b", `a\*b`},
		{"q?[x]", `q\?\[x\]`},
		{`back\slash`, `back\\slash`},
	}

	for _, tt := range tests {
		if got := escapeGlob(tt.in); got != tt.want {
			t.Errorf("escapeGlob(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Name != "redis" {
		t.Errorf("Expected default name 'redis', got '%s'", config.Name)
	}
	if config.Addr != "localhost:6379" {
		t.Errorf("Expected default addr 'localhost:6379', got '%s'", config.Addr)
	}
	if config.KeyPrefix != "neighbor-assist:" {
		t.Errorf("Expected default prefix 'neighbor-assist:', got '%s'", config.KeyPrefix)
	}
}
