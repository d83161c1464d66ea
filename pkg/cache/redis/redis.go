package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"neighbor-assist/pkg/cache"

	"github.com/redis/rueidis"
)

// Layer is a shared cache tier stored in Redis. Replicas pointing at the
// same server see each other's generated answers.
type Layer struct {
	client rueidis.Client
	name   string
	config Config
}

// Config holds connection settings for the Redis tier.
type Config struct {
	Name string
	// Addr is the Redis server address for single node/sentinel mode.
	// For cluster mode, use ClusterAddrs instead.
	// Examples: "localhost:6379", "redis.example.com:6379"
	Addr string
	// ClusterAddrs is a list of Redis cluster node addresses.
	// If set, cluster mode is enabled automatically.
	ClusterAddrs []string
	Username     string
	Password     string
	// DB is the Redis database number (0-15).
	// Note: In cluster mode, only DB 0 is supported.
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// ScanCount is the COUNT hint used while walking keys for pattern deletes
	ScanCount int64
	// Sentinel configuration for high availability
	SentinelMasterSet string
	SentinelAddrs     []string
	SentinelUsername  string
	SentinelPassword  string
}

// DefaultConfig returns settings for a local single node.
func DefaultConfig() Config {
	return Config{
		Name:         "redis",
		Addr:         "localhost:6379",
		KeyPrefix:    "neighbor-assist:",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		ScanCount:    200,
	}
}

// New connects to Redis and verifies the connection with a PING.
func New(config Config) (*Layer, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 200
	}

	var initAddress []string
	switch {
	case len(config.ClusterAddrs) > 0:
		initAddress = config.ClusterAddrs
	case len(config.SentinelAddrs) > 0:
		initAddress = config.SentinelAddrs
	case config.Addr != "":
		initAddress = []string{config.Addr}
	default:
		return nil, fmt.Errorf("redis: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	}

	if len(config.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{
			MasterSet: config.SentinelMasterSet,
			Username:  config.SentinelUsername,
			Password:  config.SentinelPassword,
		}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &Layer{
		client: client,
		name:   config.Name,
		config: config,
	}, nil
}

// Get returns the stored bytes for key.
func (r *Layer) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := r.client.B().Get().Key(r.config.KeyPrefix + key).Build()
	resp := r.client.Do(ctx, cmd)

	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, cache.ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("redis get: failed to read response: %w", err)
	}
	return data, nil
}

// Set stores value under key. A non-positive ttl stores without expiry.
func (r *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	fullKey := r.config.KeyPrefix + key

	var cmd rueidis.Completed
	if ttl > 0 {
		cmd = r.client.B().Set().Key(fullKey).Value(rueidis.BinaryString(value)).Ex(ttl).Build()
	} else {
		cmd = r.client.B().Set().Key(fullKey).Value(rueidis.BinaryString(value)).Build()
	}

	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (r *Layer) Delete(ctx context.Context, key string) error {
	cmd := r.client.B().Del().Key(r.config.KeyPrefix + key).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// DeleteMatching walks the keyspace with SCAN and deletes every key under
// the prefix that contains substr. In cluster mode every node is walked.
func (r *Layer) DeleteMatching(ctx context.Context, substr string) (int, error) {
	if substr == "" {
		return 0, nil
	}

	pattern := escapeGlob(r.config.KeyPrefix) + "*" + escapeGlob(substr) + "*"

	seen := make(map[string]struct{})
	var matched []string
	for addr, node := range r.client.Nodes() {
		keys, err := r.scan(ctx, node, pattern)
		if err != nil {
			return 0, fmt.Errorf("redis scan %s: %w", addr, err)
		}
		for _, key := range keys {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			matched = append(matched, key)
		}
	}

	if len(matched) == 0 {
		return 0, nil
	}

	// One DEL per key keeps cluster deployments free of cross-slot errors.
	cmds := make(rueidis.Commands, 0, len(matched))
	for _, key := range matched {
		cmds = append(cmds, r.client.B().Del().Key(key).Build())
	}

	removed := 0
	var errs []error
	for i, resp := range r.client.DoMulti(ctx, cmds...) {
		n, err := resp.AsInt64()
		if err != nil {
			errs = append(errs, fmt.Errorf("key %s: %w", matched[i], err))
			continue
		}
		removed += int(n)
	}

	if len(errs) > 0 {
		return removed, fmt.Errorf("redis delete matching: %w", errors.Join(errs...))
	}
	return removed, nil
}

// scan returns every key on node matching pattern. Keys may repeat.
func (r *Layer) scan(ctx context.Context, node rueidis.Client, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		cmd := node.B().Scan().Cursor(cursor).Match(pattern).Count(r.config.ScanCount).Build()
		entry, err := node.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, err
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Name returns the tier name.
func (r *Layer) Name() string {
	return r.name
}

// Close closes the client.
func (r *Layer) Close() error {
	r.client.Close()
	return nil
}

// Ping checks the connection.
func (r *Layer) Ping(ctx context.Context) error {
	cmd := r.client.B().Ping().Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// FlushDB removes every key in the selected database. Used by tests.
func (r *Layer) FlushDB(ctx context.Context) error {
	cmd := r.client.B().Flushdb().Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis flushdb: %w", err)
	}
	return nil
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ cache.Layer = (*Layer)(nil)
