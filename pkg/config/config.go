// Package config resolves service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"neighbor-assist/pkg/logging"
)

// Config holds every setting of the assist service.
type Config struct {
	HTTP       HTTPConfig
	Generation GenerationConfig
	Caches     CachesConfig
	RateLimit  RateLimitConfig
	Redis      RedisConfig
	Metrics    MetricsConfig
	Logging    logging.Config
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// GenerationConfig configures the generative service client.
type GenerationConfig struct {
	// APIKey enables generation. Empty means fallback output only.
	APIKey           string
	BaseURL          string
	Model            string
	Timeout          time.Duration
	BatchConcurrency int
}

// CacheConfig sizes one feature cache.
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// CachesConfig sizes the feature caches.
type CachesConfig struct {
	Explanations    CacheConfig
	Suggestions     CacheConfig
	Translations    CacheConfig
	RequiredSkills  CacheConfig
	CleanupInterval time.Duration
}

// RateLimitConfig configures the per-IP and per-user limiters.
type RateLimitConfig struct {
	IPMaxRequests   int
	IPWindow        time.Duration
	UserMaxRequests int
	UserWindow      time.Duration
	PurgeInterval   time.Duration
	// ExemptLoopback allows loopback addresses through unconditionally
	ExemptLoopback bool
}

// RedisConfig configures the optional shared cache tier.
type RedisConfig struct {
	Enabled      bool
	Addr         string
	ClusterAddrs []string
	Password     string
	DB           int
	KeyPrefix    string
	// MaxTTL caps entry lifetimes in the shared tier; 0 leaves them uncapped
	MaxTTL time.Duration
	// Bloom fronts the tier with a bloom filter. Only safe with one replica.
	Bloom         bool
	BloomCapacity uint
}

// MetricsConfig configures Prometheus export.
type MetricsConfig struct {
	Namespace string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Generation: GenerationConfig{
			Model:            "gpt-4o-mini",
			Timeout:          15 * time.Second,
			BatchConcurrency: 8,
		},
		Caches: CachesConfig{
			Explanations:    CacheConfig{MaxEntries: 1000, TTL: 24 * time.Hour},
			Suggestions:     CacheConfig{MaxEntries: 500, TTL: time.Hour},
			Translations:    CacheConfig{MaxEntries: 2000, TTL: 24 * time.Hour},
			RequiredSkills:  CacheConfig{MaxEntries: 100, TTL: 7 * 24 * time.Hour},
			CleanupInterval: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			IPMaxRequests:   100,
			IPWindow:        15 * time.Minute,
			UserMaxRequests: 50,
			UserWindow:      15 * time.Minute,
			PurgeInterval:   time.Minute,
			ExemptLoopback:  true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			KeyPrefix:     "neighbor-assist:",
			BloomCapacity: 100000,
		},
		Metrics: MetricsConfig{
			Namespace: "neighbor_assist",
		},
		Logging: logging.DefaultConfig(),
	}
}

// FromEnv returns Default overridden by environment variables.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	e := env{lookup: lookup}

	c.HTTP.Addr = e.getEnv("HTTP_ADDR", c.HTTP.Addr)
	if port := e.getEnv("PORT", ""); port != "" {
		c.HTTP.Addr = ":" + port
	}
	c.HTTP.ReadTimeout = e.getDuration("HTTP_READ_TIMEOUT", c.HTTP.ReadTimeout)
	c.HTTP.WriteTimeout = e.getDuration("HTTP_WRITE_TIMEOUT", c.HTTP.WriteTimeout)
	c.HTTP.IdleTimeout = e.getDuration("HTTP_IDLE_TIMEOUT", c.HTTP.IdleTimeout)
	c.HTTP.ShutdownTimeout = e.getDuration("HTTP_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)

	c.Generation.APIKey = e.getEnv("OPENAI_API_KEY", "")
	c.Generation.BaseURL = e.getEnv("OPENAI_BASE_URL", "")
	c.Generation.Model = e.getEnv("OPENAI_MODEL", c.Generation.Model)
	c.Generation.Timeout = e.getDuration("GENERATION_TIMEOUT", c.Generation.Timeout)
	c.Generation.BatchConcurrency = e.getInt("GENERATION_BATCH_CONCURRENCY", c.Generation.BatchConcurrency)

	c.Caches.Explanations = e.getCache("EXPLANATION_CACHE", c.Caches.Explanations)
	c.Caches.Suggestions = e.getCache("SUGGESTION_CACHE", c.Caches.Suggestions)
	c.Caches.Translations = e.getCache("TRANSLATION_CACHE", c.Caches.Translations)
	c.Caches.RequiredSkills = e.getCache("SKILLS_CACHE", c.Caches.RequiredSkills)
	c.Caches.CleanupInterval = e.getDuration("CACHE_CLEANUP_INTERVAL", c.Caches.CleanupInterval)

	c.RateLimit.IPMaxRequests = e.getInt("RATE_LIMIT_IP_MAX", c.RateLimit.IPMaxRequests)
	c.RateLimit.IPWindow = e.getDuration("RATE_LIMIT_IP_WINDOW", c.RateLimit.IPWindow)
	c.RateLimit.UserMaxRequests = e.getInt("RATE_LIMIT_USER_MAX", c.RateLimit.UserMaxRequests)
	c.RateLimit.UserWindow = e.getDuration("RATE_LIMIT_USER_WINDOW", c.RateLimit.UserWindow)
	c.RateLimit.PurgeInterval = e.getDuration("RATE_LIMIT_PURGE_INTERVAL", c.RateLimit.PurgeInterval)
	c.RateLimit.ExemptLoopback = e.getBool("RATE_LIMIT_EXEMPT_LOOPBACK", c.RateLimit.ExemptLoopback)

	c.Redis.Addr = e.getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.ClusterAddrs = e.getList("REDIS_CLUSTER_NODES")
	c.Redis.Enabled = e.getBool("REDIS_ENABLED", e.has("REDIS_ADDR") || len(c.Redis.ClusterAddrs) > 0)
	c.Redis.Password = e.getEnv("REDIS_PASSWORD", "")
	c.Redis.DB = e.getInt("REDIS_DB", c.Redis.DB)
	c.Redis.KeyPrefix = e.getEnv("REDIS_KEY_PREFIX", c.Redis.KeyPrefix)
	c.Redis.MaxTTL = e.getDuration("REDIS_MAX_TTL", c.Redis.MaxTTL)
	c.Redis.Bloom = e.getBool("REDIS_BLOOM", c.Redis.Bloom)
	c.Redis.BloomCapacity = uint(e.getInt("REDIS_BLOOM_CAPACITY", int(c.Redis.BloomCapacity)))

	c.Metrics.Namespace = e.getEnv("METRICS_NAMESPACE", c.Metrics.Namespace)

	c.Logging = logging.ConfigFromEnv()

	if len(e.errs) > 0 {
		return c, errors.Join(e.errs...)
	}
	return c, c.Validate()
}

// Validate checks the settings for values the service cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.Generation.Timeout <= 0 {
		errs = append(errs, errors.New("generation timeout must be positive"))
	}
	if c.Generation.BatchConcurrency <= 0 {
		errs = append(errs, errors.New("batch concurrency must be positive"))
	}

	for name, cc := range map[string]CacheConfig{
		"explanation": c.Caches.Explanations,
		"suggestion":  c.Caches.Suggestions,
		"translation": c.Caches.Translations,
		"skills":      c.Caches.RequiredSkills,
	} {
		if cc.MaxEntries <= 0 {
			errs = append(errs, fmt.Errorf("%s cache size must be positive", name))
		}
		if cc.TTL <= 0 {
			errs = append(errs, fmt.Errorf("%s cache ttl must be positive", name))
		}
	}

	if c.RateLimit.IPMaxRequests <= 0 || c.RateLimit.UserMaxRequests <= 0 {
		errs = append(errs, errors.New("rate limit maximums must be positive"))
	}
	if c.RateLimit.IPWindow <= 0 || c.RateLimit.UserWindow <= 0 {
		errs = append(errs, errors.New("rate limit windows must be positive"))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" && len(c.Redis.ClusterAddrs) == 0 {
		errs = append(errs, errors.New("redis is enabled but no address is configured"))
	}
	if c.Redis.MaxTTL < 0 {
		errs = append(errs, errors.New("redis max ttl must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// env reads typed values and collects parse errors.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) has(key string) bool {
	v, ok := e.lookup(key)
	return ok && strings.TrimSpace(v) != ""
}

func (e *env) getEnv(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) getInt(key string, def int) int {
	v := e.getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *env) getBool(key string, def bool) bool {
	v := e.getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e *env) getDuration(key string, def time.Duration) time.Duration {
	v := e.getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *env) getList(key string) []string {
	v := e.getEnv(key, "")
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e *env) getCache(prefix string, def CacheConfig) CacheConfig {
	return CacheConfig{
		MaxEntries: e.getInt(prefix+"_SIZE", def.MaxEntries),
		TTL:        e.getDuration(prefix+"_TTL", def.TTL),
	}
}
