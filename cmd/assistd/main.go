// Command assistd serves match explanations, message suggestions,
// translations and emergency responder ranking over HTTP.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neighbor-assist/pkg/api"
	"neighbor-assist/pkg/assist"
	"neighbor-assist/pkg/cache"
	"neighbor-assist/pkg/cache/bloom"
	"neighbor-assist/pkg/cache/memory"
	"neighbor-assist/pkg/cache/redis"
	"neighbor-assist/pkg/config"
	"neighbor-assist/pkg/generate"
	"neighbor-assist/pkg/logging"
	promMetrics "neighbor-assist/pkg/metrics/prometheus"
	"neighbor-assist/pkg/ratelimit"
	"neighbor-assist/pkg/resilience"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logging.SetGlobal(logger)

	logger.Info("Starting neighbor assist service")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metricsCollector := promMetrics.NewCollector(cfg.Metrics.Namespace)
	if err := metricsCollector.Register(registry); err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	l2 := sharedTier(cfg, metricsCollector, logger)
	if l2 != nil {
		defer l2.Close()
	}

	client := generate.NewClient(generate.OpenAIConfig{
		APIKey:  cfg.Generation.APIKey,
		BaseURL: cfg.Generation.BaseURL,
		Model:   cfg.Generation.Model,
	})
	if client == nil {
		logger.Warn("No generation API key configured, serving fallback content only")
	}

	adapter := generate.NewAdapter(client, generate.Config{
		Timeout: cfg.Generation.Timeout,
		Metrics: metricsCollector,
		Logger:  logger,
	})

	svc, err := assist.New(adapter, assist.Config{
		Explanations:     l1Config(cfg.Caches.Explanations, cfg.Caches.CleanupInterval),
		Suggestions:      l1Config(cfg.Caches.Suggestions, cfg.Caches.CleanupInterval),
		Translations:     l1Config(cfg.Caches.Translations, cfg.Caches.CleanupInterval),
		RequiredSkills:   l1Config(cfg.Caches.RequiredSkills, cfg.Caches.CleanupInterval),
		L2:               l2,
		L2Policy:         cache.LayerConfig{MaxTTL: cfg.Redis.MaxTTL},
		BatchConcurrency: cfg.Generation.BatchConcurrency,
		Metrics:          metricsCollector,
		Logger:           logger,
	})
	if err != nil {
		logger.Fatal("Failed to create assist service", zap.Error(err))
	}
	defer svc.Close()

	var exempt []string
	if cfg.RateLimit.ExemptLoopback {
		exempt = ratelimit.DefaultExemptions
	}

	ipLimiter := ratelimit.New(ratelimit.Config{
		Name:          "ip",
		MaxRequests:   cfg.RateLimit.IPMaxRequests,
		Window:        cfg.RateLimit.IPWindow,
		PurgeInterval: cfg.RateLimit.PurgeInterval,
		Exempt:        exempt,
		Metrics:       metricsCollector,
		Logger:        logger,
	})
	defer ipLimiter.Close()

	userLimiter := ratelimit.New(ratelimit.Config{
		Name:          "user",
		MaxRequests:   cfg.RateLimit.UserMaxRequests,
		Window:        cfg.RateLimit.UserWindow,
		PurgeInterval: cfg.RateLimit.PurgeInterval,
		Metrics:       metricsCollector,
		Logger:        logger,
	})
	defer userLimiter.Close()

	server, err := api.NewServer(svc, api.ServerConfig{
		Address:      cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		IPLimiter:    ipLimiter,
		UserLimiter:  userLimiter,
		Metrics:      metricsCollector,
		Registry:     registry,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Failed to create API server", zap.Error(err))
	}

	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	if err := svc.Flush(5 * time.Second); err != nil {
		logger.Warn("Pending shared cache writes dropped", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// sharedTier connects the optional Redis tier. A failed connection is
// logged and the service runs on its in-process caches alone.
func sharedTier(cfg config.Config, metricsCollector *promMetrics.Collector, logger *logging.Logger) cache.Layer {
	if !cfg.Redis.Enabled {
		return nil
	}

	rc := redis.DefaultConfig()
	rc.Name = "L2-Redis"
	rc.Addr = cfg.Redis.Addr
	rc.ClusterAddrs = cfg.Redis.ClusterAddrs
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.KeyPrefix = cfg.Redis.KeyPrefix

	redisLayer, err := redis.New(rc)
	if err != nil {
		logger.Warn("Shared cache tier unavailable, continuing without it", zap.Error(err))
		return nil
	}

	var layer cache.Layer = redisLayer
	if cfg.Redis.Bloom {
		layer = bloom.New(layer, cfg.Redis.BloomCapacity, 0.01)
	}

	rl := resilience.DefaultConfig()
	rl.Metrics = metricsCollector
	rl.Logger = logger

	logger.Info("Shared cache tier connected",
		zap.String("tier", layer.Name()),
		zap.Bool("bloom", cfg.Redis.Bloom),
	)
	return resilience.NewLayer(layer, rl)
}

func l1Config(c config.CacheConfig, cleanup time.Duration) memory.Config {
	return memory.Config{
		MaxEntries:      c.MaxEntries,
		TTL:             c.TTL,
		CleanupInterval: cleanup,
	}
}
