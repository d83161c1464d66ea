// Package ratelimit counts requests per identity in fixed windows.
//
// Each identity gets a window that starts with its first request and
// resets wholesale once it has elapsed. Identities idle past their reset
// time are purged by a background sweep.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/metrics"

	"go.uber.org/zap"
)

// DefaultExemptions are the loopback addresses never limited.
var DefaultExemptions = []string{"127.0.0.1", "::1", "::ffff:127.0.0.1"}

// Config configures a Limiter.
type Config struct {
	// Name identifies the limiter in logs and metrics
	Name string

	// MaxRequests allowed per window (default 100)
	MaxRequests int

	// Window is the window length (default 15m)
	Window time.Duration

	// PurgeInterval is how often idle identities are dropped (default 1m).
	// A negative value disables the sweep.
	PurgeInterval time.Duration

	// Exempt identities are always allowed and never tracked
	Exempt []string

	// Now overrides the clock, for tests
	Now func() time.Time

	Metrics metrics.Collector
	Logger  *logging.Logger
}

// Result is the outcome of one CheckAndConsume call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Exempt     bool
}

// Usage is one identity's consumption in its current window.
type Usage struct {
	Identity string    `json:"identity"`
	Count    int       `json:"count"`
	ResetAt  time.Time `json:"resetAt"`
}

// Stats summarizes a limiter.
type Stats struct {
	Name        string        `json:"name"`
	MaxRequests int           `json:"maxRequests"`
	Window      time.Duration `json:"window"`
	Tracked     int           `json:"tracked"`
	Top         []Usage       `json:"top"`
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window request counter keyed by identity. It is safe
// for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	exempt  map[string]struct{}

	config  Config
	metrics metrics.Collector
	logger  *logging.Logger

	stopPurge chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Limiter and starts its purge sweep.
func New(config Config) *Limiter {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 100
	}
	if config.Window <= 0 {
		config.Window = 15 * time.Minute
	}
	if config.PurgeInterval == 0 {
		config.PurgeInterval = time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}

	l := &Limiter{
		windows:   make(map[string]*window),
		exempt:    make(map[string]struct{}, len(config.Exempt)),
		config:    config,
		metrics:   metrics.OrNoOp(config.Metrics),
		logger:    config.Logger.Named("ratelimit").With(zap.String("limiter", config.Name)),
		stopPurge: make(chan struct{}),
	}
	for _, id := range config.Exempt {
		l.exempt[id] = struct{}{}
	}

	if config.PurgeInterval > 0 {
		l.wg.Add(1)
		go l.purgeLoop(config.PurgeInterval)
	}

	return l
}

// Name returns the limiter name.
func (l *Limiter) Name() string {
	return l.config.Name
}

// CheckAndConsume counts one request for identity and reports whether it
// is within the limit.
func (l *Limiter) CheckAndConsume(identity string) Result {
	if _, ok := l.exempt[identity]; ok {
		return Result{Allowed: true, Limit: l.config.MaxRequests, Remaining: l.config.MaxRequests, Exempt: true}
	}

	now := l.config.Now()

	l.mu.Lock()
	w, ok := l.windows[identity]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.config.Window)}
		l.windows[identity] = w
	}
	w.count++
	count, resetAt := w.count, w.resetAt
	l.mu.Unlock()

	res := Result{
		Allowed:   count <= l.config.MaxRequests,
		Limit:     l.config.MaxRequests,
		Remaining: max(0, l.config.MaxRequests-count),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
		if count == l.config.MaxRequests+1 {
			l.logger.Info("rate limit exceeded",
				zap.String("identity", identity),
				zap.Time("reset_at", resetAt),
			)
		}
	}

	l.metrics.RecordRateLimit(l.config.Name, res.Allowed)
	return res
}

// Purge drops identities whose window has elapsed and returns how many
// were dropped.
func (l *Limiter) Purge() int {
	now := l.config.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Top returns the n identities with the highest count in a live window,
// highest first. n <= 0 returns all of them.
func (l *Limiter) Top(n int) []Usage {
	now := l.config.Now()

	l.mu.Lock()
	usage := make([]Usage, 0, len(l.windows))
	for id, w := range l.windows {
		if now.Before(w.resetAt) {
			usage = append(usage, Usage{Identity: id, Count: w.count, ResetAt: w.resetAt})
		}
	}
	l.mu.Unlock()

	sort.Slice(usage, func(i, j int) bool {
		if usage[i].Count != usage[j].Count {
			return usage[i].Count > usage[j].Count
		}
		return usage[i].Identity < usage[j].Identity
	})

	if n > 0 && len(usage) > n {
		usage = usage[:n]
	}
	return usage
}

// Stats returns the limiter settings and its top n identities.
func (l *Limiter) Stats(n int) Stats {
	return Stats{
		Name:        l.config.Name,
		MaxRequests: l.config.MaxRequests,
		Window:      l.config.Window,
		Tracked:     l.Len(),
		Top:         l.Top(n),
	}
}

// Close stops the purge sweep.
func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopPurge)
	})
	l.wg.Wait()
	return nil
}

func (l *Limiter) purgeLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := l.Purge(); removed > 0 {
				l.logger.Debug("purged idle identities", zap.Int("removed", removed))
			}
		case <-l.stopPurge:
			return
		}
	}
}
