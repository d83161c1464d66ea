// Package assist answers the generated-content features (match
// explanations, message suggestions, translations and emergency skills)
// from cache when it can, from the generative service when it is
// configured and healthy, and from deterministic fallbacks otherwise.
// Upstream failures never reach the caller; only local validation
// errors do.
package assist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"neighbor-assist/pkg/cache"
	"neighbor-assist/pkg/cache/memory"
	"neighbor-assist/pkg/chain"
	"neighbor-assist/pkg/generate"
	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/metrics"
	"neighbor-assist/pkg/writer"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Feature names, used as cache names and metric labels.
const (
	FeatureExplanations   = "explanations"
	FeatureSuggestions    = "suggestions"
	FeatureTranslations   = "translations"
	FeatureRequiredSkills = "required_skills"
)

// ErrMissingIdentifier is returned when a request lacks a participant id.
var ErrMissingIdentifier = errors.New("assist: missing participant identifier")

// Source says where an answer came from.
type Source string

const (
	// SourceGenerated is text produced by the generative service, fresh or cached
	SourceGenerated Source = "generated"
	// SourceFallback is deterministic output
	SourceFallback Source = "fallback"
	// SourceOriginal is input returned unchanged
	SourceOriginal Source = "original"
)

// Config configures a Service.
type Config struct {
	Explanations   memory.Config
	Suggestions    memory.Config
	Translations   memory.Config
	RequiredSkills memory.Config

	// L2 is an optional shared tier for every feature cache. The caller
	// owns it.
	L2       cache.Layer
	L2Policy cache.LayerConfig
	Writer   writer.Config

	// BatchConcurrency bounds parallel generations in ExplainBatch (default 8)
	BatchConcurrency int

	Metrics metrics.Collector
	Logger  *logging.Logger
}

// DefaultConfig returns cache sizes and lifetimes for each feature.
func DefaultConfig() Config {
	return Config{
		Explanations:     memory.Config{MaxEntries: 1000, TTL: 24 * time.Hour},
		Suggestions:      memory.Config{MaxEntries: 500, TTL: time.Hour},
		Translations:     memory.Config{MaxEntries: 2000, TTL: 24 * time.Hour},
		RequiredSkills:   memory.Config{MaxEntries: 100, TTL: 7 * 24 * time.Hour},
		BatchConcurrency: 8,
	}
}

// Service is the cached generation façade.
type Service struct {
	adapter *generate.Adapter

	explanations *chain.Tiered[string]
	suggestions  *chain.Tiered[[]string]
	translations *chain.Tiered[string]
	skills       *chain.Tiered[[]string]

	inflight         singleflight.Group
	batchConcurrency int

	metrics metrics.Collector
	logger  *logging.Logger
}

// New creates a Service. adapter may be disabled (no client), in which
// case every answer is a fallback.
func New(adapter *generate.Adapter, config Config) (*Service, error) {
	if adapter == nil {
		adapter = generate.NewAdapter(nil, generate.Config{Metrics: config.Metrics, Logger: config.Logger})
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}
	if config.BatchConcurrency <= 0 {
		config.BatchConcurrency = 8
	}

	s := &Service{
		adapter:          adapter,
		batchConcurrency: config.BatchConcurrency,
		metrics:          metrics.OrNoOp(config.Metrics),
		logger:           config.Logger.Named("assist"),
	}

	var err error
	if s.explanations, err = newTiered[string](FeatureExplanations, config.Explanations, config); err != nil {
		return nil, err
	}
	if s.suggestions, err = newTiered[[]string](FeatureSuggestions, config.Suggestions, config); err != nil {
		s.Close()
		return nil, err
	}
	if s.translations, err = newTiered[string](FeatureTranslations, config.Translations, config); err != nil {
		s.Close()
		return nil, err
	}
	if s.skills, err = newTiered[[]string](FeatureRequiredSkills, config.RequiredSkills, config); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info("assist service ready",
		zap.Bool("generation_enabled", adapter.Enabled()),
		zap.Bool("shared_tier", config.L2 != nil),
	)

	return s, nil
}

func newTiered[V any](name string, l1 memory.Config, config Config) (*chain.Tiered[V], error) {
	l1.Name = name
	return chain.New[V](chain.Config{
		Name:     name,
		L1:       l1,
		L2:       config.L2,
		L2Policy: config.L2Policy,
		Writer:   config.Writer,
		Metrics:  config.Metrics,
		Logger:   config.Logger,
	})
}

// GenerationEnabled reports whether a generative client is configured.
func (s *Service) GenerationEnabled() bool {
	return s.adapter.Enabled()
}

// Adapter returns the generation adapter.
func (s *Service) Adapter() *generate.Adapter {
	return s.adapter
}

// CacheStats returns the in-process statistics of every feature cache.
func (s *Service) CacheStats() map[string]memory.Stats {
	return map[string]memory.Stats{
		FeatureExplanations:   s.explanations.Stats(),
		FeatureSuggestions:    s.suggestions.Stats(),
		FeatureTranslations:   s.translations.Stats(),
		FeatureRequiredSkills: s.skills.Stats(),
	}
}

// Invalidate drops every explanation and suggestion that mentions
// participantID, e.g. after the participant edits or deletes a profile.
// It returns the number of in-process entries removed.
func (s *Service) Invalidate(ctx context.Context, participantID string) (int, error) {
	if participantID == "" {
		return 0, ErrMissingIdentifier
	}

	removed := s.explanations.Invalidate(ctx, participantID)
	removed += s.suggestions.Invalidate(ctx, participantID)

	s.logger.Info("invalidated participant entries",
		zap.String("participant", participantID),
		zap.Int("removed", removed),
	)
	return removed, nil
}

// Flush waits for queued shared tier writes of every cache.
func (s *Service) Flush(timeout time.Duration) error {
	return errors.Join(
		s.explanations.Flush(timeout),
		s.suggestions.Flush(timeout),
		s.translations.Flush(timeout),
		s.skills.Flush(timeout),
	)
}

// Close stops background work of every cache.
func (s *Service) Close() error {
	return errors.Join(
		closeTiered(s.explanations),
		closeTiered(s.suggestions),
		closeTiered(s.translations),
		closeTiered(s.skills),
	)
}

func closeTiered[V any](t *chain.Tiered[V]) error {
	if t == nil {
		return nil
	}
	return t.Close()
}

// generateOnce runs gen at most once per feature and key among
// concurrent callers and stores a successful result with store. The call
// runs detached from the caller's cancellation; the adapter timeout bounds
// it. Failures are logged here, once per upstream call.
func generateOnce[V any](s *Service, ctx context.Context, feature, key string, gen func(context.Context) (V, error), store func(context.Context, V)) (V, error) {
	detached := context.WithoutCancel(ctx)

	v, err, _ := s.inflight.Do(feature+"|"+key, func() (interface{}, error) {
		result, err := gen(detached)
		if err != nil {
			logging.FromContext(ctx, s.logger).Warn("generation failed, serving fallback",
				zap.String("feature", feature),
				zap.String("key", key),
				zap.String("category", generate.KindOf(err).String()),
				zap.Error(err),
			)
			return result, err
		}
		store(detached, result)
		return result, nil
	})

	result, _ := v.(V)
	return result, err
}

// fallbackReason labels why a fallback was served.
func fallbackReason(err error) string {
	if errors.Is(err, generate.ErrNoClient) {
		return "no_client"
	}
	return generate.KindOf(err).String()
}

func (s *Service) recordFallback(feature string, err error, start time.Time) {
	s.metrics.RecordFallback(feature, fallbackReason(err))
	s.metrics.RecordGeneration(feature, metrics.OutcomeFallback, time.Since(start))
}

func missingIdentifier(err error) error {
	return fmt.Errorf("%w: %v", ErrMissingIdentifier, err)
}
