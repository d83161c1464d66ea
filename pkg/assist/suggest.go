package assist

import (
	"context"
	"strings"
	"time"

	"neighbor-assist/pkg/cache"
	"neighbor-assist/pkg/fallback"
	"neighbor-assist/pkg/generate"
	"neighbor-assist/pkg/metrics"
	"neighbor-assist/pkg/profile"
)

// Suggestions holds exactly fallback.SuggestionCount opening messages.
type Suggestions struct {
	Suggestions []string `json:"suggestions"`
	Source      Source   `json:"source"`
	Cached      bool     `json:"cached"`
}

// Suggest returns opening messages from sender to receiver. Keys are
// directional: the sender comes first. A non-blank topic gets its own
// entry under the pair.
func (s *Service) Suggest(ctx context.Context, sender, receiver profile.Profile, topic string) (Suggestions, error) {
	key, err := cache.PairKey(sender.ID, receiver.ID)
	if err != nil {
		return Suggestions{}, missingIdentifier(err)
	}
	if c := strings.TrimSpace(topic); c != "" {
		key += cache.PairSeparator + cache.ContentKey("context", c, "", "")
	}

	start := time.Now()
	if list, ok := s.suggestions.Get(ctx, key); ok && len(list) == fallback.SuggestionCount {
		s.metrics.RecordGeneration(FeatureSuggestions, metrics.OutcomeCached, time.Since(start))
		return Suggestions{Suggestions: clone(list), Source: SourceGenerated, Cached: true}, nil
	}

	list, err := s.generateSuggestions(ctx, key, sender, receiver, topic)
	if err != nil {
		s.recordFallback(FeatureSuggestions, err, start)
		return Suggestions{Suggestions: fallback.Suggestions(sender, receiver, topic), Source: SourceFallback}, nil
	}

	s.metrics.RecordGeneration(FeatureSuggestions, metrics.OutcomeGenerated, time.Since(start))
	return Suggestions{Suggestions: clone(list), Source: SourceGenerated}, nil
}

func (s *Service) generateSuggestions(ctx context.Context, key string, sender, receiver profile.Profile, topic string) ([]string, error) {
	if !s.adapter.Enabled() {
		return nil, generate.ErrNoClient
	}
	return generateOnce(s, ctx, FeatureSuggestions, key,
		func(ctx context.Context) ([]string, error) {
			return s.adapter.Suggest(ctx, sender, receiver, topic)
		},
		func(ctx context.Context, list []string) {
			s.suggestions.Set(ctx, key, clone(list))
		},
	)
}

func clone(list []string) []string {
	return append([]string(nil), list...)
}
