package assist

import (
	"context"
	"fmt"
	"time"

	"neighbor-assist/pkg/cache"
	"neighbor-assist/pkg/fallback"
	"neighbor-assist/pkg/generate"
	"neighbor-assist/pkg/metrics"
	"neighbor-assist/pkg/profile"
)

// autoDetect is the source language meaning "let the service decide".
const autoDetect = "auto"

// Translation is the result of a translation request.
type Translation struct {
	Text    string `json:"text"`
	Cached  bool   `json:"cached"`
	Skipped bool   `json:"skipped"`
	Failed  bool   `json:"failed"`
	Error   string `json:"error,omitempty"`
	Source  Source `json:"source"`
}

// Translate translates text into target. source may be empty to let the
// service detect it.
//
// Text over generate.MaxTranslateLength and unknown language codes are
// rejected before any cache or network work. Identical source and target
// languages, and text too short to translate, return the input unchanged
// with Skipped set and touch neither the cache nor the service. When the
// service fails the offline translation is returned with Failed set.
func (s *Service) Translate(ctx context.Context, text, target, source string) (Translation, error) {
	target = profile.NormalizeLanguage(target)
	source = profile.NormalizeLanguage(source)
	if source == "" {
		source = autoDetect
	}

	if err := generate.CheckTranslation(text, source, target); err != nil {
		return Translation{}, err
	}

	start := time.Now()
	if source == target || generate.TooShort(text) {
		s.metrics.RecordGeneration(FeatureTranslations, metrics.OutcomeSkipped, time.Since(start))
		return Translation{Text: text, Skipped: true, Source: SourceOriginal}, nil
	}

	key := cache.ContentKey("translate", text, source, target)
	if translated, ok := s.translations.Get(ctx, key); ok {
		s.metrics.RecordGeneration(FeatureTranslations, metrics.OutcomeCached, time.Since(start))
		return Translation{Text: translated, Cached: true, Source: SourceGenerated}, nil
	}

	if !s.adapter.Enabled() {
		s.recordFallback(FeatureTranslations, generate.ErrNoClient, start)
		return Translation{Text: fallback.Translate(text, target), Source: SourceFallback}, nil
	}

	translated, err := generateOnce(s, ctx, FeatureTranslations, key,
		func(ctx context.Context) (string, error) {
			return s.adapter.Translate(ctx, text, source, target)
		},
		func(ctx context.Context, translated string) {
			s.translations.Set(ctx, key, translated)
		},
	)
	if err != nil {
		s.recordFallback(FeatureTranslations, err, start)
		return Translation{
			Text:   fallback.Translate(text, target),
			Failed: true,
			Error:  fmt.Sprintf("translation unavailable (%s)", generate.KindOf(err)),
			Source: SourceFallback,
		}, nil
	}

	s.metrics.RecordGeneration(FeatureTranslations, metrics.OutcomeGenerated, time.Since(start))
	return Translation{Text: translated, Source: SourceGenerated}, nil
}
