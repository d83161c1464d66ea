package assist

import (
	"context"
	"time"

	"neighbor-assist/pkg/cache"
	"neighbor-assist/pkg/fallback"
	"neighbor-assist/pkg/generate"
	"neighbor-assist/pkg/metrics"
	"neighbor-assist/pkg/profile"

	"golang.org/x/sync/errgroup"
)

// Explanation says why a candidate matches the viewer.
type Explanation struct {
	Text   string `json:"text"`
	Cached bool   `json:"cached"`
	Source Source `json:"source"`
}

// CandidateExplanation pairs a candidate with its explanation.
type CandidateExplanation struct {
	Candidate   profile.Profile `json:"candidate"`
	Explanation Explanation     `json:"explanation"`
}

// Explain returns why candidate is a good match for viewer. Keys are
// directional: the viewer comes first.
func (s *Service) Explain(ctx context.Context, viewer, candidate profile.Profile) (Explanation, error) {
	key, err := cache.PairKey(viewer.ID, candidate.ID)
	if err != nil {
		return Explanation{}, missingIdentifier(err)
	}

	start := time.Now()
	if text, ok := s.explanations.Get(ctx, key); ok {
		s.metrics.RecordGeneration(FeatureExplanations, metrics.OutcomeCached, time.Since(start))
		return Explanation{Text: text, Cached: true, Source: SourceGenerated}, nil
	}

	text, err := s.generateExplanation(ctx, key, viewer, candidate)
	if err != nil {
		s.recordFallback(FeatureExplanations, err, start)
		return Explanation{Text: fallback.Explanation(viewer, candidate), Source: SourceFallback}, nil
	}

	s.metrics.RecordGeneration(FeatureExplanations, metrics.OutcomeGenerated, time.Since(start))
	return Explanation{Text: text, Source: SourceGenerated}, nil
}

func (s *Service) generateExplanation(ctx context.Context, key string, viewer, candidate profile.Profile) (string, error) {
	if !s.adapter.Enabled() {
		return "", generate.ErrNoClient
	}
	return generateOnce(s, ctx, FeatureExplanations, key,
		func(ctx context.Context) (string, error) {
			return s.adapter.Explain(ctx, viewer, candidate)
		},
		func(ctx context.Context, text string) {
			s.explanations.Set(ctx, key, text)
		},
	)
}

// ExplainBatch explains every candidate for one viewer concurrently.
// Every candidate gets an explanation, generated or fallback; one
// failure never affects the others. Results keep the input order.
func (s *Service) ExplainBatch(ctx context.Context, viewer profile.Profile, candidates []profile.Profile) []CandidateExplanation {
	out := make([]CandidateExplanation, len(candidates))

	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)

	for i, candidate := range candidates {
		g.Go(func() error {
			exp, err := s.Explain(ctx, viewer, candidate)
			if err != nil {
				exp = Explanation{Text: fallback.Explanation(viewer, candidate), Source: SourceFallback}
			}
			out[i] = CandidateExplanation{Candidate: candidate, Explanation: exp}
			return nil
		})
	}
	g.Wait()

	return out
}
