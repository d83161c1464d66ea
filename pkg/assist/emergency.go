package assist

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"neighbor-assist/pkg/fallback"
	"neighbor-assist/pkg/generate"
	"neighbor-assist/pkg/metrics"
	"neighbor-assist/pkg/profile"
)

const (
	skillMatchWeight = 10.0
	proximityRangeKm = 10.0
)

// Responder is a potential helper for an emergency.
type Responder struct {
	Profile    profile.Profile `json:"profile"`
	DistanceKm float64         `json:"distanceKm"`
}

// RankedResponder is a Responder with its score.
type RankedResponder struct {
	Responder
	Score         float64  `json:"score"`
	MatchedSkills []string `json:"matchedSkills"`
}

// Ranking orders responders for one emergency.
type Ranking struct {
	EmergencyType  string            `json:"emergencyType"`
	RequiredSkills []string          `json:"requiredSkills"`
	Cached         bool              `json:"cached"`
	Responders     []RankedResponder `json:"responders"`
}

// RequiredSkills returns the skills that help with emergencyType and
// whether they came from cache. Without a healthy service the static
// table answers.
func (s *Service) RequiredSkills(ctx context.Context, emergencyType string) ([]string, bool) {
	key := fallback.NormalizeEmergencyType(emergencyType)

	if key == "" {
		s.metrics.RecordFallback(FeatureRequiredSkills, "empty_type")
		return fallback.RequiredSkills(key), false
	}

	start := time.Now()

	if skills, ok := s.skills.Get(ctx, key); ok && len(skills) > 0 {
		s.metrics.RecordGeneration(FeatureRequiredSkills, metrics.OutcomeCached, time.Since(start))
		return clone(skills), true
	}

	if !s.adapter.Enabled() {
		s.recordFallback(FeatureRequiredSkills, generate.ErrNoClient, start)
		return fallback.RequiredSkills(key), false
	}

	skills, err := generateOnce(s, ctx, FeatureRequiredSkills, key,
		func(ctx context.Context) ([]string, error) {
			return s.adapter.RequiredSkills(ctx, key)
		},
		func(ctx context.Context, skills []string) {
			s.skills.Set(ctx, key, clone(skills))
		},
	)
	if err != nil {
		s.recordFallback(FeatureRequiredSkills, err, start)
		return fallback.RequiredSkills(key), false
	}

	s.metrics.RecordGeneration(FeatureRequiredSkills, metrics.OutcomeGenerated, time.Since(start))
	return clone(skills), false
}

// RankResponders scores responders for emergencyType: ten points per
// required skill they offer plus up to ten points for proximity, losing
// one point per kilometre. Ties keep input order.
func (s *Service) RankResponders(ctx context.Context, emergencyType string, responders []Responder) Ranking {
	required, cached := s.RequiredSkills(ctx, emergencyType)

	ranked := make([]RankedResponder, 0, len(responders))
	for _, r := range responders {
		matched := matchSkills(required, r.Profile.SkillsOffered)
		score := skillMatchWeight*float64(len(matched)) + math.Max(0, proximityRangeKm-r.DistanceKm)
		ranked = append(ranked, RankedResponder{Responder: r, Score: score, MatchedSkills: matched})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return Ranking{
		EmergencyType:  fallback.NormalizeEmergencyType(emergencyType),
		RequiredSkills: required,
		Cached:         cached,
		Responders:     ranked,
	}
}

// matchSkills returns the required skills some offered skill contains or
// is contained in, ignoring case.
func matchSkills(required []string, offered []profile.Offering) []string {
	matched := []string{}
	for _, req := range required {
		r := strings.ToLower(strings.TrimSpace(req))
		if r == "" {
			continue
		}
		for _, o := range offered {
			name := strings.ToLower(strings.TrimSpace(o.Name))
			if name != "" && (strings.Contains(name, r) || strings.Contains(r, name)) {
				matched = append(matched, req)
				break
			}
		}
	}
	return matched
}
