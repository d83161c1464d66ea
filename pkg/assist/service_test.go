package assist

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"neighbor-assist/pkg/cache/memory"
	"neighbor-assist/pkg/cache/mock"
	"neighbor-assist/pkg/fallback"
	"neighbor-assist/pkg/generate"
	genmock "neighbor-assist/pkg/generate/mock"
	"neighbor-assist/pkg/metrics"
	metricsmemory "neighbor-assist/pkg/metrics/memory"
	"neighbor-assist/pkg/profile"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	viewer = profile.Profile{
		ID:           "42",
		Name:         "Viv",
		SkillsNeeded: []profile.Offering{{Name: "Math", Category: "Education"}},
	}
	tutor = profile.Profile{
		ID:            "99",
		Name:          "Tom",
		SkillsOffered: []profile.Offering{{Name: "Mathematics", Category: "Education"}},
	}
	baker = profile.Profile{
		ID:            "77",
		Name:          "Bea",
		SkillsOffered: []profile.Offering{{Name: "Baking", Category: "Food"}},
		IsNew:         true,
	}
)

func testConfig(collector metrics.Collector) Config {
	config := DefaultConfig()
	for _, c := range []*memory.Config{&config.Explanations, &config.Suggestions, &config.Translations, &config.RequiredSkills} {
		c.CleanupInterval = -1
	}
	config.Metrics = collector
	return config
}

func newService(t *testing.T, client generate.Client, collector metrics.Collector) *Service {
	t.Helper()

	var adapter *generate.Adapter
	if client != nil {
		adapter = generate.NewAdapter(client, generate.Config{Timeout: time.Second})
	}

	s, err := New(adapter, testConfig(collector))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExplain_NoClientFallsBackUncached(t *testing.T) {
	collector := metricsmemory.NewCollector()
	s := newService(t, nil, collector)
	ctx := context.Background()

	assert.False(t, s.GenerationEnabled())

	for i := 0; i < 2; i++ {
		got, err := s.Explain(ctx, viewer, tutor)
		require.NoError(t, err)
		assert.Equal(t, "Tom can help with Mathematics, which you're looking for.", got.Text)
		assert.Equal(t, SourceFallback, got.Source)
		assert.False(t, got.Cached)
	}

	stats := s.CacheStats()[FeatureExplanations]
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, 0, stats.Size, "fallback output must not be cached")
	assert.Equal(t, int64(2), collector.FallbackReasons(FeatureExplanations)["no_client"])
}

func TestExplain_GeneratedThenCached(t *testing.T) {
	collector := metricsmemory.NewCollector()
	client := genmock.NewClient("Tom tutors exactly the math you need.")
	s := newService(t, client, collector)
	ctx := context.Background()

	first, err := s.Explain(ctx, viewer, tutor)
	require.NoError(t, err)
	assert.Equal(t, Explanation{Text: "Tom tutors exactly the math you need.", Source: SourceGenerated}, first)

	second, err := s.Explain(ctx, viewer, tutor)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)

	assert.Equal(t, 1, client.Calls())
	outcomes := collector.Outcomes(FeatureExplanations)
	assert.Equal(t, int64(1), outcomes[metrics.OutcomeGenerated])
	assert.Equal(t, int64(1), outcomes[metrics.OutcomeCached])
}

func TestExplain_Directional(t *testing.T) {
	client := genmock.NewClient("a fine match")
	s := newService(t, client, nil)
	ctx := context.Background()

	s.Explain(ctx, viewer, tutor)
	s.Explain(ctx, tutor, viewer)

	assert.Equal(t, 2, client.Calls(), "(A,B) and (B,A) are distinct keys")
}

func TestExplain_UpstreamAlwaysFails(t *testing.T) {
	collector := metricsmemory.NewCollector()
	client := genmock.NewFailingClient(&openai.APIError{HTTPStatusCode: 429, Message: "quota"})
	s := newService(t, client, collector)

	got, err := s.Explain(context.Background(), viewer, tutor)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Text)
	assert.Equal(t, SourceFallback, got.Source)

	stats := s.CacheStats()[FeatureExplanations]
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(1), collector.FallbackReasons(FeatureExplanations)["quota"])
}

func TestExplain_MissingIdentifier(t *testing.T) {
	s := newService(t, nil, nil)

	_, err := s.Explain(context.Background(), profile.Profile{}, tutor)
	assert.ErrorIs(t, err, ErrMissingIdentifier)

	_, err = s.Suggest(context.Background(), viewer, profile.Profile{Name: "no id"}, "")
	assert.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestExplain_CollapsesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	client := &genmock.Client{
		CompleteFunc: func(ctx context.Context, req generate.Request) (string, error) {
			<-release
			return "shared answer", nil
		},
	}
	s := newService(t, client, nil)

	var wg sync.WaitGroup
	results := make([]Explanation, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = s.Explain(context.Background(), viewer, tutor)
		}()
	}

	require.Eventually(t, func() bool { return client.Calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, client.Calls())
	for _, r := range results {
		assert.Equal(t, "shared answer", r.Text)
	}
}

func TestExplain_CallerCancellationDoesNotAbortGeneration(t *testing.T) {
	client := &genmock.Client{
		CompleteFunc: func(ctx context.Context, req generate.Request) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(20 * time.Millisecond):
				return "finished anyway", nil
			}
		},
	}
	s := newService(t, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := s.Explain(ctx, viewer, tutor)
	require.NoError(t, err)
	assert.Equal(t, "finished anyway", got.Text)
}

func TestExplainBatch(t *testing.T) {
	client := &genmock.Client{
		CompleteFunc: func(ctx context.Context, req generate.Request) (string, error) {
			if strings.Contains(req.Prompt, "Neighbor: Bea") {
				return "", errors.New("upstream exploded")
			}
			return "generated for Tom", nil
		},
	}
	s := newService(t, client, nil)

	candidates := []profile.Profile{tutor, baker, {Name: "Nobody"}}
	got := s.ExplainBatch(context.Background(), viewer, candidates)

	require.Len(t, got, 3)
	assert.Equal(t, "Tom", got[0].Candidate.Name)
	assert.Equal(t, "generated for Tom", got[0].Explanation.Text)

	assert.Equal(t, SourceFallback, got[1].Explanation.Source)
	assert.Equal(t, fallback.Explanation(viewer, baker), got[1].Explanation.Text)

	assert.Equal(t, SourceFallback, got[2].Explanation.Source, "a candidate without id still gets an explanation")
	assert.NotEmpty(t, got[2].Explanation.Text)
}

func TestSuggest(t *testing.T) {
	t.Run("no client", func(t *testing.T) {
		s := newService(t, nil, nil)

		got, err := s.Suggest(context.Background(), viewer, tutor, "")
		require.NoError(t, err)
		assert.Len(t, got.Suggestions, fallback.SuggestionCount)
		assert.Equal(t, SourceFallback, got.Source)
	})

	t.Run("generated short list is padded and cached", func(t *testing.T) {
		client := genmock.NewClient(`{"suggestions":["Hi Tom, fancy a study session?"]}`)
		s := newService(t, client, nil)
		ctx := context.Background()

		got, err := s.Suggest(ctx, viewer, tutor, "")
		require.NoError(t, err)
		require.Len(t, got.Suggestions, fallback.SuggestionCount)
		assert.Equal(t, "Hi Tom, fancy a study session?", got.Suggestions[0])
		assert.Equal(t, SourceGenerated, got.Source)

		got.Suggestions[0] = "mutated by caller"

		again, err := s.Suggest(ctx, viewer, tutor, "")
		require.NoError(t, err)
		assert.True(t, again.Cached)
		assert.Equal(t, "Hi Tom, fancy a study session?", again.Suggestions[0])
		assert.Equal(t, 1, client.Calls())
	})

	t.Run("topic gets its own entry", func(t *testing.T) {
		client := genmock.NewClient(`["a","b","c"]`)
		s := newService(t, client, nil)
		ctx := context.Background()

		s.Suggest(ctx, viewer, tutor, "")
		s.Suggest(ctx, viewer, tutor, "calculus exam")
		s.Suggest(ctx, viewer, tutor, "calculus exam")

		assert.Equal(t, 2, client.Calls())
	})
}

func TestTranslate_SameLanguageSkips(t *testing.T) {
	client := genmock.NewClient("should not be called")
	s := newService(t, client, nil)

	got, err := s.Translate(context.Background(), "hello", "en", "en")
	require.NoError(t, err)
	assert.Equal(t, Translation{Text: "hello", Skipped: true, Source: SourceOriginal}, got)

	assert.Equal(t, 0, client.Calls())
	stats := s.CacheStats()[FeatureTranslations]
	assert.Equal(t, int64(0), stats.TotalRequests)
	assert.Equal(t, 0, stats.Size)
}

func TestTranslate_Guards(t *testing.T) {
	client := genmock.NewClient("x")
	s := newService(t, client, nil)
	ctx := context.Background()

	_, err := s.Translate(ctx, strings.Repeat("a", generate.MaxTranslateLength+1), "es", "en")
	assert.ErrorIs(t, err, generate.ErrTextTooLong)

	_, err = s.Translate(ctx, "hello", "zz", "en")
	assert.ErrorIs(t, err, generate.ErrUnsupportedLanguage)

	got, err := s.Translate(ctx, "k", "es", "en")
	require.NoError(t, err)
	assert.True(t, got.Skipped)
	assert.Equal(t, "k", got.Text)

	assert.Equal(t, 0, client.Calls())
	assert.Equal(t, int64(0), s.CacheStats()[FeatureTranslations].TotalRequests)
}

func TestTranslate_GeneratedThenCached(t *testing.T) {
	client := genmock.NewClient("Hola vecino")
	s := newService(t, client, nil)
	ctx := context.Background()

	first, err := s.Translate(ctx, "Hello neighbor", "es", "en")
	require.NoError(t, err)
	assert.Equal(t, Translation{Text: "Hola vecino", Source: SourceGenerated}, first)

	second, err := s.Translate(ctx, "Hello neighbor", "ES", " en ")
	require.NoError(t, err)
	assert.True(t, second.Cached)

	third, err := s.Translate(ctx, "Hello neighbor", "es", "")
	require.NoError(t, err)
	assert.False(t, third.Cached, "a different source language is a different key")

	assert.Equal(t, 2, client.Calls())
}

func TestTranslate_FailureReturnsOfflineText(t *testing.T) {
	s := newService(t, genmock.NewFailingClient(context.DeadlineExceeded), nil)

	got, err := s.Translate(context.Background(), "See you at the park", "es", "en")
	require.NoError(t, err)
	assert.True(t, got.Failed)
	assert.Equal(t, "[ES] See you at the park", got.Text)
	assert.Contains(t, got.Error, "network")
	assert.Equal(t, 0, s.CacheStats()[FeatureTranslations].Size)
}

func TestTranslate_NoClientUsesDictionary(t *testing.T) {
	s := newService(t, nil, nil)

	got, err := s.Translate(context.Background(), "hello neighbor", "es", "en")
	require.NoError(t, err)
	assert.Equal(t, "hola neighbor", got.Text)
	assert.False(t, got.Failed)
	assert.Equal(t, SourceFallback, got.Source)
}

func TestInvalidate(t *testing.T) {
	client := genmock.NewClient("match")
	s := newService(t, client, nil)
	ctx := context.Background()

	other := profile.Profile{ID: "13", Name: "Oz"}
	s.Explain(ctx, viewer, tutor) // 42:99
	s.Explain(ctx, viewer, baker) // 42:77
	s.Explain(ctx, other, baker)  // 13:77

	removed, err := s.Invalidate(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.CacheStats()[FeatureExplanations].Size)

	got, _ := s.Explain(ctx, other, baker)
	assert.True(t, got.Cached, "unrelated entries survive")

	_, err = s.Invalidate(ctx, "")
	assert.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestRequiredSkills(t *testing.T) {
	t.Run("no client uses the table", func(t *testing.T) {
		s := newService(t, nil, nil)

		skills, cached := s.RequiredSkills(context.Background(), "Medical")
		assert.Equal(t, []string{"First Aid", "CPR", "Nursing"}, skills)
		assert.False(t, cached)
	})

	t.Run("generated then cached", func(t *testing.T) {
		client := genmock.NewClient(`["Swimming", "Boat Operation"]`)
		s := newService(t, client, nil)
		ctx := context.Background()

		skills, cached := s.RequiredSkills(ctx, "flood")
		assert.Equal(t, []string{"Swimming", "Boat Operation"}, skills)
		assert.False(t, cached)

		skills, cached = s.RequiredSkills(ctx, "Flood")
		assert.Equal(t, []string{"Swimming", "Boat Operation"}, skills)
		assert.True(t, cached)
		assert.Equal(t, 1, client.Calls())
	})
}

func TestRankResponders(t *testing.T) {
	s := newService(t, nil, nil)

	responders := []Responder{
		{Profile: profile.Profile{ID: "far-medic", SkillsOffered: []profile.Offering{{Name: "first aid"}, {Name: "CPR"}}}, DistanceKm: 15},
		{Profile: profile.Profile{ID: "near-nobody"}, DistanceKm: 1},
		{Profile: profile.Profile{ID: "near-nurse", SkillsOffered: []profile.Offering{{Name: "Nursing"}}}, DistanceKm: 2},
	}

	ranking := s.RankResponders(context.Background(), "medical", responders)

	require.Len(t, ranking.Responders, 3)
	assert.Equal(t, "far-medic", ranking.Responders[0].Profile.ID)
	assert.Equal(t, 20.0, ranking.Responders[0].Score)
	assert.Equal(t, []string{"First Aid", "CPR"}, ranking.Responders[0].MatchedSkills)

	assert.Equal(t, "near-nurse", ranking.Responders[1].Profile.ID)
	assert.Equal(t, 18.0, ranking.Responders[1].Score)

	assert.Equal(t, "near-nobody", ranking.Responders[2].Profile.ID)
	assert.Equal(t, 9.0, ranking.Responders[2].Score)
	assert.Empty(t, ranking.Responders[2].MatchedSkills)
}

func TestSharedTierServesOtherReplicas(t *testing.T) {
	l2 := mock.NewMockLayer("shared")
	ctx := context.Background()

	config := testConfig(nil)
	config.L2 = l2

	first, err := New(generate.NewAdapter(genmock.NewClient("from replica one"), generate.Config{}), config)
	require.NoError(t, err)
	defer first.Close()

	_, err = first.Explain(ctx, viewer, tutor)
	require.NoError(t, err)
	require.NoError(t, first.Flush(time.Second))

	client := genmock.NewClient("from replica two")
	second, err := New(generate.NewAdapter(client, generate.Config{}), config)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Explain(ctx, viewer, tutor)
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.Equal(t, "from replica one", got.Text)
	assert.Equal(t, 0, client.Calls())

	removed, err := second.Invalidate(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, l2.Len())
}

func TestInvalidate_DiscardsPendingSharedWrite(t *testing.T) {
	shared := mock.NewMockLayer("shared")
	l2 := mock.NewMockLayer("slow")
	release := make(chan struct{})
	l2.SetFunc = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
		<-release
		return shared.Set(ctx, key, value, ttl)
	}
	l2.GetFunc = shared.Get
	l2.DeleteFunc = shared.Delete
	l2.DeleteMatchingFunc = shared.DeleteMatching

	var calls atomic.Int32
	client := &genmock.Client{
		CompleteFunc: func(ctx context.Context, req generate.Request) (string, error) {
			if calls.Add(1) == 1 {
				return "Tom used to teach maths.", nil
			}
			return "Tom now teaches physics.", nil
		},
	}

	config := testConfig(nil)
	config.L2 = l2
	s, err := New(generate.NewAdapter(client, generate.Config{Timeout: time.Second}), config)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	first, err := s.Explain(ctx, viewer, tutor)
	require.NoError(t, err)
	require.Equal(t, "Tom used to teach maths.", first.Text)

	// The shared write for the first explanation is still in flight.
	_, err = s.Invalidate(ctx, "99")
	require.NoError(t, err)
	close(release)
	require.NoError(t, s.Flush(time.Second))

	assert.Equal(t, 0, shared.Len(), "invalidated write must not land in the shared tier")

	second, err := s.Explain(ctx, viewer, tutor)
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.Equal(t, "Tom now teaches physics.", second.Text)
	assert.Equal(t, 2, client.Calls())
}
