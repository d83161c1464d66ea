// Package generate turns structured profile and text input into prompts
// for an OpenAI-compatible service and parses what comes back. Failures
// are returned as *Error values tagged with a Kind so callers can fall
// back without inspecting messages.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"neighbor-assist/pkg/fallback"
	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/metrics"
	"neighbor-assist/pkg/profile"
	"neighbor-assist/pkg/resilience"

	"go.uber.org/zap"
)

const (
	// MinTranslateLength is the shortest text, in runes, worth translating
	MinTranslateLength = 2

	// MaxTranslateLength is the longest text, in runes, accepted for translation
	MaxTranslateLength = 5000

	suggestionCount   = fallback.SuggestionCount
	maxRequiredSkills = 8
)

// Config configures an Adapter.
type Config struct {
	// Timeout bounds each upstream call (default 15s)
	Timeout time.Duration

	// Resilience overrides the breaker settings. Its Timeout wins over Timeout.
	Resilience *resilience.Config

	Metrics metrics.Collector
	Logger  *logging.Logger
}

// Adapter runs the generation tasks against a Client behind a circuit
// breaker and timeout.
type Adapter struct {
	client  Client
	breaker *resilience.Breaker
	logger  *logging.Logger
}

// NewAdapter creates an Adapter. client may be nil, in which case every
// task returns ErrNoClient.
func NewAdapter(client Client, config Config) *Adapter {
	if config.Logger == nil {
		config.Logger = logging.Global()
	}

	rc := resilience.GenerationConfig(config.Timeout)
	if config.Resilience != nil {
		rc = *config.Resilience
	}
	if rc.Metrics == nil {
		rc.Metrics = config.Metrics
	}
	if rc.Logger == nil {
		rc.Logger = config.Logger
	}

	return &Adapter{
		client:  client,
		breaker: resilience.NewBreaker("generate", rc),
		logger:  config.Logger.Named("generate"),
	}
}

// Enabled reports whether a client is configured.
func (a *Adapter) Enabled() bool {
	return a != nil && a.client != nil
}

// Breaker returns the breaker guarding upstream calls.
func (a *Adapter) Breaker() *resilience.Breaker {
	return a.breaker
}

// Explain asks why candidate is a good match for viewer.
func (a *Adapter) Explain(ctx context.Context, viewer, candidate profile.Profile) (string, error) {
	reply, err := a.complete(ctx, "explain", Request{
		System:      systemPrompt,
		Prompt:      explainPrompt(viewer, candidate),
		MaxTokens:   120,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}

	text := unquote(reply)
	if text == "" {
		return "", &Error{Kind: KindMalformed, Op: "explain", Err: fmt.Errorf("%w: empty explanation", ErrMalformedOutput)}
	}
	return text, nil
}

// Suggest asks for opening messages from sender to receiver. The result
// always has exactly fallback.SuggestionCount entries: short replies are
// padded with deterministic suggestions. A reply with nothing usable is a
// KindMalformed error.
func (a *Adapter) Suggest(ctx context.Context, sender, receiver profile.Profile, topic string) ([]string, error) {
	reply, err := a.complete(ctx, "suggest", Request{
		System:      systemPrompt,
		Prompt:      suggestPrompt(sender, receiver, topic),
		MaxTokens:   300,
		Temperature: 0.8,
	})
	if err != nil {
		return nil, err
	}

	got := parseList(reply, "suggestions")
	if len(got) == 0 {
		return nil, &Error{Kind: KindMalformed, Op: "suggest", Err: fmt.Errorf("%w: no suggestions in reply", ErrMalformedOutput)}
	}
	if len(got) < suggestionCount {
		a.logger.Debug("padding short suggestion list", zap.Int("received", len(got)))
	}

	return fallback.PadSuggestions(got, sender, receiver, topic), nil
}

// Translate translates text into target. source may be empty or "auto"
// to let the service detect it. Callers are expected to have applied
// CheckTranslation; it is applied again here.
func (a *Adapter) Translate(ctx context.Context, text, source, target string) (string, error) {
	if err := CheckTranslation(text, source, target); err != nil {
		return "", err
	}

	reply, err := a.complete(ctx, "translate", Request{
		Prompt:      translatePrompt(text, source, target),
		MaxTokens:   utf8.RuneCountInString(text)*2 + 64,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}

	translated := unquote(reply)
	if translated == "" {
		return "", &Error{Kind: KindMalformed, Op: "translate", Err: fmt.Errorf("%w: empty translation", ErrMalformedOutput)}
	}
	return translated, nil
}

// RequiredSkills asks which skills help with an emergency type.
func (a *Adapter) RequiredSkills(ctx context.Context, emergencyType string) ([]string, error) {
	reply, err := a.complete(ctx, "required_skills", Request{
		Prompt:      requiredSkillsPrompt(emergencyType),
		MaxTokens:   100,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}

	skills := parseList(reply, "skills")
	if len(skills) == 0 {
		return nil, &Error{Kind: KindMalformed, Op: "required_skills", Err: fmt.Errorf("%w: no skills in reply", ErrMalformedOutput)}
	}
	if len(skills) > maxRequiredSkills {
		skills = skills[:maxRequiredSkills]
	}
	return skills, nil
}

func (a *Adapter) complete(ctx context.Context, op string, req Request) (string, error) {
	if !a.Enabled() {
		return "", ErrNoClient
	}

	reply, err := resilience.Do(ctx, a.breaker, func(ctx context.Context) (string, error) {
		return a.client.Complete(ctx, req)
	})
	if err != nil {
		return "", &Error{Kind: Classify(err), Op: op, Err: err}
	}
	return reply, nil
}

// CheckTranslation validates a translation request before any cache or
// network work. Source may be empty or "auto".
func CheckTranslation(text, source, target string) error {
	if utf8.RuneCountInString(text) > MaxTranslateLength {
		return fmt.Errorf("%w: %d runes, max %d", ErrTextTooLong, utf8.RuneCountInString(text), MaxTranslateLength)
	}
	if !profile.KnownLanguage(target) {
		return fmt.Errorf("%w: target %q", ErrUnsupportedLanguage, target)
	}
	if s := profile.NormalizeLanguage(source); s != "" && s != "auto" && !profile.KnownLanguage(s) {
		return fmt.Errorf("%w: source %q", ErrUnsupportedLanguage, source)
	}
	return nil
}

// TooShort reports whether text is below MinTranslateLength runes once
// surrounding whitespace is removed.
func TooShort(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) < MinTranslateLength
}
