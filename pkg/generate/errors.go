package generate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"neighbor-assist/pkg/resilience"

	"github.com/sashabaranov/go-openai"
)

var (
	// ErrNoClient is returned when no generative client is configured.
	// It is an expected state, answered with fallback output.
	ErrNoClient = errors.New("generate: no client configured")

	// ErrTextTooLong is returned for text over MaxTranslateLength runes
	ErrTextTooLong = errors.New("generate: text too long")

	// ErrUnsupportedLanguage is returned for a language code outside the table
	ErrUnsupportedLanguage = errors.New("generate: unsupported language")

	// ErrMalformedOutput is returned when nothing usable could be parsed
	// from the upstream reply
	ErrMalformedOutput = errors.New("generate: malformed output")
)

// Kind classifies an upstream failure.
type Kind int

const (
	// KindUnknown is any failure not covered below
	KindUnknown Kind = iota
	// KindCredential means the upstream rejected our credentials
	KindCredential
	// KindQuota means the upstream rate limit or quota was exceeded
	KindQuota
	// KindNetwork covers transport errors, timeouts and an open breaker
	KindNetwork
	// KindMalformed means the reply could not be parsed
	KindMalformed
)

// String returns the category label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindCredential:
		return "credential"
	case KindQuota:
		return "quota"
	case KindNetwork:
		return "network"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a classified upstream failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generate %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, classifying it if it is not
// already an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// Classify derives a Kind from a raw transport error. It inspects typed
// errors only.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := classifyStatus(apiErr.HTTPStatusCode); ok {
			return kind
		}
		if apiErr.Code == "insufficient_quota" {
			return KindQuota
		}
		return KindUnknown
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if kind, ok := classifyStatus(reqErr.HTTPStatusCode); ok {
			return kind
		}
		return KindNetwork
	}

	if errors.Is(err, ErrMalformedOutput) {
		return KindMalformed
	}

	if errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, resilience.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	return KindUnknown
}

func classifyStatus(status int) (Kind, bool) {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindCredential, true
	case status == http.StatusTooManyRequests:
		return KindQuota, true
	case status == http.StatusRequestTimeout, status >= 500:
		return KindNetwork, true
	default:
		return KindUnknown, false
	}
}

// IsValidation reports whether err is a local validation failure that
// callers should surface instead of falling back.
func IsValidation(err error) bool {
	return errors.Is(err, ErrTextTooLong) || errors.Is(err, ErrUnsupportedLanguage)
}
