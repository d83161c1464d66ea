package cache

import (
	"errors"
	"fmt"
	"strings"
)

// Common cache operation errors.
var (
	// ErrKeyNotFound is returned when a requested key does not exist or has expired
	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrInvalidKey is returned when a cache key is invalid (empty, too long, contains control characters)
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrInvalidValue is returned when a value or configuration cannot be accepted
	ErrInvalidValue = errors.New("cache: invalid value")

	// ErrLayerUnavailable is returned when a shared tier is not reachable
	ErrLayerUnavailable = errors.New("cache: layer unavailable")

	// ErrTimeout is returned when a cache operation times out
	ErrTimeout = errors.New("cache: operation timeout")

	// ErrCircuitOpen is returned when the circuit breaker guarding a tier is open
	ErrCircuitOpen = errors.New("cache: circuit breaker open")
)

// IsNotFound reports whether err indicates a miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsInvalidKey reports whether err indicates a rejected key.
func IsInvalidKey(err error) bool {
	return errors.Is(err, ErrInvalidKey)
}

// IsTimeout reports whether err indicates a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnavailable reports whether err indicates the tier is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrLayerUnavailable)
}

// IsCircuitOpen reports whether err indicates an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// ClassifyError returns a short label for err, suitable as a metrics label.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrLayerUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	}

	// Transport errors from the shared tier arrive untyped.
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection", "connect", "dial"):
		return "connection"
	case containsAny(msg, "marshal", "unmarshal", "encode", "decode"):
		return "serialization"
	case containsAny(msg, "redis"):
		return "backend"
	default:
		return "other"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// WrapError wraps an error with the tier name and operation.
func WrapError(err error, layer string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cache layer %s %s: %w", layer, operation, err)
}
