package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

const (
	// MaxKeyLength bounds every key accepted by a cache tier.
	MaxKeyLength = 250

	// PairSeparator joins the two identifiers of a pair key.
	PairSeparator = ":"
)

// ValidateKey checks if a cache key is valid.
//
// Rules:
// - Non-empty string
// - Maximum length of 250 bytes
// - No control characters
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}

	return nil
}

// PairKey builds the key for a directional pair of participants.
// Order is significant: PairKey(a, b) != PairKey(b, a).
//
// Match explanations put the viewer first; message suggestions put the
// sender first.
func PairKey(first, second string) (string, error) {
	if first == "" || second == "" {
		return "", fmt.Errorf("%w: pair key needs two identifiers", ErrInvalidKey)
	}

	key := first + PairSeparator + second
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// ContentKey derives a fixed-length key from free text and a language pair.
// Each field is length-prefixed before hashing, so no choice of text can
// shift bytes from one field into another, and arbitrarily long text still
// yields a bounded key.
func ContentKey(feature, text, sourceLang, targetLang string) string {
	h := sha256.New()
	var size [8]byte
	for _, field := range []string{feature, text, sourceLang, targetLang} {
		binary.BigEndian.PutUint64(size[:], uint64(len(field)))
		h.Write(size[:])
		h.Write([]byte(field))
	}

	return feature + PairSeparator + hex.EncodeToString(h.Sum(nil))
}
