package cache

import "time"

// LayerConfig holds TTL policy for a shared tier.
type LayerConfig struct {
	// Name is the identifier for this tier (e.g. "explanations-L2")
	Name string

	// DefaultTTL applies when a write does not carry its own TTL
	DefaultTTL time.Duration

	// MaxTTL caps every write; 0 means uncapped
	MaxTTL time.Duration

	// Enabled indicates whether this tier is active.
	// Disabled tiers are skipped by the chain.
	Enabled bool
}

// Validate checks if the configuration is valid.
func (c *LayerConfig) Validate() error {
	if c.Name == "" {
		return ErrInvalidValue
	}

	if c.DefaultTTL < 0 || c.MaxTTL < 0 {
		return ErrInvalidValue
	}

	if c.MaxTTL > 0 && c.DefaultTTL > c.MaxTTL {
		return ErrInvalidValue
	}

	return nil
}

// EffectiveTTL returns the TTL to use for a write requesting ttl.
// If ttl is 0, returns DefaultTTL.
// If ttl exceeds MaxTTL, returns MaxTTL.
func (c *LayerConfig) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.DefaultTTL
	}

	if c.MaxTTL > 0 && ttl > c.MaxTTL {
		return c.MaxTTL
	}

	return ttl
}
