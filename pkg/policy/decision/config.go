package decision

import (
	"errors"
	"fmt"

	"esoe-hq/pdp/pkg/policy"
)

// ErrInvalidConfig is returned when a decision point configuration is
// rejected.
var ErrInvalidConfig = errors.New("invalid decision point configuration")

// Config contains configuration for the decision point.
type Config struct {
	// DefaultMode is the decision returned when no policy applies to an
	// issuer, or policies apply but no rule produced an outcome.
	// Default: DENY.
	DefaultMode policy.Decision

	// TraceDecisions logs every processed policy and rule at debug level.
	// Default: false.
	TraceDecisions bool
}

// DefaultConfig returns the default decision point configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultMode: policy.Deny,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.DefaultMode {
	case policy.Permit, policy.Deny:
		return nil
	default:
		return fmt.Errorf("%w: default mode %q must be PERMIT or DENY", ErrInvalidConfig, c.DefaultMode)
	}
}

// WithDefaultMode sets the default mode.
func (c *Config) WithDefaultMode(mode policy.Decision) *Config {
	c.DefaultMode = mode
	return c
}

// WithTrace enables or disables debug tracing of each evaluation.
func (c *Config) WithTrace(enabled bool) *Config {
	c.TraceDecisions = enabled
	return c
}
