package processor

import (
	"fmt"
	"time"
)

// Config contains configuration for the cache processor.
type Config struct {
	// PollInterval is the time between store checks.
	// Default: 30 seconds
	PollInterval time.Duration

	// StoreTimeout bounds each store query made by a tick. Zero means the
	// query only ends with the processor's context.
	// Default: 10 seconds
	StoreTimeout time.Duration
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 30 * time.Second,
		StoreTimeout: 10 * time.Second,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.StoreTimeout < 0 {
		return fmt.Errorf("store timeout cannot be negative, got %s", c.StoreTimeout)
	}
	return nil
}
