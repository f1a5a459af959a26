package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg Config
}

// NewTestConfig creates a new ConfigBuilder with sensible defaults for testing.
// The resulting configuration is valid and can be used immediately.
func NewTestConfig() *ConfigBuilder {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.Signing.Issuer = "https://pdp.example.org"
	return &ConfigBuilder{cfg: cfg}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return &b.cfg
}

// WithListenAddress sets the server listen address.
func (b *ConfigBuilder) WithListenAddress(addr string) *ConfigBuilder {
	b.cfg.Server.ListenAddress = addr
	return b
}

// WithDefaultMode sets the decision default mode.
func (b *ConfigBuilder) WithDefaultMode(mode string) *ConfigBuilder {
	b.cfg.Decision.DefaultMode = mode
	return b
}

// WithPollInterval sets the processor poll interval.
func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.cfg.Processor.PollInterval = d
	return b
}

// WithSQLiteStore selects the sqlite policy store.
func (b *ConfigBuilder) WithSQLiteStore(path string) *ConfigBuilder {
	b.cfg.Store.Backend = "sqlite"
	b.cfg.Store.SQLite.Path = path
	return b
}

// WithEndpoint registers a cache clear endpoint.
func (b *ConfigBuilder) WithEndpoint(descriptor string, index int, url string) *ConfigBuilder {
	if b.cfg.Endpoints.Descriptors == nil {
		b.cfg.Endpoints.Descriptors = make(map[string]map[int]string)
	}
	if b.cfg.Endpoints.Descriptors[descriptor] == nil {
		b.cfg.Endpoints.Descriptors[descriptor] = make(map[int]string)
	}
	b.cfg.Endpoints.Descriptors[descriptor][index] = url
	return b
}

// WithFailureMonitor enables the failure monitor with schedule.
func (b *ConfigBuilder) WithFailureMonitor(schedule string) *ConfigBuilder {
	b.cfg.Failures.Monitor.Enabled = true
	b.cfg.Failures.Monitor.Schedule = schedule
	return b
}

// WithLogLevel sets the logging level.
func (b *ConfigBuilder) WithLogLevel(level string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	return b
}
