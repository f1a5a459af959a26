package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "PDP_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention PDP_SECTION_FIELD (e.g., PDP_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Unparseable values are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envInt("SERVER_MAX_HEADER_BYTES", &cfg.Server.MaxHeaderBytes)
	envBool("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	envString("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)
	envString("SERVER_TLS_CLIENT_CA_FILE", &cfg.Server.TLS.ClientCAFile)
	envBool("SERVER_AUTH_ENABLED", &cfg.Server.Auth.Enabled)
	if key := os.Getenv(EnvPrefix + "SERVER_AUTH_API_KEY"); key != "" {
		cfg.Server.Auth.APIKeys = append(cfg.Server.Auth.APIKeys, APIKeyConfig{Name: "env", Key: key})
	}

	// Decision overrides
	envString("DECISION_DEFAULT_MODE", &cfg.Decision.DefaultMode)
	envBool("DECISION_TRACE", &cfg.Decision.Trace)

	// Processor overrides
	envDuration("PROCESSOR_POLL_INTERVAL", &cfg.Processor.PollInterval)
	envDuration("PROCESSOR_STORE_TIMEOUT", &cfg.Processor.StoreTimeout)

	// Store overrides
	envString("STORE_BACKEND", &cfg.Store.Backend)
	envString("STORE_FILE_DIR", &cfg.Store.File.Dir)
	envBool("STORE_FILE_WATCH", &cfg.Store.File.Watch)
	envDuration("STORE_FILE_DEBOUNCE", &cfg.Store.File.Debounce)
	envString("STORE_SQLITE_PATH", &cfg.Store.SQLite.Path)
	envString("STORE_GIT_REPOSITORY", &cfg.Store.Git.Repository)
	envString("STORE_GIT_BRANCH", &cfg.Store.Git.Branch)
	envString("STORE_GIT_LOCAL_PATH", &cfg.Store.Git.LocalPath)
	envString("STORE_GIT_AUTH_TOKEN", &cfg.Store.Git.Auth.Token)
	envString("STORE_GIT_AUTH_SSH_KEY_PASSPHRASE", &cfg.Store.Git.Auth.SSHKeyPassphrase)

	// Endpoint overrides
	envDuration("ENDPOINTS_TIMEOUT", &cfg.Endpoints.Timeout)

	// Signing overrides
	envString("SIGNING_ISSUER", &cfg.Signing.Issuer)
	envString("SIGNING_PRIVATE_KEY_PATH", &cfg.Signing.PrivateKeyPath)

	// Failure overrides
	envString("FAILURES_BACKEND", &cfg.Failures.Backend)
	envString("FAILURES_SQLITE_PATH", &cfg.Failures.SQLite.Path)
	envBool("FAILURES_MONITOR_ENABLED", &cfg.Failures.Monitor.Enabled)
	envString("FAILURES_MONITOR_SCHEDULE", &cfg.Failures.Monitor.Schedule)
	envDuration("FAILURES_MONITOR_MAX_AGE", &cfg.Failures.Monitor.MaxAge)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}
