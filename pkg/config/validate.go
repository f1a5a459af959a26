package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDecision(&cfg.Decision)...)
	errs = append(errs, validateProcessor(&cfg.Processor)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateEndpoints(&cfg.Endpoints)...)
	errs = append(errs, validateSigning(&cfg.Signing)...)
	errs = append(errs, validateFailures(&cfg.Failures)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}

	errs = append(errs, validateTLS(&cfg.TLS)...)
	errs = append(errs, validateAuth(&cfg.Auth, &cfg.TLS)...)

	return errs
}

func validateTLS(cfg *TLSConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}
	var errs []FieldError

	if cfg.CertFile == "" {
		errs = append(errs, FieldError{
			Field:   "server.tls.cert_file",
			Message: "certificate file is required when TLS is enabled",
		})
	}
	if cfg.KeyFile == "" {
		errs = append(errs, FieldError{
			Field:   "server.tls.key_file",
			Message: "key file is required when TLS is enabled",
		})
	}
	if cfg.MinVersion != "1.2" && cfg.MinVersion != "1.3" {
		errs = append(errs, FieldError{
			Field:   "server.tls.min_version",
			Message: fmt.Sprintf("invalid TLS version %q: must be '1.2' or '1.3'", cfg.MinVersion),
		})
	}
	if cfg.ClientAuth != "require" && cfg.ClientAuth != "verify_if_given" {
		errs = append(errs, FieldError{
			Field:   "server.tls.client_auth",
			Message: fmt.Sprintf("invalid client auth %q: must be 'require' or 'verify_if_given'", cfg.ClientAuth),
		})
	}

	return errs
}

func validateAuth(cfg *AuthConfig, tlsCfg *TLSConfig) []FieldError {
	var errs []FieldError

	certAuth := cfg.AllowClientCertificates && tlsCfg.Enabled && tlsCfg.ClientCAFile != ""
	if cfg.AllowClientCertificates && !certAuth {
		errs = append(errs, FieldError{
			Field:   "server.auth.allow_client_certificates",
			Message: "client certificates require TLS with a client CA file",
		})
	}
	if cfg.Enabled && len(cfg.APIKeys) == 0 && !certAuth {
		errs = append(errs, FieldError{
			Field:   "server.auth.api_keys",
			Message: "at least one API key is required when authentication is enabled",
		})
	}

	names := make(map[string]bool, len(cfg.APIKeys))
	for i, k := range cfg.APIKeys {
		field := fmt.Sprintf("server.auth.api_keys[%d]", i)
		if k.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "key name is required"})
		} else if names[k.Name] {
			errs = append(errs, FieldError{Field: field + ".name", Message: fmt.Sprintf("duplicate key name %q", k.Name)})
		}
		names[k.Name] = true
		if k.Key == "" {
			errs = append(errs, FieldError{Field: field + ".key", Message: "key cannot be empty"})
		}
	}

	return errs
}

func validateDecision(cfg *DecisionConfig) []FieldError {
	switch cfg.DefaultMode {
	case "PERMIT", "DENY":
		return nil
	default:
		return []FieldError{{
			Field:   "decision.default_mode",
			Message: fmt.Sprintf("invalid default mode %q: must be 'PERMIT' or 'DENY'", cfg.DefaultMode),
		}}
	}
}

func validateProcessor(cfg *ProcessorConfig) []FieldError {
	var errs []FieldError

	if cfg.PollInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "processor.poll_interval",
			Message: "poll interval must be positive",
		})
	}
	if cfg.StoreTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "processor.store_timeout",
			Message: "store timeout must be non-negative",
		})
	}

	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "file":
		if cfg.File.Dir == "" {
			errs = append(errs, FieldError{
				Field:   "store.file.dir",
				Message: "policy directory is required for the file backend",
			})
		}
		if cfg.File.Debounce < 0 {
			errs = append(errs, FieldError{
				Field:   "store.file.debounce",
				Message: "debounce must be non-negative",
			})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "store.sqlite.path",
				Message: "database path is required for the sqlite backend",
			})
		}
	case "git":
		errs = append(errs, validateGitStore(&cfg.Git)...)
	default:
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid store backend %q: must be 'file', 'sqlite' or 'git'", cfg.Backend),
		})
	}

	return errs
}

func validateGitStore(cfg *GitStoreConfig) []FieldError {
	var errs []FieldError

	if cfg.Repository == "" {
		errs = append(errs, FieldError{
			Field:   "store.git.repository",
			Message: "repository is required for the git backend",
		})
	}
	if cfg.Branch == "" {
		errs = append(errs, FieldError{
			Field:   "store.git.branch",
			Message: "branch is required for the git backend",
		})
	}
	if cfg.LocalPath == "" {
		errs = append(errs, FieldError{
			Field:   "store.git.local_path",
			Message: "local path is required for the git backend",
		})
	}
	if filepath.IsAbs(cfg.Path) || strings.HasPrefix(filepath.Clean(cfg.Path), "..") {
		errs = append(errs, FieldError{
			Field:   "store.git.path",
			Message: fmt.Sprintf("policy path %q must be relative to the repository root", cfg.Path),
		})
	}
	if cfg.Depth < 0 {
		errs = append(errs, FieldError{
			Field:   "store.git.depth",
			Message: "depth must be non-negative",
		})
	}
	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "store.git.timeout",
			Message: "timeout must be non-negative",
		})
	}

	switch cfg.Auth.Type {
	case "none":
	case "token":
		if cfg.Auth.Token == "" {
			errs = append(errs, FieldError{
				Field:   "store.git.auth.token",
				Message: "token is required for token authentication",
			})
		}
	case "ssh":
		if cfg.Auth.SSHKeyPath == "" {
			errs = append(errs, FieldError{
				Field:   "store.git.auth.ssh_key_path",
				Message: "ssh key path is required for ssh authentication",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "store.git.auth.type",
			Message: fmt.Sprintf("invalid auth type %q: must be 'none', 'token' or 'ssh'", cfg.Auth.Type),
		})
	}

	return errs
}

func validateEndpoints(cfg *EndpointsConfig) []FieldError {
	var errs []FieldError

	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "endpoints.timeout",
			Message: "timeout must be positive",
		})
	}

	for descriptor, eps := range cfg.Descriptors {
		if descriptor == "" {
			errs = append(errs, FieldError{
				Field:   "endpoints.descriptors",
				Message: "descriptor ID cannot be empty",
			})
			continue
		}
		for idx, raw := range eps {
			field := fmt.Sprintf("endpoints.descriptors[%s][%d]", descriptor, idx)
			if idx < 0 {
				errs = append(errs, FieldError{Field: field, Message: "endpoint index must be non-negative"})
			}
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = append(errs, FieldError{
					Field:   field,
					Message: fmt.Sprintf("invalid endpoint URL %q: must be an absolute http(s) URL", raw),
				})
			}
		}
	}

	return errs
}

func validateSigning(cfg *SigningConfig) []FieldError {
	var errs []FieldError

	if cfg.PrivateKeyPath != "" && cfg.Issuer == "" {
		errs = append(errs, FieldError{
			Field:   "signing.issuer",
			Message: "issuer is required when a private key is configured",
		})
	}
	for issuer, path := range cfg.TrustedKeys {
		if path == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("signing.trusted_keys[%s]", issuer),
				Message: "public key path cannot be empty",
			})
		}
	}

	return errs
}

func validateFailures(cfg *FailuresConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "failures.sqlite.path",
				Message: "database path is required for the sqlite backend",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "failures.backend",
			Message: fmt.Sprintf("invalid failures backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	if cfg.Monitor.Enabled {
		if _, err := cron.ParseStandard(cfg.Monitor.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "failures.monitor.schedule",
				Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.Monitor.Schedule, err),
			})
		}
	}
	if cfg.Monitor.MaxAge < 0 {
		errs = append(errs, FieldError{
			Field:   "failures.monitor.max_age",
			Message: "max age must be non-negative",
		})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.Logging.Level == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: "logging level is required",
		})
	} else if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	// Validate logging format
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if cfg.Logging.Format == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: "logging format is required",
		})
	} else if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	// Validate tracing configuration
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	// Validate paths start with /
	if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.liveness_path",
			Message: "liveness path must start with /",
		})
	}
	if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.readiness_path",
			Message: "readiness path must start with /",
		})
	}
	if cfg.Health.CheckTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout must be non-negative",
		})
	}

	return errs
}
