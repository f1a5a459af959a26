package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8480"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultTLSMinVersion   = "1.2"
	DefaultTLSClientAuth   = "require"

	// Decision defaults
	DefaultDecisionMode = "DENY"

	// Processor defaults
	DefaultPollInterval = 30 * time.Second
	DefaultStoreTimeout = 10 * time.Second

	// Store defaults
	DefaultStoreBackend      = "file"
	DefaultStoreDir          = "./policies"
	DefaultStoreDebounce     = 500 * time.Millisecond
	DefaultStoreSQLitePath   = "data/policies.db"
	DefaultSQLiteBusyTimeout = 5 * time.Second
	DefaultGitBranch         = "main"
	DefaultGitLocalPath      = "data/policies-git"
	DefaultGitTimeout        = 30 * time.Second
	DefaultGitAuthType       = "none"

	// Endpoint defaults
	DefaultEndpointTimeout = 10 * time.Second

	// Failure defaults
	DefaultFailuresBackend    = "memory"
	DefaultFailuresSQLitePath = "data/failures.db"
	DefaultMonitorSchedule    = "@every 5m"
	DefaultMonitorMaxAge      = 24 * time.Hour

	// Telemetry defaults
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultPrometheusPath      = "/metrics"
	DefaultMetricsNamespace    = "pdp"
	DefaultTracingSampler      = "ratio"
	DefaultTracingSamplingRate = 1.0
	DefaultTracingServiceName  = "pdpd"
	DefaultOTLPTimeout         = 10 * time.Second
	DefaultLivenessPath        = "/health"
	DefaultReadinessPath       = "/ready"
	DefaultHealthCheckTimeout  = 5 * time.Second
)

// DefaultDecisionDurationBuckets are histogram buckets sized for
// in-memory decisions.
var DefaultDecisionDurationBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Server.TLS.ClientAuth == "" {
		cfg.Server.TLS.ClientAuth = DefaultTLSClientAuth
	}

	// Decision defaults
	if cfg.Decision.DefaultMode == "" {
		cfg.Decision.DefaultMode = DefaultDecisionMode
	}

	// Processor defaults. A negative interval is left for Validate to reject.
	if cfg.Processor.PollInterval == 0 {
		cfg.Processor.PollInterval = DefaultPollInterval
	}
	if cfg.Processor.StoreTimeout == 0 {
		cfg.Processor.StoreTimeout = DefaultStoreTimeout
	}

	applyStoreDefaults(cfg)

	if cfg.Endpoints.Timeout == 0 {
		cfg.Endpoints.Timeout = DefaultEndpointTimeout
	}

	applyFailuresDefaults(cfg)

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Telemetry.Metrics.DecisionDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.DecisionDurationBuckets = append([]float64(nil), DefaultDecisionDurationBuckets...)
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSamplingRate
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.OTLP.Timeout == 0 {
		cfg.Telemetry.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}
	if cfg.Telemetry.Health.LivenessPath == "" {
		cfg.Telemetry.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Telemetry.Health.ReadinessPath == "" {
		cfg.Telemetry.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

func applyStoreDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.File.Dir == "" {
		cfg.Store.File.Dir = DefaultStoreDir
	}
	if cfg.Store.File.Debounce == 0 {
		cfg.Store.File.Debounce = DefaultStoreDebounce
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = DefaultStoreSQLitePath
	}
	if cfg.Store.SQLite.BusyTimeout == 0 {
		cfg.Store.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Store.Git.Branch == "" {
		cfg.Store.Git.Branch = DefaultGitBranch
	}
	if cfg.Store.Git.LocalPath == "" {
		cfg.Store.Git.LocalPath = DefaultGitLocalPath
	}
	if cfg.Store.Git.Timeout == 0 {
		cfg.Store.Git.Timeout = DefaultGitTimeout
	}
	if cfg.Store.Git.Auth.Type == "" {
		cfg.Store.Git.Auth.Type = DefaultGitAuthType
	}
}

func applyFailuresDefaults(cfg *Config) {
	if cfg.Failures.Backend == "" {
		cfg.Failures.Backend = DefaultFailuresBackend
	}
	if cfg.Failures.SQLite.Path == "" {
		cfg.Failures.SQLite.Path = DefaultFailuresSQLitePath
	}
	if cfg.Failures.SQLite.BusyTimeout == 0 {
		cfg.Failures.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Failures.Monitor.Schedule == "" {
		cfg.Failures.Monitor.Schedule = DefaultMonitorSchedule
	}
	if cfg.Failures.Monitor.MaxAge == 0 {
		cfg.Failures.Monitor.MaxAge = DefaultMonitorMaxAge
	}
}
