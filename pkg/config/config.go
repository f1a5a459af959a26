package config

import "time"

// Config is the root configuration structure for the policy decision point.
// It contains all configuration sections for the admin server, decision
// point, cache processor, policy store, endpoint directory, signing keys,
// failure tracking and telemetry.
type Config struct {
	// Server contains HTTP admin server configuration including listen
	// address and timeouts.
	Server ServerConfig `yaml:"server"`

	// Decision contains decision point configuration.
	Decision DecisionConfig `yaml:"decision"`

	// Processor contains cache processor configuration.
	Processor ProcessorConfig `yaml:"processor"`

	// Store selects and configures the authoritative policy store.
	Store StoreConfig `yaml:"store"`

	// Endpoints maps enforcement point descriptors to their cache clear
	// endpoints.
	Endpoints EndpointsConfig `yaml:"endpoints"`

	// Signing contains the decision point's signing key and the keys of
	// the enforcement points it trusts.
	Signing SigningConfig `yaml:"signing"`

	// Failures configures the failure repository and retry monitor.
	Failures FailuresConfig `yaml:"failures"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP admin server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8480", "0.0.0.0:8480").
	// Default: "127.0.0.1:8480"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown of the server.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// TLS serves the admin API over HTTPS.
	TLS TLSConfig `yaml:"tls"`

	// Auth protects the /v1 routes. Health, readiness, version and
	// metrics stay open.
	Auth AuthConfig `yaml:"auth"`
}

// TLSConfig configures HTTPS for the admin server. Certificate and key
// files are reloaded when they change on disk.
type TLSConfig struct {
	// Enabled turns on HTTPS.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the PEM encoded certificate chain.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the PEM encoded private key.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the lowest accepted protocol version.
	// Options: "1.2", "1.3"
	// Default: "1.2"
	MinVersion string `yaml:"min_version"`

	// ClientCAFile enables client certificate verification against the
	// CAs it holds.
	ClientCAFile string `yaml:"client_ca_file"`

	// ClientAuth controls whether a client certificate is mandatory when
	// ClientCAFile is set.
	// Options: "require", "verify_if_given"
	// Default: "require"
	ClientAuth string `yaml:"client_auth"`
}

// AuthConfig configures admin API authentication.
type AuthConfig struct {
	// Enabled requires every /v1 request to authenticate.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// APIKeys are the accepted keys, sent as "Authorization: Bearer <key>"
	// or "X-API-Key: <key>".
	APIKeys []APIKeyConfig `yaml:"api_keys"`

	// AllowClientCertificates accepts a verified TLS client certificate in
	// place of an API key.
	// Default: false
	AllowClientCertificates bool `yaml:"allow_client_certificates"`
}

// APIKeyConfig is one accepted API key.
type APIKeyConfig struct {
	// Name identifies the caller in logs.
	Name string `yaml:"name"`

	// Key is the secret. PDP_SERVER_AUTH_API_KEY adds a key named "env".
	Key string `yaml:"key"`
}

// DecisionConfig contains configuration for the decision point.
type DecisionConfig struct {
	// DefaultMode is the decision returned when no policy yields an
	// outcome.
	// Options: "PERMIT", "DENY"
	// Default: "DENY"
	DefaultMode string `yaml:"default_mode"`

	// Trace logs every processed policy and rule at debug level.
	// Default: false
	Trace bool `yaml:"trace"`
}

// ProcessorConfig contains configuration for the cache processor.
type ProcessorConfig struct {
	// PollInterval is the time between policy store checks.
	// Default: 30s
	PollInterval time.Duration `yaml:"poll_interval"`

	// StoreTimeout bounds each store query.
	// Default: 10s
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// StoreConfig selects the policy store.
type StoreConfig struct {
	// Backend is the store type.
	// Options: "file", "sqlite", "git"
	// Default: "file"
	Backend string `yaml:"backend"`

	// File configures the directory store.
	File FileStoreConfig `yaml:"file"`

	// SQLite configures the database store.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Git configures a store that tracks a branch of a Git repository.
	Git GitStoreConfig `yaml:"git"`
}

// GitStoreConfig configures the Git-backed policy store. The branch is
// pulled on every processor poll and the policy documents under Path are
// read the same way the file backend reads a directory.
type GitStoreConfig struct {
	// Repository is the clone URL or a local path.
	Repository string `yaml:"repository"`

	// Branch is the branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path is the directory within the repository holding policy
	// documents. Empty means the repository root.
	Path string `yaml:"path"`

	// LocalPath is where the repository is cloned.
	// Default: "data/policies-git"
	LocalPath string `yaml:"local_path"`

	// Depth limits clone history. Zero clones the full history.
	Depth int `yaml:"depth"`

	// Timeout bounds each clone or pull.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// Auth holds the repository credentials.
	Auth GitAuthConfig `yaml:"auth"`
}

// GitAuthConfig contains Git repository credentials.
type GitAuthConfig struct {
	// Type selects the authentication method.
	// Options: "none", "token", "ssh"
	// Default: "none"
	Type string `yaml:"type"`

	// Token is an HTTPS access token. Prefer PDP_STORE_GIT_AUTH_TOKEN.
	Token string `yaml:"token"`

	// SSHKeyPath is the private key used for SSH URLs.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase decrypts SSHKeyPath when it is encrypted.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// FileStoreConfig configures a directory of policy documents.
type FileStoreConfig struct {
	// Dir is the directory holding policy documents.
	// Default: "./policies"
	Dir string `yaml:"dir"`

	// Watch triggers an immediate cache processor tick when documents
	// change.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce is the quiet period before a burst of file events triggers
	// a tick.
	// Default: 500ms
	Debounce time.Duration `yaml:"debounce"`
}

// SQLiteConfig contains SQLite database configuration.
type SQLiteConfig struct {
	// Path is the file path to the SQLite database.
	Path string `yaml:"path"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// EndpointsConfig configures cache clear endpoint resolution.
type EndpointsConfig struct {
	// Timeout is the per-request timeout for cache clear delivery.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// Descriptors maps a descriptor ID to its endpoints keyed by index.
	//
	//	descriptors:
	//	  "https://spep.example.org/spep":
	//	    0: "https://spep.example.org/spep/authz/cache"
	Descriptors map[string]map[int]string `yaml:"descriptors"`
}

// SigningConfig contains the keys used to sign cache clear requests and
// verify their responses.
type SigningConfig struct {
	// Issuer is the entity ID placed in outgoing requests.
	Issuer string `yaml:"issuer"`

	// PrivateKeyPath is a PKCS#8 PEM encoded Ed25519 private key.
	PrivateKeyPath string `yaml:"private_key_path"`

	// TrustedKeys maps an enforcement point entity ID to the path of its
	// PKIX PEM encoded Ed25519 public key.
	TrustedKeys map[string]string `yaml:"trusted_keys"`
}

// FailuresConfig configures failure tracking.
type FailuresConfig struct {
	// Backend is the repository type.
	// Options: "memory", "sqlite"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLite configures the persistent repository.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Monitor configures scheduled retries of recorded failures.
	Monitor MonitorConfig `yaml:"monitor"`
}

// MonitorConfig configures the failure retry monitor.
type MonitorConfig struct {
	// Enabled turns on scheduled retries.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor.
	// Default: "@every 5m"
	Schedule string `yaml:"schedule"`

	// MaxAge drops records older than this without retrying them.
	// Default: 24h
	MaxAge time.Duration `yaml:"max_age"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactAttributes replaces principal attribute values and request
	// payloads in log entries.
	// Default: false
	RedactAttributes bool `yaml:"redact_attributes"`

	// RedactPatterns contains additional redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and exposed.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "pdp"
	Namespace string `yaml:"namespace"`

	// DecisionDurationBuckets defines histogram buckets for decision
	// latency in seconds.
	// Default: [0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01]
	DecisionDurationBuckets []float64 `yaml:"decision_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "pdpd"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for the OTLP connection.
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
