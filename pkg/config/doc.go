// Package config provides configuration management for the policy
// decision point daemon.
//
// This package handles loading, validating, and defaulting configuration
// from YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("pdpd.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("pdpd.yaml")
//
// The loaded *Config is passed explicitly to the constructors that need
// it. There is no package level instance.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention PDP_SECTION_FIELD.
// For example:
//
//   - PDP_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - PDP_PROCESSOR_POLL_INTERVAL overrides processor.poll_interval
//   - PDP_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Validation
//
// Validation errors are collected and reported together with field paths:
//
//	configuration validation failed with 2 errors:
//	  - decision.default_mode: invalid default mode "MAYBE": must be 'PERMIT' or 'DENY'
//	  - processor.poll_interval: poll interval must be positive
//
// # Example Configuration
//
//	server:
//	  listen_address: "127.0.0.1:8480"
//
//	decision:
//	  default_mode: "DENY"
//
//	processor:
//	  poll_interval: "30s"
//
//	store:
//	  backend: "file"
//	  file:
//	    dir: "/etc/pdp/policies"
//	    watch: true
//
//	endpoints:
//	  descriptors:
//	    "https://spep.example.org/spep":
//	      0: "https://spep.example.org/spep/authz/cache"
//
//	signing:
//	  issuer: "https://pdp.example.org"
//	  private_key_path: "/etc/pdp/pdp.key"
//	  trusted_keys:
//	    "https://spep.example.org/spep": "/etc/pdp/spep.pub"
//
//	failures:
//	  backend: "sqlite"
//	  sqlite:
//	    path: "/var/lib/pdp/failures.db"
//
// A Git repository can replace the directory. The token is best supplied
// through PDP_STORE_GIT_AUTH_TOKEN:
//
//	store:
//	  backend: "git"
//	  git:
//	    repository: "https://git.example.org/iam/policies.git"
//	    branch: "main"
//	    path: "pdp"
//	    auth:
//	      type: "token"
package config
