package main

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"esoe-hq/pdp/pkg/config"
	"esoe-hq/pdp/pkg/endpoints"
	"esoe-hq/pdp/pkg/failures"
	"esoe-hq/pdp/pkg/invalidation"
	"esoe-hq/pdp/pkg/policy/git"
	"esoe-hq/pdp/pkg/policy/store"
	"esoe-hq/pdp/pkg/security/auth"
	"esoe-hq/pdp/pkg/telemetry/tracing"
)

// defaultIssuer names the decision point in cache clear requests when no
// signing issuer is configured.
const defaultIssuer = "pdpd"

type closeFunc func() error

func noopClose() error { return nil }

// openStore opens the configured policy store.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, closeFunc, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.NewSQLiteStore(store.SQLiteStoreConfig{
			Path:        cfg.Store.SQLite.Path,
			BusyTimeout: cfg.Store.SQLite.BusyTimeout,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open policy database: %w", err)
		}
		return s, s.Close, nil
	case "file":
		s, err := store.NewFileStore(cfg.Store.File.Dir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open policy directory: %w", err)
		}
		return s, noopClose, nil
	case "git":
		s, err := git.NewStore(cfg.Store.Git, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure git policy store: %w", err)
		}
		return s, noopClose, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// openFailures opens the configured failure repository.
func openFailures(cfg *config.Config, logger *slog.Logger) (failures.Repository, closeFunc, error) {
	switch cfg.Failures.Backend {
	case "sqlite":
		repo, err := failures.NewSQLiteRepository(failures.SQLiteConfig{
			Path:        cfg.Failures.SQLite.Path,
			BusyTimeout: cfg.Failures.SQLite.BusyTimeout,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open failure repository: %w", err)
		}
		return repo, repo.Close, nil
	case "memory":
		return failures.NewMemoryRepository(), noopClose, nil
	default:
		return nil, nil, fmt.Errorf("unsupported failures backend: %s", cfg.Failures.Backend)
	}
}

// loadSigning loads the signing key and the trusted enforcement point
// keys. Without a configured private key an ephemeral key is generated;
// enforcement points will not be able to verify requests signed with it.
func loadSigning(cfg *config.SigningConfig, logger *slog.Logger) (*invalidation.Signer, *invalidation.Keyring, error) {
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}

	var (
		priv ed25519.PrivateKey
		err  error
	)
	if cfg.PrivateKeyPath == "" {
		logger.Warn("no signing key configured, using an ephemeral key")
		_, priv, err = invalidation.GenerateKey()
	} else {
		priv, err = invalidation.LoadPrivateKey(cfg.PrivateKeyPath)
	}
	if err != nil {
		return nil, nil, err
	}
	signer, err := invalidation.NewSigner(issuer, priv)
	if err != nil {
		return nil, nil, err
	}

	keyring := invalidation.NewKeyring()
	for entity, path := range cfg.TrustedKeys {
		pub, err := invalidation.LoadPublicKey(path)
		if err != nil {
			return nil, nil, fmt.Errorf("trusted key for %s: %w", entity, err)
		}
		keyring.Add(entity, pub)
	}
	if keyring.Len() == 0 {
		logger.Warn("no trusted enforcement point keys configured, every cache clear response will be rejected")
	}
	return signer, keyring, nil
}

// newNotifier wires the cache clear exchange. source supplies the policies
// each request is derived from; tracer instruments the outgoing HTTP
// calls.
func newNotifier(cfg *config.Config, source invalidation.PolicySource, tracer *tracing.Tracer, logger *slog.Logger) (*invalidation.Notifier, error) {
	signer, keyring, err := loadSigning(&cfg.Signing, logger)
	if err != nil {
		return nil, err
	}
	builder, err := invalidation.NewBuilder(source, signer.Issuer(), nil)
	if err != nil {
		return nil, err
	}
	transport := invalidation.NewHTTPTransport(cfg.Endpoints.Timeout,
		otelhttp.WithTracerProvider(tracer.Provider()),
		otelhttp.WithPropagators(tracer.Propagator()),
	)
	return invalidation.NewNotifier(builder, signer, keyring, transport, logger)
}

func newDirectory(cfg *config.Config) (*endpoints.StaticDirectory, error) {
	dir, err := endpoints.NewStaticDirectory(cfg.Endpoints.Descriptors)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint directory: %w", err)
	}
	return dir, nil
}

// newAPIAuth builds the middleware guarding the /v1 routes.
func newAPIAuth(cfg *config.AuthConfig, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	keys, err := auth.NewValidator(cfg.APIKeys)
	if err != nil {
		return nil, fmt.Errorf("invalid api keys: %w", err)
	}
	opts := auth.Options{
		AllowClientCertificates: cfg.AllowClientCertificates,
		Logger:                  logger,
	}
	if keys.Len() > 0 {
		opts.Keys = keys
	}
	return auth.Middleware(opts), nil
}
