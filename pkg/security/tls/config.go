package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"esoe-hq/pdp/pkg/config"
)

// NewServerConfig returns a server TLS configuration serving certificates
// from certs.
func NewServerConfig(cfg *config.TLSConfig, certs *Reloader) (*tls.Config, error) {
	if cfg == nil {
		return nil, errors.New("tls config cannot be nil")
	}
	if certs == nil {
		return nil, errors.New("certificate reloader cannot be nil")
	}
	minVersion, err := parseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	tc := &tls.Config{
		MinVersion:     minVersion,
		GetCertificate: certs.GetCertificate,
	}
	if cfg.ClientCAFile == "" {
		return tc, nil
	}

	pool, err := loadCertPool(cfg.ClientCAFile)
	if err != nil {
		return nil, err
	}
	tc.ClientCAs = pool
	switch cfg.ClientAuth {
	case "", "require":
		tc.ClientAuth = tls.RequireAndVerifyClientCert
	case "verify_if_given":
		tc.ClientAuth = tls.VerifyClientCertIfGiven
	default:
		return nil, fmt.Errorf("unsupported client auth %q", cfg.ClientAuth)
	}
	return tc, nil
}

func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", v)
	}
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read client CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
