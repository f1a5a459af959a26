package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"
)

// ExpiryWarning is how close to expiry a loaded certificate is logged at
// warn level.
const ExpiryWarning = 30 * 24 * time.Hour

// loadKeyPair loads and parses a certificate and key, rejecting a leaf
// outside its validity window.
func loadKeyPair(certFile, keyFile string, now time.Time) (*tls.Certificate, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}
	if pair.Leaf == nil {
		if pair.Leaf, err = x509.ParseCertificate(pair.Certificate[0]); err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
	}
	if err := checkValidity(pair.Leaf, now); err != nil {
		return nil, err
	}
	return &pair, nil
}

func checkValidity(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate %q is not valid before %s",
			cert.Subject.CommonName, cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate %q expired at %s",
			cert.Subject.CommonName, cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// ClientIdentity returns the common name of the request's verified client
// certificate, falling back to its first DNS name. Certificates the
// handshake did not verify are ignored.
func ClientIdentity(r *http.Request) string {
	if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 || len(r.TLS.VerifiedChains[0]) == 0 {
		return ""
	}
	leaf := r.TLS.VerifiedChains[0][0]
	if leaf.Subject.CommonName != "" {
		return leaf.Subject.CommonName
	}
	if len(leaf.DNSNames) > 0 {
		return leaf.DNSNames[0]
	}
	return ""
}
