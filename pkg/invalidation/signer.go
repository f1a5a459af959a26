package invalidation

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
)

const signatureSize = ed25519.SignatureSize

var (
	// ErrEnvelopeTooShort is returned for data too short to hold a
	// signature.
	ErrEnvelopeTooShort = errors.New("invalidation: envelope too short for signature")

	// ErrInvalidSignature is returned when an envelope's signature does
	// not verify.
	ErrInvalidSignature = errors.New("invalidation: invalid Ed25519 signature")

	// ErrUnknownIssuer is returned when no key is registered for an
	// issuer.
	ErrUnknownIssuer = errors.New("invalidation: no key for issuer")
)

// Signer seals messages on behalf of one issuer.
type Signer struct {
	issuer string
	key    ed25519.PrivateKey
}

// NewSigner creates a signer for issuer.
func NewSigner(issuer string, key ed25519.PrivateKey) (*Signer, error) {
	if issuer == "" {
		return nil, fmt.Errorf("signer issuer cannot be empty")
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key has %d bytes, want %d", len(key), ed25519.PrivateKeySize)
	}
	return &Signer{issuer: issuer, key: key}, nil
}

// Issuer returns the entity ID the signer speaks for.
func (s *Signer) Issuer() string { return s.issuer }

// PublicKey returns the verification key matching the signer.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Seal encodes v and appends a signature over the encoding.
func (s *Signer) Seal(v any) ([]byte, error) {
	payload, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	signature := ed25519.Sign(s.key, payload)

	out := make([]byte, len(payload)+signatureSize)
	copy(out, payload)
	copy(out[len(payload):], signature)
	return out, nil
}

// Split separates an envelope into payload and signature without
// verifying it.
func Split(envelope []byte) (payload, signature []byte, err error) {
	if len(envelope) <= signatureSize {
		return nil, nil, ErrEnvelopeTooShort
	}
	at := len(envelope) - signatureSize
	return envelope[:at], envelope[at:], nil
}

// Open verifies envelope with key and decodes its payload into v.
func Open(key ed25519.PublicKey, envelope []byte, v any) error {
	payload, signature, err := Split(envelope)
	if err != nil {
		return err
	}
	if len(key) != ed25519.PublicKeySize || !ed25519.Verify(key, payload, signature) {
		return ErrInvalidSignature
	}
	return Unmarshal(payload, v)
}

// Keyring maps issuers to their verification keys.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PublicKey)}
}

// Add registers key for issuer, replacing any previous key.
func (k *Keyring) Add(issuer string, key ed25519.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[issuer] = key
}

// Lookup returns the key for issuer.
func (k *Keyring) Lookup(issuer string) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[issuer]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownIssuer, issuer)
	}
	return key, nil
}

// Len returns the number of registered issuers.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// OpenResponse decodes a response envelope and verifies it against the
// key registered for the issuer the response names.
func (k *Keyring) OpenResponse(envelope []byte) (*ClearCacheResponse, error) {
	payload, signature, err := Split(envelope)
	if err != nil {
		return nil, err
	}
	var resp ClearCacheResponse
	if err := Unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	key, err := k.Lookup(resp.Issuer)
	if err != nil {
		return nil, err
	}
	if !ed25519.Verify(key, payload, signature) {
		return nil, ErrInvalidSignature
	}
	return &resp, nil
}

// GenerateKey creates a new Ed25519 keypair.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return pub, priv, nil
}

// LoadPrivateKey reads a PKCS#8 PEM encoded Ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", path, err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key %s is %T, want Ed25519", path, parsed)
	}
	return key, nil
}

// LoadPublicKey reads a PKIX PEM encoded Ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", path, err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key %s is %T, want Ed25519", path, parsed)
	}
	return key, nil
}

// EncodePrivateKeyPEM returns the PKCS#8 PEM encoding of key.
func EncodePrivateKeyPEM(key ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM returns the PKIX PEM encoding of key.
func EncodePublicKeyPEM(key ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s does not contain a PEM block", path)
	}
	return block, nil
}
