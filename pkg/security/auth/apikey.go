// Package auth authenticates callers of the admin API.
//
// Keys are held as BLAKE3 digests and compared in constant time against
// every configured key, so neither the key material nor the position of a
// match leaks through timing.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"esoe-hq/pdp/pkg/config"
)

type apiKey struct {
	name   string
	digest [32]byte
}

// Validator checks presented API keys.
type Validator struct {
	keys []apiKey
}

// NewValidator builds a validator from configured keys. Names must be
// unique and keys non-empty.
func NewValidator(keys []config.APIKeyConfig) (*Validator, error) {
	v := &Validator{keys: make([]apiKey, 0, len(keys))}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k.Name == "" {
			return nil, errors.New("api key name cannot be empty")
		}
		if k.Key == "" {
			return nil, fmt.Errorf("api key %q is empty", k.Name)
		}
		if seen[k.Name] {
			return nil, fmt.Errorf("duplicate api key name %q", k.Name)
		}
		seen[k.Name] = true
		v.keys = append(v.keys, apiKey{name: k.Name, digest: blake3.Sum256([]byte(k.Key))})
	}
	return v, nil
}

// Len returns the number of configured keys.
func (v *Validator) Len() int {
	return len(v.keys)
}

// Validate returns the name of the key matching presented.
func (v *Validator) Validate(presented string) (string, bool) {
	if presented == "" {
		return "", false
	}
	digest := blake3.Sum256([]byte(presented))

	var name string
	for _, k := range v.keys {
		if subtle.ConstantTimeCompare(digest[:], k.digest[:]) == 1 {
			name = k.name
		}
	}
	return name, name != ""
}
