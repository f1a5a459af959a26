package policy

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParsePolicySet decodes a YAML policy document. JSON documents are
// accepted as well since JSON is a subset of YAML. Effects are normalized
// to upper case so "permit" and "PERMIT" are equivalent.
func ParsePolicySet(data []byte) (*PolicySet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var ps PolicySet
	if err := dec.Decode(&ps); err != nil {
		return nil, fmt.Errorf("failed to decode policy set: %w", err)
	}

	for i := range ps.Policies {
		for j := range ps.Policies[i].Rules {
			r := &ps.Policies[i].Rules[j]
			r.Effect = Effect(strings.ToUpper(strings.TrimSpace(string(r.Effect))))
		}
	}

	return &ps, nil
}

// MarshalPolicySet encodes a policy set as a YAML document.
func MarshalPolicySet(ps *PolicySet) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ps); err != nil {
		return nil, fmt.Errorf("failed to encode policy set %q: %w", ps.DescriptorID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
