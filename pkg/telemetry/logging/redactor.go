package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"esoe-hq/pdp/pkg/config"
)

// Redacted replaces the value of a sensitive key.
const Redacted = "[REDACTED]"

// Built-in pattern names.
const (
	PatternEmail       = "email"
	PatternBearerToken = "bearer_token"
	PatternPassword    = "password"
)

// sensitiveKeys are redacted on exact match.
var sensitiveKeys = map[string]bool{
	"attributes":           true,
	"principal_attributes": true,
	"request":              true,
	"signed_request":       true,
	"payload":              true,
	"signature":            true,
}

// sensitiveFragments are redacted when the key contains them.
var sensitiveFragments = []string{"password", "secret", "token", "private_key", "authorization"}

// Redactor removes principal attributes, payloads and secrets from log
// records.
type Redactor struct {
	patterns []*redactPattern
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// NewRedactor creates a Redactor with the built-in patterns followed by
// custom ones. An invalid custom pattern is an error.
func NewRedactor(custom []config.RedactPattern) (*Redactor, error) {
	r := &Redactor{}
	r.add(PatternEmail, `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "***@***")
	r.add(PatternBearerToken, `(?i)bearer\s+[a-zA-Z0-9._~+/=-]+`, "Bearer ***")
	r.add(PatternPassword, `(?i)(password|passwd|pwd)\s*[:=]\s*\S+`, "$1=***")

	for _, p := range custom {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid redact pattern %q: %w", p.Name, err)
		}
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}

	return r, nil
}

func (r *Redactor) add(name, expr, replacement string) {
	r.patterns = append(r.patterns, &redactPattern{
		name:        name,
		regex:       regexp.MustCompile(expr),
		replacement: replacement,
	})
}

// RedactString applies every pattern to s.
func (r *Redactor) RedactString(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr function.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	case slog.KindAny:
		// Errors and Stringers are rendered before pattern matching.
		switch v := a.Value.Any().(type) {
		case error:
			return slog.String(a.Key, r.RedactString(v.Error()))
		case fmt.Stringer:
			return slog.String(a.Key, r.RedactString(v.String()))
		case []byte:
			return slog.String(a.Key, Redacted)
		}
	}
	return a
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if sensitiveKeys[lower] {
		return true
	}
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
