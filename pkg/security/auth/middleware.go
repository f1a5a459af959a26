package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	pdptls "esoe-hq/pdp/pkg/security/tls"
)

// APIKeyHeader is the alternative to a bearer token.
const APIKeyHeader = "X-API-Key"

// Method names how a caller authenticated.
type Method string

const (
	MethodAPIKey      Method = "api_key"
	MethodCertificate Method = "client_certificate"
)

// Caller identifies an authenticated admin API client.
type Caller struct {
	Name   string
	Method Method
}

type contextKey struct{}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// CallerFromContext returns the caller stored by the middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(contextKey{}).(Caller)
	return c, ok
}

// Options configures Middleware.
type Options struct {
	// Keys validates API keys. Nil disables key authentication.
	Keys *Validator

	// AllowClientCertificates accepts a client certificate verified during
	// the TLS handshake.
	AllowClientCertificates bool

	Logger *slog.Logger
}

// Middleware rejects requests that present neither a valid API key nor,
// when allowed, a verified client certificate.
func Middleware(opts Options) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := authenticate(r, opts)
			if !ok {
				logger.WarnContext(r.Context(), "rejected unauthenticated request",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr)
				unauthorized(w)
				return
			}
			logger.DebugContext(r.Context(), "request authenticated",
				"caller", caller.Name,
				"auth_method", string(caller.Method))
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func authenticate(r *http.Request, opts Options) (Caller, bool) {
	if opts.Keys != nil {
		if key := presentedKey(r); key != "" {
			name, ok := opts.Keys.Validate(key)
			return Caller{Name: name, Method: MethodAPIKey}, ok
		}
	}
	if opts.AllowClientCertificates {
		if id := pdptls.ClientIdentity(r); id != "" {
			return Caller{Name: id, Method: MethodCertificate}, true
		}
	}
	return Caller{}, false
}

// presentedKey reads a bearer token, falling back to X-API-Key.
func presentedKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get(APIKeyHeader)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pdpd"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"type":    "unauthorized",
			"message": "missing or invalid credentials",
		},
	})
}
