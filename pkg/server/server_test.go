package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"esoe-hq/pdp/pkg/config"
	"esoe-hq/pdp/pkg/failures"
	"esoe-hq/pdp/pkg/policy"
	"esoe-hq/pdp/pkg/policy/decision"
	dtrace "esoe-hq/pdp/pkg/policy/trace"
	"esoe-hq/pdp/pkg/processor"
	"esoe-hq/pdp/pkg/security/auth"
	pdptls "esoe-hq/pdp/pkg/security/tls"
	"esoe-hq/pdp/pkg/telemetry/health"
	"esoe-hq/pdp/pkg/telemetry/logging"
)

type fakeDecider struct {
	mu   sync.Mutex
	last decision.Request
	out  policy.Decision
}

func (f *fakeDecider) Decide(_ context.Context, req decision.Request, dd *dtrace.DecisionData) policy.Decision {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	dd.AddProcessedPolicy("policy-1")
	dd.SetDecisionMessage("decided by fake")
	return f.out
}

type fakeStartup struct {
	result processor.Result
	gotID  string
	gotIdx int
}

func (f *fakeStartup) SpepStartingNotification(_ context.Context, id string, idx int) processor.Result {
	f.gotID, f.gotIdx = id, idx
	return f.result
}

type fixture struct {
	server   *Server
	decider  *fakeDecider
	startup  *fakeStartup
	failures *failures.MemoryRepository
}

func newFixture(t *testing.T, mods ...func(*Options)) *fixture {
	t.Helper()

	cfg := &config.ServerConfig{ListenAddress: "127.0.0.1:0", ShutdownTimeout: time.Second}
	f := &fixture{
		decider:  &fakeDecider{out: policy.Permit},
		startup:  &fakeStartup{result: processor.Success},
		failures: failures.NewMemoryRepository(),
	}

	checker := health.New(time.Second)
	checker.RegisterCheck("always", func(context.Context) error { return nil })

	opts := Options{
		Config:    cfg,
		Decisions: f.decider,
		Startup:   f.startup,
		Failures:  f.failures,
		Health:    checker,
		HealthConfig: config.HealthConfig{
			LivenessPath:  config.DefaultLivenessPath,
			ReadinessPath: config.DefaultReadinessPath,
		},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "pdp_up 1\n")
		}),
		Version: "test",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, mod := range mods {
		mod(&opts)
	}
	srv, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.server = srv
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Decisions: &fakeDecider{}}); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(Options{Config: &config.ServerConfig{}}); err == nil {
		t.Error("expected error for nil decision maker")
	}
}

func TestHandleDecision(t *testing.T) {
	f := newFixture(t)

	body := `{"issuer":"spep-1","resource":"/docs/a","action":"read","attributes":{"uid":["alice"]}}`
	rec := f.do(t, http.MethodPost, "/v1/decisions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp DecisionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Decision != policy.Permit {
		t.Errorf("decision = %q, want PERMIT", resp.Decision)
	}
	if resp.Trace.Message != "decided by fake" {
		t.Errorf("trace message = %q", resp.Trace.Message)
	}
	if len(resp.Trace.ProcessedPolicies) != 1 {
		t.Errorf("processed policies = %v", resp.Trace.ProcessedPolicies)
	}

	f.decider.mu.Lock()
	got := f.decider.last
	f.decider.mu.Unlock()
	if got.Issuer != "spep-1" || got.Resource != "/docs/a" || got.Attributes["uid"][0] != "alice" {
		t.Errorf("request not passed through: %+v", got)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected request ID header")
	}
}

func TestHandleDecision_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{"resource":`, http.StatusBadRequest},
		{"missing resource", `{"issuer":"spep-1"}`, http.StatusBadRequest},
		{"unknown field", `{"resource":"/a","subject":"x"}`, http.StatusBadRequest},
		{"too large", `{"resource":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/decisions", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp.Error.Type == "" {
				t.Error("expected error type")
			}
		})
	}
}

func TestHandleDecision_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/decisions", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleStartup(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/spep/startup", `{"descriptor_id":"spep-1","endpoint_index":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.startup.gotID != "spep-1" || f.startup.gotIdx != 2 {
		t.Errorf("got (%q, %d)", f.startup.gotID, f.startup.gotIdx)
	}
	var resp StartupResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Result != "success" {
		t.Errorf("result = %q", resp.Result)
	}

	f.startup.result = processor.Failure
	rec = f.do(t, http.MethodPost, "/v1/spep/startup", `{"descriptor_id":"spep-1","endpoint_index":0}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/spep/startup", `{"endpoint_index":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestFailuresEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := failures.Record{
		Endpoint:  "https://spep.example.org/cache",
		Request:   []byte("signed-bytes"),
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := f.failures.Add(ctx, rec); err != nil {
		t.Fatal(err)
	}

	res := f.do(t, http.MethodGet, "/v1/failures", "")
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	var list FailuresResponse
	if err := json.Unmarshal(res.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 || len(list.Failures) != 1 {
		t.Fatalf("list = %+v", list)
	}
	entry := list.Failures[0]
	if entry.Endpoint != rec.Endpoint || entry.Digest != rec.Digest() || entry.Size != len(rec.Request) {
		t.Errorf("entry = %+v", entry)
	}
	if bytes.Contains(res.Body.Bytes(), []byte("signed-bytes")) {
		t.Error("listing must not expose request bytes")
	}

	res = f.do(t, http.MethodDelete, "/v1/failures", "")
	if res.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", res.Code)
	}
	if n, _ := f.failures.Size(ctx); n != 0 {
		t.Errorf("size after clear = %d", n)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	f := newFixture(t)

	for path, want := range map[string]int{
		"/health":  http.StatusOK,
		"/ready":   http.StatusOK,
		"/version": http.StatusOK,
		"/metrics": http.StatusOK,
	} {
		if rec := f.do(t, http.MethodGet, path, ""); rec.Code != want {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
		}
	}
	if rec := f.do(t, http.MethodGet, "/metrics", ""); !strings.Contains(rec.Body.String(), "pdp_up") {
		t.Error("metrics handler not mounted")
	}
}

func TestOptionalRoutesOmitted(t *testing.T) {
	srv, err := New(Options{
		Config:    &config.ServerConfig{},
		Decisions: &fakeDecider{out: policy.Deny},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{"/v1/failures", "/health", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}

func TestRequestIDMiddleware_ReusesCallerID(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get(RequestIDHeader) != "abc-123" || seen != "abc-123" {
		t.Errorf("request ID not reused: header=%q", rec.Header().Get(RequestIDHeader))
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("panic value leaked to client")
	}
	if !strings.Contains(buf.String(), "panic in handler") {
		t.Error("panic not logged")
	}
}

func TestLoggingMiddleware_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log: %v (%s)", err, buf.String())
	}
	if entry["level"] != "ERROR" || entry["status"] != float64(http.StatusBadGateway) {
		t.Errorf("log entry = %v", entry)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- f.server.Start(ctx) }()

	select {
	case <-f.server.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	if !f.server.IsRunning() {
		t.Error("expected server to be running")
	}

	resp, err := http.Post("http://"+f.server.Addr()+"/v1/decisions", "application/json",
		strings.NewReader(`{"issuer":"spep-1","resource":"/a"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if f.server.IsRunning() {
		t.Error("expected server to be stopped")
	}
	if err := f.server.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestAPIAuth_ProtectsOnlyV1Routes(t *testing.T) {
	keys, err := auth.NewValidator([]config.APIKeyConfig{{Name: "ops", Key: "ops-secret"}})
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, func(o *Options) {
		o.APIAuth = auth.Middleware(auth.Options{Keys: keys, Logger: o.Logger})
	})

	body := `{"issuer":"spep-1","resource":"/a"}`
	if rec := f.do(t, http.MethodPost, "/v1/decisions", body); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated decision: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/v1/failures", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated clear: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/decisions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer ops-secret")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated decision: status = %d", rec.Code)
	}

	for _, path := range []string{"/health", "/ready", "/version", "/metrics"} {
		if rec := f.do(t, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s: status = %d, want open route", path, rec.Code)
		}
	}
}

// writeServerPair writes a self-signed certificate for 127.0.0.1.
func writeServerPair(t *testing.T) (certFile, keyFile string, pool *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "pdpd"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	certFile = filepath.Join(dir, "tls.crt")
	keyFile = filepath.Join(dir, "tls.key")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	pool = x509.NewCertPool()
	pool.AppendCertsFromPEM(certPEM)
	return certFile, keyFile, pool
}

func TestServer_ServesTLS(t *testing.T) {
	certFile, keyFile, pool := writeServerPair(t)
	certs, err := pdptls.NewReloader(certFile, keyFile, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	defer certs.Close()
	tlsCfg, err := pdptls.NewServerConfig(&config.TLSConfig{MinVersion: "1.3"}, certs)
	if err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, func(o *Options) { o.TLS = tlsCfg })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- f.server.Start(ctx) }()

	select {
	case <-f.server.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS13}},
	}
	resp, err := client.Get("https://" + f.server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET over TLS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.TLS == nil || resp.TLS.Version != tls.VersionTLS13 {
		t.Errorf("expected a TLS 1.3 connection, got %+v", resp.TLS)
	}

	if plain, err := http.Get("http://" + f.server.Addr() + "/health"); err == nil {
		plain.Body.Close()
		if plain.StatusCode != http.StatusBadRequest {
			t.Errorf("plain HTTP to the TLS listener: status = %d", plain.StatusCode)
		}
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Start() error = %v", err)
	}
}
