package invalidation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esoe-hq/pdp/internal/speptest"
	"esoe-hq/pdp/pkg/invalidation"
	"esoe-hq/pdp/pkg/policy"
)

const pdpIssuer = "https://pdp.example.org"

type staticSource map[string][]policy.Policy

func (s staticSource) Get(id string) []policy.Policy { return s[id] }

type sequentialIDs struct{ n int }

func (g *sequentialIDs) NewID() string {
	g.n++
	return "_req" + string(rune('0'+g.n))
}

func testPolicies() []policy.Policy {
	return []policy.Policy{
		{
			ID:     "p1",
			Target: policy.Target{Resources: []string{"/a/.*", "/b"}, Actions: []string{"GET"}},
			Rules: []policy.Rule{
				{ID: "r1", Effect: policy.EffectPermit, Target: &policy.Target{Resources: []string{"/a/public"}}},
				{ID: "r2", Effect: policy.EffectDeny},
			},
		},
		{
			ID:     "p2",
			Target: policy.Target{Resources: []string{"/c"}},
			Rules:  []policy.Rule{{ID: "r3", Effect: policy.EffectPermit}},
		},
	}
}

func newSigner(t *testing.T) *invalidation.Signer {
	t.Helper()
	_, priv, err := invalidation.GenerateKey()
	require.NoError(t, err)
	s, err := invalidation.NewSigner(pdpIssuer, priv)
	require.NoError(t, err)
	return s
}

func TestGroupTargets(t *testing.T) {
	got := invalidation.GroupTargets(testPolicies())
	want := []invalidation.GroupTarget{
		{Resource: "/a/.*", AuthzTargets: []string{"/a/public", "/a/.*", "/b"}, Actions: []string{"GET"}},
		{Resource: "/b", AuthzTargets: []string{"/a/public", "/a/.*", "/b"}, Actions: []string{"GET"}},
		{Resource: "/c", AuthzTargets: []string{"/c"}},
	}
	assert.Equal(t, want, got)
}

func TestBuilder_Build(t *testing.T) {
	b, err := invalidation.NewBuilder(staticSource{"spep": testPolicies()}, pdpIssuer, &sequentialIDs{})
	require.NoError(t, err)

	req, err := b.Build("spep", "https://spep/cache", invalidation.ReasonPolicyChange)
	require.NoError(t, err)
	assert.Equal(t, "_req1", req.ID)
	assert.Equal(t, invalidation.Version, req.Version)
	assert.Equal(t, pdpIssuer, req.Issuer)
	assert.Equal(t, "https://spep/cache", req.Destination)
	assert.Equal(t, time.UTC, req.IssueInstant.Location())
	assert.Len(t, req.GroupTargets, 3)

	_, err = b.Build("unknown", "https://spep/cache", "")
	assert.ErrorIs(t, err, invalidation.ErrNoCachedPolicies)
}

func TestUUIDGenerator(t *testing.T) {
	var g invalidation.UUIDGenerator
	a, b := g.NewID(), g.NewID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "_"))
	assert.Len(t, a, 33)
}

func TestSealOpen(t *testing.T) {
	s := newSigner(t)
	req := &invalidation.ClearCacheRequest{
		ID:           "_x",
		Version:      invalidation.Version,
		Issuer:       pdpIssuer,
		IssueInstant: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
		GroupTargets: []invalidation.GroupTarget{{Resource: "/r", AuthzTargets: []string{"/r"}}},
	}

	sealed, err := s.Seal(req)
	require.NoError(t, err)

	again, err := s.Seal(req)
	require.NoError(t, err)
	assert.Equal(t, sealed, again, "encoding must be deterministic")

	var got invalidation.ClearCacheRequest
	require.NoError(t, invalidation.Open(s.PublicKey(), sealed, &got))
	assert.Equal(t, req.ID, got.ID)
	assert.True(t, req.IssueInstant.Equal(got.IssueInstant))
	assert.Equal(t, req.GroupTargets, got.GroupTargets)

	sealed[0] ^= 0x01
	assert.ErrorIs(t, invalidation.Open(s.PublicKey(), sealed, &got), invalidation.ErrInvalidSignature)
	assert.ErrorIs(t, invalidation.Open(s.PublicKey(), []byte("short"), &got), invalidation.ErrEnvelopeTooShort)
}

func TestKeyring_OpenResponse(t *testing.T) {
	_, priv, err := invalidation.GenerateKey()
	require.NoError(t, err)
	spep, err := invalidation.NewSigner("spep", priv)
	require.NoError(t, err)

	sealed, err := spep.Seal(&invalidation.ClearCacheResponse{
		ID: "_r", InResponseTo: "_q", Issuer: "spep",
		Status: invalidation.Status{Code: invalidation.StatusSuccess},
	})
	require.NoError(t, err)

	ring := invalidation.NewKeyring()
	_, err = ring.OpenResponse(sealed)
	assert.ErrorIs(t, err, invalidation.ErrUnknownIssuer)

	ring.Add("spep", spep.PublicKey())
	resp, err := ring.OpenResponse(sealed)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, 1, ring.Len())

	other := newSigner(t)
	ring.Add("spep", other.PublicKey())
	_, err = ring.OpenResponse(sealed)
	assert.ErrorIs(t, err, invalidation.ErrInvalidSignature)
}

func TestKeyPEMRoundTrip(t *testing.T) {
	pub, priv, err := invalidation.GenerateKey()
	require.NoError(t, err)
	dir := t.TempDir()

	privPEM, err := invalidation.EncodePrivateKeyPEM(priv)
	require.NoError(t, err)
	pubPEM, err := invalidation.EncodePublicKeyPEM(pub)
	require.NoError(t, err)

	privPath := filepath.Join(dir, "pdp.key")
	pubPath := filepath.Join(dir, "pdp.pub")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0o644))

	gotPriv, err := invalidation.LoadPrivateKey(privPath)
	require.NoError(t, err)
	gotPub, err := invalidation.LoadPublicKey(pubPath)
	require.NoError(t, err)
	assert.True(t, priv.Equal(gotPriv))
	assert.True(t, pub.Equal(gotPub))

	_, err = invalidation.LoadPrivateKey(pubPath)
	assert.Error(t, err)
}

type fixture struct {
	spep     *speptest.Server
	notifier *invalidation.Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer := newSigner(t)
	spep, err := speptest.NewServer("spep", signer.PublicKey())
	require.NoError(t, err)
	t.Cleanup(spep.Close)

	ring := invalidation.NewKeyring()
	ring.Add(spep.Issuer(), spep.PublicKey())

	b, err := invalidation.NewBuilder(staticSource{"spep": testPolicies()}, pdpIssuer, nil)
	require.NoError(t, err)
	n, err := invalidation.NewNotifier(b, signer, ring, invalidation.NewHTTPTransport(2*time.Second), nil)
	require.NoError(t, err)
	return &fixture{spep: spep, notifier: n}
}

func TestNotifier_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	signed, err := f.notifier.Notify(ctx, "spep", f.spep.URL("/cache"), invalidation.ReasonPolicyChange)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	received := f.spep.Received("/cache")
	require.Len(t, received, 1)
	assert.Equal(t, f.spep.URL("/cache"), received[0].Destination)
	assert.Len(t, received[0].GroupTargets, 3)

	// A stored request can be delivered again as is.
	require.NoError(t, f.notifier.Deliver(ctx, f.spep.URL("/cache"), signed))
	assert.Equal(t, 2, f.spep.RequestCount())
}

func TestNotifier_Failures(t *testing.T) {
	tests := []struct {
		name     string
		behavior speptest.Behavior
		stage    string
		target   error
	}{
		{"http error", speptest.Behavior{HTTPStatus: 500}, invalidation.StageTransport, nil},
		{"non success status", speptest.Behavior{StatusCode: invalidation.StatusResponder}, invalidation.StageStatus, invalidation.ErrStatusNotSuccess},
		{"tampered signature", speptest.Behavior{Tamper: true}, invalidation.StageResponse, invalidation.ErrInvalidSignature},
		{"mismatched response", speptest.Behavior{WrongInResponseTo: true}, invalidation.StageResponse, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.spep.SetBehavior("/cache", tt.behavior)

			signed, err := f.notifier.Notify(context.Background(), "spep", f.spep.URL("/cache"), "")
			require.Error(t, err)
			assert.NotEmpty(t, signed, "signed request is returned for failure recording")

			var nerr *invalidation.NotificationError
			require.True(t, errors.As(err, &nerr))
			assert.Equal(t, tt.stage, nerr.Stage)
			assert.Equal(t, f.spep.URL("/cache"), nerr.Endpoint)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestNotifier_UnknownDescriptor(t *testing.T) {
	f := newFixture(t)
	signed, err := f.notifier.Notify(context.Background(), "nobody", f.spep.URL("/cache"), "")
	assert.Nil(t, signed)
	assert.ErrorIs(t, err, invalidation.ErrNoCachedPolicies)
	assert.Zero(t, f.spep.RequestCount())
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	tr := invalidation.NewHTTPTransport(500 * time.Millisecond)
	_, err := tr.Send(context.Background(), []byte("x"), "http://127.0.0.1:1/cache")
	assert.Error(t, err)
}
