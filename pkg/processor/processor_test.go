package processor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"esoe-hq/pdp/internal/speptest"
	"esoe-hq/pdp/pkg/endpoints"
	"esoe-hq/pdp/pkg/failures"
	"esoe-hq/pdp/pkg/invalidation"
	"esoe-hq/pdp/pkg/policy"
	"esoe-hq/pdp/pkg/policy/cache"
)

const pdpIssuer = "https://pdp.example.org"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type storedSet struct {
	policies []policy.Policy
	modified time.Time
}

// memStore is an in-memory store.Store.
type memStore struct {
	mu    sync.Mutex
	clock *fakeClock
	sets  map[string]storedSet
	err   error

	// gate, when set, holds Policies until it is closed.
	gate chan struct{}
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{clock: clock, sets: make(map[string]storedSet)}
}

func (s *memStore) set(id string, policies ...policy.Policy) {
	modified := s.clock.Advance(time.Second)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[id] = storedSet{policies: policies, modified: modified}
}

func (s *memStore) LastModified(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return time.Time{}, s.err
	}
	var latest time.Time
	for _, set := range s.sets {
		if set.modified.After(latest) {
			latest = set.modified
		}
	}
	return latest, nil
}

func (s *memStore) Policies(_ context.Context, since *time.Time) (map[string][]policy.Policy, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string][]policy.Policy)
	for id, set := range s.sets {
		if since == nil || set.modified.After(*since) {
			out[id] = set.policies
		}
	}
	return out, nil
}

type countingObserver struct {
	mu            sync.Mutex
	polls         map[string]int
	rebuilds      int
	rebuildErrors int
	notified      int
	notifyFailed  int
	recorded      int
	descriptors   int
}

func (o *countingObserver) RecordPoll(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.polls == nil {
		o.polls = make(map[string]int)
	}
	o.polls[result]++
}

func (o *countingObserver) RecordRebuild(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rebuilds++
	if err != nil {
		o.rebuildErrors++
	}
}

func (o *countingObserver) RecordNotification(success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if success {
		o.notified++
	} else {
		o.notifyFailed++
	}
}

func (o *countingObserver) RecordFailureRecorded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorded++
}

func (o *countingObserver) SetCacheDescriptors(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.descriptors = n
}

func createTestPolicy(id string, resources ...string) policy.Policy {
	return policy.Policy{
		ID:     id,
		Target: policy.Target{Resources: resources},
		Rules:  []policy.Rule{{ID: id + "-rule", Effect: policy.EffectPermit}},
	}
}

type harness struct {
	proc     *Processor
	cache    *cache.PolicyCache
	store    *memStore
	clock    *fakeClock
	spep     *speptest.Server
	dir      *endpoints.StaticDirectory
	failures *failures.MemoryRepository
	observer *countingObserver
	signer   *invalidation.Signer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	_, priv, err := invalidation.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	signer, err := invalidation.NewSigner(pdpIssuer, priv)
	if err != nil {
		t.Fatal(err)
	}
	spep, err := speptest.NewServer("spep", signer.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(spep.Close)

	ring := invalidation.NewKeyring()
	ring.Add(spep.Issuer(), spep.PublicKey())

	c := cache.New()
	builder, err := invalidation.NewBuilder(c, pdpIssuer, nil)
	if err != nil {
		t.Fatal(err)
	}
	notifier, err := invalidation.NewNotifier(builder, signer, ring, invalidation.NewHTTPTransport(2*time.Second), nil)
	if err != nil {
		t.Fatal(err)
	}

	dir, err := endpoints.NewStaticDirectory(map[string]map[int]string{
		"A": {0: spep.URL("/a0"), 1: spep.URL("/a1")},
		"B": {0: spep.URL("/b0")},
		"C": {0: spep.URL("/c0")},
	})
	if err != nil {
		t.Fatal(err)
	}

	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	h := &harness{
		cache:    c,
		store:    newMemStore(clock),
		clock:    clock,
		spep:     spep,
		dir:      dir,
		failures: failures.NewMemoryRepository(),
		observer: &countingObserver{},
		signer:   signer,
	}

	proc, err := New(Dependencies{
		Cache:     h.cache,
		Store:     h.store,
		Directory: h.dir,
		Notifier:  notifier,
		Failures:  h.failures,
		Observer:  h.observer,
	}, &Config{PollInterval: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}
	proc.now = clock.Now
	h.proc = proc
	t.Cleanup(proc.Shutdown)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	repo := failures.NewMemoryRepository()
	dir, _ := endpoints.NewStaticDirectory(nil)
	full := Dependencies{
		Cache:     cache.New(),
		Store:     newMemStore(&fakeClock{}),
		Directory: dir,
		Notifier:  &invalidation.Notifier{},
		Failures:  repo,
	}

	if _, err := New(full, nil, nil); err != nil {
		t.Fatalf("New() with defaults error = %v", err)
	}

	missing := []func(d *Dependencies){
		func(d *Dependencies) { d.Cache = nil },
		func(d *Dependencies) { d.Store = nil },
		func(d *Dependencies) { d.Directory = nil },
		func(d *Dependencies) { d.Notifier = nil },
		func(d *Dependencies) { d.Failures = nil },
	}
	for i, mutate := range missing {
		deps := full
		mutate(&deps)
		if _, err := New(deps, nil, nil); err == nil {
			t.Errorf("case %d: expected error for missing dependency", i)
		}
	}

	if _, err := New(full, &Config{PollInterval: 0}, nil); err == nil {
		t.Error("expected error for zero poll interval")
	}
}

func TestProcessor_StartBuildsAndNotifies(t *testing.T) {
	h := newHarness(t)
	h.store.set("A", createTestPolicy("pa", "/a"))
	h.store.set("B", createTestPolicy("pb", "/b"))

	if err := h.proc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := h.proc.State(); got != StatePolling {
		t.Errorf("State() = %v, want polling", got)
	}
	if h.cache.Size() != 2 {
		t.Errorf("cache size = %d, want 2", h.cache.Size())
	}
	if !h.proc.LastRebuild().Equal(h.clock.Now()) {
		t.Errorf("LastRebuild() = %v, want %v", h.proc.LastRebuild(), h.clock.Now())
	}
	for _, path := range []string{"/a0", "/a1", "/b0"} {
		reqs := h.spep.Received(path)
		if len(reqs) != 1 {
			t.Errorf("%s received %d requests, want 1", path, len(reqs))
			continue
		}
		if reqs[0].Reason != invalidation.ReasonPolicyChange {
			t.Errorf("%s reason = %q", path, reqs[0].Reason)
		}
		if reqs[0].Destination != h.spep.URL(path) {
			t.Errorf("%s destination = %q", path, reqs[0].Destination)
		}
	}
	if n, _ := h.failures.Size(context.Background()); n != 0 {
		t.Errorf("failures = %d, want 0", n)
	}

	if err := h.proc.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestProcessor_IncrementalNotifiesOnlyChanged(t *testing.T) {
	h := newHarness(t)
	h.store.set("A", createTestPolicy("pa", "/a"))
	h.store.set("B", createTestPolicy("pb", "/b"))
	h.store.set("C", createTestPolicy("pc", "/c"))

	if err := h.proc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	initial := h.spep.RequestCount()
	if initial != 4 {
		t.Fatalf("initial requests = %d, want 4", initial)
	}

	h.store.set("A", createTestPolicy("pa2", "/a2"))
	h.store.set("B", createTestPolicy("pb2", "/b2"))
	h.proc.Trigger()

	waitFor(t, "incremental notifications", func() bool {
		return h.spep.RequestCount() == initial+3
	})
	h.proc.Shutdown()

	if len(h.spep.Received("/c0")) != 1 {
		t.Error("unchanged descriptor C was notified again")
	}
	if got := h.spep.Received("/a1"); len(got) != 2 || got[1].GroupTargets[0].Resource != "/a2" {
		t.Errorf("/a1 requests = %+v", got)
	}
	if got := h.cache.Get("B"); len(got) != 1 || got[0].ID != "pb2" {
		t.Errorf("cache B = %+v", got)
	}
	if got := h.cache.Get("C"); len(got) != 1 || got[0].ID != "pc" {
		t.Errorf("cache C = %+v", got)
	}

	stats := h.proc.Stats()
	if stats.Rebuilds != 2 || stats.Notifications != 7 || stats.NotificationFailures != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestProcessor_UnchangedStoreSkipsRebuild(t *testing.T) {
	h := newHarness(t)
	h.store.set("A", createTestPolicy("pa", "/a"))
	if err := h.proc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.proc.Trigger()
	waitFor(t, "poll", func() bool { return h.proc.Stats().Polls == 1 })
	h.proc.Shutdown()

	if h.proc.Stats().Rebuilds != 1 {
		t.Errorf("Rebuilds = %d, want 1", h.proc.Stats().Rebuilds)
	}
	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	if h.observer.polls[PollUnchanged] != 1 {
		t.Errorf("polls = %v", h.observer.polls)
	}
}

func TestProcessor_RecordsOneFailurePerFailedSend(t *testing.T) {
	h := newHarness(t)
	h.spep.SetBehavior("/a1", speptest.Behavior{StatusCode: invalidation.StatusResponder})
	h.spep.SetBehavior("/b0", speptest.Behavior{HTTPStatus: 500})
	h.spep.SetBehavior("/c0", speptest.Behavior{Tamper: true})

	h.store.set("A", createTestPolicy("pa", "/a"))
	h.store.set("B", createTestPolicy("pb", "/b"))
	h.store.set("C", createTestPolicy("pc", "/c"))

	if err := h.proc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	recs, err := h.failures.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("recorded %d failures, want 3", len(recs))
	}

	var got []string
	for _, rec := range recs {
		got = append(got, rec.Endpoint)
		if !rec.Timestamp.Equal(h.clock.Now()) {
			t.Errorf("record timestamp = %v", rec.Timestamp)
		}
		var req invalidation.ClearCacheRequest
		if err := invalidation.Open(h.signer.PublicKey(), rec.Request, &req); err != nil {
			t.Errorf("stored request does not verify: %v", err)
		}
		if req.Destination != rec.Endpoint {
			t.Errorf("stored request destination = %q, endpoint %q", req.Destination, rec.Endpoint)
		}
	}
	sort.Strings(got)
	want := []string{h.spep.URL("/a1"), h.spep.URL("/b0"), h.spep.URL("/c0")}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("failure endpoints = %v, want %v", got, want)
			break
		}
	}

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	if h.observer.notified != 1 || h.observer.notifyFailed != 3 || h.observer.recorded != 3 {
		t.Errorf("observer = %+v", h.observer)
	}
}

func TestProcessor_UnresolvableDescriptorSkipped(t *testing.T) {
	h := newHarness(t)
	h.store.set("A", createTestPolicy("pa", "/a"))
	h.store.set("unregistered", createTestPolicy("px", "/x"))

	if err := h.proc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.cache.Get("unregistered") == nil {
		t.Error("unregistered descriptor should still be cached")
	}
	if n, _ := h.failures.Size(context.Background()); n != 0 {
		t.Errorf("failures = %d, want 0", n)
	}
	if h.spep.RequestCount() != 2 {
		t.Errorf("requests = %d, want 2", h.spep.RequestCount())
	}
}

func TestProcessor_EmptyStoreIsRebuildFailure(t *testing.T) {
	h := newHarness(t)
	if err := h.proc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stats := h.proc.Stats()
	if !stats.LastRebuild.IsZero() {
		t.Errorf("LastRebuild = %v, want zero", stats.LastRebuild)
	}
	if stats.RebuildFailures != 1 || stats.LastError == "" {
		t.Errorf("Stats() = %+v", stats)
	}
	if h.cache.Size() != 0 {
		t.Errorf("cache size = %d", h.cache.Size())
	}

	// The next tick retries with a full rebuild.
	h.store.set("A", createTestPolicy("pa", "/a"))
	h.proc.Trigger()
	waitFor(t, "recovery rebuild", func() bool { return h.cache.Size() == 1 })
	h.proc.Shutdown()

	if h.proc.Stats().LastError != "" {
		t.Errorf("LastError = %q after successful rebuild", h.proc.Stats().LastError)
	}
}

func TestProcessor_RebuildErrorWraps(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("store offline")
	h.store.err = boom

	err := h.proc.rebuild(context.Background(), RebuildFull)
	var rerr *RebuildError
	if !errors.As(err, &rerr) || rerr.Kind != RebuildFull {
		t.Fatalf("rebuild() error = %v, want RebuildError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("rebuild() error does not wrap cause: %v", err)
	}

	h.store.err = nil
	err = h.proc.rebuild(context.Background(), RebuildFull)
	if !errors.Is(err, ErrNoPolicies) {
		t.Errorf("rebuild() on empty store = %v, want ErrNoPolicies", err)
	}
}

func TestProcessor_ShutdownIdempotent(t *testing.T) {
	h := newHarness(t)
	h.store.set("A", createTestPolicy("pa", "/a"))

	// Shutdown before Start is a no-op.
	h.proc.Shutdown()

	if err := h.proc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.proc.Shutdown()
	h.proc.Shutdown()

	if got := h.proc.State(); got != StateStopped {
		t.Errorf("State() = %v, want stopped", got)
	}
	if h.proc.IsRunning() {
		t.Error("IsRunning() = true after Shutdown")
	}

	// A stopped processor can be started again.
	if err := h.proc.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	h.proc.Shutdown()
}

func TestProcessor_ShutdownDuringTick(t *testing.T) {
	h := newHarness(t)
	h.store.set("A", createTestPolicy("pa", "/a"))
	if err := h.proc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.spep.SetBehavior("/a0", speptest.Behavior{Delay: 200 * time.Millisecond})
	h.store.set("A", createTestPolicy("pa2", "/a2"))
	h.proc.Trigger()
	waitFor(t, "rebuild", func() bool { return h.proc.State() == StateRebuilding })

	h.proc.Shutdown()
	if got := h.proc.State(); got != StateStopped {
		t.Errorf("State() = %v, want stopped", got)
	}
	if h.proc.Stats().Rebuilds != 2 {
		t.Errorf("in-flight rebuild did not complete: %+v", h.proc.Stats())
	}
}

func TestProcessor_ShutdownDuringInitialBuild(t *testing.T) {
	h := newHarness(t)
	h.store.set("A", createTestPolicy("pa", "/a"))
	gate := make(chan struct{})
	h.store.mu.Lock()
	h.store.gate = gate
	h.store.mu.Unlock()

	started := make(chan error, 1)
	go func() { started <- h.proc.Start(context.Background()) }()
	waitFor(t, "initializing", func() bool { return h.proc.State() == StateInitializing })

	stopped := make(chan struct{})
	go func() {
		h.proc.Shutdown()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Shutdown returned while the initial build was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	if err := <-started; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return")
	}
	if got := h.proc.State(); got != StateStopped {
		t.Errorf("State() = %v, want stopped", got)
	}
	if h.proc.IsRunning() {
		t.Error("IsRunning() = true after Shutdown")
	}
}

func TestProcessor_ContextCancelStops(t *testing.T) {
	h := newHarness(t)
	h.store.set("A", createTestPolicy("pa", "/a"))

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.proc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitFor(t, "stop", func() bool { return h.proc.State() == StateStopped })
	if h.proc.IsRunning() {
		t.Error("IsRunning() = true after cancellation")
	}
}

func TestSpepStartingNotification(t *testing.T) {
	h := newHarness(t)
	h.store.set("A", createTestPolicy("pa", "/a"))
	if err := h.proc.rebuild(context.Background(), RebuildFull); err != nil {
		t.Fatal(err)
	}
	before := h.spep.RequestCount()

	if got := h.proc.SpepStartingNotification(context.Background(), "A", 1); got != Success {
		t.Errorf("SpepStartingNotification() = %v, want success", got)
	}
	reqs := h.spep.Received("/a1")
	if len(reqs) != 2 || reqs[1].Reason != invalidation.ReasonSpepStartup {
		t.Errorf("/a1 requests = %+v", reqs)
	}
	if h.spep.RequestCount() != before+1 {
		t.Error("startup notification must only reach the indexed endpoint")
	}

	tests := []struct {
		name  string
		id    string
		index int
		setup func()
	}{
		{name: "unknown index", id: "A", index: 7},
		{name: "unknown descriptor", id: "Z", index: 0},
		{name: "not cached", id: "B", index: 0},
		{
			name:  "non-success status",
			id:    "A",
			index: 0,
			setup: func() {
				h.spep.SetBehavior("/a0", speptest.Behavior{StatusCode: invalidation.StatusRequester})
			},
		},
		{
			name:  "transport failure",
			id:    "A",
			index: 1,
			setup: func() { h.spep.SetBehavior("/a1", speptest.Behavior{HTTPStatus: 503}) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			if got := h.proc.SpepStartingNotification(context.Background(), tt.id, tt.index); got != Failure {
				t.Errorf("SpepStartingNotification() = %v, want failure", got)
			}
		})
	}

	if n, _ := h.failures.Size(context.Background()); n != 0 {
		t.Errorf("startup notifications recorded %d failures, want 0", n)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateStopped:      "stopped",
		StateInitializing: "initializing",
		StatePolling:      "polling",
		StateRebuilding:   "rebuilding",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
	if Success.String() != "success" || Failure.String() != "failure" {
		t.Error("Result.String() mismatch")
	}
}
