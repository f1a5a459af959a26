package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"esoe-hq/pdp/pkg/config"
	"esoe-hq/pdp/pkg/failures"
	"esoe-hq/pdp/pkg/policy"
	"esoe-hq/pdp/pkg/policy/decision"
	"esoe-hq/pdp/pkg/processor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Compile-time checks that the collector plugs into its producers.
var (
	_ decision.Recorder      = (*Collector)(nil)
	_ processor.Observer     = (*Collector)(nil)
	_ failures.RetryObserver = (*Collector)(nil)
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:                 true,
		Namespace:               "test",
		DecisionDurationBuckets: []float64{0.0001, 0.001, 0.01},
	}
}

func TestNewCollector_Defaults(t *testing.T) {
	cfg := &config.MetricsConfig{Enabled: true}
	collector := NewCollector(cfg, nil)

	if collector.Registry() == nil {
		t.Fatal("expected registry to be created")
	}
	if cfg.Namespace != config.DefaultMetricsNamespace {
		t.Errorf("Namespace = %q, want %q", cfg.Namespace, config.DefaultMetricsNamespace)
	}
	if len(cfg.DecisionDurationBuckets) != len(config.DefaultDecisionDurationBuckets) {
		t.Errorf("expected default buckets, got %v", cfg.DecisionDurationBuckets)
	}
}

func TestCollector_RecordDecision(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	collector.RecordDecision(policy.Permit, 50*time.Microsecond)
	collector.RecordDecision(policy.Deny, 20*time.Microsecond)
	collector.RecordDecision(policy.Deny, 30*time.Microsecond)

	if got := testutil.ToFloat64(collector.decisionMetrics.decisionsTotal.WithLabelValues("PERMIT")); got != 1 {
		t.Errorf("PERMIT count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.decisionMetrics.decisionsTotal.WithLabelValues("DENY")); got != 2 {
		t.Errorf("DENY count = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(collector.decisionMetrics.decisionDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestCollector_ProcessorMetrics(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())
	pm := collector.processorMetrics

	t.Run("polls", func(t *testing.T) {
		collector.RecordPoll(processor.PollUnchanged)
		collector.RecordPoll(processor.PollUnchanged)
		collector.RecordPoll(processor.PollChanged)
		if got := testutil.ToFloat64(pm.polls.WithLabelValues("unchanged")); got != 2 {
			t.Errorf("unchanged polls = %v, want 2", got)
		}
	})

	t.Run("rebuilds", func(t *testing.T) {
		collector.RecordRebuild("full", 10*time.Millisecond, nil)
		collector.RecordRebuild("incremental", time.Millisecond, errors.New("store down"))
		if got := testutil.ToFloat64(pm.rebuilds.WithLabelValues("full", "success")); got != 1 {
			t.Errorf("full successes = %v, want 1", got)
		}
		if got := testutil.ToFloat64(pm.rebuilds.WithLabelValues("incremental", "failure")); got != 1 {
			t.Errorf("incremental failures = %v, want 1", got)
		}
		if got := testutil.CollectAndCount(pm.rebuildDuration); got != 1 {
			t.Errorf("failed rebuilds should not be timed, got %d series", got)
		}
	})

	t.Run("notifications", func(t *testing.T) {
		collector.RecordNotification(true)
		collector.RecordNotification(false)
		collector.RecordNotification(false)
		if got := testutil.ToFloat64(pm.notifications.WithLabelValues("failure")); got != 2 {
			t.Errorf("failed notifications = %v, want 2", got)
		}
	})

	t.Run("descriptors", func(t *testing.T) {
		collector.SetCacheDescriptors(7)
		if got := testutil.ToFloat64(pm.descriptors); got != 7 {
			t.Errorf("descriptors = %v, want 7", got)
		}
	})
}

func TestCollector_FailureMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(testConfig(), registry)
	ctx := context.Background()

	repo := failures.NewMemoryRepository()
	_ = repo.Add(ctx, failures.Record{Endpoint: "https://spep/a", Request: []byte("a"), Timestamp: time.Now()})
	_ = repo.Add(ctx, failures.Record{Endpoint: "https://spep/b", Request: []byte("b"), Timestamp: time.Now()})

	collector.TrackRepository(repo)
	collector.TrackRepository(repo) // second call is ignored

	collector.RecordFailureRecorded()
	collector.RecordRetry(1, 2, 3)

	if got := testutil.ToFloat64(collector.failureMetrics.recorded); got != 1 {
		t.Errorf("recorded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.failureMetrics.retries.WithLabelValues("failed")); got != 3 {
		t.Errorf("failed retries = %v, want 3", got)
	}

	expected := `
# HELP test_failure_repository_size Number of cache clear failures awaiting retry
# TYPE test_failure_repository_size gauge
test_failure_repository_size 2
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "test_failure_repository_size"); err != nil {
		t.Error(err)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	collector := NewCollector(cfg, prometheus.NewRegistry())

	collector.RecordDecision(policy.Permit, time.Microsecond)
	collector.RecordPoll(processor.PollChanged)
	collector.RecordNotification(true)
	collector.SetCacheDescriptors(3)
	collector.TrackRepository(failures.NewMemoryRepository())

	if got := testutil.ToFloat64(collector.decisionMetrics.decisionsTotal.WithLabelValues("PERMIT")); got != 0 {
		t.Errorf("disabled collector recorded decision: %v", got)
	}
	if got := testutil.ToFloat64(collector.processorMetrics.descriptors); got != 0 {
		t.Errorf("disabled collector set gauge: %v", got)
	}
	if n, _ := testutil.GatherAndCount(collector.Registry(), "test_failure_repository_size"); n != 0 {
		t.Errorf("disabled collector tracked repository")
	}
}

func TestHandler(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())
	collector.RecordDecision(policy.Deny, time.Microsecond)

	srv := httptest.NewServer(collector.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `test_decisions_total{decision="DENY"} 1`) {
		t.Errorf("metrics output missing decision counter:\n%s", body)
	}
}
