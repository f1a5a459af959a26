package failures

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Deliverer re-sends a stored request to its endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string, signedRequest []byte) error
}

// MonitorConfig configures the retry monitor.
type MonitorConfig struct {
	// Schedule is a standard cron expression or descriptor.
	// Default: "@every 5m"
	Schedule string

	// MaxAge is how long a record is retried before it is dropped.
	// Zero keeps records forever.
	// Default: 24 hours
	MaxAge time.Duration
}

// RetryObserver receives the outcome of each retry pass.
type RetryObserver interface {
	RecordRetry(delivered, expired, failed int)
}

// RetryResult summarizes one monitor run.
type RetryResult struct {
	Attempted int
	Delivered int
	Expired   int
	Failed    int
}

// Monitor periodically retries failed deliveries. Records older than
// MaxAge are dropped without a retry; records that deliver successfully
// are removed.
type Monitor struct {
	repo      Repository
	deliverer Deliverer
	config    MonitorConfig
	cron      *cron.Cron
	now       func() time.Time
	observer  RetryObserver
	logger    *slog.Logger

	mu        sync.Mutex
	running   bool
	entry     cron.EntryID
	stopCh    chan struct{}
	watchDone chan struct{}
	runMu     sync.Mutex // one retry pass at a time
}

// NewMonitor creates a retry monitor.
func NewMonitor(repo Repository, deliverer Deliverer, cfg MonitorConfig, logger *slog.Logger) (*Monitor, error) {
	if repo == nil {
		return nil, fmt.Errorf("failure repository cannot be nil")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer cannot be nil")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 5m"
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", cfg.Schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		repo:      repo,
		deliverer: deliverer,
		config:    cfg,
		cron:      cron.New(),
		now:       time.Now,
		logger:    logger.With("component", "failures.monitor"),
	}, nil
}

// WithObserver sets the observer notified after each pass.
func (m *Monitor) WithObserver(o RetryObserver) *Monitor {
	m.observer = o
	return m
}

// Start schedules retry passes until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("failure monitor already running")
	}
	entry, err := m.cron.AddFunc(m.config.Schedule, func() {
		if _, err := m.RunOnce(ctx); err != nil {
			m.logger.Error("failure retry pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule failure retries: %w", err)
	}
	m.entry = entry
	m.stopCh = make(chan struct{})
	m.watchDone = make(chan struct{})
	m.cron.Start()
	m.running = true

	m.logger.Info("failure monitor started",
		"schedule", m.config.Schedule,
		"max_age", m.config.MaxAge.String())

	go m.watch(ctx, m.stopCh, m.watchDone)
	return nil
}

func (m *Monitor) watch(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	select {
	case <-ctx.Done():
		m.mu.Lock()
		defer m.mu.Unlock()
		// A Stop racing the cancellation may already have ended this run.
		if m.stopCh == stop {
			m.stopLocked()
		}
	case <-stop:
	}
}

// Stop stops the scheduler and waits for a running pass to finish. The
// monitor can be started again afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	if m.running {
		<-m.cron.Stop().Done()
		m.cron.Remove(m.entry)
		close(m.stopCh)
		m.running = false
		m.logger.Info("failure monitor stopped")
	}
}

// IsRunning reports whether the schedule is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// NextRun returns the next scheduled pass, or nil when not scheduled.
func (m *Monitor) NextRun() *time.Time {
	entries := m.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// RunOnce performs a single retry pass over every stored record.
func (m *Monitor) RunOnce(ctx context.Context) (RetryResult, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	var result RetryResult
	records, err := m.repo.List(ctx)
	if err != nil {
		return result, err
	}

	now := m.now()
	for _, rec := range records {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if m.config.MaxAge > 0 && now.Sub(rec.Timestamp) > m.config.MaxAge {
			if err := m.repo.Remove(ctx, rec); err != nil {
				return result, err
			}
			result.Expired++
			m.logger.Warn("dropping expired cache clear failure",
				"endpoint", rec.Endpoint,
				"recorded_at", rec.Timestamp)
			continue
		}

		result.Attempted++
		if err := m.deliverer.Deliver(ctx, rec.Endpoint, rec.Request); err != nil {
			result.Failed++
			m.logger.Debug("cache clear retry failed", "endpoint", rec.Endpoint, "error", err)
			continue
		}
		if err := m.repo.Remove(ctx, rec); err != nil {
			return result, err
		}
		result.Delivered++
		m.logger.Info("cache clear retry delivered", "endpoint", rec.Endpoint)
	}

	if m.observer != nil {
		m.observer.RecordRetry(result.Delivered, result.Expired, result.Failed)
	}
	if result.Attempted > 0 || result.Expired > 0 {
		m.logger.Info("failure retry pass completed",
			"attempted", result.Attempted,
			"delivered", result.Delivered,
			"expired", result.Expired,
			"failed", result.Failed)
	}
	return result, nil
}
