// Package processor keeps the policy cache in step with the policy store
// and tells enforcement points when their policies change.
//
// A Processor owns a single poll loop. Start performs a full rebuild of the
// cache and notifies every descriptor it loaded; afterwards each tick asks
// the store for its last modification time and, when that is newer than the
// last rebuild, fetches only the changed policy sets. Every descriptor put
// into the cache is then sent a signed cache clear request on each of its
// registered endpoints. Requests that cannot be delivered, or that the
// endpoint does not acknowledge with a success status, are written to the
// failure repository.
//
// The processor is the only writer of the cache. Decisions read the cache
// concurrently and never block on the loop.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"esoe-hq/pdp/pkg/endpoints"
	"esoe-hq/pdp/pkg/failures"
	"esoe-hq/pdp/pkg/invalidation"
	"esoe-hq/pdp/pkg/policy"
	"esoe-hq/pdp/pkg/policy/store"
	"esoe-hq/pdp/pkg/telemetry/tracing"
)

var (
	// ErrAlreadyRunning is returned by Start on a running processor.
	ErrAlreadyRunning = errors.New("cache processor already running")

	// ErrNoPolicies is returned when the store answers a rebuild query
	// with no policy sets.
	ErrNoPolicies = errors.New("policy store returned no policies")
)

// RebuildError describes a failed rebuild.
type RebuildError struct {
	Kind RebuildKind
	Err  error
}

// Error implements the error interface.
func (e *RebuildError) Error() string {
	return fmt.Sprintf("%s cache rebuild failed: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *RebuildError) Unwrap() error {
	return e.Err
}

// Cache is the writable view of the policy cache.
type Cache interface {
	PutAll(updates map[string][]policy.Policy)
	Size() int
}

// Notifier sends a signed cache clear request for one descriptor to one
// endpoint, returning the signed request whenever one was produced.
type Notifier interface {
	Notify(ctx context.Context, descriptorID, endpoint, reason string) ([]byte, error)
}

// Observer receives processor events. Implementations must be safe for
// concurrent use.
type Observer interface {
	RecordPoll(result string)
	RecordRebuild(kind string, elapsed time.Duration, err error)
	RecordNotification(success bool)
	RecordFailureRecorded()
	SetCacheDescriptors(n int)
}

// Poll results reported to the Observer.
const (
	PollUnchanged = "unchanged"
	PollChanged   = "changed"
	PollError     = "error"
)

// Dependencies are the collaborators of a Processor. Observer and Tracer
// are optional.
type Dependencies struct {
	Cache     Cache
	Store     store.Store
	Directory endpoints.Directory
	Notifier  Notifier
	Failures  failures.Repository
	Observer  Observer
	Tracer    trace.Tracer
}

// Stats is a point-in-time summary of processor activity.
type Stats struct {
	State                State
	LastRebuild          time.Time
	LastError            string
	Polls                int64
	Rebuilds             int64
	RebuildFailures      int64
	Notifications        int64
	NotificationFailures int64
}

// Processor runs the poll, rebuild and notify loop.
type Processor struct {
	cache     Cache
	store     store.Store
	directory endpoints.Directory
	notifier  Notifier
	failures  failures.Repository
	observer  Observer
	tracer    trace.Tracer
	config    *Config
	now       func() time.Time
	logger    *slog.Logger

	// lifeMu makes Start's registration and Shutdown mutually exclusive.
	lifeMu    sync.Mutex
	state     atomic.Int32
	running   atomic.Bool
	interrupt chan struct{}
	wg        sync.WaitGroup

	// tickMu serializes rebuilds, including those started by Start.
	tickMu sync.Mutex

	mu          sync.RWMutex
	lastRebuild time.Time
	lastErr     string

	polls                atomic.Int64
	rebuilds             atomic.Int64
	rebuildFailures      atomic.Int64
	notifications        atomic.Int64
	notificationFailures atomic.Int64
}

// New creates a stopped processor. A nil config uses DefaultConfig.
func New(deps Dependencies, config *Config, logger *slog.Logger) (*Processor, error) {
	if deps.Cache == nil {
		return nil, fmt.Errorf("policy cache cannot be nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("policy store cannot be nil")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("endpoint directory cannot be nil")
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	if deps.Failures == nil {
		return nil, fmt.Errorf("failure repository cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processor config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	return &Processor{
		cache:     deps.Cache,
		store:     deps.Store,
		directory: deps.Directory,
		notifier:  deps.Notifier,
		failures:  deps.Failures,
		observer:  deps.Observer,
		tracer:    tracer,
		config:    config,
		now:       time.Now,
		logger:    logger.With("component", "processor"),
		interrupt: make(chan struct{}, 1),
	}, nil
}

// Start performs a full rebuild and launches the poll loop. A failed
// initial rebuild is logged and the loop keeps retrying with full rebuilds
// until one succeeds. The loop ends when ctx is cancelled or Shutdown is
// called.
func (p *Processor) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	if !p.state.CompareAndSwap(int32(StateStopped), int32(StateInitializing)) {
		p.lifeMu.Unlock()
		return ErrAlreadyRunning
	}

	// Drop a wake left over from a previous run.
	select {
	case <-p.interrupt:
	default:
	}
	p.running.Store(true)
	p.wg.Add(1)
	p.lifeMu.Unlock()

	p.logger.Info("cache processor starting", "poll_interval", p.config.PollInterval)

	if err := p.rebuild(ctx, RebuildFull); err != nil {
		p.logger.Error("initial policy cache build failed", "error", err)
	}

	p.setState(StatePolling)
	go p.pollLoop(ctx)
	return nil
}

// Shutdown stops the poll loop and waits for an in-flight tick to finish.
// It is safe to call more than once.
func (p *Processor) Shutdown() {
	p.lifeMu.Lock()
	if p.running.CompareAndSwap(true, false) {
		p.logger.Info("cache processor shutting down")
		p.wake()
	}
	p.lifeMu.Unlock()
	p.wg.Wait()
}

// Trigger wakes the poll loop for an immediate tick. It never blocks.
func (p *Processor) Trigger() {
	p.wake()
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	return State(p.state.Load())
}

// IsRunning reports whether the poll loop is active.
func (p *Processor) IsRunning() bool {
	return p.running.Load()
}

// LastRebuild returns the instant captured before the last successful
// store query, or the zero time if no rebuild has succeeded.
func (p *Processor) LastRebuild() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRebuild
}

// Stats returns a snapshot of processor counters.
func (p *Processor) Stats() Stats {
	p.mu.RLock()
	last, lastErr := p.lastRebuild, p.lastErr
	p.mu.RUnlock()

	return Stats{
		State:                p.State(),
		LastRebuild:          last,
		LastError:            lastErr,
		Polls:                p.polls.Load(),
		Rebuilds:             p.rebuilds.Load(),
		RebuildFailures:      p.rebuildFailures.Load(),
		Notifications:        p.notifications.Load(),
		NotificationFailures: p.notificationFailures.Load(),
	}
}

func (p *Processor) wake() {
	select {
	case p.interrupt <- struct{}{}:
	default:
	}
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
}

func (p *Processor) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	defer p.setState(StateStopped)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.running.Store(false)
			p.logger.Info("cache processor stopped by context cancellation")
			return
		case <-ticker.C:
		case <-p.interrupt:
		}

		if !p.running.Load() {
			p.logger.Info("cache processor stopped")
			return
		}
		p.tick(ctx)
	}
}

// tick checks the store once and rebuilds when it changed.
func (p *Processor) tick(ctx context.Context) {
	p.polls.Add(1)

	last := p.LastRebuild()
	kind := RebuildIncremental
	if last.IsZero() {
		kind = RebuildFull
	}

	modified, err := p.lastModified(ctx)
	if err != nil {
		p.recordPoll(PollError)
		p.logger.Warn("failed to query policy store", "error", err)
		return
	}

	p.logger.Debug("checking policy store",
		"last_rebuild", last,
		"last_modified", modified)

	if kind == RebuildIncremental && !modified.After(last) {
		p.recordPoll(PollUnchanged)
		return
	}

	p.recordPoll(PollChanged)
	p.logger.Info("policy store changed, rebuilding cache", "kind", kind)

	p.setState(StateRebuilding)
	defer p.setState(StatePolling)
	if err := p.rebuild(ctx, kind); err != nil {
		p.logger.Error("policy cache rebuild failed", "error", err)
	}
}

func (p *Processor) lastModified(ctx context.Context) (time.Time, error) {
	if p.config.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.StoreTimeout)
		defer cancel()
	}
	return p.store.LastModified(ctx)
}

// rebuild loads policies, writes them to the cache and notifies every
// affected descriptor.
func (p *Processor) rebuild(ctx context.Context, kind RebuildKind) (err error) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	ctx, span := p.tracer.Start(ctx, "processor.rebuild",
		trace.WithAttributes(attribute.String(tracing.AttrRebuildKind, string(kind))))
	defer span.End()

	started := time.Now()
	defer func() {
		if p.observer != nil {
			p.observer.RecordRebuild(string(kind), time.Since(started), err)
		}
		p.mu.Lock()
		if err != nil {
			p.lastErr = err.Error()
		} else {
			p.lastErr = ""
		}
		p.mu.Unlock()
		if err != nil {
			p.rebuildFailures.Add(1)
			tracing.SetError(span, err)
		}
	}()

	stamp := p.now()
	var since *time.Time
	if kind == RebuildIncremental {
		last := p.LastRebuild()
		since = &last
	}

	queryCtx := ctx
	if p.config.StoreTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, p.config.StoreTimeout)
		defer cancel()
	}
	sets, err := p.store.Policies(queryCtx, since)
	if err != nil {
		return &RebuildError{Kind: kind, Err: err}
	}
	if len(sets) == 0 {
		return &RebuildError{Kind: kind, Err: ErrNoPolicies}
	}

	p.cache.PutAll(sets)

	p.mu.Lock()
	p.lastRebuild = stamp
	p.mu.Unlock()
	p.rebuilds.Add(1)

	size := p.cache.Size()
	if p.observer != nil {
		p.observer.SetCacheDescriptors(size)
	}
	span.SetAttributes(attribute.Int(tracing.AttrRebuildDescriptors, len(sets)))

	p.logger.Info("policy cache rebuilt",
		"kind", kind,
		"changed_descriptors", len(sets),
		"cache_size", size)

	changed := make([]string, 0, len(sets))
	for id := range sets {
		changed = append(changed, id)
	}
	sort.Strings(changed)
	p.notifyAll(ctx, changed)
	return nil
}

// notifyAll pushes a cache clear to every endpoint of each descriptor.
// Undelivered requests are recorded as failures.
func (p *Processor) notifyAll(ctx context.Context, descriptors []string) {
	ctx, span := p.tracer.Start(ctx, "processor.notify",
		trace.WithAttributes(attribute.Int(tracing.AttrNotifyDescriptors, len(descriptors))))
	defer span.End()

	for _, id := range descriptors {
		eps, err := p.directory.ResolveCacheClearEndpoints(ctx, id)
		if err != nil {
			p.logger.Warn("unable to resolve cache clear endpoints, skipping descriptor",
				"descriptor_id", id,
				"error", err)
			continue
		}

		for _, idx := range endpoints.SortedIndexes(eps) {
			endpoint := eps[idx]
			signed, err := p.send(ctx, id, endpoint, invalidation.ReasonPolicyChange)
			if err == nil {
				continue
			}

			p.notificationFailures.Add(1)
			p.logger.Warn("cache clear request not acknowledged",
				"descriptor_id", id,
				"endpoint", endpoint,
				"error", err)

			if signed == nil {
				// Nothing was built, so there is nothing to retry.
				continue
			}
			p.recordFailure(ctx, endpoint, signed)
		}
	}
}

// send delivers one cache clear request inside its own span.
func (p *Processor) send(ctx context.Context, descriptorID, endpoint, reason string) ([]byte, error) {
	ctx, span := p.tracer.Start(ctx, "processor.cache_clear",
		trace.WithAttributes(tracing.NotifyAttributes(descriptorID, endpoint, reason)...))
	defer span.End()

	signed, err := p.notifier.Notify(ctx, descriptorID, endpoint, reason)
	p.notifications.Add(1)
	if p.observer != nil {
		p.observer.RecordNotification(err == nil)
	}
	tracing.SetError(span, err)
	return signed, err
}

func (p *Processor) recordFailure(ctx context.Context, endpoint string, signed []byte) {
	rec := failures.Record{
		Endpoint:  endpoint,
		Request:   signed,
		Timestamp: p.now(),
	}
	if err := p.failures.Add(ctx, rec); err != nil {
		p.logger.Error("failed to record cache clear failure",
			"endpoint", endpoint,
			"error", err)
		return
	}
	if p.observer != nil {
		p.observer.RecordFailureRecorded()
	}
}

// SpepStartingNotification synchronously sends the current policies of
// descriptorID to the endpoint registered at endpointIndex. Failures are
// reported to the caller and never recorded in the failure repository.
func (p *Processor) SpepStartingNotification(ctx context.Context, descriptorID string, endpointIndex int) Result {
	eps, err := p.directory.ResolveCacheClearEndpoints(ctx, descriptorID)
	if err != nil {
		p.logger.Error("unable to resolve cache clear endpoints for starting enforcement point",
			"descriptor_id", descriptorID,
			"error", err)
		return Failure
	}
	endpoint, ok := eps[endpointIndex]
	if !ok {
		p.logger.Error("no cache clear endpoint at index",
			"descriptor_id", descriptorID,
			"index", endpointIndex)
		return Failure
	}

	if _, err := p.send(ctx, descriptorID, endpoint, invalidation.ReasonSpepStartup); err != nil {
		p.logger.Warn("startup cache clear request failed",
			"descriptor_id", descriptorID,
			"endpoint", endpoint,
			"error", err)
		return Failure
	}
	return Success
}

func (p *Processor) recordPoll(result string) {
	if p.observer != nil {
		p.observer.RecordPoll(result)
	}
}
