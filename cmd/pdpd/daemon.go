package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"esoe-hq/pdp/pkg/config"
	"esoe-hq/pdp/pkg/failures"
	"esoe-hq/pdp/pkg/policy"
	"esoe-hq/pdp/pkg/policy/cache"
	"esoe-hq/pdp/pkg/policy/decision"
	"esoe-hq/pdp/pkg/policy/store"
	"esoe-hq/pdp/pkg/processor"
	pdptls "esoe-hq/pdp/pkg/security/tls"
	"esoe-hq/pdp/pkg/server"
	"esoe-hq/pdp/pkg/telemetry/health"
	"esoe-hq/pdp/pkg/telemetry/metrics"
	"esoe-hq/pdp/pkg/telemetry/tracing"
)

// daemon holds every long-lived component of `pdpd run`.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	tracer    *tracing.Tracer
	metrics   *metrics.Collector
	cache     *cache.PolicyCache
	store     store.Store
	watcher   *store.Watcher
	failures  failures.Repository
	monitor   *failures.Monitor
	processor *processor.Processor
	point     *decision.Point
	health    *health.Checker
	certs     *pdptls.Reloader
	server    *server.Server

	closers []closeFunc
}

// newDaemon builds the component graph. Nothing is started.
func newDaemon(cfg *config.Config, logger *slog.Logger) (_ *daemon, err error) {
	d := &daemon{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = d.close(context.Background())
		}
	}()

	d.tracer, err = tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	if cfg.Telemetry.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	d.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, registry)

	d.cache = cache.New()

	var closeStore closeFunc
	d.store, closeStore, err = openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, closeStore)

	if cfg.Store.Backend == "file" && cfg.Store.File.Watch {
		d.watcher, err = store.NewWatcher(cfg.Store.File.Dir, cfg.Store.File.Debounce, logger)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, d.watcher.Stop)
	}

	var closeFailures closeFunc
	d.failures, closeFailures, err = openFailures(cfg, logger)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, closeFailures)
	d.metrics.TrackRepository(d.failures)

	directory, err := newDirectory(cfg)
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(cfg, d.cache, d.tracer, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Failures.Monitor.Enabled {
		d.monitor, err = failures.NewMonitor(d.failures, notifier, failures.MonitorConfig{
			Schedule: cfg.Failures.Monitor.Schedule,
			MaxAge:   cfg.Failures.Monitor.MaxAge,
		}, logger)
		if err != nil {
			return nil, err
		}
		d.monitor.WithObserver(d.metrics)
	}

	d.processor, err = processor.New(processor.Dependencies{
		Cache:     d.cache,
		Store:     d.store,
		Directory: directory,
		Notifier:  notifier,
		Failures:  d.failures,
		Observer:  d.metrics,
		Tracer:    d.tracer.Tracer(),
	}, &processor.Config{
		PollInterval: cfg.Processor.PollInterval,
		StoreTimeout: cfg.Processor.StoreTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	d.point, err = newPoint(cfg, d.cache, logger)
	if err != nil {
		return nil, err
	}
	d.point.WithRecorder(d.metrics).WithTracer(d.tracer.Tracer())

	d.health = health.New(cfg.Telemetry.Health.CheckTimeout)
	d.health.RegisterCheck(health.CheckPolicyCache, health.CacheCheck(d.cache))
	d.health.RegisterCheck(health.CheckProcessor, health.ProcessorCheck(d.processor))
	d.health.RegisterCheck(health.CheckFailureRepository, health.RepositoryCheck(d.failures))
	if src, ok := d.store.(health.SourceStatus); ok {
		d.health.RegisterCheck(health.CheckPolicySource, health.SourceCheck(src))
	}

	opts := server.Options{
		Config:         &cfg.Server,
		Decisions:      d.point,
		Startup:        d.processor,
		Failures:       d.failures,
		Health:         d.health,
		HealthConfig:   cfg.Telemetry.Health,
		TracerProvider: d.tracer.Provider(),
		Propagator:     d.tracer.Propagator(),
		Version:        Version,
		Logger:         logger,
	}
	if d.metrics.Enabled() {
		opts.Metrics = d.metrics.Handler()
		opts.MetricsPath = cfg.Telemetry.Metrics.Path
	}
	if cfg.Server.TLS.Enabled {
		d.certs, err = pdptls.NewReloader(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load server certificate: %w", err)
		}
		d.closers = append(d.closers, d.certs.Close)
		if opts.TLS, err = pdptls.NewServerConfig(&cfg.Server.TLS, d.certs); err != nil {
			return nil, err
		}
	}
	if cfg.Server.Auth.Enabled {
		if opts.APIAuth, err = newAPIAuth(&cfg.Server.Auth, logger); err != nil {
			return nil, err
		}
	}
	d.server, err = server.New(opts)
	if err != nil {
		return nil, err
	}

	return d, nil
}

// newPoint builds a decision point from the decision section.
func newPoint(cfg *config.Config, c decision.CacheReader, logger *slog.Logger) (*decision.Point, error) {
	mode, err := policy.ParseDecision(cfg.Decision.DefaultMode)
	if err != nil {
		return nil, err
	}
	return decision.NewPoint(c, decision.DefaultConfig().WithDefaultMode(mode).WithTrace(cfg.Decision.Trace), logger)
}

// run starts every component and blocks until ctx is cancelled or the
// admin server fails. Components are stopped in reverse start order.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.processor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cache processor: %w", err)
	}
	defer d.processor.Shutdown()

	var wg sync.WaitGroup
	defer wg.Wait()

	if d.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.watcher.Watch(ctx, d.processor.Trigger); err != nil {
				d.logger.Error("policy watcher stopped", "error", err)
			}
		}()
	}

	if d.certs != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.certs.Watch(ctx); err != nil {
				d.logger.Error("certificate watcher stopped", "error", err)
			}
		}()
	}

	if d.monitor != nil {
		if err := d.monitor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start failure monitor: %w", err)
		}
		defer d.monitor.Stop()
		if next := d.monitor.NextRun(); next != nil {
			d.logger.Debug("next failure retry scheduled", "at", next)
		}
	}

	d.logger.Info("pdpd started",
		"version", Version,
		"store", d.cfg.Store.Backend,
		"failures", d.cfg.Failures.Backend,
		"metrics", d.metrics.Enabled(),
		"tracing", d.tracer.Enabled(),
		"tls", d.certs != nil,
		"auth", d.cfg.Server.Auth.Enabled,
	)

	err := d.server.Start(ctx)
	cancel()
	return err
}

// close releases every resource in reverse acquisition order and flushes
// pending spans.
func (d *daemon) close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	if d.tracer != nil {
		if err := d.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
