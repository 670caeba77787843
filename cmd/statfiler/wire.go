package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"statfiler/internal/browser"
	"statfiler/internal/calibrate"
	"statfiler/internal/config"
	"statfiler/internal/evidence"
	miniostore "statfiler/internal/evidence/minio"
	s3store "statfiler/internal/evidence/s3"
	"statfiler/internal/health"
	"statfiler/internal/logging"
	"statfiler/internal/metrics"
	"statfiler/internal/pipeline"
	"statfiler/internal/portal"
	"statfiler/internal/secrets"
	"statfiler/internal/selectors"
	"statfiler/internal/settlement"
	"statfiler/internal/store"
)

// app holds every constructed component. Nothing is package-level state;
// commands build one app and close it on exit.
type app struct {
	cfg        *config.Config
	logs       *logging.Logger
	store      store.Store
	evidence   evidence.Store
	selectors  *selectors.Source
	driver     *browser.RodDriver
	metrics    *metrics.Metrics
	calibrator *calibrate.Calibrator
	engine     *portal.Engine
	pipeline   *pipeline.Orchestrator
	monitor    *health.Monitor
}

// newApp wires the components described by cfg.
func newApp(ctx context.Context, cfg *config.Config, logs *logging.Logger) (*app, error) {
	a := &app{
		cfg:        cfg,
		logs:       logs,
		metrics:    metrics.New(),
		calibrator: calibrate.New(cfg.RegisteredAgent),
	}

	st, err := store.Open(ctx, cfg.Store, logs.For(logging.CategoryStore))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st

	a.evidence, err = openEvidence(ctx, cfg.Evidence)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open evidence store: %w", err)
	}

	a.selectors, err = selectors.LoadSource(cfg.Selectors.Path)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.driver = browser.NewRodDriver(cfg.Browser, logs.For(logging.CategoryBrowser))
	recorder := evidence.NewRecorder(a.evidence, cfg.Evidence.Prefix)

	a.engine = portal.New(a.driver, a.selectors, recorder, cfg.Portal.Engine(cfg.Portal.EntryURL),
		portal.WithLogger(logs.For(logging.CategoryPortal)),
		portal.WithMetrics(a.metrics),
	)

	var settler pipeline.Settler
	if cfg.Settlement.Enabled {
		provider, err := secrets.Open(cfg.Secrets)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open secrets provider: %w", err)
		}
		gateway := settlement.NewHTTPGateway(cfg.Settlement.GatewayURL, cfg.Settlement.GetTimeout())
		settler = settlement.NewWriter(gateway, provider, a.store, cfg.Settlement.Writer(),
			logs.For(logging.CategorySettlement), a.metrics)
	}

	a.pipeline = pipeline.New(a.store, a.calibrator, a.engine, settler,
		pipeline.WithLogger(logs.For(logging.CategoryPipeline)),
		pipeline.WithAuditor(logging.NewAuditor(logs)),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithRecordTimeout(cfg.Server.GetRecordTimeout()),
	)

	healthURL := cfg.Health.EntryURL
	if healthURL == "" {
		healthURL = cfg.Portal.EntryURL
	}
	healthEngine := portal.New(a.driver, a.selectors, recorder, cfg.Portal.Engine(healthURL),
		portal.WithLogger(logs.For(logging.CategoryHealth).Named("portal")),
	)
	a.monitor = health.NewMonitor(a.calibrator, healthEngine, a.store, cfg.Health.Monitor(),
		logs.For(logging.CategoryHealth), a.metrics)

	return a, nil
}

// openEvidence picks the evidence backend. It lives here rather than in the
// evidence package because the s3 and minio drivers import evidence.
func openEvidence(ctx context.Context, cfg config.EvidenceConfig) (evidence.Store, error) {
	switch cfg.Driver {
	case evidence.DriverFilesystem, "":
		return evidence.NewFilesystem(cfg.Dir)
	case evidence.DriverMemory:
		return evidence.NewMemory(), nil
	case evidence.DriverS3:
		return s3store.New(ctx, cfg.S3)
	case evidence.DriverMinio:
		return miniostore.New(ctx, cfg.Minio)
	default:
		return nil, fmt.Errorf("unknown evidence driver %q", cfg.Driver)
	}
}

// watchSelectors starts the hot-reload watcher when configured. The
// returned stop func is never nil.
func (a *app) watchSelectors(ctx context.Context) (func(), error) {
	if !a.cfg.Selectors.Watch {
		return func() {}, nil
	}
	w, err := selectors.NewWatcher(a.cfg.Selectors.Path, a.selectors, a.logs.For(logging.CategorySelectors))
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w.Stop, nil
}

// Close releases the browser and the store.
func (a *app) Close() {
	var errs []error
	if a.driver != nil {
		errs = append(errs, a.driver.Shutdown())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logs.Root().Warn("error during shutdown", zap.Error(err))
	}
}
