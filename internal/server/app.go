// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/migration-progress/internal/analytics"
	"github.com/JakeFAU/migration-progress/internal/api"
	"github.com/JakeFAU/migration-progress/internal/clock/system"
	"github.com/JakeFAU/migration-progress/internal/config"
	"github.com/JakeFAU/migration-progress/internal/id/uuid"
	"github.com/JakeFAU/migration-progress/internal/logging"
	"github.com/JakeFAU/migration-progress/internal/metrics"
	"github.com/JakeFAU/migration-progress/internal/progress"
	"github.com/JakeFAU/migration-progress/internal/progress/observers"
	memorypublisher "github.com/JakeFAU/migration-progress/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/migration-progress/internal/publisher/pubsub"
	"github.com/JakeFAU/migration-progress/internal/simulation"
	"github.com/JakeFAU/migration-progress/internal/storage/memory"
	pgstore "github.com/JakeFAU/migration-progress/internal/storage/postgres"
	"github.com/JakeFAU/migration-progress/internal/store"
	"github.com/JakeFAU/migration-progress/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	tracing   *telemetry.Provider
	runRepo   store.RunRepository
	pgStore   *pgstore.RunStore
	pubsub    *gcppublisher.Publisher
	memPub    *memorypublisher.Publisher
	processor *progress.Processor
	apiServer *api.Server

	closeOnce sync.Once
	closeErr  error
}

// Options carries process-level collaborators that do not come from config.
type Options struct {
	// Logger overrides the logger built from config.Logging.
	Logger *zap.Logger
	// DisplayOut receives the terminal progress panel; nil disables it.
	DisplayOut io.Writer
	// Pool overrides the Postgres pool, primarily for tests.
	Pool pgstore.Pool
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Strings("analytics_transports", cfg.Telemetry.Transports),
		zap.Bool("tracing", cfg.Tracing.Enabled),
		zap.Bool("postgres", cfg.Database.DSN != "" || opts.Pool != nil),
	)

	var err error
	app.tracing, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err := app.setupHistory(ctx, opts.Pool); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	obs, promObserver, err := app.setupObservers(ctx, opts.DisplayOut)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	procCfg := progress.Config{
		ObserverTimeout: cfg.Processor.ObserverTimeout,
		BaseContext:     context.WithoutCancel(ctx),
		Logger:          logger.Named("processor"),
		IDs:             uuid.NewUUIDGenerator(),
		OnViolation:     promObserver.RecordViolation,
	}
	app.processor = progress.NewProcessor(procCfg, obs...)
	logger.Info("progress processor initialized",
		zap.Int("observers", len(obs)),
		zap.Duration("observer_timeout", procCfg.ObserverTimeout),
	)

	app.apiServer = api.NewServer(api.Deps{
		Progress:    app.processor,
		Runs:        app.runRepo,
		Gatherer:    app.registry,
		HTTPMetrics: metrics.NewHTTP(app.registry),
		Logger:      logger.Named("api"),
	})
	return app, nil
}

func (a *App) setupHistory(ctx context.Context, pool pgstore.Pool) error {
	switch {
	case pool != nil:
		s, err := pgstore.NewRunStoreWithPool(pool)
		if err != nil {
			return fmt.Errorf("run store init failed: %w", err)
		}
		a.pgStore = s
	case a.cfg.Database.DSN != "":
		s, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
			ApplySchema:     a.cfg.Database.ApplySchema,
		})
		if err != nil {
			return fmt.Errorf("run store init failed: %w", err)
		}
		a.pgStore = s
	default:
		a.logger.Warn("No DSN specified for database, keeping run history in memory")
		a.runRepo = memory.NewRunStore()
		return nil
	}
	a.logger.Info("postgres run history initialized")
	a.runRepo = a.pgStore
	return nil
}

func (a *App) setupObservers(
	ctx context.Context,
	displayOut io.Writer,
) ([]progress.Observer, *observers.PrometheusObserver, error) {
	promObserver, err := observers.NewPrometheusObserver(a.registry)
	if err != nil {
		return nil, nil, fmt.Errorf("prometheus observer init failed: %w", err)
	}
	obs := []progress.Observer{
		observers.NewLogObserver(a.logger.Named("progress_log")),
		promObserver,
		observers.NewHistoryObserver(a.runRepo, a.logger.Named("progress_history")),
	}
	if a.cfg.Display.Enabled && displayOut != nil {
		obs = append(obs, observers.NewDisplayObserver(displayOut, observers.DisplayConfig{
			RefreshInterval: a.cfg.Display.RefreshInterval,
		}))
		a.logger.Debug("Added display observer", zap.Duration("refresh", a.cfg.Display.RefreshInterval))
	}

	recorders, err := a.setupRecorders(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(recorders) > 0 {
		obs = append(obs, analytics.NewObserver(recorders,
			analytics.WithClock(system.New()),
			analytics.WithLogger(a.logger.Named("analytics")),
		))
	}
	return obs, promObserver, nil
}

func (a *App) setupRecorders(ctx context.Context) (analytics.MultiRecorder, error) {
	tcfg := a.cfg.Telemetry
	var recorders analytics.MultiRecorder
	if tcfg.HasTransport(config.TransportLog) {
		recorders = append(recorders, analytics.NewLogRecorder(a.logger.Named("analytics_log")))
	}
	if tcfg.HasTransport(config.TransportMemory) {
		a.memPub = memorypublisher.New()
		recorders = append(recorders, analytics.NewPublisherRecorder(a.memPub, tcfg.Topic))
	}
	if tcfg.HasTransport(config.TransportPubSub) {
		pub, err := gcppublisher.New(ctx, gcppublisher.Config{
			ProjectID: a.cfg.PubSub.ProjectID,
			Endpoint:  a.cfg.PubSub.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.pubsub = pub
		recorders = append(recorders, analytics.NewPublisherRecorder(pub, tcfg.Topic))
		a.logger.Info("Pub/Sub analytics publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", tcfg.Topic),
		)
	}
	if tcfg.HasTransport(config.TransportSpan) {
		if !a.tracing.Enabled() {
			a.logger.Warn("span analytics transport requested but tracing is disabled")
		}
		recorders = append(recorders, analytics.NewSpanRecorder(a.tracing.Tracer()))
	}
	return recorders, nil
}

// Processor exposes the event processor to producers.
func (a *App) Processor() *progress.Processor {
	return a.processor
}

// RunRepository exposes the run history store.
func (a *App) RunRepository() store.RunRepository {
	return a.runRepo
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Simulate runs the mock migration workload once. It returns as soon as the
// last event has been submitted; observers may still be catching up until
// Close drains the processor.
func (a *App) Simulate(ctx context.Context) error {
	runner := simulation.NewRunner(simulation.Config{
		PreviousVersion: a.cfg.Simulation.PreviousVersion,
		CurrentVersion:  a.cfg.Simulation.CurrentVersion,
		Seed:            a.cfg.Simulation.Seed,
		MaxRecords:      a.cfg.Simulation.MaxRecords,
		MaxDelay:        a.cfg.Simulation.MaxDelay,
		Logger:          a.logger.Named("simulation"),
	})
	a.logger.Info("simulation started",
		zap.Int("migrations", len(simulation.DefaultCatalogue)),
		zap.Int64("seed", a.cfg.Simulation.Seed),
	)
	if err := runner.Run(ctx, a.processor); err != nil {
		return fmt.Errorf("run simulation: %w", err)
	}
	a.logger.Info("simulation submitted", zap.Int("migrations", len(simulation.DefaultCatalogue)))
	return nil
}

// Serve runs the HTTP API until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close drains the processor and shuts down infrastructure. Only the first
// call does any work; later calls return its result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeErr = a.close(ctx)
	})
	return a.closeErr
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.processor != nil {
		closeCtx, cancel := ctx, context.CancelFunc(func() {})
		if a.cfg.Processor.CloseTimeout > 0 {
			closeCtx, cancel = context.WithTimeout(ctx, a.cfg.Processor.CloseTimeout)
		}
		err := a.processor.Close(closeCtx)
		cancel()
		if err != nil {
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.memPub != nil {
		if err := a.memPub.Close(); err != nil {
			a.logger.Warn("memory publisher close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
