// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/fixlab/internal/api"
	"github.com/JakeFAU/fixlab/internal/audit"
	"github.com/JakeFAU/fixlab/internal/clock/system"
	"github.com/JakeFAU/fixlab/internal/config"
	"github.com/JakeFAU/fixlab/internal/crawler"
	"github.com/JakeFAU/fixlab/internal/fetcher/headless"
	"github.com/JakeFAU/fixlab/internal/fixlab"
	"github.com/JakeFAU/fixlab/internal/id/uuid"
	"github.com/JakeFAU/fixlab/internal/logging"
	"github.com/JakeFAU/fixlab/internal/metrics"
	memorypublisher "github.com/JakeFAU/fixlab/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/fixlab/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/fixlab/internal/storage/gcs"
	localstorage "github.com/JakeFAU/fixlab/internal/storage/local"
	memorystorage "github.com/JakeFAU/fixlab/internal/storage/memory"
	pgstore "github.com/JakeFAU/fixlab/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/fixlab/internal/storage/sqlite"
	"github.com/JakeFAU/fixlab/internal/telemetry"
)

// memoryPublisherLimit bounds the in-process notification log.
const memoryPublisherLimit = 100

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	service        *audit.Service
	apiServer      *api.Server
	sessions       fixlab.SessionStore
	blobStore      *gcsstorage.BlobStore
	pubsub         *gcppublisher.Publisher
	tracerProvider *sdktrace.TracerProvider
}

// Run starts the HTTP server and blocks until ctx is canceled or a
// termination signal arrives, then drains and closes dependencies.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Service returns the audit service, for one-shot CLI use.
func (a *App) Service() *audit.Service {
	return a.service
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close releases every dependency. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
			errs = append(errs, err)
		}
		a.pubsub = nil
	}
	if a.blobStore != nil {
		if err := a.blobStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
			errs = append(errs, err)
		}
		a.blobStore = nil
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			a.logger.Warn("session store close failed", zap.Error(err))
			errs = append(errs, err)
		}
		a.sessions = nil
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerProvider = nil
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_driver", cfg.DB.Driver),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
	)

	if cfg.Telemetry.Enabled {
		app.tracerProvider, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry, logger.Named("trace"))
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
	}

	if app.sessions, err = setupSessionStore(ctx, app); err != nil {
		return nil, err
	}
	artifacts, err := setupArtifacts(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	var driver fixlab.Driver = headless.NewChromedp(cfg.HeadlessConfig(), logger.Named("driver"))
	if cfg.Driver.Disabled {
		logger.Warn("headless driver disabled; audits will fail to launch")
		driver = headless.NewNoop()
	}
	crawl, err := crawler.New(cfg.CrawlerConfig(), driver, artifacts, logger.Named("crawler"))
	if err != nil {
		return nil, fmt.Errorf("crawler init failed: %w", err)
	}

	app.service, err = audit.New(cfg.AuditConfig(), audit.Deps{
		Crawler:   crawl,
		Sessions:  app.sessions,
		Artifacts: artifacts,
		Publisher: publisher,
		Clock:     system.New(),
		IDs:       uuid.New(),
		Logger:    logger.Named("audit"),
	})
	if err != nil {
		return nil, fmt.Errorf("audit service init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.service, *cfg, logger.Named("api"))
	return app, nil
}

func setupSessionStore(ctx context.Context, app *App) (fixlab.SessionStore, error) {
	cfg := app.cfg.DB
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := pgstore.Open(ctx, pgstore.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("postgres session store init failed: %w", err)
		}
		app.logger.Info("using postgres session store")
		return store, nil
	case config.DriverMemory:
		app.logger.Warn("using in-memory session store; sessions are lost on restart")
		return memorystorage.NewSessionStore(system.New()), nil
	default:
		store, err := sqlitestore.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite session store init failed: %w", err)
		}
		app.logger.Info("using sqlite session store", zap.String("path", cfg.DSN))
		return store, nil
	}
}

func setupArtifacts(ctx context.Context, app *App) (*localstorage.ArtifactStore, error) {
	cfg := app.cfg.Storage
	localCfg := localstorage.Config{
		BaseDir:      cfg.ScreenshotDir,
		MirrorPrefix: cfg.GCSPrefix,
		Logger:       app.logger.Named("artifacts"),
	}
	if cfg.GCSBucket != "" {
		blobStore, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket:       cfg.GCSBucket,
			CacheControl: "private, max-age=300",
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.blobStore = blobStore
		localCfg.Mirror = blobStore
		app.logger.Info("mirroring screenshots to GCS",
			zap.String("bucket", cfg.GCSBucket),
			zap.String("prefix", cfg.GCSPrefix),
		)
	}
	artifacts, err := localstorage.New(localCfg)
	if err != nil {
		return nil, fmt.Errorf("artifact store init failed: %w", err)
	}
	app.logger.Debug("artifact store ready", zap.String("path", artifacts.BaseDir()))
	return artifacts, nil
}

func setupPublisher(ctx context.Context, app *App) (fixlab.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.Topic == "" || cfg.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.NewWithLimit(memoryPublisherLimit), nil
	}
	pub, err := gcppublisher.Open(ctx, cfg.ProjectID, cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsub = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return pub, nil
}
