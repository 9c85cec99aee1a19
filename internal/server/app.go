// Package server builds the crawler and its infrastructure from configuration
// and runs it, optionally alongside the status server.
package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiserep-spider/internal/api"
	"github.com/JakeFAU/wiserep-spider/internal/clock/system"
	"github.com/JakeFAU/wiserep-spider/internal/config"
	"github.com/JakeFAU/wiserep-spider/internal/crawler"
	collyfetcher "github.com/JakeFAU/wiserep-spider/internal/fetcher/colly"
	"github.com/JakeFAU/wiserep-spider/internal/hash/sha256"
	"github.com/JakeFAU/wiserep-spider/internal/id/uuid"
	"github.com/JakeFAU/wiserep-spider/internal/logging"
	"github.com/JakeFAU/wiserep-spider/internal/metrics"
	"github.com/JakeFAU/wiserep-spider/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/wiserep-spider/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/wiserep-spider/internal/publisher/pubsub"
	"github.com/JakeFAU/wiserep-spider/internal/registry"
	gcsstorage "github.com/JakeFAU/wiserep-spider/internal/storage/gcs"
	localstorage "github.com/JakeFAU/wiserep-spider/internal/storage/local"
	memorystorage "github.com/JakeFAU/wiserep-spider/internal/storage/memory"
	pgstore "github.com/JakeFAU/wiserep-spider/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	engine   *crawler.Engine
	mirror   crawler.Mirror
	registry *registry.Registry
	journal  *logging.Journal
	status   *api.Server

	gcsClient *storage.Client
	ledger    *pgstore.Store
	publisher crawler.Publisher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.String("objects_url", cfg.Site.ObjectsURL),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("output_dir", cfg.Storage.OutputDir),
	)

	if err := app.setupLocalState(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.setupMirror(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.setupLedger(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.setupEngine(); err != nil {
		app.Close()
		return nil, err
	}
	if cfg.Metrics.Addr != "" {
		app.status = api.NewServer(app.engine, app.registry, logger.Named("api"))
	}
	return app, nil
}

// setupLocalState opens the registry and audit journal, which always live
// on local disk under the output directory.
func (a *App) setupLocalState() error {
	if err := os.MkdirAll(a.cfg.Storage.OutputDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	reg, err := registry.Load(a.cfg.RegistryPath())
	if err != nil {
		return fmt.Errorf("registry init failed: %w", err)
	}
	a.registry = reg
	excluded, completed := reg.Counts()
	a.logger.Info("registry loaded",
		zap.String("path", reg.Path()),
		zap.Int("excluded", excluded),
		zap.Int("completed", completed),
	)

	a.journal, err = logging.OpenJournal(a.cfg.Storage.OutputDir)
	if err != nil {
		return fmt.Errorf("journal init failed: %w", err)
	}
	return nil
}

func (a *App) setupMirror(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS mirror", zap.String("bucket", a.cfg.Storage.GCSBucket))
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.mirror, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket:      a.cfg.Storage.GCSBucket,
			Prefix:      a.cfg.Storage.Prefix,
			InternalDir: a.cfg.Storage.InternalDir,
		})
		if err != nil {
			return fmt.Errorf("gcs mirror init failed: %w", err)
		}
	case config.BackendMemory:
		a.logger.Info("using in-memory mirror")
		a.mirror = memorystorage.NewMirror()
	default:
		a.logger.Info("using local mirror", zap.String("path", a.cfg.Storage.OutputDir))
		a.mirror, err = localstorage.New(localstorage.Config{
			Root:        a.cfg.Storage.OutputDir,
			InternalDir: a.cfg.Storage.InternalDir,
		})
		if err != nil {
			return fmt.Errorf("local mirror init failed: %w", err)
		}
	}
	return nil
}

func (a *App) setupLedger(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no db.dsn configured; outcome ledger disabled")
		return nil
	}
	var err error
	a.ledger, err = pgstore.NewStore(ctx, pgstore.Config{
		DSN:       a.cfg.DB.DSN,
		Table:     a.cfg.DB.Table,
		RunsTable: a.cfg.DB.RunsTable,
	})
	if err != nil {
		return fmt.Errorf("outcome ledger init failed: %w", err)
	}
	if a.cfg.DB.Migrate {
		if err := a.ledger.Migrate(ctx); err != nil {
			return err
		}
	}
	a.logger.Info("outcome ledger initialized",
		zap.String("table", a.cfg.DB.Table),
		zap.String("runs_table", a.cfg.DB.RunsTable),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	switch {
	case a.cfg.PubSub.TopicName == "":
		a.logger.Debug("no Pub/Sub topic configured; completion notifications disabled")
		return nil
	case a.cfg.PubSub.ProjectID == "":
		a.logger.Info("no Pub/Sub project configured; recording notifications in memory",
			zap.String("topic", a.cfg.PubSub.TopicName))
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupEngine() error {
	retry := crawler.NewRetryPolicy(
		a.cfg.HTTP.MaxRetries,
		time.Duration(a.cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(a.cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)
	limiter := ratelimit.New(ratelimit.Config{QPS: a.cfg.HTTP.RateLimitQPS})
	web := collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.HTTP.UserAgent,
		Timeout:      a.cfg.RequestTimeout(),
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
		RowsLimit:    a.cfg.Site.RowsLimit,
	}, retry, limiter, a.logger.Named("web"))
	a.logger.Info("web client configured",
		zap.String("user_agent", a.cfg.HTTP.UserAgent),
		zap.Duration("timeout", a.cfg.RequestTimeout()),
		zap.Float64("qps", a.cfg.HTTP.RateLimitQPS),
		zap.Int("max_retries", a.cfg.HTTP.MaxRetries),
	)

	deps := crawler.Collaborators{
		Web:       web,
		Mirror:    a.mirror,
		Registry:  a.registry,
		Journal:   a.journal,
		Publisher: a.publisher,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.NewUUIDGenerator(),
	}
	if a.ledger != nil {
		deps.Recorder = a.ledger
		deps.Runs = a.ledger
	}

	var err error
	a.engine, err = crawler.NewEngine(crawler.Config{
		ObjectsURL:       a.cfg.Site.ObjectsURL,
		HostCatalogURL:   a.cfg.Site.HostCatalogURL,
		RecentDaysField:  a.cfg.Site.RecentDaysField,
		RowsLimit:        a.cfg.Site.RowsLimit,
		Update:           a.cfg.Crawl.Update,
		Days:             a.cfg.Crawl.Days,
		Event:            a.cfg.Crawl.Event,
		AllowTypes:       a.cfg.Crawl.Types,
		DenyTypes:        a.cfg.Crawl.ExcludeTypes,
		ExcludedPrograms: a.cfg.Crawl.ExcludePrograms,
		ResetOnFullRun:   a.cfg.Crawl.ResetOnFullRun,
		Topic:            a.cfg.PubSub.TopicName,
	}, deps, a.logger)
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}
	return nil
}

// Engine returns the crawl engine.
func (a *App) Engine() *crawler.Engine {
	return a.engine
}

// Publisher returns the completion publisher, nil when notifications are off.
func (a *App) Publisher() crawler.Publisher {
	return a.publisher
}

// Mirror returns the selected mirror backend.
func (a *App) Mirror() crawler.Mirror {
	return a.mirror
}

// Run crawls once and returns the run summary. When a status address is
// configured the status server runs for the duration of the crawl.
func (a *App) Run(ctx context.Context) (crawler.RunSummary, error) {
	if a.status == nil {
		return a.engine.Run(ctx)
	}

	srvCtx, stop := context.WithCancel(ctx)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- a.status.Serve(srvCtx, a.cfg.Metrics.Addr)
	}()

	summary, err := a.engine.Run(ctx)
	stop()
	if serr := <-srvErr; serr != nil {
		a.logger.Warn("status server error", zap.Error(serr))
	}
	return summary, err
}

// Close releases every resource Build acquired. It is safe to call on a
// partially built App.
func (a *App) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
	if c, ok := a.publisher.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	// Sync fails on terminals; nothing useful can be done about it here.
	_ = a.logger.Sync()
}
