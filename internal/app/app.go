// Package app builds and owns the long-lived services of the pipeline: the
// message broker, the listings database, blob storage, the browser, and the
// work list. Commands build one App, run the services they need, and Close it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcstorage "cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/api"
	"github.com/JakeFAU/olx-listings-pipeline/internal/browser/headless"
	"github.com/JakeFAU/olx-listings-pipeline/internal/clock/system"
	"github.com/JakeFAU/olx-listings-pipeline/internal/config"
	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
	"github.com/JakeFAU/olx-listings-pipeline/internal/dispatcher"
	"github.com/JakeFAU/olx-listings-pipeline/internal/export"
	"github.com/JakeFAU/olx-listings-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/olx-listings-pipeline/internal/id/uuid"
	"github.com/JakeFAU/olx-listings-pipeline/internal/ingest"
	"github.com/JakeFAU/olx-listings-pipeline/internal/linkgen"
	"github.com/JakeFAU/olx-listings-pipeline/internal/metrics"
	"github.com/JakeFAU/olx-listings-pipeline/internal/pipeline"
	"github.com/JakeFAU/olx-listings-pipeline/internal/queue"
	queuememory "github.com/JakeFAU/olx-listings-pipeline/internal/queue/memory"
	queuepubsub "github.com/JakeFAU/olx-listings-pipeline/internal/queue/pubsub"
	"github.com/JakeFAU/olx-listings-pipeline/internal/router"
	"github.com/JakeFAU/olx-listings-pipeline/internal/storage"
	gcsstorage "github.com/JakeFAU/olx-listings-pipeline/internal/storage/gcs"
	localstorage "github.com/JakeFAU/olx-listings-pipeline/internal/storage/local"
	memorystorage "github.com/JakeFAU/olx-listings-pipeline/internal/storage/memory"
	pgstore "github.com/JakeFAU/olx-listings-pipeline/internal/storage/postgres"
	"github.com/JakeFAU/olx-listings-pipeline/internal/telemetry"
	"github.com/JakeFAU/olx-listings-pipeline/internal/tracker"
	"github.com/JakeFAU/olx-listings-pipeline/internal/worker"
	"github.com/JakeFAU/olx-listings-pipeline/internal/worklist"
)

// PropertyStore is the persistence boundary plus lifecycle hooks.
type PropertyStore interface {
	router.Store
	Ping(ctx context.Context) error
}

// Option customizes Build.
type Option func(*App)

// WithBrowser replaces the chromedp browser.
func WithBrowser(b crawler.Browser) Option {
	return func(a *App) { a.browser = b }
}

// WithBroker replaces the configured message broker.
func WithBroker(b queue.Broker) Option {
	return func(a *App) { a.broker = b }
}

// WithPropertyStore replaces the configured listings database.
func WithPropertyStore(s PropertyStore) Option {
	return func(a *App) { a.properties = s }
}

// WithBlobStore replaces the configured blob storage.
func WithBlobStore(b crawler.BlobStore) Option {
	return func(a *App) { a.blobs = b }
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(a *App) { a.clock = c }
}

// App holds the shared services for one command invocation.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	recorder metrics.Recorder
	clock    crawler.Clock

	workList   *worklist.Store
	broker     queue.Broker
	browser    crawler.Browser
	properties PropertyStore
	blobs      crawler.BlobStore

	pgStore        *pgstore.PropertyStore
	gcsClient      *gcstorage.Client
	tracerProvider *sdktrace.TracerProvider
}

// Build creates the App and the dependencies every command shares: tracing,
// metrics, and the work list. The broker, database, and blob store are opened
// on first use so commands that never touch them need no credentials.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		recorder: metrics.NewRecorder(),
		clock:    system.New(),
	}
	for _, opt := range opts {
		opt(a)
	}

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerProvider = tp

	a.workList, err = worklist.New(cfg.WorkList.Path)
	if err != nil {
		return nil, fmt.Errorf("work list init failed: %w", err)
	}

	return a, nil
}

// Config returns the configuration the App was built with.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// WorkList returns the work list store.
func (a *App) WorkList() *worklist.Store { return a.workList }

// Broker returns the message broker, connecting it on first use.
func (a *App) Broker(ctx context.Context) (queue.Broker, error) {
	if err := a.setupQueue(ctx); err != nil {
		return nil, err
	}
	return a.broker, nil
}

func (a *App) setupQueue(ctx context.Context) error {
	if a.broker != nil {
		return nil
	}
	switch a.cfg.Queue.Backend {
	case config.QueuePubSub:
		client, err := queuepubsub.New(ctx, a.cfg.Queue.ProjectID, a.logger.Named("pubsub"))
		if err != nil {
			return fmt.Errorf("pubsub init failed: %w", err)
		}
		a.broker = client
		a.logger.Info("Pub/Sub broker initialized",
			zap.String("project", a.cfg.Queue.ProjectID),
			zap.String("payload_topic", a.cfg.Queue.PayloadTopic),
			zap.String("status_topic", a.cfg.Queue.StatusTopic),
		)
	case config.QueueNoop:
		a.logger.Warn("using no-op broker; messages will be discarded")
		a.broker = queue.NoOp{}
	default:
		a.logger.Info("using in-memory broker", zap.Int("capacity", a.cfg.Queue.Capacity))
		a.broker = queuememory.NewBroker(a.cfg.Queue.Capacity)
	}
	return nil
}

// InProcessBroker reports whether messages only reach consumers running in
// this process.
func (a *App) InProcessBroker() bool {
	if a.broker != nil {
		_, ok := a.broker.(*queuememory.Broker)
		return ok
	}
	switch a.cfg.Queue.Backend {
	case config.QueuePubSub, config.QueueNoop:
		return false
	default:
		return true
	}
}

// PayloadSubscription is where the ingest service receives payloads. The
// in-memory broker delivers by topic name.
func (a *App) PayloadSubscription() string {
	if a.InProcessBroker() {
		return a.cfg.Queue.PayloadTopic
	}
	return a.cfg.Queue.PayloadSubscription
}

// StatusSubscription is where the tracker receives status events.
func (a *App) StatusSubscription() string {
	if a.InProcessBroker() {
		return a.cfg.Queue.StatusTopic
	}
	return a.cfg.Queue.StatusSubscription
}

// WorkerConfig maps the crawler settings onto the worker schedule.
func (a *App) WorkerConfig() worker.Config {
	c := a.cfg.Crawler
	return worker.Config{
		PayloadTopic:          a.cfg.Queue.PayloadTopic,
		StatusTopic:           a.cfg.Queue.StatusTopic,
		Selector:              c.Selector,
		SelectorTimeout:       c.SelectorTimeout,
		ExtractAttempts:       c.ExtractAttempts,
		ExtractBackoff:        c.ExtractBackoff,
		PaginateAttempts:      c.PaginateAttempts,
		PaginateBackoff:       c.PaginateBackoff,
		OpenAttempts:          c.OpenAttempts,
		NameResolutionBackoff: c.NameResolutionBackoff,
		PageDelay:             c.PageDelay,
	}
}

// NewDispatcher builds the crawl dispatcher, starting no browser until it runs.
func (a *App) NewDispatcher(ctx context.Context) (*dispatcher.Dispatcher, error) {
	broker, err := a.Broker(ctx)
	if err != nil {
		return nil, err
	}
	if a.browser == nil {
		c := a.cfg.Crawler
		b, err := headless.New(headless.Config{
			UserAgent:         c.UserAgent,
			Headless:          c.Headless,
			NavigationTimeout: c.NavigationTimeout,
			NavigationQPS:     c.NavigationQPS,
			ExecPath:          c.ExecPath,
			NextPageText:      c.NextPageText,
			AcceptLanguage:    c.AcceptLanguage,
		}, a.logger.Named("browser"))
		if err != nil {
			return nil, fmt.Errorf("browser init failed: %w", err)
		}
		a.browser = b
	}
	workerCfg := a.WorkerConfig()
	a.logger.Info("worker config",
		zap.Int("workers", a.cfg.Crawler.Workers),
		zap.String("payload_topic", workerCfg.PayloadTopic),
		zap.String("status_topic", workerCfg.StatusTopic),
		zap.Duration("selector_timeout", workerCfg.SelectorTimeout),
		zap.Duration("page_delay", workerCfg.PageDelay),
	)
	d, err := dispatcher.New(a.browser, broker, a.recorder, a.cfg.Crawler.Workers, workerCfg, a.logger.Named("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}
	return d, nil
}

// NewIngestService connects the listings database and blob storage and
// returns the payload consumer.
func (a *App) NewIngestService(ctx context.Context) (*ingest.Service, error) {
	if err := a.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.setupStorage(ctx); err != nil {
		return nil, err
	}

	opts := ingest.Options{Recorder: a.recorder, Clock: a.clock}
	if a.cfg.Storage.Export {
		opts.Exporter = export.NewCSVExporter(a.blobs, uuid.New(), a.clock, a.cfg.Storage.ExportPrefix)
	}
	if a.cfg.Storage.ArchiveRaw {
		opts.Archive = a.blobs
		opts.Hasher = sha256.New()
		opts.ArchivePrefix = a.cfg.Storage.ArchivePrefix
	}
	svc, err := ingest.New(
		pipeline.New(a.clock),
		router.New(a.properties, a.logger.Named("router")),
		opts,
		a.logger.Named("ingest"),
	)
	if err != nil {
		return nil, fmt.Errorf("ingest init failed: %w", err)
	}
	return svc, nil
}

// Properties returns the listings store, or nil before NewIngestService.
func (a *App) Properties() PropertyStore { return a.properties }

func (a *App) setupDatabase(ctx context.Context) error {
	if a.properties != nil {
		return nil
	}
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no DSN specified for database, keeping records in memory")
		store, err := memorystorage.NewPropertyStore(a.cfg.Database.Tables)
		if err != nil {
			return fmt.Errorf("memory property store init failed: %w", err)
		}
		a.properties = store
		return nil
	}
	store, err := pgstore.NewPropertyStore(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		Tables:          a.cfg.Database.Tables,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		BatchSize:       a.cfg.Database.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("property store init failed: %w", err)
	}
	a.pgStore = store
	a.properties = store
	a.logger.Info("property store initialized",
		zap.String("sale_table", a.cfg.Database.Tables.WithDefaults().Sale),
		zap.String("rent_table", a.cfg.Database.Tables.WithDefaults().Rent),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	if a.blobs != nil {
		return nil
	}
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		a.blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case config.StorageLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = store
	case config.StorageMemory:
		a.logger.Info("using in-memory storage backend")
		a.blobs = memorystorage.NewBlobStore()
	default:
		a.blobs = storage.NoOpBlobStore{}
	}
	return nil
}

// NewTracker returns the status event consumer.
func (a *App) NewTracker() *tracker.Tracker {
	return tracker.New(a.workList, a.recorder, a.logger.Named("tracker"))
}

// NewDiscoverer returns the seed region discoverer.
func (a *App) NewDiscoverer() *linkgen.Discoverer {
	return linkgen.NewDiscoverer(linkgen.DiscoverConfig{
		UserAgent: a.cfg.Links.UserAgent,
		Selector:  a.cfg.Links.Selector,
		Timeout:   a.cfg.Links.Timeout,
	}, a.logger.Named("linkgen"))
}

// NewAPIServer builds the ops HTTP server with readiness checks for the
// dependencies opened so far.
func (a *App) NewAPIServer() *api.Server {
	checks := map[string]api.Check{}
	if a.properties != nil {
		checks["database"] = a.properties.Ping
	}
	return api.NewServer(a.cfg.API, a.workList, checks, a.logger.Named("api"))
}

// Serve runs the ops HTTP server until ctx is done. It returns immediately
// when no port is configured.
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.API.Port == 0 {
		return nil
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.API.Port),
		Handler:           a.NewAPIServer().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.API.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("broker close: %w", err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
