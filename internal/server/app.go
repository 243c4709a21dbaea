// Package server builds the application's dependencies from configuration and
// runs the scheduler and HTTP server until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/api"
	rediscache "github.com/JakeFAU/boatrace-crawler/internal/cache/redis"
	"github.com/JakeFAU/boatrace-crawler/internal/clock/system"
	"github.com/JakeFAU/boatrace-crawler/internal/collector"
	"github.com/JakeFAU/boatrace-crawler/internal/config"
	collyfetcher "github.com/JakeFAU/boatrace-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/boatrace-crawler/internal/hash/sha256"
	"github.com/JakeFAU/boatrace-crawler/internal/id/uuid"
	"github.com/JakeFAU/boatrace-crawler/internal/logging"
	goqueryparser "github.com/JakeFAU/boatrace-crawler/internal/parser/goquery"
	"github.com/JakeFAU/boatrace-crawler/internal/planner"
	"github.com/JakeFAU/boatrace-crawler/internal/policy/retry"
	memorypublisher "github.com/JakeFAU/boatrace-crawler/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/boatrace-crawler/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/boatrace-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/boatrace-crawler/internal/quota"
	"github.com/JakeFAU/boatrace-crawler/internal/race"
	"github.com/JakeFAU/boatrace-crawler/internal/schedule"
	"github.com/JakeFAU/boatrace-crawler/internal/scheduler"
	"github.com/JakeFAU/boatrace-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/boatrace-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/boatrace-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/boatrace-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/boatrace-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/boatrace-crawler/internal/storage/sqlite"
)

// Version is reported by /api/system-status.
var Version = "dev"

type closer struct {
	name string
	fn   func() error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	Quota     *quota.Guard
	Store     race.Store
	Collector *collector.Collector

	index     *schedule.Index
	scheduler *scheduler.Scheduler
	planner   *planner.Planner
	apiServer *api.Server

	closeOnce sync.Once
	closers   []closer
}

// Build creates the collection core: store, quota, fetcher, parser, archive
// and collector. The scheduler, broker and HTTP server are added by Run.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(cfg.Scheduler.Location()),
		index:  schedule.NewIndex(),
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("publisher", cfg.Publisher.Backend),
		zap.String("cache", cfg.Cache.Backend),
		zap.Int("max_scraping_per_day", cfg.Scraping.MaxPerDay),
		zap.Bool("cache_only", cfg.Scraping.CacheOnly),
	)

	if app.Store, err = setupStore(ctx, app); err != nil {
		app.Close()
		return nil, err
	}
	archiver, err := setupArchive(ctx, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Quota = quota.New(quota.Config{
		Limit:     cfg.Scraping.MaxPerDay,
		CacheOnly: cfg.Scraping.CacheOnly,
	}, app.clock, logger.Named("quota"))

	policy := retry.NewExponential(retry.Config{
		MaxRetries: cfg.Scraping.MaxRetries,
		BaseDelay:  time.Duration(cfg.Scraping.BackoffInitialMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Scraping.BackoffMaxMs) * time.Millisecond,
		Jitter:     true,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Scraping.UserAgent,
		Referer:   cfg.Scraping.Referer,
		Timeout:   cfg.Scraping.Timeout(),
		Cooldown:  cfg.Scraping.Delay(),
	}, policy, logger.Named("fetcher"))
	logger.Info("using colly fetcher",
		zap.Duration("timeout", cfg.Scraping.Timeout()),
		zap.Duration("cooldown", cfg.Scraping.Delay()),
		zap.Int("max_retries", cfg.Scraping.MaxRetries))

	var arch collector.Archiver
	if archiver != nil {
		arch = archiver
	}
	app.Collector = collector.New(
		app.Quota,
		fetcher,
		goqueryparser.New(),
		app.Store,
		arch,
		app.clock,
		uuid.NewGenerator(),
		collector.Config{
			BaseURL: cfg.Scraping.BaseURL,
			Timeout: cfg.Scraping.Timeout(),
			Estimate: collector.EstimateConfig{
				StartHour:   cfg.Scraping.Estimate.StartHour,
				StartMinute: cfg.Scraping.Estimate.StartMinute,
				Interval:    cfg.Scraping.EstimateInterval(),
				Races:       cfg.Scraping.Estimate.Races,
			},
		},
		logger.Named("collector"),
	)
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Today is the current race day in the configured time zone.
func (a *App) Today() string {
	return race.FormatDate(a.clock.Now())
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func setupStore(ctx context.Context, app *App) (race.Store, error) {
	cfg := app.cfg.Store
	var store race.Store
	switch cfg.Backend {
	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
		app.logger.Info("using postgres store")
		store = pg
	case config.BackendSQLite:
		lite, err := sqlitestore.Open(ctx, sqlitestore.Config{
			Path:          cfg.SQLite.Path,
			BusyTimeoutMs: cfg.SQLite.BusyTimeoutMs,
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.logger.Info("using sqlite store", zap.String("path", cfg.SQLite.Path))
		store = lite
	default:
		app.logger.Warn("using in-memory store, cached data is lost on restart")
		store = memorystorage.NewRaceStore()
	}
	app.onClose("store", store.Close)
	return store, nil
}

func setupArchive(ctx context.Context, app *App) (*storage.Archiver, error) {
	cfg := app.cfg.Archive
	var blobs race.BlobStore
	switch cfg.Backend {
	case config.BackendGCS:
		gcs, err := gcsstorage.New(ctx, gcsstorage.Config{Bucket: cfg.GCS.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.onClose("gcs", gcs.Close)
		app.logger.Info("archiving pages to GCS", zap.String("bucket", cfg.GCS.Bucket))
		blobs = gcs
	case config.BackendLocal:
		local, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving pages locally", zap.String("path", cfg.Local.BaseDir))
		blobs = local
	case config.BackendMemory:
		blobs = memorystorage.NewBlobStore()
	default:
		app.logger.Info("page archive disabled")
		return nil, nil
	}
	archiver, err := storage.NewArchiver(blobs, sha256.New(), cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("archiver init failed: %w", err)
	}
	return archiver, nil
}

func setupPublisher(ctx context.Context, app *App) (race.Publisher, error) {
	cfg := app.cfg.Publisher
	switch cfg.Backend {
	case config.BackendPubSub:
		pub, err := gcppublisher.New(ctx, gcppublisher.Config{ProjectID: cfg.PubSub.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.onClose("pubsub", pub.Close)
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.Topic))
		return pub, nil
	case config.BackendNATS:
		pub, err := natspublisher.Connect(ctx, natspublisher.Config{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxAge:        cfg.NATS.MaxAge,
		}, app.logger.Named("nats"))
		if err != nil {
			return nil, fmt.Errorf("nats publisher init failed: %w", err)
		}
		app.onClose("nats", pub.Close)
		app.logger.Info("NATS publisher initialized",
			zap.String("stream", cfg.NATS.Stream),
			zap.String("subject", pub.Subject(cfg.Topic)))
		return pub, nil
	default:
		app.logger.Warn("no broker configured, refresh requests stay in memory")
		return memorypublisher.New(), nil
	}
}

func setupCache(ctx context.Context, app *App) (api.EntryCache, error) {
	cfg := app.cfg.Cache
	if cfg.Backend != config.BackendRedis {
		app.logger.Info("entry response cache disabled")
		return nil, nil
	}
	rcfg := rediscache.Config{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		TTL:       cfg.Redis.TTL(),
		KeyPrefix: cfg.Redis.KeyPrefix,
	}
	client, err := rediscache.NewClient(ctx, rcfg)
	if err != nil {
		return nil, fmt.Errorf("redis cache init failed: %w", err)
	}
	app.onClose("redis", client.Close)
	app.logger.Info("entry response cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", rcfg.TTL))
	return rediscache.New(client, rcfg, app.logger.Named("cache")), nil
}

// buildService adds the scheduler, planner, broker and HTTP API.
func (a *App) buildService(ctx context.Context) error {
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	cache, err := setupCache(ctx, a)
	if err != nil {
		return err
	}

	sc := a.cfg.Scheduler
	a.scheduler = scheduler.New(a.clock, scheduler.Config{
		Workers:        sc.Workers,
		QueueDepth:     sc.QueueDepth,
		TickInterval:   sc.TickInterval,
		FiredRetention: sc.Retention,
	}, a.logger.Named("scheduler"))

	a.planner = planner.New(
		a.Collector,
		a.Store,
		a.index,
		a.scheduler,
		planner.NewPublishRefresher(publisher, a.cfg.Publisher.Topic, a.logger.Named("refresh")),
		a.clock,
		planner.Config{
			Location:       sc.Location(),
			DailyHour:      sc.DailyHour,
			DailyMinute:    sc.DailyMinute,
			SweepInterval:  sc.SweepInterval,
			LeadTime:       sc.LeadTime,
			SweepWindowMin: sc.SweepWindowMin,
			SweepWindowMax: sc.SweepWindowMax,
			SweepRefresh:   sc.SweepRefresh,
			Retention:      sc.Retention,
		},
		a.logger.Named("planner"),
	)
	if err := a.planner.Register(); err != nil {
		return fmt.Errorf("register recurring jobs: %w", err)
	}

	a.apiServer = api.NewServer(api.Deps{
		Collector: a.Collector,
		Quota:     a.Quota,
		Store:     a.Store,
		Index:     a.index,
		Planner:   a.planner,
		Jobs:      a.scheduler,
		Cache:     cache,
		Clock:     a.clock,
	}, api.Options{
		Version:        Version,
		StoreBackend:   a.cfg.Store.Backend,
		ArchiveBackend: a.cfg.Archive.Backend,
		PublishBackend: a.cfg.Publisher.Backend,
		Delay:          a.cfg.Scraping.Delay(),
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		RequestTimeout: a.cfg.Server.WriteTimeout,
		Ready: func(ctx context.Context) error {
			_, err := a.Store.ScrapeStats(ctx, a.Today())
			return err
		},
	}, a.logger.Named("api"))
	return nil
}

// Handler exposes the HTTP handler once the service is built.
func (a *App) Handler() http.Handler {
	if a.apiServer == nil {
		return http.NotFoundHandler()
	}
	return a.apiServer.Handler()
}

// Run builds the service side, warm-starts today's jobs, and serves until ctx
// is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.buildService(ctx); err != nil {
		a.Close()
		return err
	}

	if a.cfg.Scheduler.WarmStart {
		n, err := a.planner.Warm(ctx)
		if err != nil {
			a.logger.Warn("warm start failed", zap.Error(err))
		} else {
			a.logger.Info("warm start complete", zap.Int("jobs", n))
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("scheduler started", zap.Int("workers", a.cfg.Scheduler.Workers))
		a.scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout + 5*time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	a.Close()
	return nil
}

// Close releases every backend in reverse order of creation.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.fn(); err != nil {
				a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			}
		}
		a.logger.Info("shutdown complete")
		_ = a.logger.Sync()
	})
}
