// Package server builds the application graph from configuration and runs it.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/scraperhose/internal/admission"
	"github.com/JakeFAU/scraperhose/internal/api"
	"github.com/JakeFAU/scraperhose/internal/clock/system"
	"github.com/JakeFAU/scraperhose/internal/config"
	"github.com/JakeFAU/scraperhose/internal/dedup"
	"github.com/JakeFAU/scraperhose/internal/extract"
	"github.com/JakeFAU/scraperhose/internal/feed"
	collyfetcher "github.com/JakeFAU/scraperhose/internal/fetcher/colly"
	"github.com/JakeFAU/scraperhose/internal/id/uuid"
	"github.com/JakeFAU/scraperhose/internal/ingest"
	"github.com/JakeFAU/scraperhose/internal/logging"
	"github.com/JakeFAU/scraperhose/internal/metrics"
	"github.com/JakeFAU/scraperhose/internal/orchestrator"
	"github.com/JakeFAU/scraperhose/internal/pipeline"
	"github.com/JakeFAU/scraperhose/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/scraperhose/internal/publisher/pubsub"
	"github.com/JakeFAU/scraperhose/internal/readability"
	"github.com/JakeFAU/scraperhose/internal/sampler"
	"github.com/JakeFAU/scraperhose/internal/stats"
	memorystore "github.com/JakeFAU/scraperhose/internal/storage/memory"
	pgstore "github.com/JakeFAU/scraperhose/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	orch      *orchestrator.Orchestrator
	apiServer *api.Server
	metrics   *metrics.Metrics
	store     ingest.Store
	publisher ingest.Publisher

	pgStore         *pgstore.ArticleStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client

	summary   orchestrator.Summary
	closeOnce sync.Once
}

// defaultTopic names batch notifications sent through an injected publisher
// when pubsub.topic_name is empty.
const defaultTopic = "batches"

// Options override process-level wiring. Zero values use the process defaults.
type Options struct {
	Logger *zap.Logger
	// Stdout receives the per-feed report lines.
	Stdout io.Writer
	// Stdin is read for tier commands when control.stdin is enabled.
	Stdin io.Reader
	// Publisher receives batch notifications in place of Pub/Sub.
	Publisher ingest.Publisher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}

	app := &App{cfg: cfg, logger: logger, metrics: metrics.New(nil)}
	logger.Info("building application dependencies",
		zap.String("feeds", cfg.Feeds.Path),
		zap.Int("skip_first", cfg.Feeds.SkipFirst),
		zap.Int("server_port", cfg.Server.Port),
	)

	opener, err := app.setupFeedSource(ctx)
	if err != nil {
		return nil, err
	}
	if err := app.setupStore(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if err := app.setupPublisher(ctx, opts.Publisher); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	clock := system.New()
	slots, err := admission.New(admission.Config{
		Ceilings:     cfg.Ceilings(),
		Initial:      cfg.InitialTier(),
		PollInterval: cfg.PollInterval(),
	})
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("admission init failed: %w", err)
	}
	registry := dedup.New()
	recorder := stats.New(clock)

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.RPS,
		DefaultBurst: cfg.RateLimit.Burst,
		Observer:     app.metrics.ObserveRateLimitDelay,
	})
	if cfg.RateLimit.RPS > 0 {
		logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.RPS),
			zap.Int("default_burst", cfg.RateLimit.Burst),
		)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTPTimeout(),
		Limiter:       limiter,
	})
	reader := readability.NewReader(fetcher, readability.Config{MinTextLength: cfg.Extract.MinTextLength})
	extractor := extract.New(reader, recorder, clock, logger.Named("extract"))
	pipe := pipeline.New(feed.NewParser(fetcher), extractor, slots, registry, recorder, logger.Named("pipeline"))

	deps := orchestrator.Deps{
		Pipeline:  pipe,
		Store:     app.store,
		Slots:     slots,
		Registry:  registry,
		Recorder:  recorder,
		Publisher: app.publisher,
		IDs:       uuid.New(),
		Clock:     clock,
		Console:   orchestrator.NewConsole(opts.Stdout),
		Observer:  app.metrics,
		Logger:    logger.Named("orchestrator"),
	}
	var resources metrics.ResourceSource
	if s := app.setupSampler(clock); s != nil {
		deps.Sampler = s
		resources = s
	}

	orchCfg := orchestrator.Config{
		LoadFeeds: func(ctx context.Context) ([]string, error) {
			return feed.LoadList(ctx, cfg.Feeds.Path, opener)
		},
		SkipFirst: cfg.Feeds.SkipFirst,
		Topic:     cfg.PubSub.TopicName,
	}
	if orchCfg.Topic == "" && app.publisher != nil {
		orchCfg.Topic = defaultTopic
	}
	if cfg.Control.Stdin {
		orchCfg.Control = opts.Stdin
	}
	app.orch, err = orchestrator.New(orchCfg, deps)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	app.metrics.RegisterSources(metrics.Sources{
		Recorder:  recorder,
		Slots:     slots,
		Resources: resources,
		Status:    app.orch,
	})
	if cfg.Server.Port > 0 {
		apiDeps := api.Deps{
			Tiers:   slots,
			Stats:   recorder,
			Status:  app.orch,
			Metrics: app.metrics,
			Logger:  logger.Named("api"),
			APIKey:  cfg.Server.APIKey,
		}
		if resources != nil {
			apiDeps.Resources = resources
		}
		app.apiServer = api.NewServer(apiDeps)
	}
	return app, nil
}

func (a *App) setupFeedSource(ctx context.Context) (feed.ObjectOpener, error) {
	if !strings.HasPrefix(a.cfg.Feeds.Path, "gs://") {
		return nil, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.storage = client
	a.logger.Info("reading feed list from GCS", zap.String("path", a.cfg.Feeds.Path))
	return feed.NewGCSOpener(client), nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("No DSN specified for database, using in-memory article store")
		a.store = memorystore.NewArticleStore()
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		Schema:          a.cfg.Database.Schema,
		Table:           a.cfg.Database.Table,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.MaxConnLifetime(),
	})
	if err != nil {
		return fmt.Errorf("article store init failed: %w", err)
	}
	a.pgStore = store
	a.store = store
	a.logger.Info("article store initialized",
		zap.String("schema", a.cfg.Database.Schema),
		zap.String("table", a.cfg.Database.Table),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context, injected ingest.Publisher) error {
	if injected != nil {
		a.publisher = injected
		return nil
	}
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("No Pub/Sub topic configured, batch notifications disabled")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client.Publisher(a.cfg.PubSub.TopicName))
	a.publisher = a.pubsubPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupSampler(clock ingest.Clock) *sampler.Sampler {
	if !a.cfg.Sampler.Enabled {
		return nil
	}
	src, err := sampler.NewProcSource()
	if err != nil {
		a.logger.Warn("resource sampling unavailable", zap.Error(err))
		return nil
	}
	return sampler.New(src, clock, sampler.Config{Interval: a.cfg.SamplerInterval()}, a.logger.Named("sampler"))
}

// Run executes one ingestion run. SIGINT or SIGTERM stop new feeds from being
// launched; the run still drains before Run returns.
func (a *App) Run(ctx context.Context) error {
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	serverDone := make(chan struct{})
	if a.apiServer != nil {
		go func() {
			defer close(serverDone)
			if err := a.apiServer.ListenAndServe(serverCtx, fmt.Sprintf(":%d", a.cfg.Server.Port)); err != nil {
				a.logger.Error("http server error", zap.Error(err))
			}
		}()
	} else {
		close(serverDone)
	}

	defer a.Close()
	summary, err := a.orch.Run(runCtx)
	stopServer()
	<-serverDone
	a.summary = summary
	if err != nil {
		return fmt.Errorf("ingestion run: %w", err)
	}
	return nil
}

// Summary returns the result of the last Run.
func (a *App) Summary() orchestrator.Summary {
	return a.summary
}

// Store exposes the article store in use.
func (a *App) Store() ingest.Store {
	return a.store
}

// Publisher exposes the batch notification publisher in use, or nil when
// notifications are disabled.
func (a *App) Publisher() ingest.Publisher {
	return a.publisher
}

// Close releases external clients. It is safe to call more than once.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	a.closeOnce.Do(a.closeClients)
}

func (a *App) closeClients() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}
