// Package orchestrator drives a whole ingestion run: startup, feed fan-out, draining and reporting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scraperhose/internal/admission"
	"github.com/JakeFAU/scraperhose/internal/dedup"
	"github.com/JakeFAU/scraperhose/internal/ingest"
	"github.com/JakeFAU/scraperhose/internal/pipeline"
	"github.com/JakeFAU/scraperhose/internal/sampler"
	"github.com/JakeFAU/scraperhose/internal/stats"
)

// ErrAlreadyRun is returned when Run is called more than once.
var ErrAlreadyRun = errors.New("orchestrator already run")

// State is the lifecycle phase of a run. Transitions only move forward.
type State int32

// Lifecycle phases.
const (
	StateInitializing State = iota
	StateRunning
	StateDraining
	StateTerminated
)

// String returns the phase name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// FeedLoader returns the feed list.
type FeedLoader func(ctx context.Context) ([]string, error)

// FeedPipeline is the per-feed work.
type FeedPipeline interface {
	Fetch(ctx context.Context, feedURL string) ([]string, error)
	Process(ctx context.Context, feedURL string, links []string) pipeline.Batch
}

// ResourceSampler measures the process in the background.
type ResourceSampler interface {
	Run(ctx context.Context)
	Snapshot() sampler.Resources
}

// Observer receives per-feed and per-batch timings.
type Observer interface {
	FeedCompleted(outcome string, d time.Duration)
	BatchPersisted(articles int, inserted int64, d time.Duration)
}

// Feed outcomes passed to Observer.FeedCompleted.
const (
	OutcomeOK          = "ok"
	OutcomeFeedFailed  = "feed_failed"
	OutcomeStoreFailed = "store_failed"
)

// Config controls a run.
type Config struct {
	LoadFeeds FeedLoader
	SkipFirst int
	// Control is read for tier commands when non-nil.
	Control io.Reader
	// Topic receives a notification per persisted batch when a Publisher is set.
	Topic string
}

// Deps are the collaborators of a run.
type Deps struct {
	Pipeline  FeedPipeline
	Store     ingest.Store
	Slots     *admission.Controller
	Registry  *dedup.Registry
	Recorder  *stats.Recorder
	Sampler   ResourceSampler
	Publisher ingest.Publisher
	IDs       ingest.IDGenerator
	Clock     ingest.Clock
	Console   *Console
	Observer  Observer
	Logger    *zap.Logger
}

// Status is a point-in-time view of run progress.
type Status struct {
	State     string `json:"state"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	Total     int    `json:"total"`
}

// Summary describes a finished run.
type Summary struct {
	Total       int
	Launched    int
	Processed   int64
	Failed      int64
	Interrupted bool
	Stats       stats.Snapshot
}

// Orchestrator owns one ingestion run.
type Orchestrator struct {
	cfg  Config
	deps Deps

	started   atomic.Bool
	state     atomic.Int32
	total     atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case cfg.LoadFeeds == nil:
		return nil, fmt.Errorf("feed loader is required")
	case deps.Pipeline == nil:
		return nil, fmt.Errorf("pipeline is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Slots == nil || deps.Registry == nil || deps.Recorder == nil:
		return nil, fmt.Errorf("admission controller, registry and recorder are required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if deps.Console == nil {
		deps.Console = NewConsole(io.Discard)
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.SkipFirst < 0 {
		cfg.SkipFirst = 0
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// State returns the current lifecycle phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Status returns progress counters.
func (o *Orchestrator) Status() Status {
	return Status{
		State:     o.State().String(),
		Processed: o.processed.Load(),
		Failed:    o.failed.Load(),
		Total:     int(o.total.Load()),
	}
}

// Run executes the whole run. Cancelling ctx stops new feeds from being
// launched; feeds already launched run to completion before Run returns.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if !o.started.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRun
	}
	defer o.setState(StateTerminated)
	logger := o.deps.Logger

	feeds, err := o.initialize(ctx)
	if err != nil {
		return Summary{}, err
	}

	bgCtx, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	var bg sync.WaitGroup
	o.startBackground(bgCtx, &bg)

	o.setState(StateRunning)
	logger.Info("ingestion started",
		zap.Int("feeds", len(feeds)),
		zap.String("tier", o.deps.Slots.Tier().String()),
	)

	taskCtx := context.WithoutCancel(ctx)
	var tasks sync.WaitGroup
	launched := 0
	interrupted := false
	for _, feedURL := range feeds {
		if err := o.deps.Slots.Acquire(ctx); err != nil {
			interrupted = true
			logger.Warn("stopped launching feeds", zap.Error(err), zap.Int("launched", launched))
			break
		}
		launched++
		tasks.Add(1)
		go func(feedURL string) {
			defer tasks.Done()
			o.runFeed(taskCtx, feedURL)
		}(feedURL)
	}

	logger.Info("waiting for feed tasks", zap.Int("launched", launched))
	tasks.Wait()

	// Draining starts once every feed task is done; it only stops background work.
	o.setState(StateDraining)
	cancelBg()
	bg.Wait()

	summary := Summary{
		Total:       len(feeds),
		Launched:    launched,
		Processed:   o.processed.Load(),
		Failed:      o.failed.Load(),
		Interrupted: interrupted,
		Stats:       o.deps.Recorder.Snapshot(),
	}
	logger.Info("ingestion finished",
		zap.Int64("processed", summary.Processed),
		zap.Int64("failed", summary.Failed),
		zap.Int64("grand_total", summary.Stats.GrandTotal),
		zap.Int64("already_seen", summary.Stats.AlreadySeen),
		zap.Duration("elapsed", summary.Stats.Elapsed),
	)
	return summary, nil
}

func (o *Orchestrator) initialize(ctx context.Context) ([]string, error) {
	feeds, err := o.cfg.LoadFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("load feeds: %w", err)
	}
	if o.cfg.SkipFirst >= len(feeds) {
		feeds = nil
	} else {
		feeds = feeds[o.cfg.SkipFirst:]
	}
	o.total.Store(int64(len(feeds)))

	if err := o.deps.Store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	keys, err := o.deps.Store.LoadExistingKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("load existing keys: %w", err)
	}
	o.deps.Registry.Preload(keys)
	o.deps.Logger.Info("registry preloaded", zap.Int("keys", o.deps.Registry.Len()))
	return feeds, nil
}

func (o *Orchestrator) startBackground(ctx context.Context, wg *sync.WaitGroup) {
	if o.deps.Sampler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.deps.Sampler.Run(ctx)
		}()
	}
	if o.cfg.Control != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ListenForTier(ctx, o.cfg.Control, o.deps.Slots, o.deps.Logger.Named("control"))
		}()
	}
}

// runFeed is launched holding one slot, which covers only the feed download;
// it is released before the article fan-out acquires slots of its own.
// Failed feeds and failed batches leave progress untouched and print nothing.
func (o *Orchestrator) runFeed(ctx context.Context, feedURL string) {
	start := o.deps.Clock.Now()
	logger := o.deps.Logger.With(zap.String("feed", feedURL))
	outcome := OutcomeOK
	defer func() {
		o.deps.Observer.FeedCompleted(outcome, o.deps.Clock.Now().Sub(start))
		if outcome != OutcomeOK {
			return
		}
		// Progress only moves once the batch is stored.
		o.processed.Add(1)
		if err := o.deps.Console.Print(o.report()); err != nil {
			logger.Warn("report failed", zap.Error(err))
		}
	}()

	links, err := o.deps.Pipeline.Fetch(ctx, feedURL)
	o.deps.Slots.Release()
	if err != nil {
		outcome = OutcomeFeedFailed
		o.failed.Add(1)
		logger.Warn("feed failed", zap.Error(err))
		return
	}

	batch := o.deps.Pipeline.Process(ctx, feedURL, links)
	if len(batch.Articles) == 0 {
		return
	}
	if err := o.persist(ctx, batch); err != nil {
		outcome = OutcomeStoreFailed
		o.failed.Add(1)
		logger.Error("persist batch failed", zap.Int("articles", len(batch.Articles)), zap.Error(err))
	}
}

func (o *Orchestrator) persist(ctx context.Context, batch pipeline.Batch) error {
	start := o.deps.Clock.Now()
	inserted, err := o.deps.Store.BulkInsert(ctx, batch.Articles)
	if err != nil {
		return err
	}
	o.deps.Observer.BatchPersisted(len(batch.Articles), inserted, o.deps.Clock.Now().Sub(start))
	o.notify(ctx, batch, inserted)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, batch pipeline.Batch, inserted int64) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	logger := o.deps.Logger.With(zap.String("feed", batch.FeedURL))
	note := ingest.BatchNotification{
		FeedURL:     batch.FeedURL,
		Articles:    len(batch.Articles),
		Inserted:    inserted,
		URLs:        make([]string, 0, len(batch.Articles)),
		PersistedAt: o.deps.Clock.Now(),
	}
	for _, a := range batch.Articles {
		note.URLs = append(note.URLs, a.URL)
	}
	if o.deps.IDs != nil {
		id, err := o.deps.IDs.NewID()
		if err != nil {
			logger.Warn("batch id generation failed", zap.Error(err))
		}
		note.BatchID = id
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, note); err != nil {
		logger.Warn("batch notification failed", zap.Error(err))
	}
}

func (o *Orchestrator) report() Report {
	r := Report{
		Stats:     o.deps.Recorder.Snapshot(),
		Processed: o.processed.Load(),
		Total:     int(o.total.Load()),
		Tier:      o.deps.Slots.Tier().String(),
	}
	if o.deps.Sampler != nil {
		r.Resources = o.deps.Sampler.Snapshot()
	}
	return r
}

func (o *Orchestrator) setState(s State) {
	for {
		cur := o.state.Load()
		if int32(s) <= cur {
			return
		}
		if o.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

type noopObserver struct{}

func (noopObserver) FeedCompleted(string, time.Duration) {}
func (noopObserver) BatchPersisted(int, int64, time.Duration) {}
