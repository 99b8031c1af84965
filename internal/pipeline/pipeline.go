// Package pipeline runs one feed through discovery, deduplication and concurrent article extraction.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/scraperhose/internal/extract"
	"github.com/JakeFAU/scraperhose/internal/ingest"
)

// LinkSource lists the candidate article URLs of a feed.
type LinkSource interface {
	Links(ctx context.Context, feedURL string) ([]string, error)
}

// ArticleExtractor extracts one URL.
type ArticleExtractor interface {
	Extract(ctx context.Context, url string) extract.Result
}

// Slots is the shared admission controller.
type Slots interface {
	Acquire(ctx context.Context) error
	Release()
}

// Registry is the run-wide set of known URLs.
type Registry interface {
	Contains(url string) bool
	Claim(url string) bool
	Add(url string)
}

// SeenCounter records URLs skipped because they were already known.
type SeenCounter interface {
	IncrementAlreadySeen()
}

// Batch is what one feed produced.
type Batch struct {
	FeedURL    string
	Articles   []ingest.Article
	Candidates int
	Skipped    int
	Extracted  int
	StandIns   int
	Unreadable int
	// Abandoned counts links left unprocessed because ctx ended first.
	Abandoned int
}

// Pipeline holds the collaborators shared by every feed.
type Pipeline struct {
	links     LinkSource
	extractor ArticleExtractor
	slots     Slots
	registry  Registry
	seen      SeenCounter
	logger    *zap.Logger
}

// New builds a Pipeline.
func New(
	links LinkSource,
	extractor ArticleExtractor,
	slots Slots,
	registry Registry,
	seen SeenCounter,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		links:     links,
		extractor: extractor,
		slots:     slots,
		registry:  registry,
		seen:      seen,
		logger:    logger,
	}
}

// Fetch downloads and parses feedURL. The caller is expected to hold a slot.
func (p *Pipeline) Fetch(ctx context.Context, feedURL string) ([]string, error) {
	links, err := p.links.Links(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feedURL, err)
	}
	return links, nil
}

// Process extracts every link not already claimed, one goroutine per link,
// each holding an admission slot for the duration of its extraction.
// A link is claimed only once its slot is held, so links abandoned on a failed
// acquisition stay unclaimed. Unreadable pages are dropped; every surviving URL
// is added to the registry.
func (p *Pipeline) Process(ctx context.Context, feedURL string, links []string) Batch {
	batch := Batch{FeedURL: feedURL, Candidates: len(links)}
	logger := p.logger.With(zap.String("feed", feedURL))

	results := make([]extract.Result, len(links))
	launched := make([]bool, len(links))
	var wg sync.WaitGroup
	for i, link := range links {
		if p.registry.Contains(link) {
			p.skip(&batch)
			continue
		}
		if err := p.slots.Acquire(ctx); err != nil {
			batch.Abandoned = len(links) - i
			logger.Warn("stopped launching extractions", zap.Error(err), zap.Int("abandoned", batch.Abandoned))
			break
		}
		// Another feed may have claimed it while this one waited.
		if !p.registry.Claim(link) {
			p.slots.Release()
			p.skip(&batch)
			continue
		}
		launched[i] = true
		wg.Add(1)
		go func(i int, link string) {
			defer wg.Done()
			defer p.slots.Release()
			results[i] = p.extractor.Extract(ctx, link)
		}(i, link)
	}
	wg.Wait()

	for i, res := range results {
		if !launched[i] {
			continue
		}
		switch res.Status {
		case extract.StatusUnreadable:
			batch.Unreadable++
			continue
		case extract.StatusStandIn:
			batch.StandIns++
		case extract.StatusExtracted:
			batch.Extracted++
		}
		if res.Article == nil {
			continue
		}
		batch.Articles = append(batch.Articles, *res.Article)
		p.registry.Add(res.URL)
	}

	logger.Debug("feed processed",
		zap.Int("candidates", batch.Candidates),
		zap.Int("skipped", batch.Skipped),
		zap.Int("extracted", batch.Extracted),
		zap.Int("stand_ins", batch.StandIns),
		zap.Int("unreadable", batch.Unreadable),
	)
	return batch
}

func (p *Pipeline) skip(batch *Batch) {
	p.seen.IncrementAlreadySeen()
	batch.Skipped++
}
