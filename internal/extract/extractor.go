// Package extract converts one article URL into an Article, a stand-in, or nothing.
package extract

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scraperhose/internal/ingest"
)

// Stand-in values used when extraction fails.
const (
	StandInTitle   = "No title"
	StandInContent = "Article text unavailable"
	EpochDate      = "1970-01-01T00:00:00Z"
)

// Status classifies an extraction outcome.
type Status int

// Extraction outcomes.
const (
	StatusExtracted Status = iota
	StatusStandIn
	StatusUnreadable
)

// String returns a short label for logs.
func (s Status) String() string {
	switch s {
	case StatusExtracted:
		return "extracted"
	case StatusStandIn:
		return "stand_in"
	case StatusUnreadable:
		return "unreadable"
	default:
		return "unknown"
	}
}

// Result is the outcome of extracting one URL. Article is nil when Status is StatusUnreadable;
// Err carries the swallowed failure behind a stand-in.
type Result struct {
	URL     string
	Status  Status
	Article *ingest.Article
	Err     error
}

// Counter is incremented once per successful extraction.
type Counter interface {
	IncrementGrandTotal()
}

// Extractor runs the readability service and applies the stand-in rules.
type Extractor struct {
	service ingest.ReadabilityService
	counter Counter
	clock   ingest.Clock
	logger  *zap.Logger
}

// New builds an Extractor.
func New(service ingest.ReadabilityService, counter Counter, clock ingest.Clock, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		service: service,
		counter: counter,
		clock:   clock,
		logger:  logger,
	}
}

// Extract never returns an error: failures become stand-ins and
// unreadable pages become StatusUnreadable.
func (e *Extractor) Extract(ctx context.Context, url string) Result {
	r, err := e.service.Read(ctx, url)
	if err != nil {
		e.logger.Debug("extraction failed, using stand-in", zap.String("url", url), zap.Error(err))
		return Result{URL: url, Status: StatusStandIn, Article: StandIn(url), Err: err}
	}
	if !r.IsReadable || strings.TrimSpace(r.TextContent) == "" {
		e.logger.Debug("article not readable", zap.String("url", url))
		return Result{URL: url, Status: StatusUnreadable}
	}

	published := e.clock.Now()
	if r.PublishedAt != nil {
		published = *r.PublishedAt
	}
	article := &ingest.Article{
		Title:       r.Title,
		Content:     r.TextContent,
		PublishDate: published.UTC().Format(time.RFC3339),
		TopImage:    r.Image,
		URL:         url,
	}
	e.counter.IncrementGrandTotal()
	return Result{URL: url, Status: StatusExtracted, Article: article}
}

// StandIn returns the placeholder persisted for URLs that could not be extracted.
func StandIn(url string) *ingest.Article {
	return &ingest.Article{
		Title:       StandInTitle,
		Content:     StandInContent,
		PublishDate: EpochDate,
		URL:         url,
	}
}
