// Package feed turns syndication documents into candidate article URLs and loads the feed list.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/scraperhose/internal/ingest"
)

// Parser fetches a feed and returns the first link of each entry.
type Parser struct {
	fetcher ingest.Fetcher
}

// NewParser builds a Parser that downloads feeds with fetcher.
func NewParser(fetcher ingest.Fetcher) *Parser {
	return &Parser{fetcher: fetcher}
}

// Links downloads feedURL and extracts candidate article URLs in document order.
func (p *Parser) Links(ctx context.Context, feedURL string) ([]string, error) {
	resp, err := p.fetcher.Fetch(ctx, ingest.FetchRequest{URL: feedURL})
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	links, err := ParseLinks(resp.Body, feedURL)
	if err != nil {
		return nil, err
	}
	return links, nil
}

// ParseLinks parses an RSS, Atom or JSON feed document. Entries without a
// link are skipped; relative links are resolved against base.
func ParseLinks(body []byte, base string) ([]string, error) {
	// gofeed parsers keep per-document state, so each call gets its own.
	doc, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	baseURL, _ := url.Parse(base)
	links := make([]string, 0, len(doc.Items))
	for _, item := range doc.Items {
		if item == nil {
			continue
		}
		link := firstLink(item)
		if link == "" {
			continue
		}
		links = append(links, resolve(baseURL, link))
	}
	return links, nil
}

func firstLink(item *gofeed.Item) string {
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return strings.TrimSpace(item.Link)
}

func resolve(base *url.URL, link string) string {
	if base == nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil || ref.IsAbs() {
		return link
	}
	return base.ResolveReference(ref).String()
}
