// Package readability extracts the main readable content of an article page with goquery.
package readability

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scraperhose/internal/ingest"
)

// DefaultMinTextLength is the shortest body, in characters, considered readable.
const DefaultMinTextLength = 140

var (
	noiseSelectors   = "script, style, noscript, template, nav, header, footer, aside, form, iframe, svg"
	contentSelectors = []string{"article", "main", "[role=main]", "#content", ".post-content", "body"}
	titleSelectors   = []string{
		`meta[property="og:title"]`,
		`meta[name="twitter:title"]`,
	}
	dateSelectors = []string{
		`meta[property="article:published_time"]`,
		`meta[name="pubdate"]`,
		`meta[name="publish-date"]`,
		`meta[name="date"]`,
		`meta[itemprop="datePublished"]`,
	}
	imageSelectors = []string{
		`meta[property="og:image"]`,
		`meta[name="twitter:image"]`,
	}
	dateLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		time.RFC1123Z,
		time.RFC1123,
	}
)

// Config controls a Reader.
type Config struct {
	MinTextLength int
}

// Reader implements ingest.ReadabilityService by fetching the page and scoring it locally.
type Reader struct {
	fetcher ingest.Fetcher
	minLen  int
}

// NewReader builds a Reader.
func NewReader(fetcher ingest.Fetcher, cfg Config) *Reader {
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultMinTextLength
	}
	return &Reader{fetcher: fetcher, minLen: cfg.MinTextLength}
}

// Read fetches pageURL and extracts its readable content.
func (r *Reader) Read(ctx context.Context, pageURL string) (ingest.Readability, error) {
	resp, err := r.fetcher.Fetch(ctx, ingest.FetchRequest{URL: pageURL})
	if err != nil {
		return ingest.Readability{}, fmt.Errorf("fetch article: %w", err)
	}
	base := resp.URL
	if base == "" {
		base = pageURL
	}
	return Parse(resp.Body, base, r.minLen)
}

// Parse runs the readability heuristic over an HTML document.
func Parse(body []byte, pageURL string, minTextLength int) (ingest.Readability, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ingest.Readability{}, fmt.Errorf("parse html: %w", err)
	}

	out := ingest.Readability{
		Title:       extractTitle(doc),
		PublishedAt: extractDate(doc),
		Image:       resolve(pageURL, firstMeta(doc, imageSelectors)),
	}

	doc.Find(noiseSelectors).Remove()
	out.TextContent = extractText(doc)
	out.IsReadable = utf8.RuneCountInString(out.TextContent) >= minTextLength
	return out, nil
}

func extractTitle(doc *goquery.Document) string {
	if t := firstMeta(doc, titleSelectors); t != "" {
		return t
	}
	if t := collapse(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return collapse(doc.Find("h1").First().Text())
}

func extractDate(doc *goquery.Document) *time.Time {
	raw := firstMeta(doc, dateSelectors)
	if raw == "" {
		raw, _ = doc.Find("time[datetime]").First().Attr("datetime")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func extractText(doc *goquery.Document) string {
	var root *goquery.Selection
	for _, sel := range contentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			root = s
			break
		}
	}
	if root == nil {
		return ""
	}
	var paragraphs []string
	root.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := collapse(p.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		return collapse(root.Text())
	}
	return strings.Join(paragraphs, "\n\n")
}

func firstMeta(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func resolve(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
