// Package ingest defines the types and collaborator interfaces shared by the ingestion pipeline.
package ingest

import (
	"net/http"
	"time"
)

// Article is one extracted (or stand-in) record ready to persist.
type Article struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	PublishDate string `json:"publish_date"`
	TopImage    string `json:"top_image,omitempty"`
	URL         string `json:"url"`
}

// Readability is the outcome of running the readable-content heuristic over one page.
type Readability struct {
	IsReadable  bool
	Title       string
	TextContent string
	PublishedAt *time.Time
	Image       string
}

// FetchRequest describes a single HTTP GET.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse carries the body and metadata of a fetched document.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// BatchNotification is published after a feed batch has been persisted.
type BatchNotification struct {
	BatchID     string    `json:"batch_id"`
	FeedURL     string    `json:"feed_url"`
	Articles    int       `json:"articles"`
	Inserted    int64     `json:"inserted"`
	URLs        []string  `json:"urls"`
	PersistedAt time.Time `json:"persisted_at"`
}
