package ingest

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ReadabilityService turns a page URL into readable content.
type ReadabilityService interface {
	Read(ctx context.Context, url string) (Readability, error)
}

// Store is the persistence gateway for articles.
type Store interface {
	EnsureSchema(ctx context.Context) error
	LoadExistingKeys(ctx context.Context) ([]string, error)
	// BulkInsert writes the batch in one transaction, ignoring rows whose URL already exists,
	// and reports how many rows were actually inserted.
	BulkInsert(ctx context.Context, articles []Article) (int64, error)
}

// Publisher pushes batch notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
