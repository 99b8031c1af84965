// Package memory provides an in-memory article store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/scraperhose/internal/ingest"
)

// ArticleStore keeps articles keyed by URL with insert-ignore semantics.
type ArticleStore struct {
	mu       sync.RWMutex
	articles map[string]ingest.Article
	batches  int
	failWith error
}

// NewArticleStore constructs an ArticleStore, optionally seeded with existing rows.
func NewArticleStore(seed ...ingest.Article) *ArticleStore {
	s := &ArticleStore{articles: make(map[string]ingest.Article, len(seed))}
	for _, a := range seed {
		s.articles[a.URL] = a
	}
	return s
}

// FailWith makes every subsequent BulkInsert return err. Pass nil to clear.
func (s *ArticleStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// EnsureSchema is a no-op.
func (s *ArticleStore) EnsureSchema(context.Context) error {
	return nil
}

// LoadExistingKeys returns stored URLs in sorted order.
func (s *ArticleStore) LoadExistingKeys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.articles))
	for k := range s.articles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// BulkInsert stores the batch atomically, keeping the first row seen for each URL.
func (s *ArticleStore) BulkInsert(_ context.Context, articles []ingest.Article) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	var inserted int64
	for _, a := range articles {
		if _, exists := s.articles[a.URL]; exists {
			continue
		}
		s.articles[a.URL] = a
		inserted++
	}
	s.batches++
	return inserted, nil
}

// Get returns the stored article for url.
func (s *ArticleStore) Get(url string) (ingest.Article, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.articles[url]
	return a, ok
}

// Len returns the number of stored articles.
func (s *ArticleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}

// Batches returns how many BulkInsert calls succeeded.
func (s *ArticleStore) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}
