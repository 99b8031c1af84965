// Package dedup tracks URLs that have already been seen during a run.
package dedup

import "sync"

// Registry is a grow-only set of URLs shared by every pipeline.
type Registry struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{urls: make(map[string]struct{})}
}

// Preload inserts stored keys before any pipeline starts.
func (r *Registry) Preload(urls []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range urls {
		if u == "" {
			continue
		}
		r.urls[u] = struct{}{}
	}
}

// Contains reports whether url has been seen.
func (r *Registry) Contains(url string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.urls[url]
	return ok
}

// Add inserts url. Adding an existing URL is a no-op.
func (r *Registry) Add(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls[url] = struct{}{}
}

// Claim inserts url and reports true only for the first caller to do so.
// Concurrent pipelines use it to reserve a URL before extracting it.
func (r *Registry) Claim(url string) bool {
	if r.Contains(url) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.urls[url]; ok {
		return false
	}
	r.urls[url] = struct{}{}
	return true
}

// Len returns the number of distinct URLs held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.urls)
}
