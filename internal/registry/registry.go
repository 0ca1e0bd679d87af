// Package registry maps canonical destination paths to the downloads that are
// waiting on a preload callback. The preload stage only reports a path, so the
// registry is how the downloader finds the request again.
package registry

import (
	"sync"

	"github.com/italolelis/fetchfile/internal/fsutil"
	"github.com/italolelis/fetchfile/internal/transfer"
)

// Registry is safe for concurrent use. The zero value is not; use New.
type Registry struct {
	mu      sync.Mutex
	entries map[fsutil.CanonicalPath]*transfer.Request
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[fsutil.CanonicalPath]*transfer.Request),
	}
}

// Register stores req under path. An existing entry for path is overwritten and
// returned as detached; the registry does nothing else with it.
func (r *Registry) Register(path fsutil.CanonicalPath, req *transfer.Request) (*transfer.Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, replaced := r.entries[path]
	r.entries[path] = req

	return prev, replaced
}

// TakeAndRemove returns the request registered under path and deletes the
// entry in the same step, so each entry is consumed at most once.
func (r *Registry) TakeAndRemove(path fsutil.CanonicalPath) (*transfer.Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.entries[path]
	if ok {
		delete(r.entries, path)
	}

	return req, ok
}

// Len returns the number of pending entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Paths returns the keys currently registered, in no particular order.
func (r *Registry) Paths() []fsutil.CanonicalPath {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]fsutil.CanonicalPath, 0, len(r.entries))
	for p := range r.entries {
		out = append(out, p)
	}

	return out
}
