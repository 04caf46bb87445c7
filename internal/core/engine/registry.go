package engine

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/namelens/ratelane/internal/core"
)

// BucketRegistry maps "METHOD:bucketRoute" keys to server-assigned bucket hashes.
type BucketRegistry struct {
	mu     sync.RWMutex
	hashes map[string]core.BucketHash
}

// NewBucketRegistry returns an empty registry.
func NewBucketRegistry() *BucketRegistry {
	return &BucketRegistry{hashes: make(map[string]core.BucketHash)}
}

// Get returns the hash for key.
func (r *BucketRegistry) Get(key string) (core.BucketHash, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hash, ok := r.hashes[key]
	return hash, ok
}

// Set stores or replaces the hash for key.
func (r *BucketRegistry) Set(key string, hash core.BucketHash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashes[key] = hash
}

// Touch refreshes the last access time of a learned hash.
func (r *BucketRegistry) Touch(key string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash, ok := r.hashes[key]
	if !ok || hash.Synthetic() {
		return
	}
	hash.LastAccess = now.UnixMilli()
	r.hashes[key] = hash
}

// Delete removes key and reports whether it was present.
func (r *BucketRegistry) Delete(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.hashes[key]
	delete(r.hashes, key)
	return ok
}

// Sweep evicts learned hashes not accessed within lifetime and returns them.
// Synthetic hashes are never evicted.
func (r *BucketRegistry) Sweep(now time.Time, lifetime time.Duration) map[string]core.BucketHash {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := make(map[string]core.BucketHash)
	for key, hash := range r.hashes {
		if !hash.Expired(now, lifetime) {
			continue
		}
		evicted[key] = hash
		delete(r.hashes, key)
	}
	return evicted
}

// Snapshot copies the registry contents.
func (r *BucketRegistry) Snapshot() map[string]core.BucketHash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]core.BucketHash, len(r.hashes))
	for key, hash := range r.hashes {
		out[key] = hash
	}
	return out
}

// Merge adds learned hashes without overwriting entries already present.
func (r *BucketRegistry) Merge(hashes map[string]core.BucketHash) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for key, hash := range hashes {
		if strings.TrimSpace(key) == "" || hash.Value == "" {
			continue
		}
		if _, ok := r.hashes[key]; ok {
			continue
		}
		r.hashes[key] = hash
		added++
	}
	return added
}

// Len returns the number of stored hashes.
func (r *BucketRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hashes)
}

// HandlerRegistry holds live handlers keyed by "hash:majorParameter".
type HandlerRegistry struct {
	mu       sync.Mutex
	handlers map[string]Handler
	inUse    map[string]int
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]Handler),
		inUse:    make(map[string]int),
	}
}

// Get returns the handler with id.
func (r *HandlerRegistry) Get(id string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handler, ok := r.handlers[id]
	return handler, ok
}

// Acquire returns the handler with id, creating it when absent. The handler
// is not swept until release is called.
func (r *HandlerRegistry) Acquire(id string, create func() Handler) (Handler, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handler, ok := r.handlers[id]
	if !ok {
		handler = create()
		r.handlers[id] = handler
	}
	r.inUse[id]++

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.inUse[id] <= 1 {
				delete(r.inUse, id)
				return
			}
			r.inUse[id]--
		})
	}
	return handler, release
}

// Sweep removes inactive handlers and returns their ids in sorted order.
func (r *HandlerRegistry) Sweep() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := make([]string, 0)
	for id, handler := range r.handlers {
		if r.inUse[id] > 0 || !handler.Inactive() {
			continue
		}
		evicted = append(evicted, id)
		delete(r.handlers, id)
	}
	sort.Strings(evicted)
	return evicted
}

// IDs lists handler ids in sorted order.
func (r *HandlerRegistry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live handlers.
func (r *HandlerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}
