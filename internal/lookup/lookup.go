// Package lookup implements the named lookup registry. Conditions
// resolve lookups synchronously; results are cached with a short TTL so
// repeated evaluations inside a dispatch burst do not re-invoke slow
// lookups.
package lookup

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/emberfall/cinder/internal/faults"
)

// Func is a registered lookup. Lookups invoked from conditions must
// resolve promptly (the evaluation context carries the per-rule
// deadline); long-running lookups belong in actions.
type Func func(ctx context.Context, args map[string]any) (any, error)

// DefaultTTL is how long argument-less lookup results are cached.
const DefaultTTL = 30 * time.Second

// Registry maps names to lookup functions.
type Registry struct {
	mu    sync.RWMutex
	fns   map[string]Func
	cache *gocache.Cache
}

// NewRegistry creates an empty registry with the default cache TTL.
func NewRegistry() *Registry {
	return NewRegistryTTL(DefaultTTL)
}

// NewRegistryTTL creates a registry with a custom cache TTL. A zero ttl
// disables caching.
func NewRegistryTTL(ttl time.Duration) *Registry {
	r := &Registry{fns: make(map[string]Func)}
	if ttl > 0 {
		r.cache = gocache.New(ttl, 2*ttl)
	}
	return r
}

// Register installs fn under name, replacing any prior registration.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
	if r.cache != nil {
		r.cache.Delete(name)
	}
}

// Unregister removes a lookup. Returns false if unknown.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.fns[name]
	delete(r.fns, name)
	if r.cache != nil {
		r.cache.Delete(name)
	}
	return ok
}

// Invoke resolves a lookup. Argument-less invocations (the condition
// path) are served from cache when fresh.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	fn, ok := r.fns[name]
	r.mu.RUnlock()
	if !ok {
		return nil, faults.NotFound("lookup %q is not registered", name)
	}

	cacheable := len(args) == 0 && r.cache != nil
	if cacheable {
		if v, hit := r.cache.Get(name); hit {
			return v, nil
		}
	}

	v, err := fn(ctx, args)
	if err != nil {
		return nil, err
	}
	if cacheable {
		r.cache.SetDefault(name, v)
	}
	return v, nil
}
