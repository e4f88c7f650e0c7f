// Package gateway resolves provider slugs to adapter instances.
package gateway

import (
	"sort"
	"strings"
	"sync"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
)

// Factory builds an adapter. A successful build, or a configuration failure,
// is kept for the process lifetime; retryable failures run it again on the
// next resolution.
type Factory func() (ports.ProviderAdapter, error)

type entry struct {
	factory Factory
	adapter ports.ProviderAdapter
	err     error
	mu      sync.Mutex
	done    bool
}

func (e *entry) resolve() (ports.ProviderAdapter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return e.adapter, e.err
	}

	adapter, err := e.factory()
	if err != nil && domain.IsRetryable(err) {
		return nil, err
	}
	e.adapter, e.err, e.done = adapter, err, true
	return adapter, err
}

// Registry memoizes one adapter per provider slug for the process lifetime.
// Registration happens at startup; resolution is safe for concurrent use.
type Registry struct {
	entries     map[string]*entry
	logger      ports.Logger
	defaultSlug string
	mu          sync.RWMutex
}

// NewRegistry creates a registry whose Default resolves defaultSlug
func NewRegistry(defaultSlug string, logger ports.Logger) *Registry {
	return &Registry{
		entries:     make(map[string]*entry),
		logger:      logger,
		defaultSlug: normalize(defaultSlug),
	}
}

// Register adds a provider factory. Registering a slug twice replaces the
// earlier factory.
func (r *Registry) Register(slug string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[normalize(slug)] = &entry{factory: factory}
}

// Get returns the adapter for slug. An empty slug is ErrMissingProvider and
// an unregistered one ErrUnknownProvider; neither ever falls back to Default.
func (r *Registry) Get(slug string) (ports.ProviderAdapter, error) {
	key := normalize(slug)
	if key == "" {
		return nil, domain.ErrMissingProvider
	}

	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUnknownProvider.Withf("unknown payment provider %q", key)
	}

	adapter, err := e.resolve()
	if err != nil {
		r.logger.Error("Provider adapter unavailable",
			ports.String("provider", key),
			ports.Err(err),
		)
		return nil, err
	}
	return adapter, nil
}

// Default returns the fallback adapter used when checkout names no provider
func (r *Registry) Default() (ports.ProviderAdapter, error) {
	return r.Get(r.defaultSlug)
}

// Resolve returns Default for an empty slug and Get otherwise. Only checkout
// initiation may use it; confirmation always needs an explicit tag.
func (r *Registry) Resolve(slug string) (ports.ProviderAdapter, error) {
	if normalize(slug) == "" {
		return r.Default()
	}
	return r.Get(slug)
}

// Slugs returns every registered slug in lexical order
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slugs := make([]string, 0, len(r.entries))
	for slug := range r.entries {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// All returns every adapter that could be built. Providers whose factory
// failed are logged by Get and left out.
func (r *Registry) All() []ports.ProviderAdapter {
	slugs := r.Slugs()
	adapters := make([]ports.ProviderAdapter, 0, len(slugs))
	for _, slug := range slugs {
		if adapter, err := r.Get(slug); err == nil {
			adapters = append(adapters, adapter)
		}
	}
	return adapters
}

func normalize(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
