package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Registry holds the registered providers and resolves fallback chains.
// Probes run lazily on first use and the verdict is cached for probeTTL, so
// an absent optional backend is skipped cheaply and a backend that comes up
// later is noticed after the TTL expires.
type Registry struct {
	probeTTL time.Duration

	mu        sync.Mutex
	providers map[string]Provider
	order     []string
	probes    map[string]probeEntry
}

type probeEntry struct {
	checkedAt time.Time
	err       error
}

func NewRegistry(probeTTL time.Duration) *Registry {
	return &Registry{
		probeTTL:  probeTTL,
		providers: make(map[string]Provider),
		probes:    make(map[string]probeEntry),
	}
}

// Register adds a provider under its name. Duplicate names are a
// configuration bug.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, ok := r.providers[name]; ok {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Chain resolves a fallback chain to concrete providers, preserving order.
// An unknown name is a configuration error, caught at startup.
func (r *Registry) Chain(names []string) ([]Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := make([]Provider, 0, len(names))
	for _, name := range names {
		p, ok := r.providers[name]
		if !ok {
			return nil, fmt.Errorf("fallback chain references unknown provider %q", name)
		}
		chain = append(chain, p)
	}
	return chain, nil
}

// Available probes the named provider, serving cached verdicts within the
// TTL. Returns nil when available, or the probe error (wrapping
// ErrUnavailable) when not.
func (r *Registry) Available(ctx context.Context, name string) error {
	r.mu.Lock()
	p, ok := r.providers[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("provider %q not registered: %w", name, ErrUnavailable)
	}
	if entry, ok := r.probes[name]; ok && time.Since(entry.checkedAt) < r.probeTTL {
		r.mu.Unlock()
		return entry.err
	}
	r.mu.Unlock()

	// Probe outside the lock; a slow probe must not block other lookups.
	err := p.Probe(ctx)

	r.mu.Lock()
	r.probes[name] = probeEntry{checkedAt: time.Now(), err: err}
	r.mu.Unlock()
	return err
}

// InvalidateProbe drops the cached probe verdict for a provider.
func (r *Registry) InvalidateProbe(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.probes, name)
}
