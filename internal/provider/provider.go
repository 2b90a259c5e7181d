// Package provider defines the contract every live data source implements.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Provider is a named, interval-polled data source.
//
// Fetch returns the current value, or nil when there is no data. It may be
// called repeatedly, including while the provider is still starting up, and
// must not block on slow backends: implementations cache and return the last
// known value instead.
type Provider interface {
	Name() string
	Interval() time.Duration
	Fetch(ctx context.Context) (any, error)
}

// FetchFunc is the fetch half of a Provider.
type FetchFunc func(ctx context.Context) (any, error)

type funcProvider struct {
	name     string
	interval time.Duration
	fetch    FetchFunc
}

// Func adapts a plain function into a Provider.
func Func(name string, interval time.Duration, fetch FetchFunc) Provider {
	return &funcProvider{name: name, interval: interval, fetch: fetch}
}

func (p *funcProvider) Name() string                           { return p.name }
func (p *funcProvider) Interval() time.Duration                { return p.interval }
func (p *funcProvider) Fetch(ctx context.Context) (any, error) { return p.fetch(ctx) }

// Registry holds the providers known to the daemon, keyed by name.
type Registry struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider. Names must be unique and intervals positive.
func (r *Registry) Register(p Provider) error {
	if p.Interval() <= 0 {
		return fmt.Errorf("provider %q: interval must be positive", p.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Provider returns a provider by name.
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns all registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
