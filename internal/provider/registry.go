package provider

import (
	"fmt"
	"sync"
)

// Factory builds a provider instance on first use.
type Factory func() Provider

// Registry manages the lifecycle of providers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
	alias     map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
		alias:     make(map[string]string),
	}
}

// Register makes a provider factory available under name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Route serves every resource declared for provider name with the provider
// registered as target. It is how a dry run sends "aws" resources to the
// null backend.
func (r *Registry) Route(name, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alias[name] = target
}

// LoadProvider initializes and registers a provider.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.resolve(name)
	if _, exists := r.providers[key]; exists {
		return nil
	}

	f, ok := r.factories[key]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[key] = f()
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[r.resolve(name)]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}

func (r *Registry) resolve(name string) string {
	if target, ok := r.alias[name]; ok {
		return target
	}
	return name
}
