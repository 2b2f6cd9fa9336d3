package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Settings is the backend-specific part of an engine's configuration.
type Settings struct {
	Languages       []string
	Model           string
	APIKey          string
	BaseURL         string
	CredentialsFile string
	CredentialsJSON string
	PageSegMode     int
}

// Factory builds a backend from its settings.
type Factory func(ctx context.Context, s Settings) (Backend, error)

// Registry maps engine names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds the backend registered under name.
func (r *Registry) New(ctx context.Context, name string, s Settings) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no engine registered as %q", ErrUnavailable, name)
	}
	b, err := f(ctx, s)
	if err != nil {
		return nil, &Error{Engine: name, Op: "init", Err: err}
	}
	return b, nil
}

// Names returns the registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
