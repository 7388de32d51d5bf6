package model

import "sync"

// Registry holds the process's model resource. It is passed explicitly to
// the components that need the model instead of living in a package
// variable, so tests can install a resource built on a fake backend.
type Registry struct {
	mu     sync.RWMutex
	res    *Resource
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Set installs res. A registry holds at most one resource for its lifetime.
func (g *Registry) Set(res *Resource) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrDisposed
	}
	if g.res != nil {
		return ErrAlreadyLoaded
	}
	g.res = res
	return nil
}

func (g *Registry) Resource() (*Resource, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.res == nil {
		if g.closed {
			return nil, ErrDisposed
		}
		return nil, ErrNotLoaded
	}
	return g.res, nil
}

// Close disposes the held resource. Later calls are no-ops.
func (g *Registry) Close() error {
	g.mu.Lock()
	res := g.res
	g.res = nil
	g.closed = true
	g.mu.Unlock()
	if res == nil {
		return nil
	}
	return res.Dispose()
}
