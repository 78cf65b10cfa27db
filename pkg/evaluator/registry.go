package evaluator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/civa-shell/irfc/pkg/locator"
)

// Frontend evaluates sources of one format.
type Frontend interface {
	// Name identifies the format in diagnostics and metrics.
	Name() string

	// Extensions lists the file extensions handled, with the leading dot.
	Extensions() []string

	// Evaluate turns src into a tree. Failures are *Error or Errors.
	Evaluate(ctx context.Context, src locator.ConfigSource) (*Tree, error)
}

// Registry maps file extensions to frontends.
type Registry struct {
	mu        sync.RWMutex
	frontends map[string]Frontend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		frontends: make(map[string]Frontend),
	}
}

// DefaultRegistry creates a registry with every built-in frontend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, f := range []Frontend{
		NewCfgFrontend(),
		NewYAMLFrontend(),
		NewTOMLFrontend(),
		NewHCLFrontend(),
		NewAliasFrontend(),
	} {
		// Built-in extensions never collide.
		_ = r.Register(f)
	}
	return r
}

// Register adds a frontend for all of its extensions.
func (r *Registry) Register(f Frontend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ext := range f.Extensions() {
		if existing, ok := r.frontends[ext]; ok {
			return fmt.Errorf("extension %s already handled by %s", ext, existing.Name())
		}
	}
	for _, ext := range f.Extensions() {
		r.frontends[ext] = f
	}
	return nil
}

// Lookup returns the frontend for ext.
func (r *Registry) Lookup(ext string) (Frontend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.frontends[ext]
	return f, ok
}

// Extensions returns all registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.frontends))
	for ext := range r.frontends {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
