package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultName is the name of the built-in civa schema.
const DefaultName = "default"

//go:embed builtin/civa.cue
var builtinCiva []byte

// Default returns the built-in civa schema. It panics if the embedded
// document is invalid, which the package tests rule out.
func Default() *Schema {
	s, err := LoadCUE(DefaultName, "builtin/civa.cue", builtinCiva)
	if err != nil {
		panic(fmt.Sprintf("built-in schema: %v", err))
	}
	return s
}

// Load reads a schema document, choosing the format by extension: .cue, or
// .yaml/.yml. The schema is named after the file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch filepath.Ext(path) {
	case ".cue":
		return LoadCUE(name, path, data)
	case ".yaml", ".yml":
		return LoadYAML(name, path, data)
	default:
		return nil, fmt.Errorf("unsupported schema format %q", filepath.Ext(path))
	}
}

// Registry holds named schemas.
type Registry struct {
	schemas map[string]*Schema
	mu      sync.RWMutex
}

// NewRegistry creates a registry holding the built-in schema.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]*Schema)}
	r.Register(Default())
	return r
}

// Register adds s, replacing any schema of the same name.
func (r *Registry) Register(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Name] = s
}

// Get retrieves a schema by name.
func (r *Registry) Get(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns all registered schema names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
