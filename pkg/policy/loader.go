package policy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"
)

// Loader reads user policies from disk.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads every .rego module named by paths. A directory
// contributes the modules below it in lexical order, named by their path
// relative to the directory without the extension ("aliases/length"). Hidden
// files and directories are skipped. A module that does not parse fails the
// whole load.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", path, err)
		}

		var policies []Policy
		if info.IsDir() {
			policies, err = l.loadDir(ctx, path)
		} else {
			var p *Policy
			name := strings.TrimSuffix(filepath.Base(path), ".rego")
			if p, err = l.loadFile(path, name); err == nil {
				policies = []Policy{*p}
			}
		}
		if err != nil {
			return nil, err
		}
		all = append(all, policies...)
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("paths", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

func (l *Loader) loadDir(ctx context.Context, dir string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != ".rego" {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		p, err := l.loadFile(path, strings.TrimSuffix(filepath.ToSlash(rel), ".rego"))
		if err != nil {
			return err
		}
		policies = append(policies, *p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load policies from %s: %w", dir, err)
	}

	return policies, nil
}

// loadFile reads and parses one module. The description is the comment
// block above the package clause.
func (l *Loader) loadFile(path, name string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	module, err := ast.ParseModule(path, string(data))
	if err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", name, err)
	}

	var desc []string
	for _, c := range module.Comments {
		if c.Location.Row >= module.Package.Location.Row {
			break
		}
		if text := strings.TrimSpace(string(c.Text)); text != "" {
			desc = append(desc, text)
		}
	}

	l.logger.Debug().
		Str("path", path).
		Str("policy", name).
		Str("package", module.Package.Path.String()).
		Msg("Policy loaded from file")

	return &Policy{
		Name:        name,
		Description: strings.Join(desc, " "),
		Rego:        string(data),
		Enabled:     true,
		Source:      path,
	}, nil
}
