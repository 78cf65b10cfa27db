// Package locator discovers configuration sources below a root directory and
// orders them. The order is the override precedence: later sources win.
package locator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions are the recognized configuration file extensions.
var DefaultExtensions = []string{".cfg", ".yaml", ".yml", ".toml", ".hcl", ".alias"}

// Source describes a discovered configuration file that has not been read yet.
type Source struct {
	// Path is the file path as reachable from the root (root joined with Rel).
	Path string `json:"path"`

	// Rel is the slash-separated path relative to the root.
	Rel string `json:"rel"`

	// Ext is the recognized extension, including the leading dot.
	Ext string `json:"ext"`
}

// ConfigSource is a source together with its raw content. It is immutable
// once read.
type ConfigSource struct {
	Source
	Content []byte
}

// Warning is a non-fatal condition found while walking.
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return w.Path + ": " + w.Message
}

// Result is the ordered outcome of Locate.
type Result struct {
	Root     string
	Sources  []Source
	Warnings []Warning
}

// Option configures Locate.
type Option func(*options)

type options struct {
	extensions []string
}

// WithExtensions replaces the recognized extension set.
func WithExtensions(exts ...string) Option {
	return func(o *options) {
		o.extensions = exts
	}
}

// Locate walks root depth-first, visiting the entries of each directory in
// lexicographic order, and returns every file with a recognized extension.
func Locate(root string, opts ...Option) (*Result, error) {
	o := options{extensions: DefaultExtensions}
	for _, opt := range opts {
		opt(&o)
	}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Kind: ErrNotFound, Path: root, Err: err}
		}
		return nil, &Error{Kind: ErrWalk, Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &Error{Kind: ErrNotADirectory, Path: root}
	}

	w := &walker{
		extensions: o.extensions,
		result:     &Result{Root: root},
	}
	if err := w.walkDir(root, "", []os.FileInfo{info}); err != nil {
		return nil, err
	}

	return w.result, nil
}

type walker struct {
	extensions []string
	result     *Result
}

// walkDir visits dir. ancestors holds the directories on the current chain,
// used to detect symlink cycles.
func (w *walker) walkDir(dir, rel string, ancestors []os.FileInfo) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &Error{Kind: ErrWalk, Path: dir, Err: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		full := filepath.Join(dir, name)
		entryRel := path.Join(rel, name)

		// Stat follows symlinks; Lstat-only types come from the DirEntry.
		info, err := os.Stat(full)
		if err != nil {
			if entry.Type()&fs.ModeSymlink != 0 {
				w.warn(full, "skipping broken symbolic link")
				continue
			}
			return &Error{Kind: ErrWalk, Path: full, Err: err}
		}

		if info.IsDir() {
			if entry.Type()&fs.ModeSymlink != 0 && onChain(info, ancestors) {
				w.warn(full, "skipping symbolic link cycle")
				continue
			}
			if err := w.walkDir(full, entryRel, append(ancestors, info)); err != nil {
				return err
			}
			continue
		}

		if !info.Mode().IsRegular() {
			continue
		}
		if ext := w.match(name); ext != "" {
			w.result.Sources = append(w.result.Sources, Source{
				Path: full,
				Rel:  entryRel,
				Ext:  ext,
			})
		}
	}

	return nil
}

func (w *walker) match(name string) string {
	for _, ext := range w.extensions {
		if strings.HasSuffix(name, ext) && len(name) > len(ext) {
			return ext
		}
	}
	return ""
}

func (w *walker) warn(p, msg string) {
	w.result.Warnings = append(w.result.Warnings, Warning{Path: p, Message: msg})
}

func onChain(info os.FileInfo, ancestors []os.FileInfo) bool {
	for _, a := range ancestors {
		if os.SameFile(a, info) {
			return true
		}
	}
	return false
}

// Read loads the content of src.
func Read(src Source) (ConfigSource, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return ConfigSource{}, &Error{Kind: ErrUnreadable, Path: src.Path, Err: err}
	}
	return ConfigSource{Source: src, Content: data}, nil
}

// Less reports whether a precedes b in locator order: relative paths compared
// segment by segment.
func Less(a, b Source) bool {
	as := strings.Split(a.Rel, "/")
	bs := strings.Split(b.Rel, "/")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}

// String identifies the source in diagnostics.
func (s Source) String() string {
	if s.Rel != "" {
		return s.Rel
	}
	return fmt.Sprint(s.Path)
}
