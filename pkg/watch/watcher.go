// Package watch recompiles a configuration directory when its sources
// change.
//
// Every directory under the root is watched, including directories created
// later. Events are debounced so an editor's write-then-rename sequence
// triggers a single rebuild.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period used when Config.Debounce is zero.
const DefaultDebounce = 200 * time.Millisecond

// Config holds the parameters for a Watcher.
type Config struct {
	// Dir is the configuration root.
	Dir string

	// Extensions select which files trigger a rebuild.
	Extensions []string

	// Debounce is the quiet period after the last event before OnChange
	// fires.
	Debounce time.Duration

	// OnChange is called with the changed paths, relative to Dir and
	// sorted. Errors are logged and watching continues.
	OnChange func(ctx context.Context, changed []string) error

	Logger zerolog.Logger
}

// Watcher monitors a configuration tree. Run must be called exactly once.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	baseDir  string
	debounce time.Duration
	exts     map[string]bool
	logger   zerolog.Logger
	started  atomic.Bool
}

// New creates a Watcher and registers every directory under cfg.Dir.
func New(cfg Config) (*Watcher, error) {
	absBase, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve directory: %w", err)
	}
	info, err := os.Stat(absBase)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", absBase)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[e] = true
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		baseDir:  absBase,
		debounce: debounce,
		exts:     exts,
		logger:   cfg.Logger.With().Str("component", "watch").Logger(),
	}

	if err := w.addTree(absBase); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return w, nil
}

// Run blocks until ctx is cancelled, dispatching debounced rebuilds. It
// returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	// fire skips while a previous rebuild is still running and retries
	// after another debounce period, so pending changes are never lost.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := make([]string, 0, len(pending))
		for p := range pending {
			changed = append(changed, p)
		}
		clear(pending)
		mu.Unlock()
		sort.Strings(changed)

		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Error().Err(err).Msg("Rebuild failed")
			}
		}
	}

	schedule := func(rel string) {
		mu.Lock()
		pending[rel] = struct{}{}
		if timer == nil {
			timer = time.AfterFunc(w.debounce, fire)
		} else {
			timer.Reset(w.debounce)
		}
		mu.Unlock()
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("Closing watcher failed")
		}
	}()

	w.logger.Info().Str("dir", w.baseDir).Dur("debounce", w.debounce).Msg("Watching for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed unexpectedly")
			}
			if rel, ok := w.relevant(evt); ok {
				w.logger.Debug().Str("path", rel).Str("op", evt.Op.String()).Msg("Change detected")
				schedule(rel)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed unexpectedly")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were dropped; rebuild to be safe.
				w.logger.Warn().Err(err).Msg("Event queue overflowed")
				schedule(".")
				continue
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// relevant decides whether evt may change the compiled output and returns
// its path relative to the root.
func (w *Watcher) relevant(evt fsnotify.Event) (string, bool) {
	rel, err := filepath.Rel(w.baseDir, evt.Name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if hidden(rel) || evt.Op == fsnotify.Chmod {
		return "", false
	}

	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			// A directory moved in may already hold sources.
			if err := w.addTree(evt.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", rel).Msg("Watching new directory failed")
			}
			return rel, true
		}
	}

	if w.exts[filepath.Ext(rel)] {
		return rel, true
	}
	// A removed or renamed directory takes its sources with it.
	if evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename) {
		return rel, filepath.Ext(rel) == ""
	}
	return "", false
}

// addTree watches dir and every non-hidden directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Skipping inaccessible path")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.baseDir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
}

// WatchList returns the watched directories, relative to the root.
func (w *Watcher) WatchList() []string {
	var out []string
	for _, p := range w.fsw.WatchList() {
		if rel, err := filepath.Rel(w.baseDir, p); err == nil {
			out = append(out, filepath.ToSlash(rel))
		}
	}
	sort.Strings(out)
	return out
}

func hidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	return false
}
