// Package watch keeps an index current by turning file system events into
// batched incremental updates.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/phobologic/codeindex/internal/discover"
)

// UpdateFunc receives a batch of changed paths, relative to the watched
// root and sorted.
type UpdateFunc func(ctx context.Context, paths []string) error

// Options configures a Watcher.
type Options struct {
	Root     string
	Patterns []string // extra doublestar ignore patterns
	Debounce time.Duration
	Logger   zerolog.Logger
	Update   UpdateFunc
}

// Watcher watches a project tree recursively. Directories that discovery
// would skip are not watched. A change under .git/HEAD or .git/refs (a
// commit or checkout) flushes the pending batch immediately.
type Watcher struct {
	root    string
	matcher *discover.Matcher
	fsw     *fsnotify.Watcher
	batch   *batch
	update  UpdateFunc
	log     zerolog.Logger
}

// New starts watching opts.Root. Events are only delivered once Run is
// called.
func New(opts Options) (*Watcher, error) {
	if opts.Update == nil {
		return nil, errors.New("watch: update func is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		matcher: discover.NewMatcher(root, opts.Patterns),
		fsw:     fsw,
		batch:   newBatch(opts.Debounce),
		update:  opts.Update,
		log:     opts.Logger.With().Str("component", "watch").Logger(),
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w.watchGit()
	return w, nil
}

// Run delivers batches until ctx is cancelled, then releases the watcher.
// Update errors are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			if n := w.batch.len(); n > 0 {
				w.log.Debug().Int("paths", n).Msg("dropping pending changes")
			}
			w.batch.drain()
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(ev) {
				w.flush(ctx, "git")
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")

		case <-w.batch.C():
			w.flush(ctx, "debounce")
		}
	}
}

func (w *Watcher) flush(ctx context.Context, reason string) {
	if w.batch.len() == 0 {
		return
	}
	paths := w.batch.drain()
	w.log.Debug().Int("paths", len(paths)).Str("reason", reason).Msg("flushing changes")
	if err := w.update(ctx, paths); err != nil && ctx.Err() == nil {
		w.log.Warn().Err(err).Int("paths", len(paths)).Msg("update failed")
	}
}

// handle queues the change described by ev and reports whether the batch
// should be flushed now.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return rel == ".git/HEAD" || strings.HasPrefix(rel, ".git/refs/")
	}
	if ev.Op == fsnotify.Chmod {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.matcher.Ignored(rel, true) {
				return false
			}
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn().Err(err).Str("path", rel).Msg("watch new directory")
			}
			return false
		}
	}

	if path.Base(rel) == ".gitignore" {
		w.matcher.Forget(path.Dir(rel))
		w.batch.add(rel)
		return false
	}
	if w.matcher.Ignored(rel, false) {
		return false
	}
	w.batch.add(rel)
	return false
}

// addTree watches dir and every non-ignored directory below it. Files
// already present are queued, since events for them may predate the
// watch.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Debug().Err(err).Str("path", p).Msg("skip unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if !d.IsDir() {
			if dir != w.root && !w.matcher.Ignored(rel, false) {
				w.batch.add(rel)
			}
			return nil
		}
		if rel != "." && w.matcher.Ignored(rel, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			if p == w.root {
				return fmt.Errorf("watch %s: %w", p, err)
			}
			w.log.Warn().Err(err).Str("path", rel).Msg("failed to watch directory")
		}
		return nil
	})
}

// watchGit adds the git metadata locations that change on commit and
// checkout. A tree without .git is watched for file changes only.
func (w *Watcher) watchGit() {
	for _, sub := range []string{".git", ".git/refs/heads"} {
		p := filepath.Join(w.root, filepath.FromSlash(sub))
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			continue
		}
		if err := w.fsw.Add(p); err != nil {
			w.log.Debug().Err(err).Str("path", sub).Msg("failed to watch git metadata")
		}
	}
}
