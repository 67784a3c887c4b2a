package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/phobologic/codeindex/internal/discover"
	"github.com/phobologic/codeindex/internal/extract"
	"github.com/phobologic/codeindex/internal/graph"
	"github.com/phobologic/codeindex/internal/lang"
	"github.com/phobologic/codeindex/internal/model"
	"github.com/phobologic/codeindex/internal/store"
)

// UpdateOptions configures an incremental update.
type UpdateOptions struct {
	// RescoreBudget overrides the configured update.rescore_budget when
	// positive. If the last scoring run took longer than the budget the
	// update keeps the previous scores and marks them stale.
	RescoreBudget time.Duration
	// Rescore forces a full rescore regardless of budget.
	Rescore bool
}

// UpdateResult summarizes an incremental update.
type UpdateResult struct {
	State *model.IndexState
	// Changed are paths re-extracted, Deleted paths removed from the
	// index, Ignored paths that were neither.
	Changed   []string
	Deleted   []string
	Ignored   []string
	Parsed    int
	CacheHits int
	Failures  []model.FileError
	Partial   bool
	Stale     bool
	Duration  time.Duration
}

// Update applies file changes to the current index. Each path may be
// absolute or relative to the index root; missing paths (and everything
// indexed beneath a missing directory) are removed, ignored or unsupported
// paths drop any record they had, and the rest are re-extracted. Readers
// keep seeing the previous snapshot until the update commits.
func (e *Engine) Update(ctx context.Context, paths []string, opts UpdateOptions) (*UpdateResult, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	prev := e.snap.Load()
	if prev == nil {
		return nil, ErrNotBuilt
	}
	defer e.begin(StateUpdating)()

	start := time.Now()
	root := prev.State.Root
	matcher := discover.NewMatcher(root, e.rules.Patterns)

	res := &UpdateResult{}
	drop := make(map[string]struct{})
	var changed []discover.Entry
	queued := make(map[string]struct{})
	rediscover := false

	for _, rel := range normalizePaths(root, paths) {
		if path.Base(rel) == ".gitignore" {
			rediscover = true
		}

		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			for _, p := range prefixMatches(prev, rel) {
				drop[p] = struct{}{}
			}
			continue
		case err != nil:
			res.Failures = append(res.Failures, model.NewFileError(rel, model.ErrIO, err))
			e.log.Warn().Err(err).Str("path", rel).Msg("stat changed path")
			continue
		case info.IsDir():
			res.Ignored = append(res.Ignored, rel)
			continue
		}

		language, ok := discover.Classify(matcher, rel, e.rules)
		if !ok || language == lang.Unsupported {
			if _, indexed := prev.byPath[rel]; indexed {
				drop[rel] = struct{}{}
			} else {
				res.Ignored = append(res.Ignored, rel)
			}
			continue
		}
		if e.rules.MaxFileSize > 0 && info.Size() > e.rules.MaxFileSize {
			res.Failures = append(res.Failures, model.NewFileError(rel, model.ErrFileTooLarge, fmt.Errorf("%d bytes", info.Size())))
			drop[rel] = struct{}{}
			continue
		}
		changed = append(changed, discover.Entry{Path: rel, Language: language})
		queued[rel] = struct{}{}
	}

	unsupported := prev.State.Unsupported
	if rediscover {
		// Ignore rules changed: reconcile the whole index against a fresh
		// walk so newly ignored files leave and unignored files return.
		disc, err := discover.Files(root, e.rules, e.log)
		if err != nil {
			return nil, fmt.Errorf("discover: %w", err)
		}
		unsupported = disc.Unsupported
		found := make(map[string]struct{}, len(disc.Files))
		for _, f := range disc.Files {
			found[f.Path] = struct{}{}
			_, indexed := prev.byPath[f.Path]
			_, dup := queued[f.Path]
			if !indexed && !dup {
				changed = append(changed, f)
				queued[f.Path] = struct{}{}
			}
		}
		for _, r := range prev.State.Files {
			_, ok := found[r.Path]
			_, q := queued[r.Path]
			if !ok && !q {
				drop[r.Path] = struct{}{}
			}
		}
	}

	if len(changed) == 0 && len(drop) == 0 {
		res.State = prev.State
		res.Stale = prev.State.Stale
		res.Duration = time.Since(start)
		return res, nil
	}

	ex, err := extract.Run(ctx, extract.Options{
		Root:    root,
		Files:   changed,
		Cache:   e.cache,
		Workers: e.cfg.Workers,
		Logger:  e.log,
		Metrics: e.metrics,
		Now:     e.now,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	res.Parsed, res.CacheHits, res.Partial = ex.Parsed, ex.CacheHits, ex.Partial
	res.Failures = append(res.Failures, ex.Failures...)

	extracted := make(map[string]struct{}, len(ex.Records))
	for i := range ex.Records {
		extracted[ex.Records[i].Path] = struct{}{}
		res.Changed = append(res.Changed, ex.Records[i].Path)
	}
	// A changed file that failed outright would be absent from a full
	// build too.
	for _, f := range ex.Failures {
		if _, ok := extracted[f.Path]; !ok {
			drop[f.Path] = struct{}{}
		}
	}

	files := make([]model.FileRecord, 0, len(prev.State.Files)+len(ex.Records))
	for _, r := range prev.State.Files {
		_, gone := drop[r.Path]
		_, replaced := extracted[r.Path]
		if gone {
			res.Deleted = append(res.Deleted, r.Path)
		}
		if !gone && !replaced {
			files = append(files, r)
		}
	}
	files = append(files, ex.Records...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	for p := range drop {
		if err := e.cache.Evict(p); err != nil {
			return nil, fmt.Errorf("evict %s: %w", p, err)
		}
	}

	edges := graph.BuildGraph(files, e.weights())

	st := &model.IndexState{
		Root:         root,
		TotalFiles:   len(files),
		TotalSymbols: model.CountSymbols(files),
		IndexedAt:    e.now(),
		Files:        files,
		Edges:        edges,
		Unsupported:  unsupported,
		Partial:      prev.State.Partial || ex.Partial,
		Ignore:       prev.State.Ignore,
	}

	budget := e.cfg.Update.RescoreBudget
	if opts.RescoreBudget > 0 {
		budget = opts.RescoreBudget
	}
	var symbols []model.SymbolScore
	if !opts.Rescore && budget > 0 && e.lastScore > budget {
		st.Scores = carryScores(prev.State.Scores, files)
		st.Stale = true
		symbols = graph.SymbolScores(files, st.Scores)
	} else {
		var took time.Duration
		st.Scores, symbols, took = e.score(files, edges, nil)
		e.lastScore = took
	}
	res.Stale = st.Stale

	if e.db != nil {
		err := e.db.Apply(context.WithoutCancel(ctx), store.Delta{
			Upserts: ex.Records,
			Deletes: res.Deleted,
			State:   st,
		})
		if err != nil {
			return nil, fmt.Errorf("persist update: %w", err)
		}
	}

	e.publish(newSnapshot(st, symbols))

	res.State = st
	res.Duration = time.Since(start)
	e.metrics.BuildDuration.WithLabelValues("update").Observe(res.Duration.Seconds())
	e.log.Info().
		Int("changed", len(res.Changed)).
		Int("deleted", len(res.Deleted)).
		Int("parsed", res.Parsed).
		Bool("stale", st.Stale).
		Dur("duration", res.Duration).
		Msg("index updated")
	return res, nil
}

// normalizePaths converts paths to sorted, unique, slash separated paths
// relative to root. Paths outside root are dropped.
func normalizePaths(root string, paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	var out []string
	for _, p := range paths {
		if filepath.IsAbs(p) {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				continue
			}
			p = rel
		}
		p = filepath.ToSlash(filepath.Clean(p))
		if p == "." || p == ".." || strings.HasPrefix(p, "../") {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// prefixMatches returns rel itself if indexed plus every indexed path
// beneath it, for removals of whole directories.
func prefixMatches(s *Snapshot, rel string) []string {
	var out []string
	if _, ok := s.byPath[rel]; ok {
		out = append(out, rel)
	}
	dir := rel + "/"
	i := sort.Search(len(s.State.Files), func(i int) bool { return s.State.Files[i].Path >= dir })
	for ; i < len(s.State.Files) && strings.HasPrefix(s.State.Files[i].Path, dir); i++ {
		out = append(out, s.State.Files[i].Path)
	}
	return out
}

// carryScores keeps previous scores for surviving files. New files get
// no score until the next rescore.
func carryScores(prev map[string]float64, files []model.FileRecord) map[string]float64 {
	out := make(map[string]float64, len(files))
	for _, f := range files {
		out[f.Path] = prev[f.Path]
	}
	return out
}
