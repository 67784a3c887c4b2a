package index

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/phobologic/codeindex/internal/discover"
	"github.com/phobologic/codeindex/internal/extract"
	"github.com/phobologic/codeindex/internal/graph"
	"github.com/phobologic/codeindex/internal/model"
)

// BuildOptions configures a full build.
type BuildOptions struct {
	Root   string
	Ignore []string // doublestar patterns added to the configured ones
}

// BuildResult summarizes a full build.
type BuildResult struct {
	State        *model.IndexState
	Discovered   int
	Parsed       int
	CacheHits    int
	ParseErrors  int
	CacheCorrupt int
	// Failures lists per-file problems from discovery and extraction.
	Failures []model.FileError
	Partial  bool
	Pending  int
	Duration time.Duration
}

// Build indexes the whole tree under opts.Root and replaces the current
// index. A configured build timeout, or a cancelled ctx, stops parsing
// early; the files finished so far are still committed and the state is
// marked partial. Only discovery of the root, cache writes and persistence
// fail a build.
func (e *Engine) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	defer e.begin(StateBuilding)()

	start := time.Now()
	if e.cfg.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.BuildTimeout)
		defer cancel()
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	rules := e.baseRules(opts.Ignore)

	disc, err := discover.Files(root, rules, e.log)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	ex, err := extract.Run(ctx, extract.Options{
		Root:    root,
		Files:   disc.Files,
		Cache:   e.cache,
		Workers: e.cfg.Workers,
		Logger:  e.log,
		Metrics: e.metrics,
		Now:     e.now,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	if !ex.Partial {
		e.evictMissing(disc.Files)
	}

	edges := graph.BuildGraph(ex.Records, e.weights())
	scores, symbols, scoreTime := e.score(ex.Records, edges, nil)

	st := &model.IndexState{
		Root:         root,
		TotalFiles:   len(ex.Records),
		TotalSymbols: model.CountSymbols(ex.Records),
		IndexedAt:    e.now(),
		Files:        ex.Records,
		Edges:        edges,
		Scores:       scores,
		Unsupported:  disc.Unsupported,
		Partial:      ex.Partial,
		Ignore:       append([]string(nil), opts.Ignore...),
	}

	// Persist even when ctx has expired so partial work is kept.
	if e.db != nil {
		if err := e.db.Replace(context.WithoutCancel(ctx), st); err != nil {
			return nil, fmt.Errorf("persist index: %w", err)
		}
	}

	e.rules = rules
	e.lastScore = scoreTime
	e.publish(newSnapshot(st, symbols))

	res := &BuildResult{
		State:        st,
		Discovered:   len(disc.Files),
		Parsed:       ex.Parsed,
		CacheHits:    ex.CacheHits,
		ParseErrors:  ex.ParseErrors,
		CacheCorrupt: ex.CacheCorrupt,
		Failures:     append(append([]model.FileError(nil), disc.Skipped...), ex.Failures...),
		Partial:      ex.Partial,
		Pending:      ex.Pending,
		Duration:     time.Since(start),
	}
	e.metrics.BuildDuration.WithLabelValues("build").Observe(res.Duration.Seconds())

	ev := e.log.Info()
	if res.Partial {
		ev = e.log.Warn().Int("pending", res.Pending)
	}
	ev.Str("root", root).
		Int("files", st.TotalFiles).
		Int("symbols", st.TotalSymbols).
		Int("edges", len(edges)).
		Int("parsed", res.Parsed).
		Int("cache_hits", res.CacheHits).
		Int("failures", len(res.Failures)).
		Dur("duration", res.Duration).
		Msg("index built")
	return res, nil
}

// evictMissing drops cache entries for files that no longer exist in the
// tree. Failures only cost disk space and are logged.
func (e *Engine) evictMissing(files []discover.Entry) {
	cached, err := e.cache.Paths()
	if err != nil {
		e.log.Warn().Err(err).Msg("list cache entries")
		return
	}
	present := make(map[string]struct{}, len(files))
	for _, f := range files {
		present[f.Path] = struct{}{}
	}
	for _, p := range cached {
		if _, ok := present[p]; ok {
			continue
		}
		if err := e.cache.Evict(p); err != nil {
			e.log.Warn().Err(err).Str("path", p).Msg("evict cache entry")
		}
	}
}
