package index

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/phobologic/codeindex/internal/graph"
	"github.com/phobologic/codeindex/internal/model"
	"github.com/phobologic/codeindex/internal/ranking"
	"github.com/phobologic/codeindex/internal/render"
)

// MapRequest parameterizes RenderMap.
type MapRequest struct {
	Budget   int
	// Seeds biases importance toward the given files.
	Seeds    map[string]float64
	Format   render.Format // empty means the configured format
	// Symbol and File focus the map on definitions whose name, or files
	// whose path, contains the given substring. Focused files also seed
	// the ranking when Seeds is empty.
	Symbol   string
	File     string
	// MaxFiles keeps only the highest scored files when positive.
	MaxFiles int
}

type renderKey struct {
	gen    uint64
	budget int
	format render.Format
	symbol string
	file   string
	seeds  string
	files  int
}

func (k renderKey) String() string {
	return fmt.Sprintf("%d|%d|%s|%s|%s|%s|%d", k.gen, k.budget, k.format, k.symbol, k.file, k.seeds, k.files)
}

// RenderMap renders the repository map for the current snapshot. Results
// are cached per snapshot generation and request, and concurrent
// identical requests share one render. The returned result must not be
// modified.
func (e *Engine) RenderMap(ctx context.Context, req MapRequest) (*render.Result, error) {
	snap := e.snap.Load()
	if snap == nil {
		return nil, ErrNotBuilt
	}
	if req.Format == "" {
		f, err := render.ParseFormat(e.cfg.Render.Format)
		if err != nil {
			return nil, err
		}
		req.Format = f
	}

	key := renderKey{
		gen:    snap.Generation,
		budget: req.Budget,
		format: req.Format,
		symbol: req.Symbol,
		file:   req.File,
		seeds:  seedKey(req.Seeds),
		files:  req.MaxFiles,
	}
	e.renderMu.Lock()
	cached, ok := e.renderCache[key]
	e.renderMu.Unlock()
	if ok {
		return cached, nil
	}

	ch := e.renders.DoChan(key.String(), func() (any, error) {
		res := e.renderSnapshot(snap, req)
		e.renderMu.Lock()
		// A newer snapshot may have cleared the cache meanwhile; only
		// keep results for the current generation.
		if cur := e.snap.Load(); cur != nil && cur.Generation == snap.Generation {
			e.renderCache[key] = res
		}
		e.renderMu.Unlock()
		return res, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*render.Result), nil
	}
}

func (e *Engine) renderSnapshot(snap *Snapshot, req MapRequest) *render.Result {
	st := snap.State
	slice := ranking.Slice{Files: st.Files, Edges: st.Edges}
	focused := req.Symbol != "" || req.File != ""
	if req.Symbol != "" {
		slice = ranking.FilterBySymbol(slice, req.Symbol)
	}
	if req.File != "" {
		slice = ranking.FilterByFile(slice, req.File)
	}

	seeds := req.Seeds
	if len(seeds) == 0 && focused {
		seeds = make(map[string]float64, len(slice.Files))
		for _, p := range slice.Paths() {
			seeds[p] = 1
		}
	}

	symbols := snap.Symbols
	scores := st.Scores
	if len(seeds) > 0 {
		scores, _, _ = e.score(st.Files, st.Edges, seeds)
	}
	limited := req.MaxFiles > 0 && req.MaxFiles < len(slice.Files)
	if limited {
		slice = ranking.SelectFiles(slice, scores, req.MaxFiles)
	}
	if len(seeds) > 0 || focused || limited {
		symbols = graph.SymbolScores(slice.Files, scores)
	}

	meta := make(map[string]render.FileMeta, len(slice.Files))
	for i := range slice.Files {
		f := &slice.Files[i]
		meta[f.Path] = render.FileMeta{Language: f.Language, Score: scores[f.Path]}
	}

	res := render.Render(symbols, render.Options{
		Budget:        req.Budget,
		MaxIterations: e.cfg.Render.MaxIterations,
		Format:        req.Format,
		Root:          filepath.Base(st.Root),
		Files:         meta,
		Edges:         slice.Edges,
	})
	if res.Iterations > 0 {
		e.metrics.RenderIterations.Observe(float64(res.Iterations))
	}
	e.log.Debug().
		Str("status", string(res.Status)).
		Int("budget", req.Budget).
		Int("tokens", res.Tokens).
		Int("symbols", len(res.Symbols)).
		Int("iterations", res.Iterations).
		Msg("rendered map")
	return res
}

func seedKey(seeds map[string]float64) string {
	if len(seeds) == 0 {
		return ""
	}
	keys := make([]string, 0, len(seeds))
	for k := range seeds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(seeds[k], 'g', -1, 64))
		b.WriteByte(';')
	}
	return b.String()
}

// LookupSymbol returns definitions named name, or whose name contains name
// case-insensitively when exact is false. Results are ordered by name,
// file and line.
func (e *Engine) LookupSymbol(name string, exact bool) []model.Tag {
	snap := e.snap.Load()
	if snap == nil {
		return nil
	}
	lower := strings.ToLower(name)
	var out []model.Tag
	for i := range snap.State.Files {
		for _, t := range snap.State.Files[i].Tags {
			if !t.IsDef() {
				continue
			}
			if exact && t.Name == name || !exact && strings.Contains(strings.ToLower(t.Name), lower) {
				out = append(out, t)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	return out
}

// Dependents returns the files that reference path.
func (e *Engine) Dependents(path string) []string {
	snap := e.snap.Load()
	if snap == nil {
		return nil
	}
	return snap.graph.Dependents(filepath.ToSlash(path))
}

// Dependencies returns the files that path references.
func (e *Engine) Dependencies(path string) []string {
	snap := e.snap.Load()
	if snap == nil {
		return nil
	}
	return snap.graph.Dependencies(filepath.ToSlash(path))
}

// RankedFiles returns files by descending importance, limited to the top
// fraction (0 < fraction < 1) of the index. This is the read-only list
// consumers use to pick files worth embedding.
func (e *Engine) RankedFiles(fraction float64, excludeTests bool) []ranking.RankedFile {
	snap := e.snap.Load()
	if snap == nil {
		return nil
	}
	return ranking.Top(snap.State.Files, snap.State.Scores, fraction, excludeTests)
}
