// Package index owns the lifecycle of one project index: full builds,
// incremental updates and the read-side queries served from an immutable
// snapshot.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/phobologic/codeindex/internal/cache"
	"github.com/phobologic/codeindex/internal/config"
	"github.com/phobologic/codeindex/internal/discover"
	"github.com/phobologic/codeindex/internal/graph"
	"github.com/phobologic/codeindex/internal/metrics"
	"github.com/phobologic/codeindex/internal/model"
	"github.com/phobologic/codeindex/internal/render"
	"github.com/phobologic/codeindex/internal/store"
)

// State is the lifecycle phase of an Engine.
type State int32

const (
	StateEmpty State = iota
	StateBuilding
	StateReady
	StateUpdating
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ErrNotBuilt is returned by operations that need an index when none has
// been built or restored yet.
var ErrNotBuilt = errors.New("index not built")

// Options wires an Engine to its collaborators. Cache is required; Store
// may be nil to keep the index in memory only.
type Options struct {
	Cache   cache.Store
	Store   *store.DB
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Config  *config.Config
	Now     func() time.Time
}

// Engine is safe for concurrent use. Writers (Build, Update) are
// serialized; readers never wait for them and always see the last
// committed snapshot.
type Engine struct {
	cache   cache.Store
	db      *store.DB
	log     zerolog.Logger
	metrics *metrics.Metrics
	cfg     *config.Config
	now     func() time.Time

	writeMu sync.Mutex
	state   atomic.Int32
	snap    atomic.Pointer[Snapshot]

	// guarded by writeMu
	rules     discover.Rules
	lastScore time.Duration

	renders     singleflight.Group
	renderMu    sync.Mutex
	renderCache map[renderKey]*render.Result

	// beforeSwap runs just before a new snapshot is published. Tests use
	// it to observe readers mid-write.
	beforeSwap func()
}

// New creates an engine in the Empty state.
func New(opts Options) (*Engine, error) {
	if opts.Cache == nil {
		return nil, errors.New("index: cache store is required")
	}
	if opts.Config == nil {
		opts.Config = config.Defaults()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	e := &Engine{
		cache:       opts.Cache,
		db:          opts.Store,
		log:         opts.Logger.With().Str("component", "index").Logger(),
		metrics:     opts.Metrics,
		cfg:         opts.Config,
		now:         opts.Now,
		renderCache: make(map[renderKey]*render.Result),
	}
	e.rules = e.baseRules(nil)
	return e, nil
}

// Open creates an engine for the project at root with both stores under
// the configured data directory, and restores any persisted index. The
// engine's collectors are registered on reg when it is non-nil.
func Open(ctx context.Context, root string, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*Engine, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	dataDir := cfg.DataPath(root)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	c, err := cache.Open(cache.Config{Dir: filepath.Join(dataDir, "cache"), Logger: logger})
	if err != nil {
		return nil, err
	}
	db, err := store.Open(filepath.Join(dataDir, "index.db"), logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	e, err := New(Options{Cache: c, Store: db, Logger: logger, Config: cfg, Metrics: metrics.New(reg)})
	if err != nil {
		_ = db.Close()
		_ = c.Close()
		return nil, err
	}
	if err := e.Restore(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// Close releases both stores.
func (e *Engine) Close() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var errs []error
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	errs = append(errs, e.cache.Close())
	return errors.Join(errs...)
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Snapshot returns the last committed snapshot, or nil before the first
// build or restore.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Restore loads the persisted state, if any, and makes it current.
func (e *Engine) Restore(ctx context.Context) error {
	if e.db == nil {
		return nil
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	st, err := e.db.Load(ctx)
	if errors.Is(err, store.ErrNoState) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore index: %w", err)
	}
	e.rules = e.baseRules(st.Ignore)
	e.publish(newSnapshot(st, graph.SymbolScores(st.Files, st.Scores)))
	e.log.Info().
		Int("files", st.TotalFiles).
		Int("symbols", st.TotalSymbols).
		Time("indexed_at", st.IndexedAt).
		Msg("restored index")
	return nil
}

// baseRules combines configured discovery rules with per-build ignore
// patterns. The data directory is always excluded.
func (e *Engine) baseRules(extra []string) discover.Rules {
	patterns := append([]string(nil), e.cfg.Ignore...)
	patterns = append(patterns, extra...)
	if !filepath.IsAbs(e.cfg.DataDir) {
		patterns = append(patterns, filepath.ToSlash(filepath.Clean(e.cfg.DataDir))+"/**")
	}
	return discover.Rules{
		Patterns:    patterns,
		Languages:   e.cfg.Languages,
		MaxFileSize: e.cfg.MaxFileSize,
	}
}

func (e *Engine) weights() graph.Weights {
	return graph.Weights{
		FanoutThreshold: e.cfg.Graph.FanoutThreshold,
		AmbiguousFactor: e.cfg.Graph.AmbiguousFactor,
		PrivateFactor:   e.cfg.Graph.PrivateFactor,
	}
}

func (e *Engine) rankOptions() graph.RankOptions {
	return graph.RankOptions{
		Damping:       e.cfg.Rank.Damping,
		MaxIterations: e.cfg.Rank.MaxIterations,
		Tolerance:     e.cfg.Rank.Tolerance,
	}
}

// score ranks every file and distributes the result over definitions.
func (e *Engine) score(files []model.FileRecord, edges []model.Edge, seeds map[string]float64) (map[string]float64, []model.SymbolScore, time.Duration) {
	start := time.Now()
	paths := make([]string, len(files))
	for i := range files {
		paths[i] = files[i].Path
	}
	scores, stats := graph.PageRank(paths, edges, seeds, e.rankOptions())
	if stats.Err != nil && len(paths) > 0 {
		e.log.Debug().Err(stats.Err).Int("files", len(paths)).Msg("no usable edges, uniform scores")
	} else if !stats.Converged && len(paths) > 0 {
		e.log.Warn().Int("iterations", stats.Iterations).Float64("delta", stats.Delta).Msg("pagerank did not converge")
	}
	symbols := graph.SymbolScores(files, scores)
	return scores, symbols, time.Since(start)
}

// publish swaps in snap and moves the engine to Ready.
func (e *Engine) publish(snap *Snapshot) {
	if prev := e.snap.Load(); prev != nil {
		snap.Generation = prev.Generation + 1
	} else {
		snap.Generation = 1
	}
	if e.beforeSwap != nil {
		e.beforeSwap()
	}
	e.snap.Store(snap)
	e.state.Store(int32(StateReady))

	e.renderMu.Lock()
	clear(e.renderCache)
	e.renderMu.Unlock()

	e.metrics.IndexedFiles.Set(float64(snap.State.TotalFiles))
	e.metrics.IndexedSymbols.Set(float64(snap.State.TotalSymbols))
}

// begin enters a writer phase and returns a function restoring the prior
// phase if the write does not publish.
func (e *Engine) begin(s State) func() {
	e.state.Store(int32(s))
	return func() {
		if State(e.state.Load()) != s {
			return
		}
		if e.snap.Load() != nil {
			e.state.Store(int32(StateReady))
		} else {
			e.state.Store(int32(StateEmpty))
		}
	}
}
