// Package extract turns discovered files into FileRecords, consulting the
// fingerprint cache and parsing misses on a bounded worker pool.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/codeindex/internal/cache"
	"github.com/phobologic/codeindex/internal/discover"
	"github.com/phobologic/codeindex/internal/lang"
	"github.com/phobologic/codeindex/internal/metrics"
	"github.com/phobologic/codeindex/internal/model"
	"github.com/phobologic/codeindex/internal/parse"
)

// Options configures one extraction run.
type Options struct {
	Root    string
	Files   []discover.Entry
	Cache   cache.Store
	Workers int // 0 means GOMAXPROCS
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Result is the outcome of an extraction run. Records holds every file that
// was processed, sorted by path.
type Result struct {
	Records      []model.FileRecord
	Parsed       int
	CacheHits    int
	ParseErrors  int
	CacheCorrupt int
	Failures     []model.FileError

	// Partial is set when the context ended before every file was
	// processed; Pending counts the files left out.
	Partial bool
	Pending int
}

type parserPair struct {
	lang   *lang.Language
	parser *sitter.Parser
	query  *sitter.Query
}

type outcome struct {
	record  model.FileRecord
	done    bool
	parsed  bool
	hit     bool
	corrupt bool
	failure *model.FileError
}

// Run processes opts.Files. Per-file problems are recorded in the result and
// never abort the run; only a failing cache write is returned as an error.
// A cancelled context stops dispatch and yields a partial result.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > len(opts.Files) {
		numWorkers = len(opts.Files)
	}

	outcomes := make([]outcome, len(opts.Files))
	work := make(chan int)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(work)
		for i := range opts.Files {
			select {
			case work <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for range numWorkers {
		g.Go(func() error {
			// Each goroutine gets its own parsers; compiled queries are shared.
			parsers := make(map[string]*parserPair)
			defer func() {
				for _, pp := range parsers {
					pp.parser.Close()
				}
			}()

			for idx := range work {
				if gctx.Err() != nil {
					continue
				}
				out, err := processFile(gctx, opts, parsers, opts.Files[idx])
				if err != nil {
					return err
				}
				outcomes[idx] = out
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for i, out := range outcomes {
		if out.failure != nil {
			res.Failures = append(res.Failures, *out.failure)
		}
		if out.corrupt {
			res.CacheCorrupt++
		}
		if !out.done {
			if out.failure == nil {
				res.Pending++
				opts.Logger.Debug().Str("path", opts.Files[i].Path).Msg("not processed before deadline")
			}
			continue
		}
		switch {
		case out.hit:
			res.CacheHits++
		case out.parsed:
			res.Parsed++
		}
		if out.failure != nil && errors.Is(out.failure, model.ErrParse) {
			res.ParseErrors++
		}
		res.Records = append(res.Records, out.record)
	}
	res.Partial = res.Pending > 0

	sort.Slice(res.Records, func(i, j int) bool {
		return res.Records[i].Path < res.Records[j].Path
	})
	sort.Slice(res.Failures, func(i, j int) bool {
		return res.Failures[i].Path < res.Failures[j].Path
	})
	return res, nil
}

func processFile(ctx context.Context, opts Options, parsers map[string]*parserPair, f discover.Entry) (outcome, error) {
	var out outcome
	log := opts.Logger.With().Str("path", f.Path).Logger()

	fail := func(kind, err error) {
		fe := model.NewFileError(f.Path, kind, err)
		out.failure = &fe
	}

	source, err := os.ReadFile(filepath.Join(opts.Root, filepath.FromSlash(f.Path)))
	if err != nil {
		log.Warn().Err(err).Msg("failed to read file")
		fail(model.ErrIO, err)
		return out, nil
	}
	fp := cache.Fingerprint(source)

	entry, ok, err := opts.Cache.Get(f.Path, fp)
	switch {
	case err != nil && errors.Is(err, model.ErrCacheCorruption):
		log.Warn().Err(err).Msg("corrupt cache entry, re-parsing")
		opts.Metrics.CacheCorrupt.Inc()
		out.corrupt = true
	case err != nil:
		return out, fmt.Errorf("read cache: %w", err)
	case ok:
		opts.Metrics.CacheHits.Inc()
		if entry.ParseError != "" {
			fail(model.ErrParse, errors.New(entry.ParseError))
		}
		out.record = entry.Record(f.Path)
		out.done, out.hit = true, true
		return out, nil
	}

	l := lang.Languages[f.Language]
	if l == nil {
		fail(model.ErrUnsupportedLanguage, fmt.Errorf("language %q", f.Language))
		return out, nil
	}

	rec := model.FileRecord{
		Path:        f.Path,
		Language:    f.Language,
		Fingerprint: fp,
		IndexedAt:   opts.Now(),
	}

	if l.HasPatterns() {
		pp, ok := parsers[f.Language]
		if !ok {
			q, err := l.GetTagQuery()
			if err != nil {
				log.Error().Err(err).Str("language", f.Language).Msg("failed to compile query")
				fail(model.ErrParse, err)
				return out, nil
			}
			pp = &parserPair{lang: l, parser: l.NewParser(), query: q}
			parsers[f.Language] = pp
		}

		tags, err := parse.ExtractTags(ctx, pp.lang, pp.parser, pp.query, source, f.Path)
		if ctx.Err() != nil {
			// Unfinished; the file counts as pending.
			return outcome{}, nil
		}
		opts.Metrics.FilesParsed.Inc()
		out.parsed = true
		if err != nil {
			log.Debug().Err(err).Int("tags", len(tags)).Msg("partial parse")
			opts.Metrics.ParseErrors.Inc()
			fail(model.ErrParse, err)
		}
		rec.Tags = tags
	}

	entry = cache.FromRecord(rec)
	if out.failure != nil {
		entry.ParseError = out.failure.Err.Error()
	}
	if err := opts.Cache.Put(f.Path, fp, entry); err != nil {
		return out, fmt.Errorf("write cache: %w", err)
	}

	out.record = rec
	out.done = true
	return out, nil
}
