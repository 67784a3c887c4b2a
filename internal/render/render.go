// Package render produces the token-budgeted repo map.
package render

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/phobologic/codeindex/internal/model"
	"github.com/phobologic/codeindex/internal/toon"
)

// Format selects the textual layout of a map.
type Format string

const (
	FormatTree Format = "tree"
	FormatTOON Format = "toon"
)

// ParseFormat validates a format name. Empty means FormatTree.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatTree:
		return FormatTree, nil
	case FormatTOON:
		return FormatTOON, nil
	}
	return "", fmt.Errorf("unknown map format %q (want tree or toon)", s)
}

// Status is the outcome of a render.
type Status string

const (
	StatusOK             Status = "ok"
	StatusBudgetTooSmall Status = "budget_too_small"
	StatusEmpty          Status = "empty"
)

// Counter returns the approximate token count of a text.
type Counter func(string) int

// ApproxTokens counts one token per four characters, rounded up.
func ApproxTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// FileMeta carries per-file data shown by formats that have a files table.
type FileMeta struct {
	Language string
	Score    float64
}

// Options configures Render.
type Options struct {
	Budget        int
	MaxIterations int // bisection steps; 0 means 15
	Format        Format
	Counter       Counter // nil means ApproxTokens
	Root          string
	Files         map[string]FileMeta
	Edges         []model.Edge // toon only; limited to rendered files
}

// Result is a rendered map. Text always consists of whole file sections.
type Result struct {
	Status     Status
	Text       string
	Tokens     int
	Budget     int
	Format     Format
	Symbols    []model.SymbolKey // included symbols in rank order
	Files      []string          // included files in output order
	Iterations int               // renders performed
	// MinBudget is the cost of rendering the single top symbol.
	MinBudget int
}

// Err returns model.ErrBudgetTooSmall for a BudgetTooSmall result, nil
// otherwise.
func (r *Result) Err() error {
	if r.Status == StatusBudgetTooSmall {
		return fmt.Errorf("%w: need at least %d tokens, have %d", model.ErrBudgetTooSmall, r.MinBudget, r.Budget)
	}
	return nil
}

type probe struct {
	text   string
	tokens int
	files  []string
}

// Render selects the largest prefix of the ranked symbols whose rendering
// fits in opts.Budget. The prefix length is found by binary search,
// stopping at exact budget parity or after MaxIterations bisection steps.
// A budget that cannot hold the top symbol yields StatusBudgetTooSmall.
func Render(symbols []model.SymbolScore, opts Options) *Result {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 15
	}
	if opts.Counter == nil {
		opts.Counter = ApproxTokens
	}
	if opts.Format == "" {
		opts.Format = FormatTree
	}

	ranked := make([]model.SymbolScore, len(symbols))
	copy(ranked, symbols)
	model.SortSymbols(ranked)

	res := &Result{Budget: opts.Budget, Format: opts.Format}
	if opts.Budget <= 0 {
		res.Status = StatusBudgetTooSmall
		if len(ranked) > 0 {
			first := renderTop(ranked, 1, opts)
			res.MinBudget = first.tokens
			res.Iterations = 1
		}
		return res
	}
	if len(ranked) == 0 {
		res.Status = StatusEmpty
		return res
	}

	probes := make(map[int]probe)
	measure := func(k int) probe {
		if p, ok := probes[k]; ok {
			return p
		}
		p := renderTop(ranked, k, opts)
		probes[k] = p
		res.Iterations++
		return p
	}

	first := measure(1)
	res.MinBudget = first.tokens
	if first.tokens > opts.Budget {
		res.Status = StatusBudgetTooSmall
		return res
	}

	best := 1
	n := len(ranked)
	if p := measure(n); p.tokens <= opts.Budget {
		best = n
	} else if first.tokens < opts.Budget {
		lo, hi := 1, n // lo fits, hi does not
		for step := 0; hi-lo > 1 && step < opts.MaxIterations; step++ {
			mid := lo + (hi-lo)/2
			p := measure(mid)
			if p.tokens <= opts.Budget {
				lo = mid
				if p.tokens == opts.Budget {
					break
				}
			} else {
				hi = mid
			}
		}
		best = lo
	}

	p := measure(best)
	res.Status = StatusOK
	res.Text = p.text
	res.Tokens = p.tokens
	res.Files = p.files
	res.Symbols = make([]model.SymbolKey, best)
	for i := 0; i < best; i++ {
		res.Symbols[i] = ranked[i].Key()
	}
	return res
}

func renderTop(ranked []model.SymbolScore, k int, opts Options) probe {
	byFile := make(map[string][]model.Tag)
	for _, s := range ranked[:k] {
		byFile[s.Tag.File] = append(byFile[s.Tag.File], s.Tag)
	}
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		tags := byFile[f]
		sort.Slice(tags, func(i, j int) bool {
			if tags[i].Line != tags[j].Line {
				return tags[i].Line < tags[j].Line
			}
			return tags[i].Name < tags[j].Name
		})
	}

	var text string
	switch opts.Format {
	case FormatTOON:
		text = renderTOON(files, byFile, opts)
	default:
		text = renderTree(files, byFile)
	}
	return probe{text: text, tokens: opts.Counter(text), files: files}
}

func renderTree(files []string, byFile map[string][]model.Tag) string {
	var b strings.Builder
	for _, f := range files {
		b.WriteString(f)
		b.WriteString(":\n")
		for _, t := range byFile[f] {
			line := t.Signature
			if line == "" {
				line = t.QualifiedName()
			}
			fmt.Fprintf(&b, "  %d: %s\n", t.Line, line)
		}
	}
	return b.String()
}

func renderTOON(files []string, byFile map[string][]model.Tag, opts Options) string {
	doc := toon.Document{Root: opts.Root}
	included := make(map[string]struct{}, len(files))
	for _, f := range files {
		included[f] = struct{}{}
		meta := opts.Files[f]
		doc.Files = append(doc.Files, toon.File{Path: f, Language: meta.Language, Score: meta.Score})
		doc.Symbols = append(doc.Symbols, byFile[f]...)
	}
	for _, e := range opts.Edges {
		_, srcOK := included[e.From]
		_, tgtOK := included[e.To]
		if srcOK && tgtOK {
			doc.Edges = append(doc.Edges, e)
		}
	}
	return toon.Encode(doc)
}
