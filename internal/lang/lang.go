// Package lang provides a language registry mapping file extensions to
// tree-sitter grammars and their embedded tag queries.
package lang

import (
	"embed"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

//go:embed queries/*.scm
var queryFS embed.FS

var whitespaceRe = regexp.MustCompile(`\s+`)

// Unsupported is the classification for files no registered language claims.
const Unsupported = "unsupported"

// Language holds tree-sitter configuration for a supported language.
// Grammars and queries are loaded on first use and memoized for the
// lifetime of the process.
type Language struct {
	Name       string
	Extensions []string

	// QueryFile names the embedded query under queries/. Empty means the
	// language has no extraction patterns and yields zero tags.
	QueryFile string

	load        func() *sitter.Language
	grammarOnce sync.Once
	grammar     *sitter.Language

	queryOnce sync.Once
	query     *sitter.Query
	queryErr  error

	// FindScope returns the name of the class, receiver type or impl that
	// owns a definition node. Returns "" for free functions.
	FindScope func(node *sitter.Node, source []byte) string
}

// GetLanguage returns the tree-sitter grammar, loading it on first call.
func (l *Language) GetLanguage() *sitter.Language {
	l.grammarOnce.Do(func() {
		l.grammar = l.load()
	})
	return l.grammar
}

// HasPatterns reports whether the language has extraction patterns.
func (l *Language) HasPatterns() bool {
	return l.QueryFile != ""
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.GetLanguage())
	return p
}

// GetTagQuery returns the compiled tree-sitter query (safe to share across goroutines).
func (l *Language) GetTagQuery() (*sitter.Query, error) {
	if !l.HasPatterns() {
		return nil, fmt.Errorf("%s: no extraction patterns", l.Name)
	}
	l.queryOnce.Do(func() {
		data, err := queryFS.ReadFile("queries/" + l.QueryFile)
		if err != nil {
			l.queryErr = fmt.Errorf("reading query file: %w", err)
			return
		}
		q, err := sitter.NewQuery(data, l.GetLanguage())
		if err != nil {
			l.queryErr = fmt.Errorf("compiling %s query: %w", l.Name, err)
			return
		}
		l.query = q
	})
	return l.query, l.queryErr
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

func register(l *Language) {
	Languages[l.Name] = l
}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[strings.ToLower(ext)]
}

// ForPath classifies a path by its extension. Unknown extensions map to Unsupported.
func ForPath(path string) string {
	if name := ForExtension(filepath.Ext(path)); name != "" {
		return name
	}
	return Unsupported
}

// Names returns the registered language names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Languages))
	for name := range Languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// fieldText returns the text of the named field child of node, or "".
func fieldText(node *sitter.Node, field string, source []byte) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return NodeText(child, source)
}

// enclosing walks up from node and returns the first ancestor whose type is
// in types, stopping early at any type in stop.
func enclosing(node *sitter.Node, types, stop map[string]struct{}) *sitter.Node {
	for cur := node.Parent(); cur != nil; cur = cur.Parent() {
		if _, ok := types[cur.Type()]; ok {
			return cur
		}
		if _, ok := stop[cur.Type()]; ok {
			return nil
		}
	}
	return nil
}

func set(types ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}
