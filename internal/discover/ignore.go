package discover

import (
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

var skipDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	"vendor":        {},
	"target":        {},
	"venv":          {},
	"env":           {},
	"build":         {},
	"dist":          {},
	"coverage":      {},
	"egg-info":      {},
	".git":          {},
	".hg":           {},
	".svn":          {},
	".venv":         {},
	".env":          {},
	".tox":          {},
	".mypy_cache":   {},
	".ruff_cache":   {},
	".pytest_cache": {},
	".idea":         {},
	".vscode":       {},
	".codeindex":    {},
}

// SkipDir reports whether a directory with this base name is never indexed.
func SkipDir(name string) bool {
	if _, ok := skipDirs[name]; ok {
		return true
	}
	return strings.HasPrefix(name, ".")
}

// Matcher decides whether repo-relative paths are ignored. It combines the
// built-in excluded directories, every .gitignore between the root and the
// path, and caller-supplied doublestar patterns. Compiled .gitignore files
// are cached per directory. A Matcher is safe for concurrent use.
type Matcher struct {
	root     string
	patterns []string

	mu       sync.Mutex
	compiled map[string]*ignore.GitIgnore // keyed by slash dir, "" for root
}

// NewMatcher returns a Matcher for the tree at root.
func NewMatcher(root string, patterns []string) *Matcher {
	return &Matcher{
		root:     root,
		patterns: patterns,
		compiled: make(map[string]*ignore.GitIgnore),
	}
}

// Ignored reports whether rel (slash separated, relative to the root) is
// excluded from indexing.
func (m *Matcher) Ignored(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	for i, part := range parts {
		last := i == len(parts)-1
		if !last || isDir {
			if SkipDir(part) {
				return true
			}
		} else if strings.HasPrefix(part, ".") {
			return true
		}
	}

	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if isDir {
			if ok, _ := doublestar.Match(p, rel+"/"); ok {
				return true
			}
		}
	}

	dir := ""
	for i := 0; i < len(parts); i++ {
		if gi := m.gitignore(dir); gi != nil {
			sub := strings.Join(parts[i:], "/")
			if gi.MatchesPath(sub) || (isDir && gi.MatchesPath(sub+"/")) {
				return true
			}
		}
		dir = path.Join(dir, parts[i])
	}
	return false
}

// Forget drops the cached .gitignore for dir so the next lookup recompiles it.
func (m *Matcher) Forget(dir string) {
	dir = filepath.ToSlash(dir)
	if dir == "." {
		dir = ""
	}
	m.mu.Lock()
	delete(m.compiled, dir)
	m.mu.Unlock()
}

func (m *Matcher) gitignore(dir string) *ignore.GitIgnore {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gi, ok := m.compiled[dir]; ok {
		return gi
	}
	gi, err := ignore.CompileIgnoreFile(filepath.Join(m.root, filepath.FromSlash(dir), ".gitignore"))
	if err != nil {
		gi = nil
	}
	m.compiled[dir] = gi
	return gi
}
