// Package discover finds and classifies source files in a repository.
package discover

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/phobologic/codeindex/internal/lang"
	"github.com/phobologic/codeindex/internal/model"
)

// Entry represents a discovered source file.
type Entry struct {
	Path     string // slash separated, relative to the repo root
	Language string
}

// Rules controls which files discovery returns.
type Rules struct {
	Patterns    []string // extra doublestar ignore patterns
	Languages   []string // restrict to these languages when non-empty
	MaxFileSize int64    // 0 means no limit
}

// Result is the output of a discovery run.
type Result struct {
	Files       []Entry // sorted by path
	Unsupported int     // files with no known language, counted but not listed
	Skipped     []model.FileError
}

// Total is the number of files counted toward the project size.
func (r *Result) Total() int {
	return len(r.Files) + r.Unsupported
}

type pending struct {
	abs, rel string
}

type walker struct {
	root    string
	rules   Rules
	langs   map[string]struct{}
	matcher *Matcher
	log     zerolog.Logger

	visitedDirs map[string]struct{} // real paths
	seenFiles   map[string]struct{} // real paths
	links       []pending
	res         *Result
}

// Files discovers source files under root. Symlinks are followed; a
// directory or file reached again through another link is skipped, so link
// cycles terminate. Real entries always win over links to them.
// Unreadable entries are logged and reported in Result.Skipped.
func Files(root string, rules Rules, logger zerolog.Logger) (*Result, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", model.ErrIO, root)
	}

	w := &walker{
		root:        abs,
		rules:       rules,
		langs:       languageSet(rules.Languages),
		matcher:     NewMatcher(abs, rules.Patterns),
		log:         logger,
		visitedDirs: make(map[string]struct{}),
		seenFiles:   make(map[string]struct{}),
		res:         &Result{},
	}

	w.walkDir(abs, "")
	for len(w.links) > 0 {
		l := w.links[0]
		w.links = w.links[1:]
		w.followLink(l)
	}

	sort.Slice(w.res.Files, func(i, j int) bool {
		return w.res.Files[i].Path < w.res.Files[j].Path
	})
	sort.Slice(w.res.Skipped, func(i, j int) bool {
		return w.res.Skipped[i].Path < w.res.Skipped[j].Path
	})
	return w.res, nil
}

func (w *walker) walkDir(abs, rel string) {
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		w.skip(rel, model.ErrIO, err)
		return
	}
	if _, seen := w.visitedDirs[real]; seen {
		w.log.Debug().Str("path", rel).Msg("directory already visited, skipping")
		return
	}
	w.visitedDirs[real] = struct{}{}

	entries, err := os.ReadDir(abs)
	if err != nil {
		w.skip(rel, model.ErrIO, err)
		return
	}

	for _, d := range entries {
		childAbs := filepath.Join(abs, d.Name())
		childRel := path.Join(rel, d.Name())

		if d.Type()&os.ModeSymlink != 0 {
			w.links = append(w.links, pending{abs: childAbs, rel: childRel})
			continue
		}
		if d.IsDir() {
			if !w.matcher.Ignored(childRel, true) {
				w.walkDir(childAbs, childRel)
			}
			continue
		}
		if !d.Type().IsRegular() {
			continue
		}
		w.addFile(childAbs, childRel, d.Info)
	}
}

func (w *walker) followLink(l pending) {
	info, err := os.Stat(l.abs)
	if err != nil {
		w.skip(l.rel, model.ErrIO, err)
		return
	}
	if info.IsDir() {
		if !w.matcher.Ignored(l.rel, true) {
			w.walkDir(l.abs, l.rel)
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	w.addFile(l.abs, l.rel, func() (os.FileInfo, error) { return info, nil })
}

func (w *walker) addFile(abs, rel string, stat func() (os.FileInfo, error)) {
	if w.matcher.Ignored(rel, false) {
		return
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		w.skip(rel, model.ErrIO, err)
		return
	}
	if _, seen := w.seenFiles[real]; seen {
		w.log.Debug().Str("path", rel).Msg("file already reached through another path")
		return
	}
	w.seenFiles[real] = struct{}{}

	langName := lang.ForPath(rel)
	if len(w.langs) > 0 {
		if _, ok := w.langs[langName]; !ok {
			return
		}
	}
	if langName == lang.Unsupported {
		w.res.Unsupported++
		return
	}

	info, err := stat()
	if err != nil {
		w.skip(rel, model.ErrIO, err)
		return
	}
	if w.rules.MaxFileSize > 0 && info.Size() > w.rules.MaxFileSize {
		w.skip(rel, model.ErrFileTooLarge, fmt.Errorf("%d bytes", info.Size()))
		return
	}

	w.res.Files = append(w.res.Files, Entry{Path: rel, Language: langName})
}

func (w *walker) skip(rel string, kind, err error) {
	fe := model.NewFileError(rel, kind, err)
	w.log.Warn().Str("path", rel).Err(err).Msg("skipping entry")
	w.res.Skipped = append(w.res.Skipped, fe)
}

// Classify decides how the updater should treat a single repo-relative
// path. ok is false when the path is ignored or filtered out; otherwise
// language is the detected language, possibly lang.Unsupported.
func Classify(m *Matcher, rel string, rules Rules) (language string, ok bool) {
	rel = filepath.ToSlash(rel)
	if m.Ignored(rel, false) {
		return "", false
	}
	language = lang.ForPath(rel)
	if language == lang.Unsupported {
		if len(rules.Languages) > 0 {
			return "", false
		}
		return language, true
	}
	if langs := languageSet(rules.Languages); len(langs) > 0 {
		if _, ok := langs[language]; !ok {
			return "", false
		}
	}
	return language, true
}

func languageSet(languages []string) map[string]struct{} {
	set := make(map[string]struct{}, len(languages))
	for _, l := range languages {
		set[l] = struct{}{}
	}
	return set
}

var testDirRe = regexp.MustCompile(`(^|/)(tests?|spec|__tests__)/`)

// IsTestFile reports whether path looks like test code, by directory
// component or by file naming convention.
func IsTestFile(p string) bool {
	p = filepath.ToSlash(p)
	if testDirRe.MatchString(p) {
		return true
	}
	base := path.Base(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	switch {
	case strings.HasSuffix(stem, "_test"), strings.HasSuffix(stem, "_spec"):
		return true
	case strings.HasPrefix(stem, "test_"):
		return true
	case strings.HasSuffix(stem, ".test"), strings.HasSuffix(stem, ".spec"):
		return true
	case strings.HasSuffix(stem, "Test") && ext == ".java":
		return true
	}
	return false
}
