// Package ranking turns importance scores into ordered file lists and
// focused subsets of an index.
package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/phobologic/codeindex/internal/discover"
	"github.com/phobologic/codeindex/internal/model"
)

// RankedFile is one entry of the importance-ordered file list consumed by
// downstream indexers.
type RankedFile struct {
	Path     string  `json:"path"`
	Language string  `json:"language"`
	Score    float64 `json:"score"`
	Symbols  int     `json:"symbols"`
	Test     bool    `json:"test,omitempty"`
}

// Top returns files by descending score (path breaks ties), limited to
// ceil(fraction*N). A fraction outside (0, 1] returns every file. When
// excludeTests is set, test files are dropped before the limit is applied.
func Top(files []model.FileRecord, scores map[string]float64, fraction float64, excludeTests bool) []RankedFile {
	out := make([]RankedFile, 0, len(files))
	for i := range files {
		f := &files[i]
		test := discover.IsTestFile(f.Path)
		if excludeTests && test {
			continue
		}
		out = append(out, RankedFile{
			Path:     f.Path,
			Language: f.Language,
			Score:    scores[f.Path],
			Symbols:  len(f.Definitions()),
			Test:     test,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})

	if fraction > 0 && fraction < 1 {
		n := int(math.Ceil(fraction * float64(len(out))))
		out = out[:n]
	}
	return out
}

// Slice is a subset of an index: some files and the edges among them.
type Slice struct {
	Files []model.FileRecord
	Edges []model.Edge
}

// Paths returns the file paths of the slice in order.
func (s Slice) Paths() []string {
	out := make([]string, len(s.Files))
	for i := range s.Files {
		out[i] = s.Files[i].Path
	}
	return out
}

// SelectFiles keeps the maxFiles highest scored files and the edges with
// both ends among them. maxFiles <= 0 or >= len(files) returns s unchanged.
func SelectFiles(s Slice, scores map[string]float64, maxFiles int) Slice {
	if maxFiles <= 0 || maxFiles >= len(s.Files) {
		return s
	}
	ranked := Top(s.Files, scores, 0, false)[:maxFiles]
	keep := make(map[string]struct{}, maxFiles)
	for _, r := range ranked {
		keep[r.Path] = struct{}{}
	}

	var out Slice
	for i := range s.Files {
		if _, ok := keep[s.Files[i].Path]; ok {
			out.Files = append(out.Files, s.Files[i])
		}
	}
	for _, e := range s.Edges {
		_, srcOK := keep[e.From]
		_, tgtOK := keep[e.To]
		if srcOK && tgtOK {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}

// FilterBySymbol keeps files that define a symbol whose name contains
// substr (case-insensitive) and files with an edge carrying such a symbol
// into a definer. Defining files keep only the matched definitions plus
// their references; referencing files are kept whole.
func FilterBySymbol(s Slice, substr string) Slice {
	lower := strings.ToLower(substr)

	matched := make(map[string]struct{})
	definers := make(map[string]struct{})
	for i := range s.Files {
		for _, t := range s.Files[i].Tags {
			if t.IsDef() && strings.Contains(strings.ToLower(t.Name), lower) {
				matched[t.Name] = struct{}{}
				definers[s.Files[i].Path] = struct{}{}
			}
		}
	}

	var out Slice
	users := make(map[string]struct{})
	for _, e := range s.Edges {
		if _, ok := definers[e.To]; !ok {
			continue
		}
		for _, sym := range e.Symbols {
			if _, ok := matched[sym]; ok {
				users[e.From] = struct{}{}
				out.Edges = append(out.Edges, e)
				break
			}
		}
	}

	for i := range s.Files {
		f := s.Files[i]
		if _, ok := definers[f.Path]; ok {
			var tags []model.Tag
			for _, t := range f.Tags {
				if _, isMatch := matched[t.Name]; isMatch || !t.IsDef() {
					tags = append(tags, t)
				}
			}
			f.Tags = tags
			out.Files = append(out.Files, f)
			continue
		}
		if _, ok := users[f.Path]; ok {
			out.Files = append(out.Files, f)
		}
	}
	return out
}

// FilterByFile keeps files whose path contains substr (case-insensitive)
// and every edge touching them. Files on the other end of those edges are
// not included.
func FilterByFile(s Slice, substr string) Slice {
	lower := strings.ToLower(substr)

	var out Slice
	matched := make(map[string]struct{})
	for i := range s.Files {
		if strings.Contains(strings.ToLower(s.Files[i].Path), lower) {
			matched[s.Files[i].Path] = struct{}{}
			out.Files = append(out.Files, s.Files[i])
		}
	}
	for _, e := range s.Edges {
		_, srcOK := matched[e.From]
		_, tgtOK := matched[e.To]
		if srcOK || tgtOK {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}
