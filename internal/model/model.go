// Package model defines core data structures for codeindex.
package model

import (
	"sort"
	"time"
)

// TagKind indicates whether a tag is a definition or a reference.
type TagKind string

const (
	Definition TagKind = "def"
	Reference  TagKind = "ref"
)

// NodeType is the language-independent category of a tagged node.
type NodeType string

const (
	Class     NodeType = "class"
	Function  NodeType = "function"
	Method    NodeType = "method"
	Module    NodeType = "module"
	Interface NodeType = "interface"
	Type      NodeType = "type"
	Constant  NodeType = "constant"
	Macro     NodeType = "macro"
	Call      NodeType = "call"
	Import    NodeType = "import"
	Member    NodeType = "member"
)

// Tag represents a single symbol occurrence extracted from source code.
// Tags are immutable once produced for a given file fingerprint.
type Tag struct {
	File      string   `json:"file"`
	Line      int      `json:"line"`
	Column    int      `json:"column"`
	Name      string   `json:"name"`
	Kind      TagKind  `json:"kind"`
	NodeType  NodeType `json:"node_type"`
	Scope     string   `json:"scope,omitempty"` // enclosing class or receiver for methods
	Signature string   `json:"signature,omitempty"`
}

// IsDef reports whether t is a definition.
func (t Tag) IsDef() bool { return t.Kind == Definition }

// QualifiedName returns Scope.Name for scoped definitions, Name otherwise.
func (t Tag) QualifiedName() string {
	if t.Scope == "" {
		return t.Name
	}
	return t.Scope + "." + t.Name
}

// FileRecord holds the indexed state of a single source file.
type FileRecord struct {
	Path        string    `json:"path"`
	Language    string    `json:"language"`
	Fingerprint string    `json:"fingerprint"`
	Tags        []Tag     `json:"tags"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// Definitions returns the definition tags of the record.
func (r *FileRecord) Definitions() []Tag {
	var defs []Tag
	for _, t := range r.Tags {
		if t.Kind == Definition {
			defs = append(defs, t)
		}
	}
	return defs
}

// Edge is a collapsed dependency edge: From references symbols defined in To.
type Edge struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Weight  float64  `json:"weight"`
	Refs    int      `json:"refs"`
	Symbols []string `json:"symbols"`
}

// SymbolScore is the importance of one definition tag.
type SymbolScore struct {
	Tag   Tag     `json:"tag"`
	Score float64 `json:"score"`
}

// Key identifies a definition independent of its score.
func (s SymbolScore) Key() SymbolKey {
	return SymbolKey{File: s.Tag.File, Line: s.Tag.Line, Name: s.Tag.Name}
}

// SortSymbols orders symbols by score descending with a stable
// path/line/name tie break.
func SortSymbols(s []SymbolScore) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Tag.File != b.Tag.File {
			return a.Tag.File < b.Tag.File
		}
		if a.Tag.Line != b.Tag.Line {
			return a.Tag.Line < b.Tag.Line
		}
		return a.Tag.Name < b.Tag.Name
	})
}

// SymbolKey identifies a definition tag by location and name.
type SymbolKey struct {
	File string
	Line int
	Name string
}

// IndexState is the persisted unit of an index.
type IndexState struct {
	Root         string             `json:"root"`
	TotalFiles   int                `json:"total_files"`
	TotalSymbols int                `json:"total_symbols"`
	IndexedAt    time.Time          `json:"indexed_at"`
	Files        []FileRecord       `json:"files"`
	Edges        []Edge             `json:"edges"`
	Scores       map[string]float64 `json:"scores"`
	Unsupported  int                `json:"unsupported"`
	Stale        bool               `json:"stale"`
	Partial      bool               `json:"partial"`
	// Ignore holds the extra patterns the last full build was given;
	// updates keep applying them.
	Ignore []string `json:"ignore,omitempty"`
}

// CountSymbols returns the number of definition tags across files.
func CountSymbols(files []FileRecord) int {
	n := 0
	for i := range files {
		for j := range files[i].Tags {
			if files[i].Tags[j].Kind == Definition {
				n++
			}
		}
	}
	return n
}
