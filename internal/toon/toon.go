// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/codeindex/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// File is one row of the files table.
type File struct {
	Path     string
	Language string
	Score    float64
}

// Document is the content of a TOON repo map.
type Document struct {
	Root    string
	Files   []File
	Symbols []model.Tag // definitions, in output order
	Edges   []model.Edge
}

// Encode converts a Document into TOON format.
func Encode(d Document) string {
	var parts []string

	if d.Root != "" {
		parts = append(parts, fmt.Sprintf("root: %s", encodeValue(d.Root)))
	}

	fileRows := make([][]string, 0, len(d.Files))
	for _, f := range d.Files {
		fileRows = append(fileRows, []string{
			f.Path,
			f.Language,
			fmt.Sprintf("%.4f", f.Score),
		})
	}
	parts = append(parts, formatTabular("files", []string{"path", "language", "score"}, fileRows))

	symbolRows := make([][]string, 0, len(d.Symbols))
	for _, t := range d.Symbols {
		symbolRows = append(symbolRows, []string{
			t.File,
			t.QualifiedName(),
			string(t.NodeType),
			strconv.Itoa(t.Line),
			t.Signature,
		})
	}
	parts = append(parts, formatTabular("symbols", []string{"file", "name", "kind", "line", "signature"}, symbolRows))

	if len(d.Edges) > 0 {
		depRows := make([][]string, 0, len(d.Edges))
		for _, e := range d.Edges {
			depRows = append(depRows, []string{
				e.From,
				e.To,
				strconv.FormatFloat(e.Weight, 'f', -1, 64),
				strings.Join(e.Symbols, " "),
			})
		}
		parts = append(parts, formatTabular("dependencies", []string{"source", "target", "weight", "symbols"}, depRows))
	}

	return strings.Join(parts, "\n") + "\n"
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}
	if value != strings.TrimSpace(value) {
		return quote(value)
	}
	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}
	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}
	if looksNumeric.MatchString(value) {
		return value
	}
	if needsQuoting.MatchString(value) || strings.HasPrefix(value, "-") {
		return quote(value)
	}
	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
