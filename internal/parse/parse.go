// Package parse extracts tags from source files using tree-sitter.
package parse

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codeindex/internal/lang"
	"github.com/phobologic/codeindex/internal/model"
)

const maxSignature = 160

type capture struct {
	Kind     model.TagKind
	NodeType model.NodeType
}

var captureMap = map[string]capture{
	"definition.class":     {model.Definition, model.Class},
	"definition.function":  {model.Definition, model.Function},
	"definition.method":    {model.Definition, model.Method},
	"definition.module":    {model.Definition, model.Module},
	"definition.interface": {model.Definition, model.Interface},
	"definition.type":      {model.Definition, model.Type},
	"definition.constant":  {model.Definition, model.Constant},
	"definition.macro":     {model.Definition, model.Macro},
	"reference.call":       {model.Reference, model.Call},
	"reference.import":     {model.Reference, model.Import},
	"reference.class":      {model.Reference, model.Class},
	"reference.type":       {model.Reference, model.Type},
	"reference.member":     {model.Reference, model.Member},
}

// refPriority decides which pattern wins when several reference patterns
// capture the same identifier (a selector that is also a call, say).
var refPriority = map[model.NodeType]int{
	model.Call:   0,
	model.Import: 1,
	model.Class:  2,
	model.Type:   3,
	model.Member: 4,
}

// ExtractTags parses a source file and returns definition and reference tags.
// The parser must be created for l. filePath is used only for Tag.File and
// should be the repo-relative path.
//
// A tree with syntax errors still yields whatever tags the grammar
// recovered; the returned error then wraps model.ErrParse.
func ExtractTags(ctx context.Context, l *lang.Language, parser *sitter.Parser, query *sitter.Query, source []byte, filePath string) ([]model.Tag, error) {
	if len(source) == 0 {
		return nil, nil
	}

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrParse, err)
	}
	defer tree.Close()

	root := tree.RootNode()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, root)

	type tagKey struct {
		line, col int
		name      string
		kind      model.TagKind
	}
	seen := make(map[tagKey]int)
	var tags []model.Tag

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		var names []*sitter.Node
		var cm capture
		var defNode *sitter.Node

		for _, c := range match.Captures {
			cname := query.CaptureNameForId(c.Index)
			if cname == "name" {
				names = append(names, c.Node)
			} else if m, ok := captureMap[cname]; ok {
				cm = m
				defNode = c.Node
			}
		}
		if defNode == nil || len(names) == 0 {
			continue
		}

		for _, nameNode := range names {
			tag := model.Tag{
				File:     filePath,
				Line:     int(nameNode.StartPoint().Row) + 1,
				Column:   int(nameNode.StartPoint().Column) + 1,
				Name:     lang.NodeText(nameNode, source),
				Kind:     cm.Kind,
				NodeType: cm.NodeType,
			}

			if cm.Kind == model.Definition {
				if l.FindScope != nil {
					if scope := l.FindScope(defNode, source); scope != "" {
						tag.Scope = scope
						tag.NodeType = model.Method
					}
				}
				tag.Signature = signature(defNode, source)
			} else if cm.NodeType == model.Import {
				tag.Name = importName(tag.Name)
			}
			if tag.Name == "" {
				continue
			}

			key := tagKey{tag.Line, tag.Column, tag.Name, tag.Kind}
			if idx, dup := seen[key]; dup {
				if tag.Kind == model.Reference && refPriority[tag.NodeType] < refPriority[tags[idx].NodeType] {
					tags[idx] = tag
				}
				continue
			}
			seen[key] = len(tags)
			tags = append(tags, tag)
		}
	}

	// Some grammars let a reference pattern match the name node of a
	// definition (a Go type_spec name is also a type_identifier).
	filtered := tags[:0]
	for _, t := range tags {
		if t.Kind == model.Reference {
			if _, isDef := seen[tagKey{t.Line, t.Column, t.Name, model.Definition}]; isDef {
				continue
			}
		}
		filtered = append(filtered, t)
	}
	tags = filtered

	sort.Slice(tags, func(i, j int) bool {
		a, b := &tags[i], &tags[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		if a.Kind != b.Kind {
			return a.Kind == model.Definition
		}
		return a.Name < b.Name
	})

	if root.HasError() {
		return tags, fmt.Errorf("%w: syntax errors in %s", model.ErrParse, filePath)
	}
	return tags, nil
}

// signature renders the declaring statement of a definition on one line:
// everything before the body, whitespace collapsed.
func signature(node *sitter.Node, source []byte) string {
	end := node.EndByte()
	body := node.ChildByFieldName("body")
	if body != nil && body.StartByte() > node.StartByte() {
		end = body.StartByte()
	}
	text := string(source[node.StartByte():end])
	if body == nil {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
		}
	}
	text = strings.TrimRight(lang.CollapseWhitespace(text), "{: ")
	if utf8.RuneCountInString(text) > maxSignature {
		runes := []rune(text)
		text = string(runes[:maxSignature]) + "..."
	}
	return text
}

// importName reduces an import path literal to its last segment, which is
// the name other files use to refer to it.
func importName(raw string) string {
	raw = strings.Trim(raw, "\"'`")
	if raw == "" {
		return ""
	}
	return path.Base(raw)
}
