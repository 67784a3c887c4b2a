package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

func init() {
	register(&Language{
		Name:       "javascript",
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		QueryFile:  "javascript.scm",
		load:       javascript.GetLanguage,
		FindScope:  jsFindClass,
	})
	register(&Language{
		Name:       "typescript",
		Extensions: []string{".ts", ".mts", ".cts"},
		QueryFile:  "typescript.scm",
		load:       typescript.GetLanguage,
		FindScope:  jsFindClass,
	})
	// TSX shares the TypeScript node types, so it shares the query.
	register(&Language{
		Name:       "tsx",
		Extensions: []string{".tsx"},
		QueryFile:  "typescript.scm",
		load:       tsx.GetLanguage,
		FindScope:  jsFindClass,
	})
}

var (
	jsClasses   = set("class_declaration", "abstract_class_declaration", "class")
	jsFunctions = set("function_declaration", "arrow_function", "function")
)

func jsFindClass(node *sitter.Node, source []byte) string {
	if node.Type() != "method_definition" {
		return ""
	}
	if cls := enclosing(node, jsClasses, jsFunctions); cls != nil {
		return fieldText(cls, "name", source)
	}
	return ""
}
