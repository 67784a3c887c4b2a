package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

func init() {
	register(&Language{
		Name:       "java",
		Extensions: []string{".java"},
		QueryFile:  "java.scm",
		load:       java.GetLanguage,
		FindScope:  javaFindClass,
	})
}

var javaTypes = set("class_declaration", "interface_declaration", "enum_declaration", "record_declaration")

func javaFindClass(node *sitter.Node, source []byte) string {
	switch node.Type() {
	case "method_declaration", "constructor_declaration":
	default:
		return ""
	}
	if cls := enclosing(node, javaTypes, nil); cls != nil {
		return fieldText(cls, "name", source)
	}
	return ""
}
