package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"
)

func init() {
	register(&Language{
		Name:       "ruby",
		Extensions: []string{".rb", ".rake"},
		QueryFile:  "ruby.scm",
		load:       ruby.GetLanguage,
		FindScope:  rubyFindMethodClass,
	})
}

var rubyContainers = set("class", "module")

// rubyFindMethodClass walks the parent chain looking for a class or module node.
func rubyFindMethodClass(funcNode *sitter.Node, source []byte) string {
	switch funcNode.Type() {
	case "method", "singleton_method":
	default:
		return ""
	}
	if node := enclosing(funcNode, rubyContainers, nil); node != nil {
		return rubyClassName(node, source)
	}
	return ""
}

// rubyClassName extracts the name from a class or module node.
func rubyClassName(node *sitter.Node, source []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "constant" || child.Type() == "scope_resolution" {
			return NodeText(child, source)
		}
	}
	return ""
}
