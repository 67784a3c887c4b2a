package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

func init() {
	register(&Language{
		Name:       "rust",
		Extensions: []string{".rs"},
		QueryFile:  "rust.scm",
		load:       rust.GetLanguage,
		FindScope:  rustFindImpl,
	})
}

var (
	rustContainers = set("impl_item", "trait_item")
	rustStop       = set("function_item", "mod_item")
)

// rustFindImpl returns the implementing type (or trait) of a function_item
// nested in an impl or trait block.
func rustFindImpl(node *sitter.Node, source []byte) string {
	if node.Type() != "function_item" {
		return ""
	}
	owner := enclosing(node, rustContainers, rustStop)
	if owner == nil {
		return ""
	}
	if owner.Type() == "trait_item" {
		return fieldText(owner, "name", source)
	}
	typ := owner.ChildByFieldName("type")
	if typ == nil {
		return ""
	}
	if typ.Type() == "generic_type" {
		if inner := typ.ChildByFieldName("type"); inner != nil {
			return NodeText(inner, source)
		}
	}
	return NodeText(typ, source)
}
