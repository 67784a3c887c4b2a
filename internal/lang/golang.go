package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

func init() {
	register(&Language{
		Name:       "go",
		Extensions: []string{".go"},
		QueryFile:  "go.scm",
		load:       golang.GetLanguage,
		FindScope:  goFindReceiverType,
	})
}

// goFindReceiverType extracts the receiver type name from a method_declaration node.
// Navigates: method_declaration → receiver parameter_list → parameter_declaration → type.
func goFindReceiverType(node *sitter.Node, source []byte) string {
	if node.Type() != "method_declaration" {
		return ""
	}
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	for i := 0; i < int(recv.NamedChildCount()); i++ {
		param := recv.NamedChild(i)
		if param.Type() == "parameter_declaration" {
			return goExtractTypeName(param.ChildByFieldName("type"), source)
		}
	}
	return ""
}

// goExtractTypeName unwraps pointer and generic receivers down to the
// bare type identifier.
func goExtractTypeName(typ *sitter.Node, source []byte) string {
	for typ != nil {
		switch typ.Type() {
		case "type_identifier":
			return NodeText(typ, source)
		case "pointer_type":
			typ = typ.NamedChild(0)
		case "generic_type":
			typ = typ.ChildByFieldName("type")
		default:
			return ""
		}
	}
	return ""
}
