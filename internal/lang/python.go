package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

func init() {
	register(&Language{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		QueryFile:  "python.scm",
		load:       python.GetLanguage,
		FindScope:  pythonFindMethodClass,
	})
}

func pythonFindMethodClass(funcNode *sitter.Node, source []byte) string {
	if funcNode.Type() != "function_definition" {
		return ""
	}
	classNode := pythonFindEnclosingClass(funcNode)
	if classNode == nil {
		return ""
	}
	return fieldText(classNode, "name", source)
}

func pythonFindEnclosingClass(funcNode *sitter.Node) *sitter.Node {
	parent := funcNode.Parent()
	if parent == nil {
		return nil
	}

	// Direct: func -> block -> class_definition
	if parent.Type() == "block" && parent.Parent() != nil && parent.Parent().Type() == "class_definition" {
		return parent.Parent()
	}

	// Decorated: func -> decorated_definition -> block -> class_definition
	if parent.Type() == "decorated_definition" {
		gp := parent.Parent()
		if gp != nil && gp.Type() == "block" && gp.Parent() != nil && gp.Parent().Type() == "class_definition" {
			return gp.Parent()
		}
	}

	return nil
}
