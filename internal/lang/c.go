package lang

import (
	"github.com/smacker/go-tree-sitter/c"
)

func init() {
	register(&Language{
		Name:       "c",
		Extensions: []string{".c", ".h"},
		QueryFile:  "c.scm",
		load:       c.GetLanguage,
	})
}
