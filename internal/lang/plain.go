package lang

import (
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/yaml"
)

// Languages recognized for classification and counting that carry no
// extraction patterns. Their files are indexed with zero tags.
func init() {
	register(&Language{
		Name:       "bash",
		Extensions: []string{".sh", ".bash"},
		load:       bash.GetLanguage,
	})
	register(&Language{
		Name:       "css",
		Extensions: []string{".css"},
		load:       css.GetLanguage,
	})
	register(&Language{
		Name:       "yaml",
		Extensions: []string{".yaml", ".yml"},
		load:       yaml.GetLanguage,
	})
}
