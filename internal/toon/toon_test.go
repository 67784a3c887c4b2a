package toon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codeindex/internal/model"
)

func TestEncodeValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", `""`},
		{"simple", "hello", "hello"},
		{"leading space", " hello", `" hello"`},
		{"trailing space", "hello ", `"hello "`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"true keyword", "true", `"true"`},
		{"True keyword", "True", `"True"`},
		{"null keyword", "null", `"null"`},
		{"integer", "42", "42"},
		{"negative integer", "-1", "-1"},
		{"float", "3.14", "3.14"},
		{"comma", "a,b", `"a,b"`},
		{"colon", "a:b", `"a:b"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"brace", "a{b", `"a{b"`},
		{"dash prefix", "-foo", `"-foo"`},
		{"path", "src/main.py", "src/main.py"},
		{"dotted name", "Foo.__init__", "Foo.__init__"},
		{"signature no special", "def run(self) -> None", "def run(self) -> None"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, encodeValue(tt.in))
		})
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	doc := Document{
		Root: "myrepo",
		Files: []File{
			{Path: "src/main.py", Language: "python", Score: 0.75},
			{Path: "src/util.py", Language: "python", Score: 0.25},
		},
		Symbols: []model.Tag{
			{File: "src/main.py", Name: "main", Kind: model.Definition, NodeType: model.Function, Line: 1, Signature: "def main()"},
			{File: "src/util.py", Name: "helper", Scope: "Util", Kind: model.Definition, NodeType: model.Method, Line: 3, Signature: "def helper(self, x)"},
		},
		Edges: []model.Edge{
			{From: "src/main.py", To: "src/util.py", Weight: 2, Refs: 2, Symbols: []string{"helper"}},
		},
	}

	lines := strings.Split(strings.TrimSuffix(Encode(doc), "\n"), "\n")
	want := []string{
		"root: myrepo",
		"files[2]{path,language,score}:",
		"  src/main.py,python,0.7500",
		"  src/util.py,python,0.2500",
		"symbols[2]{file,name,kind,line,signature}:",
		`  src/main.py,main,function,1,def main()`,
		`  src/util.py,Util.helper,method,3,"def helper(self, x)"`,
		"dependencies[1]{source,target,weight,symbols}:",
		"  src/main.py,src/util.py,2,helper",
	}
	require.Equal(t, want, lines)
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	got := Encode(Document{})
	assert.Contains(t, got, "files[0]{path,language,score}:")
	assert.Contains(t, got, "symbols[0]{file,name,kind,line,signature}:")
	assert.NotContains(t, got, "dependencies")
	assert.NotContains(t, got, "root:")
}
