package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ext  string
		want string
	}{
		{".py", "python"},
		{".go", "go"},
		{".js", "javascript"},
		{".ts", "typescript"},
		{".tsx", "tsx"},
		{".rs", "rust"},
		{".java", "java"},
		{".rb", "ruby"},
		{".c", "c"},
		{".sh", "bash"},
		{".PY", "python"},
		{".png", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ForExtension(tt.ext))
		})
	}
}

func TestForPathUnsupported(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Unsupported, ForPath("docs/logo.png"))
	assert.Equal(t, Unsupported, ForPath("Makefile"))
	assert.Equal(t, "go", ForPath("cmd/main.go"))
}

func TestEveryQueryCompiles(t *testing.T) {
	t.Parallel()

	for _, name := range Names() {
		l := Languages[name]
		if !l.HasPatterns() {
			continue
		}
		t.Run(name, func(t *testing.T) {
			q, err := l.GetTagQuery()
			require.NoError(t, err)
			require.NotNil(t, q)
		})
	}
}

func TestLanguageWithoutPatterns(t *testing.T) {
	t.Parallel()

	sh := Languages["bash"]
	require.NotNil(t, sh)
	assert.False(t, sh.HasPatterns())
	_, err := sh.GetTagQuery()
	assert.Error(t, err)
}

func TestGrammarMemoized(t *testing.T) {
	t.Parallel()

	py := Languages["python"]
	first := py.GetLanguage()
	require.NotNil(t, first)
	assert.Same(t, first, py.GetLanguage())
	assert.NotNil(t, py.NewParser())
}

func TestNamesSorted(t *testing.T) {
	t.Parallel()

	names := Names()
	require.NotEmpty(t, names)
	assert.IsIncreasing(t, names)
	assert.NotContains(t, names, Unsupported)
}

func TestCollapseWhitespace(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a b c", CollapseWhitespace("  a \n\t b   c "))
}
