package render

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codeindex/internal/model"
)

func sym(file, name string, line int, score float64) model.SymbolScore {
	return model.SymbolScore{
		Tag: model.Tag{
			File: file, Line: line, Column: 1, Name: name,
			Kind: model.Definition, NodeType: model.Function,
			Signature: fmt.Sprintf("def %s(x)", name),
		},
		Score: score,
	}
}

func corpus() []model.SymbolScore {
	var out []model.SymbolScore
	for f := 0; f < 12; f++ {
		for s := 0; s < 6; s++ {
			file := fmt.Sprintf("pkg/mod%02d.py", f)
			score := float64((f*7+s*13)%31+1) / 100
			out = append(out, sym(file, fmt.Sprintf("fn_%d_%d", f, s), 1+s*10, score))
		}
	}
	return out
}

func keySet(keys []model.SymbolKey) map[model.SymbolKey]struct{} {
	m := make(map[model.SymbolKey]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

func TestApproxTokens(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, ApproxTokens(""))
	assert.Equal(t, 1, ApproxTokens("abc"))
	assert.Equal(t, 1, ApproxTokens("abcd"))
	assert.Equal(t, 2, ApproxTokens("abcde"))
	assert.Equal(t, 1, ApproxTokens("日本語"))
}

func TestZeroBudgetIsTooSmall(t *testing.T) {
	t.Parallel()
	res := Render(corpus(), Options{Budget: 0})
	assert.Equal(t, StatusBudgetTooSmall, res.Status)
	assert.Empty(t, res.Text)
	assert.Greater(t, res.MinBudget, 0)
	assert.ErrorIs(t, res.Err(), model.ErrBudgetTooSmall)
}

func TestBudgetBelowTopSymbol(t *testing.T) {
	t.Parallel()
	syms := corpus()
	probe := Render(syms, Options{Budget: 1 << 20})
	require.Equal(t, StatusOK, probe.Status)

	min := Render(syms, Options{Budget: 1}).MinBudget
	res := Render(syms, Options{Budget: min - 1})
	assert.Equal(t, StatusBudgetTooSmall, res.Status)

	res = Render(syms, Options{Budget: min})
	assert.Equal(t, StatusOK, res.Status)
	assert.Len(t, res.Symbols, 1)
	assert.NoError(t, res.Err())
}

func TestEmptyInput(t *testing.T) {
	t.Parallel()
	res := Render(nil, Options{Budget: 100})
	assert.Equal(t, StatusEmpty, res.Status)
	assert.Empty(t, res.Text)
}

func TestLargeBudgetIncludesEverything(t *testing.T) {
	t.Parallel()
	syms := corpus()
	res := Render(syms, Options{Budget: 1 << 20})
	assert.Equal(t, StatusOK, res.Status)
	assert.Len(t, res.Symbols, len(syms))
	assert.Len(t, res.Files, 12)
	assert.Equal(t, 2, res.Iterations)
}

func TestNeverExceedsBudgetAndMonotonic(t *testing.T) {
	t.Parallel()
	syms := corpus()
	for _, format := range []Format{FormatTree, FormatTOON} {
		var prev map[model.SymbolKey]struct{}
		for budget := 20; budget <= 1200; budget += 35 {
			res := Render(syms, Options{Budget: budget, Format: format})
			if res.Status == StatusBudgetTooSmall {
				continue
			}
			require.Equal(t, StatusOK, res.Status)
			assert.LessOrEqual(t, res.Tokens, budget, "format %s budget %d", format, budget)
			assert.Equal(t, ApproxTokens(res.Text), res.Tokens)

			cur := keySet(res.Symbols)
			for k := range prev {
				assert.Contains(t, cur, k, "format %s budget %d dropped %v", format, budget, k)
			}
			prev = cur
		}
	}
}

func TestTreeLayout(t *testing.T) {
	t.Parallel()
	syms := []model.SymbolScore{
		sym("b.py", "beta", 9, 0.5),
		sym("a.py", "zeta", 20, 0.4),
		sym("a.py", "alpha", 3, 0.3),
		{Tag: model.Tag{File: "a.py", Line: 7, Name: "Thing", Kind: model.Definition, NodeType: model.Class}, Score: 0.2},
	}
	res := Render(syms, Options{Budget: 1000})
	want := "a.py:\n" +
		"  3: def alpha(x)\n" +
		"  7: Thing\n" +
		"  20: def zeta(x)\n" +
		"b.py:\n" +
		"  9: def beta(x)\n"
	assert.Equal(t, want, res.Text)
	assert.Equal(t, []string{"a.py", "b.py"}, res.Files)
	assert.Equal(t, "beta", res.Symbols[0].Name)
}

func TestTextIsWholeSections(t *testing.T) {
	t.Parallel()
	header := regexp.MustCompile(`^\S.*:$`)
	entry := regexp.MustCompile(`^  \d+: .+$`)
	for budget := 10; budget < 400; budget += 17 {
		res := Render(corpus(), Options{Budget: budget})
		if res.Status != StatusOK {
			continue
		}
		lines := strings.Split(strings.TrimSuffix(res.Text, "\n"), "\n")
		require.True(t, header.MatchString(lines[0]), lines[0])
		for _, l := range lines[1:] {
			assert.True(t, header.MatchString(l) || entry.MatchString(l), "malformed line %q", l)
		}
		assert.True(t, entry.MatchString(lines[len(lines)-1]), "section without entries")
	}
}

func TestDeterministic(t *testing.T) {
	t.Parallel()
	a := Render(corpus(), Options{Budget: 300})
	for i := 0; i < 5; i++ {
		syms := corpus()
		// Input order must not matter.
		for l, r := 0, len(syms)-1; l < r; l, r = l+1, r-1 {
			syms[l], syms[r] = syms[r], syms[l]
		}
		b := Render(syms, Options{Budget: 300})
		assert.Equal(t, a.Text, b.Text)
		assert.Equal(t, a.Symbols, b.Symbols)
	}
}

func TestExactParityStopsEarly(t *testing.T) {
	t.Parallel()
	syms := corpus()
	// One token per symbol line.
	lines := func(s string) int { return strings.Count(s, "\n  ") }
	res := Render(syms, Options{Budget: 36, Counter: lines})
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 36, res.Tokens)
	assert.Len(t, res.Symbols, 36)
	// 1 and n, then a single bisection lands on 36.
	assert.Equal(t, 3, res.Iterations)
}

func TestMaxIterationsBoundsSearch(t *testing.T) {
	t.Parallel()
	syms := corpus()
	res := Render(syms, Options{Budget: 500, MaxIterations: 2})
	require.Equal(t, StatusOK, res.Status)
	assert.LessOrEqual(t, res.Iterations, 4)
	assert.LessOrEqual(t, res.Tokens, 500)
}

func TestTOONFormat(t *testing.T) {
	t.Parallel()
	syms := []model.SymbolScore{sym("a.py", "foo", 1, 0.6), sym("b.py", "bar", 2, 0.4)}
	res := Render(syms, Options{
		Budget: 1000,
		Format: FormatTOON,
		Files: map[string]FileMeta{
			"a.py": {Language: "python", Score: 0.6},
			"b.py": {Language: "python", Score: 0.4},
		},
		Edges: []model.Edge{
			{From: "b.py", To: "a.py", Weight: 1, Refs: 1, Symbols: []string{"foo"}},
			{From: "c.py", To: "a.py", Weight: 1, Refs: 1, Symbols: []string{"foo"}},
		},
	})
	require.Equal(t, StatusOK, res.Status)
	assert.Contains(t, res.Text, "files[2]{path,language,score}:\n  a.py,python,0.6000\n  b.py,python,0.4000")
	assert.Contains(t, res.Text, "dependencies[1]{source,target,weight,symbols}:\n  b.py,a.py,1,foo")
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTree, f)
	f, err = ParseFormat("toon")
	require.NoError(t, err)
	assert.Equal(t, FormatTOON, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
