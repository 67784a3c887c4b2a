package parse

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codeindex/internal/lang"
	"github.com/phobologic/codeindex/internal/model"
)

func setup(t *testing.T, langName string) func(source string) ([]model.Tag, error) {
	t.Helper()
	l := lang.Languages[langName]
	require.NotNil(t, l, "language %q not registered", langName)
	q, err := l.GetTagQuery()
	require.NoError(t, err)
	ext := l.Extensions[0]
	return func(source string) ([]model.Tag, error) {
		p := l.NewParser()
		defer p.Close()
		return ExtractTags(context.Background(), l, p, q, []byte(source), "test"+ext)
	}
}

func mustExtract(t *testing.T, langName, source string) []model.Tag {
	t.Helper()
	tags, err := setup(t, langName)(source)
	require.NoError(t, err)
	return tags
}

func defs(tags []model.Tag) []model.Tag {
	var out []model.Tag
	for _, t := range tags {
		if t.IsDef() {
			out = append(out, t)
		}
	}
	return out
}

func refs(tags []model.Tag) []model.Tag {
	var out []model.Tag
	for _, t := range tags {
		if !t.IsDef() {
			out = append(out, t)
		}
	}
	return out
}

func names(tags []model.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.Name
	}
	return out
}

func TestPythonFunction(t *testing.T) {
	t.Parallel()
	tags := mustExtract(t, "python", "def hello(name: str) -> None:\n    pass\n")

	d := defs(tags)
	require.Len(t, d, 1)
	assert.Equal(t, "hello", d[0].Name)
	assert.Equal(t, model.Function, d[0].NodeType)
	assert.Equal(t, 1, d[0].Line)
	assert.Equal(t, 5, d[0].Column)
	assert.Equal(t, "test.py", d[0].File)
	assert.Equal(t, "def hello(name: str) -> None", d[0].Signature)
}

func TestPythonMethodScope(t *testing.T) {
	t.Parallel()
	source := `class MyClass(Base):
    def my_method(self, x: int) -> str:
        return str(x)
`
	tags := mustExtract(t, "python", source)

	d := defs(tags)
	require.Len(t, d, 2)
	assert.Equal(t, "MyClass", d[0].Name)
	assert.Equal(t, model.Class, d[0].NodeType)
	assert.Equal(t, "class MyClass(Base)", d[0].Signature)

	assert.Equal(t, "my_method", d[1].Name)
	assert.Equal(t, model.Method, d[1].NodeType)
	assert.Equal(t, "MyClass", d[1].Scope)
	assert.Equal(t, "MyClass.my_method", d[1].QualifiedName())

	assert.Contains(t, names(refs(tags)), "Base")
	assert.Contains(t, names(refs(tags)), "str")
}

func TestPythonImportsAndCalls(t *testing.T) {
	t.Parallel()
	source := `import os
from collections import OrderedDict
import numpy as np

LIMIT = 10

def run():
    helper()
    os.getcwd()
`
	tags := mustExtract(t, "python", source)

	var imports, calls []string
	for _, r := range refs(tags) {
		switch r.NodeType {
		case model.Import:
			imports = append(imports, r.Name)
		case model.Call:
			calls = append(calls, r.Name)
		}
	}
	assert.Equal(t, []string{"os", "OrderedDict", "numpy"}, imports)
	assert.Equal(t, []string{"helper", "getcwd"}, calls)

	d := defs(tags)
	require.Len(t, d, 2)
	assert.Equal(t, "LIMIT", d[0].Name)
	assert.Equal(t, model.Constant, d[0].NodeType)
}

func TestGoDefinitions(t *testing.T) {
	t.Parallel()
	source := `package server

const MaxConns = 10

type Server struct {
	Port int
}

func New(port int) *Server {
	return &Server{Port: port}
}

func (s *Server) Handle(name string,
	verbose bool) error {
	return nil
}
`
	tags := mustExtract(t, "go", source)

	d := defs(tags)
	require.Len(t, d, 5)
	assert.Equal(t, []string{"server", "MaxConns", "Server", "New", "Handle"}, names(d))
	assert.Equal(t, model.Module, d[0].NodeType)
	assert.Equal(t, model.Constant, d[1].NodeType)
	assert.Equal(t, model.Type, d[2].NodeType)
	assert.Equal(t, "Server struct", d[2].Signature)
	assert.Equal(t, "func New(port int) *Server", d[3].Signature)

	h := d[4]
	assert.Equal(t, model.Method, h.NodeType)
	assert.Equal(t, "Server", h.Scope)
	assert.Equal(t, "func (s *Server) Handle(name string, verbose bool) error", h.Signature)
}

func TestGoTypeNameIsNotAlsoAReference(t *testing.T) {
	t.Parallel()
	tags := mustExtract(t, "go", "package a\n\ntype Config struct{}\n\nfunc Load() Config { return Config{} }\n")

	var configRefs []model.Tag
	for _, r := range refs(tags) {
		if r.Name == "Config" {
			configRefs = append(configRefs, r)
		}
	}
	require.Len(t, configRefs, 2)
	for _, r := range configRefs {
		assert.Equal(t, 5, r.Line)
	}
}

func TestGoSelectorCallCollapses(t *testing.T) {
	t.Parallel()
	source := `package main

import (
	"fmt"
	"net/http"
)

func main() {
	fmt.Println(http.StatusOK)
}
`
	tags := mustExtract(t, "go", source)

	byName := map[string][]model.Tag{}
	for _, r := range refs(tags) {
		byName[r.Name] = append(byName[r.Name], r)
	}
	require.Len(t, byName["Println"], 1)
	assert.Equal(t, model.Call, byName["Println"][0].NodeType)
	require.Len(t, byName["StatusOK"], 1)
	assert.Equal(t, model.Member, byName["StatusOK"][0].NodeType)

	require.Len(t, byName["fmt"], 1)
	assert.Equal(t, model.Import, byName["fmt"][0].NodeType)
	require.Len(t, byName["http"], 1)
	assert.Equal(t, model.Import, byName["http"][0].NodeType)
}

func TestRubyClassAndMethods(t *testing.T) {
	t.Parallel()
	source := `module Billing
  class Invoice < Record
    def total
      compute
    end

    def self.build
    end
  end
end
`
	tags := mustExtract(t, "ruby", source)

	d := defs(tags)
	assert.Equal(t, []string{"Billing", "Invoice", "total", "build"}, names(d))
	assert.Equal(t, model.Module, d[0].NodeType)
	assert.Equal(t, model.Class, d[1].NodeType)
	assert.Equal(t, "Invoice", d[2].Scope)
	assert.Equal(t, "Invoice", d[3].Scope)
	assert.Contains(t, names(refs(tags)), "Record")
}

func TestJavaScriptClassAndArrow(t *testing.T) {
	t.Parallel()
	source := `import { render } from "./view";

class Widget {
  draw() {
    render(this);
  }
}

const make = (opts) => new Widget(opts);
`
	tags := mustExtract(t, "javascript", source)

	d := defs(tags)
	assert.Equal(t, []string{"Widget", "draw", "make"}, names(d))
	assert.Equal(t, "Widget", d[1].Scope)
	assert.Equal(t, model.Function, d[2].NodeType)

	r := names(refs(tags))
	assert.Contains(t, r, "render")
	assert.Contains(t, r, "Widget")
}

func TestTagsSorted(t *testing.T) {
	t.Parallel()
	tags := mustExtract(t, "go", "package a\n\nfunc B() { A() }\n\nfunc A() {}\n")
	for i := 1; i < len(tags); i++ {
		prev, cur := tags[i-1], tags[i]
		if prev.Line == cur.Line {
			assert.LessOrEqual(t, prev.Column, cur.Column)
		} else {
			assert.Less(t, prev.Line, cur.Line)
		}
	}
}

func TestEmptySource(t *testing.T) {
	t.Parallel()
	tags, err := setup(t, "python")("")
	assert.NoError(t, err)
	assert.Empty(t, tags)
}

func TestSyntaxErrorKeepsRecoveredTags(t *testing.T) {
	t.Parallel()
	tags, err := setup(t, "python")("def ok():\n    pass\n\ndef broken(:\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrParse)
	assert.Contains(t, names(defs(tags)), "ok")
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()
	l := lang.Languages["go"]
	q, err := l.GetTagQuery()
	require.NoError(t, err)
	p := l.NewParser()
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ExtractTags(ctx, l, p, q, []byte("package a\n"), "a.go")
	// Tiny inputs may finish before the parser checks for cancellation.
	if err != nil {
		assert.ErrorIs(t, err, model.ErrParse)
	}
}

func TestLongSignatureTruncated(t *testing.T) {
	t.Parallel()
	long := "def f(" + strings.Repeat("a, ", 80) + "b):\n    pass\n"
	tags := mustExtract(t, "python", long)
	d := defs(tags)
	require.Len(t, d, 1)
	assert.LessOrEqual(t, len([]rune(d[0].Signature)), maxSignature+3)
	assert.True(t, len(d[0].Signature) > 0)
}

