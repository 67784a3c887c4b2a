// Package graph builds the file dependency graph and ranks files with
// personalized PageRank.
package graph

import (
	"math"
	"sort"
	"strings"

	"github.com/phobologic/codeindex/internal/model"
)

// Weights tunes how symbol references turn into edge weight.
type Weights struct {
	// FanoutThreshold is the number of referencing files above which a
	// symbol's per-occurrence weight decays.
	FanoutThreshold int
	// AmbiguousFactor scales symbols defined in more than one file; the
	// result is split evenly over the definers.
	AmbiguousFactor float64
	// PrivateFactor scales names starting with an underscore.
	PrivateFactor float64
}

// DefaultWeights returns the weights used when nothing is configured.
func DefaultWeights() Weights {
	return Weights{
		FanoutThreshold: 8,
		AmbiguousFactor: 0.5,
		PrivateFactor:   0.1,
	}
}

// symbol is the arena entry for one interned name.
type symbol struct {
	name     string
	definers []int32 // file indices, ascending
	refFiles int     // distinct non-defining files that reference the name
}

type edgeAcc struct {
	weight  float64
	refs    int
	symbols map[int32]struct{}
}

// BuildGraph creates weighted dependency edges from cross-file symbol
// references. Files and symbols are addressed by integer index, so the
// result does not depend on the order of records. For every reference to a
// name defined in another file, the referencing file gets an edge to each
// definer; self-loops are never produced.
func BuildGraph(records []model.FileRecord, w Weights) []model.Edge {
	files := make([]int, len(records))
	for i := range files {
		files[i] = i
	}
	sort.Slice(files, func(a, b int) bool { return records[files[a]].Path < records[files[b]].Path })

	// Intern symbols and record definers. Iterating files in path order
	// keeps definer lists sorted.
	symIdx := make(map[string]int32)
	var syms []symbol
	intern := func(name string) int32 {
		if id, ok := symIdx[name]; ok {
			return id
		}
		id := int32(len(syms))
		symIdx[name] = id
		syms = append(syms, symbol{name: name})
		return id
	}

	for fi, ri := range files {
		for _, t := range records[ri].Tags {
			if !t.IsDef() {
				continue
			}
			s := &syms[intern(t.Name)]
			if n := len(s.definers); n == 0 || s.definers[n-1] != int32(fi) {
				s.definers = append(s.definers, int32(fi))
			}
		}
	}

	// Count referencing files per defined symbol, excluding its definers.
	lastRef := make([]int32, len(syms))
	for i := range lastRef {
		lastRef[i] = -1
	}
	for fi, ri := range files {
		for _, t := range records[ri].Tags {
			if t.IsDef() {
				continue
			}
			id, ok := symIdx[t.Name]
			if !ok || lastRef[id] == int32(fi) {
				continue
			}
			lastRef[id] = int32(fi)
			if !containsIdx(syms[id].definers, int32(fi)) {
				syms[id].refFiles++
			}
		}
	}

	perRef := make([]float64, len(syms))
	for i := range syms {
		perRef[i] = occurrenceWeight(&syms[i], w)
	}

	edges := make(map[[2]int32]*edgeAcc)
	for fi, ri := range files {
		for _, t := range records[ri].Tags {
			if t.IsDef() {
				continue
			}
			id, ok := symIdx[t.Name]
			if !ok {
				continue
			}
			for _, def := range syms[id].definers {
				if def == int32(fi) {
					continue
				}
				key := [2]int32{int32(fi), def}
				acc := edges[key]
				if acc == nil {
					acc = &edgeAcc{symbols: make(map[int32]struct{})}
					edges[key] = acc
				}
				acc.weight += perRef[id]
				acc.refs++
				acc.symbols[id] = struct{}{}
			}
		}
	}

	keys := make([][2]int32, 0, len(edges))
	for k := range edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a][0] != keys[b][0] {
			return keys[a][0] < keys[b][0]
		}
		return keys[a][1] < keys[b][1]
	})

	out := make([]model.Edge, 0, len(keys))
	for _, k := range keys {
		acc := edges[k]
		names := make([]string, 0, len(acc.symbols))
		for id := range acc.symbols {
			names = append(names, syms[id].name)
		}
		sort.Strings(names)
		out = append(out, model.Edge{
			From:    records[files[k[0]]].Path,
			To:      records[files[k[1]]].Path,
			Weight:  acc.weight,
			Refs:    acc.refs,
			Symbols: names,
		})
	}
	return out
}

// occurrenceWeight is the weight one reference to s adds to each edge
// toward a definer of s.
func occurrenceWeight(s *symbol, w Weights) float64 {
	weight := 1.0
	if n := len(s.definers); n > 1 {
		weight = w.AmbiguousFactor / float64(n)
	}
	if w.FanoutThreshold > 0 && s.refFiles > w.FanoutThreshold {
		weight *= math.Sqrt(float64(w.FanoutThreshold) / float64(s.refFiles))
	}
	if strings.HasPrefix(s.name, "_") {
		weight *= w.PrivateFactor
	}
	return weight
}

func containsIdx(sorted []int32, v int32) bool {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= v })
	return i < len(sorted) && sorted[i] == v
}

// Graph is a read-only adjacency view over a set of edges.
type Graph struct {
	nodes   []string
	nodeIdx map[string]int
	out     [][]int
	in      [][]int
}

// New builds a Graph over paths. Edges that mention unknown paths are
// ignored.
func New(paths []string, edges []model.Edge) *Graph {
	g := &Graph{
		nodes:   append([]string(nil), paths...),
		nodeIdx: make(map[string]int, len(paths)),
	}
	sort.Strings(g.nodes)
	for i, p := range g.nodes {
		g.nodeIdx[p] = i
	}
	g.out = make([][]int, len(g.nodes))
	g.in = make([][]int, len(g.nodes))
	for _, e := range edges {
		src, ok1 := g.nodeIdx[e.From]
		dst, ok2 := g.nodeIdx[e.To]
		if !ok1 || !ok2 || src == dst {
			continue
		}
		g.out[src] = append(g.out[src], dst)
		g.in[dst] = append(g.in[dst], src)
	}
	for i := range g.nodes {
		sort.Ints(g.out[i])
		sort.Ints(g.in[i])
	}
	return g
}

// Dependencies returns the files that path references, sorted.
func (g *Graph) Dependencies(path string) []string {
	i, ok := g.nodeIdx[path]
	if !ok {
		return nil
	}
	return g.names(g.out[i])
}

// Dependents returns the files that reference path, sorted.
func (g *Graph) Dependents(path string) []string {
	i, ok := g.nodeIdx[path]
	if !ok {
		return nil
	}
	return g.names(g.in[i])
}

// NumNodes returns the number of files in the graph.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

func (g *Graph) names(idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		if n := len(out); n > 0 && out[n-1] == g.nodes[i] {
			continue
		}
		out = append(out, g.nodes[i])
	}
	return out
}
