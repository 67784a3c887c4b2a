package graph

import (
	"math"
	"sort"

	"github.com/phobologic/codeindex/internal/model"
)

// RankOptions configures personalized PageRank.
type RankOptions struct {
	// Damping is the probability of following an edge vs teleporting.
	Damping float64
	// MaxIterations caps the power iterations.
	MaxIterations int
	// Tolerance is the L1 change below which iteration stops.
	Tolerance float64
}

// DefaultRankOptions returns the standard PageRank parameters.
func DefaultRankOptions() RankOptions {
	return RankOptions{
		Damping:       0.85,
		MaxIterations: 100,
		Tolerance:     1e-6,
	}
}

// RankStats describes one PageRank computation.
type RankStats struct {
	Iterations int
	Converged  bool
	Delta      float64
	Seeded     bool // a non-uniform teleport vector was used
	// Err is model.ErrGraphEmpty when the scores are the uniform fallback.
	Err error
}

type inEdge struct {
	src    int
	weight float64
}

// PageRank scores every path. seeds biases the teleport vector toward the
// given files; unknown paths and non-positive weights are ignored, and an
// empty or fully ignored seed map means uniform teleport. Without any
// usable edge every file gets 1/N. Scores sum to 1 and are deterministic
// for fixed inputs.
func PageRank(paths []string, edges []model.Edge, seeds map[string]float64, opts RankOptions) (map[string]float64, RankStats) {
	var stats RankStats
	def := DefaultRankOptions()
	if opts.Damping <= 0 || opts.Damping >= 1 {
		opts.Damping = def.Damping
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}

	nodes := append([]string(nil), paths...)
	sort.Strings(nodes)
	n := len(nodes)
	scores := make(map[string]float64, n)
	if n == 0 {
		stats.Err = model.ErrGraphEmpty
		return scores, stats
	}
	nodeIdx := make(map[string]int, n)
	for i, p := range nodes {
		nodeIdx[p] = i
	}

	in := make([][]inEdge, n)
	outSum := make([]float64, n)
	numEdges := 0
	for _, e := range edges {
		src, ok1 := nodeIdx[e.From]
		dst, ok2 := nodeIdx[e.To]
		if !ok1 || !ok2 || src == dst || !(e.Weight > 0) {
			continue
		}
		in[dst] = append(in[dst], inEdge{src: src, weight: e.Weight})
		outSum[src] += e.Weight
		numEdges++
	}

	uniform := 1.0 / float64(n)
	if numEdges == 0 {
		for _, p := range nodes {
			scores[p] = uniform
		}
		stats.Err = model.ErrGraphEmpty
		stats.Converged = true
		return scores, stats
	}
	for i := range in {
		sort.Slice(in[i], func(a, b int) bool { return in[i][a].src < in[i][b].src })
	}

	teleport := make([]float64, n)
	var seedSum float64
	for p, w := range seeds {
		if i, ok := nodeIdx[p]; ok && w > 0 && !math.IsInf(w, 0) {
			teleport[i] = w
			seedSum += w
		}
	}
	if seedSum > 0 {
		stats.Seeded = true
		for i := range teleport {
			teleport[i] /= seedSum
		}
	} else {
		for i := range teleport {
			teleport[i] = uniform
		}
	}

	d := opts.Damping
	rank := make([]float64, n)
	copy(rank, teleport)
	next := make([]float64, n)

	for iter := 1; iter <= opts.MaxIterations; iter++ {
		// Mass on files without outgoing edges follows the teleport vector.
		var dangling float64
		for i := 0; i < n; i++ {
			if outSum[i] == 0 {
				dangling += rank[i]
			}
		}

		var delta float64
		for i := 0; i < n; i++ {
			sum := 0.0
			for _, e := range in[i] {
				sum += rank[e.src] * e.weight / outSum[e.src]
			}
			next[i] = (1-d)*teleport[i] + d*(sum+dangling*teleport[i])
			delta += math.Abs(next[i] - rank[i])
		}
		rank, next = next, rank

		stats.Iterations = iter
		stats.Delta = delta
		if delta < opts.Tolerance {
			stats.Converged = true
			break
		}
	}

	var total float64
	for _, r := range rank {
		total += r
	}
	for i, p := range nodes {
		scores[p] = rank[i] / total
	}
	return scores, stats
}

// SymbolScores distributes each file's score over its definitions,
// proportionally to 1 + the number of reference tags in the same file that
// use the definition's name. Results are ordered by score descending, then
// path, line and name.
func SymbolScores(records []model.FileRecord, fileScores map[string]float64) []model.SymbolScore {
	var out []model.SymbolScore
	for i := range records {
		defs := records[i].Definitions()
		if len(defs) == 0 {
			continue
		}
		refCount := make(map[string]int)
		for _, t := range records[i].Tags {
			if !t.IsDef() {
				refCount[t.Name]++
			}
		}
		var total float64
		for _, t := range defs {
			total += float64(1 + refCount[t.Name])
		}
		fileScore := fileScores[records[i].Path]
		for _, t := range defs {
			out = append(out, model.SymbolScore{
				Tag:   t,
				Score: fileScore * float64(1+refCount[t.Name]) / total,
			})
		}
	}

	model.SortSymbols(out)
	return out
}
