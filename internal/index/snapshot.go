package index

import (
	"github.com/phobologic/codeindex/internal/graph"
	"github.com/phobologic/codeindex/internal/model"
)

// Snapshot is an immutable view of a committed index. Callers must not
// modify anything reachable from it.
type Snapshot struct {
	// Generation increases with every committed build or update.
	Generation uint64
	State      *model.IndexState
	// Symbols are the definitions ranked with the unseeded file scores.
	Symbols []model.SymbolScore

	graph  *graph.Graph
	byPath map[string]int
}

func newSnapshot(st *model.IndexState, symbols []model.SymbolScore) *Snapshot {
	s := &Snapshot{
		State:   st,
		Symbols: symbols,
		byPath:  make(map[string]int, len(st.Files)),
	}
	for i := range st.Files {
		s.byPath[st.Files[i].Path] = i
	}
	s.graph = graph.New(s.Paths(), st.Edges)
	return s
}

// Paths returns every indexed path in order.
func (s *Snapshot) Paths() []string {
	out := make([]string, len(s.State.Files))
	for i := range s.State.Files {
		out[i] = s.State.Files[i].Path
	}
	return out
}

// Record returns the FileRecord for path.
func (s *Snapshot) Record(path string) (model.FileRecord, bool) {
	i, ok := s.byPath[path]
	if !ok {
		return model.FileRecord{}, false
	}
	return s.State.Files[i], true
}
