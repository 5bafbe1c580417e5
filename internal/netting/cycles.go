package netting

import "context"

// DefaultMaxDepth bounds how many edges a search follows from its start node.
const DefaultMaxDepth = 4

// minLoopSize is the smallest cycle worth netting; two-party cycles are plain
// bilateral offsets.
const minLoopSize = 3

// FindCycles enumerates simple cycles of at least three companies using only
// positive edges. A cycle of k companies is found only when maxDepth >= k, so
// a maxDepth below three finds nothing.
//
// Once a start node yields cycles, every company in them is marked visited
// and skipped as a later start node. This drops rotations of the same cycle
// cheaply, at the cost of occasionally missing a distinct cycle that shares
// a company with one already found.
//
// ctx is checked between start nodes; on cancellation the cycles found so far
// are returned with ctx.Err().
func FindCycles(ctx context.Context, g *Graph, maxDepth int) ([][]string, error) {
	var cycles [][]string
	visited := make(map[string]bool)

	for _, start := range g.nodes {
		if err := ctx.Err(); err != nil {
			return cycles, err
		}
		if visited[start] {
			continue
		}

		s := &search{
			graph:  g,
			start:  start,
			path:   []string{start},
			inPath: map[string]bool{start: true},
		}
		s.walk(start, maxDepth)

		for _, c := range s.found {
			for _, id := range c {
				visited[id] = true
			}
		}
		cycles = append(cycles, s.found...)
	}

	return cycles, nil
}

// search holds the backtracking state for one start node.
type search struct {
	graph  *Graph
	start  string
	path   []string
	inPath map[string]bool
	found  [][]string
}

func (s *search) walk(current string, remaining int) {
	if remaining <= 0 {
		return
	}

	a, ok := s.graph.adj[current]
	if !ok {
		return
	}

	for _, next := range a.order {
		if !a.weights[next].IsPositive() {
			continue
		}

		if next == s.start {
			if len(s.path) >= minLoopSize {
				cycle := make([]string, len(s.path))
				copy(cycle, s.path)
				s.found = append(s.found, cycle)
			}
			continue
		}
		if s.inPath[next] {
			continue
		}

		s.path = append(s.path, next)
		s.inPath[next] = true
		s.walk(next, remaining-1)
		s.path = s.path[:len(s.path)-1]
		delete(s.inPath, next)
	}
}
