package game

import "fmt"

// Graph is the gate network of a session. Edges are directed and kept in
// the order the roster lists them.
type Graph struct {
	gates map[string][]string
}

func NewGraph(stations []Station) *Graph {
	g := &Graph{gates: make(map[string][]string, len(stations))}
	for _, st := range stations {
		g.gates[st.Name] = st.Neighbours
	}
	return g
}

// Graph returns the gate network of the session's stations.
func (g *Session) Graph() *Graph {
	return NewGraph(g.Stations)
}

func (g *Graph) Has(name string) bool {
	_, ok := g.gates[name]
	return ok
}

// Neighbors returns the stations reachable in one jump from name.
func (g *Graph) Neighbors(name string) ([]string, error) {
	n, ok := g.gates[name]
	if !ok {
		return nil, fmt.Errorf("%w: station %s not found", ErrNotFound, name)
	}
	out := make([]string, len(n))
	copy(out, n)
	return out, nil
}

// HasGate reports whether a direct gate leads from one station to another.
func (g *Graph) HasGate(from, to string) bool {
	for _, n := range g.gates[from] {
		if n == to {
			return true
		}
	}
	return false
}

// ShortestPath returns the fewest-jump route from one station to another,
// both ends included. Ties go to whichever route the neighbour order reaches
// first.
func (g *Graph) ShortestPath(from, to string) ([]string, error) {
	if !g.Has(from) || !g.Has(to) {
		return nil, fmt.Errorf("%w: station not found", ErrNotFound)
	}
	queue := [][]string{{from}}
	visited := map[string]bool{from: true}
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		current := path[len(path)-1]
		if current == to {
			return path, nil
		}
		for _, n := range g.gates[current] {
			if visited[n] {
				continue
			}
			visited[n] = true
			next := make([]string, len(path)+1)
			copy(next, path)
			next[len(path)] = n
			queue = append(queue, next)
		}
	}
	return nil, fmt.Errorf("%w: no path from %s to %s", ErrNotFound, from, to)
}
