// Package graphstore implements the identity graph: an in-memory
// directed multigraph of typed nodes and typed edges, pure data
// structure plus queries, no I/O beyond the optional snapshot mirror.
// Access is single-writer/multi-reader via sync.RWMutex; upserts, ingest
// and restore take the write lock, everything else reads.
package graphstore

import (
	"fmt"
	"sort"
	"sync"

	"breachmap/internal/domain"
	"breachmap/internal/persist"
)

// NeighborEdge pairs an edge with the node on its other end.
type NeighborEdge struct {
	Edge  domain.Edge
	Other domain.Node
}

// Snapshot is the serializable form of the graph, used by Snapshot/Restore
// and by the persistence layer's graph.snapshot file.
type Snapshot struct {
	Nodes []domain.Node `json:"nodes"`
	Edges []domain.Edge `json:"edges"`
}

// Store is the in-memory identity graph.
type Store struct {
	mu       sync.RWMutex
	nodes    map[string]domain.Node
	outEdges map[string][]domain.Edge
	inEdges  map[string][]domain.Edge
	writer   *persist.AtomicWriter
}

// New returns an empty Store. If path is non-empty, the store persists
// its snapshot to that file on every mutation and attempts to load it on
// construction; a missing or unparsable file is not fatal.
func New(path string) (*Store, error) {
	s := &Store{
		nodes:    make(map[string]domain.Node),
		outEdges: make(map[string][]domain.Edge),
		inEdges:  make(map[string][]domain.Edge),
	}

	if path == "" {
		return s, nil
	}

	w, err := persist.NewAtomicWriter(path)
	if err != nil {
		return nil, err
	}
	s.writer = w

	var snap Snapshot
	ok, err := persist.ReadJSON(path, &snap)
	if err != nil {
		// Parse failure: start empty, caller logs persistence_load_failed.
		return s, err
	}
	if ok {
		if err := s.Restore(snap); err != nil {
			return s, err
		}
	}
	return s, nil
}

// UpsertNode inserts or replaces a node by identifier.
func (s *Store) UpsertNode(n domain.Node) error {
	n.Clamp()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
	return s.persistLocked()
}

// UpsertEdge inserts a directed edge. Both endpoints must already exist;
// the graph never holds an edge referencing a missing node.
func (s *Store) UpsertEdge(src, dst string, kind domain.EdgeKind, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[src]; !ok {
		return fmt.Errorf("upsert edge: source node %q does not exist", src)
	}
	if _, ok := s.nodes[dst]; !ok {
		return fmt.Errorf("upsert edge: target node %q does not exist", dst)
	}

	e := domain.Edge{Source: src, Target: dst, Kind: kind, Attrs: attrs}
	s.outEdges[src] = insertSorted(s.outEdges[src], e, true)
	s.inEdges[dst] = insertSorted(s.inEdges[dst], e, false)
	return s.persistLocked()
}

// insertSorted inserts e into a list kept sorted by (kind, other-node-id)
// so traversal order is deterministic across runs.
func insertSorted(edges []domain.Edge, e domain.Edge, byTarget bool) []domain.Edge {
	edges = append(edges, e)
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Kind != edges[j].Kind {
			return edges[i].Kind < edges[j].Kind
		}
		if byTarget {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Source < edges[j].Source
	})
	return edges
}

// GetNode returns the node with the given id, if present.
func (s *Store) GetNode(id string) (domain.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// HasNode reports whether a node with the given id exists.
func (s *Store) HasNode(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// Neighbors returns the (edge, other node) pairs reachable from id in
// the given direction, optionally filtered to the given edge kinds, in
// deterministic sorted order.
func (s *Store) Neighbors(id string, dir domain.Direction, kinds ...domain.EdgeKind) ([]NeighborEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok {
		return nil, fmt.Errorf("neighbors: node %q does not exist", id)
	}

	var edges []domain.Edge
	if dir == domain.Outgoing {
		edges = s.outEdges[id]
	} else {
		edges = s.inEdges[id]
	}

	kindSet := toKindSet(kinds)
	out := make([]NeighborEdge, 0, len(edges))
	for _, e := range edges {
		if kindSet != nil && !kindSet[e.Kind] {
			continue
		}
		otherID := e.Target
		if dir == domain.Incoming {
			otherID = e.Source
		}
		other, ok := s.nodes[otherID]
		if !ok {
			continue
		}
		out = append(out, NeighborEdge{Edge: e, Other: other})
	}
	return out, nil
}

// Reachable returns the set of node identifiers reachable from id via a
// breadth-first traversal bounded by maxDepth, optionally restricted to
// the given outgoing edge kinds. id itself is not included.
func (s *Store) Reachable(id string, maxDepth int, kinds ...domain.EdgeKind) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok {
		return nil, fmt.Errorf("reachable: node %q does not exist", id)
	}

	kindSet := toKindSet(kinds)
	visited := map[string]struct{}{id: {}}
	frontier := []string{id}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for _, e := range s.outEdges[cur] {
				if kindSet != nil && !kindSet[e.Kind] {
					continue
				}
				if _, seen := visited[e.Target]; seen {
					continue
				}
				visited[e.Target] = struct{}{}
				next = append(next, e.Target)
			}
		}
		frontier = next
	}

	delete(visited, id)
	return visited, nil
}

// NodeCount returns the number of nodes in the graph.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, edges := range s.outEdges {
		total += len(edges)
	}
	return total
}

// AllNodes returns every node in the graph, sorted by id, for API
// snapshot endpoints.
func (s *Store) AllNodes() []domain.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllEdges returns every edge in the graph, in deterministic order.
func (s *Store) AllEdges() []domain.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srcIDs := make([]string, 0, len(s.outEdges))
	for id := range s.outEdges {
		srcIDs = append(srcIDs, id)
	}
	sort.Strings(srcIDs)

	out := make([]domain.Edge, 0)
	for _, id := range srcIDs {
		out = append(out, s.outEdges[id]...)
	}
	return out
}

// ReplaceAll atomically replaces the entire graph with the given nodes
// and edges. Ingest is a full replacement: nothing from the previous
// graph survives. Edges referencing unknown nodes are dropped.
func (s *Store) ReplaceAll(nodes []domain.Node, edges []domain.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]domain.Node, len(nodes))
	for _, n := range nodes {
		n.Clamp()
		s.nodes[n.ID] = n
	}

	s.outEdges = make(map[string][]domain.Edge)
	s.inEdges = make(map[string][]domain.Edge)
	for _, e := range edges {
		if _, ok := s.nodes[e.Source]; !ok {
			continue
		}
		if _, ok := s.nodes[e.Target]; !ok {
			continue
		}
		s.outEdges[e.Source] = insertSorted(s.outEdges[e.Source], e, true)
		s.inEdges[e.Target] = insertSorted(s.inEdges[e.Target], e, false)
	}

	return s.persistLocked()
}

func toKindSet(kinds []domain.EdgeKind) map[domain.EdgeKind]bool {
	if len(kinds) == 0 {
		return nil
	}
	set := make(map[domain.EdgeKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// Snapshot returns a serializable copy of the full graph.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{Nodes: s.AllNodes(), Edges: s.AllEdges()}
}

// Restore replaces the graph's contents from a Snapshot.
// Restore(Snapshot()) is the identity.
func (s *Store) Restore(snap Snapshot) error {
	return s.ReplaceAll(snap.Nodes, snap.Edges)
}

func (s *Store) persistLocked() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.WriteJSON(Snapshot{Nodes: mapValues(s.nodes), Edges: flattenEdges(s.outEdges)})
}

func mapValues(m map[string]domain.Node) []domain.Node {
	out := make([]domain.Node, 0, len(m))
	for _, n := range m {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func flattenEdges(m map[string][]domain.Edge) []domain.Edge {
	srcIDs := make([]string, 0, len(m))
	for id := range m {
		srcIDs = append(srcIDs, id)
	}
	sort.Strings(srcIDs)
	out := make([]domain.Edge, 0)
	for _, id := range srcIDs {
		out = append(out, m[id]...)
	}
	return out
}
