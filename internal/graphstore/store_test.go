package graphstore

import (
	"sort"
	"testing"

	"breachmap/internal/domain"
)

func mustStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestUpsertNodeClampsPrivilege(t *testing.T) {
	s := mustStore(t)
	if err := s.UpsertNode(domain.Node{ID: "a", PrivilegeLevel: 500}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	n, ok := s.GetNode("a")
	if !ok {
		t.Fatalf("expected node a to exist")
	}
	if n.PrivilegeLevel != domain.PrivilegeMax {
		t.Errorf("expected clamped privilege %d, got %d", domain.PrivilegeMax, n.PrivilegeLevel)
	}
}

func TestUpsertEdgeRequiresExistingNodes(t *testing.T) {
	s := mustStore(t)
	if err := s.UpsertNode(domain.Node{ID: "a"}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if err := s.UpsertEdge("a", "missing", domain.EdgeMemberOf, nil); err == nil {
		t.Fatal("expected error for edge to nonexistent node")
	}
}

func TestNeighborsDeterministicOrder(t *testing.T) {
	s := mustStore(t)
	for _, id := range []string{"a", "z", "m", "b"} {
		if err := s.UpsertNode(domain.Node{ID: id}); err != nil {
			t.Fatalf("UpsertNode: %v", err)
		}
	}
	for _, dst := range []string{"z", "m", "b"} {
		if err := s.UpsertEdge("a", dst, domain.EdgeMemberOf, nil); err != nil {
			t.Fatalf("UpsertEdge: %v", err)
		}
	}

	neighbors, err := s.Neighbors("a", domain.Outgoing)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	got := make([]string, len(neighbors))
	for i, n := range neighbors {
		got[i] = n.Other.ID
	}
	want := []string{"b", "m", "z"}
	if !sort.StringsAreSorted(got) {
		t.Errorf("neighbors not sorted: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("neighbor[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestReachableBoundedByDepth(t *testing.T) {
	s := mustStore(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := s.UpsertNode(domain.Node{ID: id}); err != nil {
			t.Fatalf("UpsertNode: %v", err)
		}
	}
	if err := s.UpsertEdge("a", "b", domain.EdgeCanAssume, nil); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	if err := s.UpsertEdge("b", "c", domain.EdgeCanAssume, nil); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	if err := s.UpsertEdge("c", "d", domain.EdgeCanAssume, nil); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}

	reachable, err := s.Reachable("a", 2)
	if err != nil {
		t.Fatalf("Reachable: %v", err)
	}
	if _, ok := reachable["c"]; !ok {
		t.Errorf("expected c reachable within depth 2")
	}
	if _, ok := reachable["d"]; ok {
		t.Errorf("did not expect d reachable within depth 2")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := mustStore(t)
	if err := s.UpsertNode(domain.Node{ID: "a", Kind: domain.NodeUser, PrivilegeLevel: 10}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if err := s.UpsertNode(domain.Node{ID: "b", Kind: domain.NodeRole, PrivilegeLevel: 90}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if err := s.UpsertEdge("a", "b", domain.EdgeCanAssume, map[string]string{"x": "y"}); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}

	snap := s.Snapshot()

	s2 := mustStore(t)
	if err := s2.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if s2.NodeCount() != s.NodeCount() || s2.EdgeCount() != s.EdgeCount() {
		t.Fatalf("restored store size mismatch: nodes %d/%d edges %d/%d",
			s2.NodeCount(), s.NodeCount(), s2.EdgeCount(), s.EdgeCount())
	}
	n, ok := s2.GetNode("a")
	if !ok || n.PrivilegeLevel != 10 {
		t.Errorf("restored node a mismatch: %+v", n)
	}
}

func TestReplaceAllDropsDanglingEdges(t *testing.T) {
	s := mustStore(t)
	nodes := []domain.Node{{ID: "a"}, {ID: "b"}}
	edges := []domain.Edge{
		{Source: "a", Target: "b", Kind: domain.EdgeMemberOf},
		{Source: "a", Target: "ghost", Kind: domain.EdgeMemberOf},
	}
	if err := s.ReplaceAll(nodes, edges); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	if s.EdgeCount() != 1 {
		t.Errorf("expected dangling edge dropped, got %d edges", s.EdgeCount())
	}
}
