package mock

import (
	"context"
	"testing"

	"breachmap/internal/domain"
)

func TestIngestProducesPlantedEscalationChains(t *testing.T) {
	nodes, edges, err := New().Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(nodes) == 0 || len(edges) == 0 {
		t.Fatal("expected a non-empty dataset")
	}

	byID := make(map[string]domain.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, id := range []string{"user:intern_a", "role:maintenance", "role:prod_admin", "user:data_lead", "policy:ds_custom", "role:analytics_admin"} {
		if _, ok := byID[id]; !ok {
			t.Errorf("expected planted node %q in dataset", id)
		}
	}

	foundPassRole := false
	foundPolicyEdit := false
	for _, e := range edges {
		if e.Source == "role:maintenance" && e.Target == "role:prod_admin" && e.Attrs["action"] == domain.ActionPassRole {
			foundPassRole = true
		}
		if e.Source == "user:data_lead" && e.Target == "policy:ds_custom" && e.Attrs["action"] == domain.ActionCreatePolicyVersion {
			foundPolicyEdit = true
		}
	}
	if !foundPassRole {
		t.Error("expected maintenance -> prod_admin PassRole edge")
	}
	if !foundPolicyEdit {
		t.Error("expected data_lead -> ds_custom CreatePolicyVersion edge")
	}
}

func TestIngestHasNoDanglingEdges(t *testing.T) {
	nodes, edges, err := New().Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	byID := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = true
	}
	for _, e := range edges {
		if !byID[e.Source] {
			t.Errorf("edge references missing source node %q", e.Source)
		}
		if !byID[e.Target] {
			t.Errorf("edge references missing target node %q", e.Target)
		}
	}
}
