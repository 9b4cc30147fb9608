package detect

import (
	"context"
	"testing"

	"breachmap/internal/config"
	"breachmap/internal/domain"
	"breachmap/internal/graphstore"
)

func mustGraph(t *testing.T) *graphstore.Store {
	t.Helper()
	s, err := graphstore.New("")
	if err != nil {
		t.Fatalf("graphstore.New: %v", err)
	}
	return s
}

func node(id string, kind domain.NodeKind, priv int) domain.Node {
	return domain.Node{ID: id, Kind: kind, DisplayName: id, PrivilegeLevel: priv}
}

// internAssumesAdmin builds the canonical escalation chain from the
// end-to-end scenarios: a low-privilege user who can assume a
// high-privilege role, with the role's trust policy satisfied.
func internAssumesAdmin(t *testing.T) *graphstore.Store {
	t.Helper()
	g := mustGraph(t)
	must(t, g.UpsertNode(node("user:intern", domain.NodeUser, 10)))
	must(t, g.UpsertNode(node("role:admin", domain.NodeRole, 90)))
	must(t, g.UpsertEdge("role:admin", "user:intern", domain.EdgeTrusts, nil))
	must(t, g.UpsertEdge("user:intern", "role:admin", domain.EdgeCanAssume, nil))
	return g
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
}

func TestScanFindsInternEscalation(t *testing.T) {
	g := internAssumesAdmin(t)
	e, err := New(g, defaultTunables(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alerts, err := e.Scan(context.Background(), "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d: %+v", len(alerts), alerts)
	}
	a := alerts[0]
	if a.SourceNode != "user:intern" || a.TargetNode != "role:admin" {
		t.Errorf("unexpected source/target: %+v", a)
	}
	if a.PrivilegeDelta != 80 {
		t.Errorf("expected delta 80, got %d", a.PrivilegeDelta)
	}
	if a.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95 (satisfied trust), got %f", a.Confidence)
	}
}

// TestScanFindsPolicyEditEscalation drives the policy-edit chain: a user
// who can push policy versions onto a policy that an admin role is
// governed by. The has_policy edge points role -> policy, so the walk
// must step from the policy to its attachee to reach the target.
func TestScanFindsPolicyEditEscalation(t *testing.T) {
	g := mustGraph(t)
	must(t, g.UpsertNode(node("user:data_lead", domain.NodeUser, 50)))
	must(t, g.UpsertNode(node("policy:ds_custom", domain.NodePolicy, 50)))
	must(t, g.UpsertNode(node("role:analytics_admin", domain.NodeRole, 95)))
	must(t, g.UpsertEdge("user:data_lead", "policy:ds_custom", domain.EdgeAllowsAction, map[string]string{"action": domain.ActionCreatePolicyVersion}))
	must(t, g.UpsertEdge("user:data_lead", "policy:ds_custom", domain.EdgeAllowsAction, map[string]string{"action": domain.ActionSetDefaultPolicyVersion}))
	must(t, g.UpsertEdge("role:analytics_admin", "policy:ds_custom", domain.EdgeHasPolicy, nil))
	for _, res := range []string{"resource:warehouse", "resource:feature_store", "resource:notebooks"} {
		must(t, g.UpsertNode(node(res, domain.NodeResource, 0)))
		must(t, g.UpsertEdge("role:analytics_admin", res, domain.EdgeOwns, nil))
	}

	e, err := New(g, defaultTunables(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Scan(context.Background(), "user:data_lead"); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	alerts := e.List()
	if len(alerts) != 1 {
		t.Fatalf("expected the two parallel grants to dedup to 1 alert, got %d: %+v", len(alerts), alerts)
	}
	a := alerts[0]
	if a.TargetNode != "role:analytics_admin" {
		t.Errorf("expected target role:analytics_admin, got %s", a.TargetNode)
	}
	if a.Path.Len() != 3 {
		t.Errorf("expected path length 3, got %d: %v", a.Path.Len(), a.Path.Nodes)
	}
	if a.PrivilegeDelta != 45 {
		t.Errorf("expected delta 45, got %d", a.PrivilegeDelta)
	}
	if a.Severity != domain.SeverityHigh {
		t.Errorf("expected high severity, got %s (confidence=%f blast=%d)", a.Severity, a.Confidence, a.BlastRadius)
	}
}

func TestScanBelowThresholdDeltaEmitsNoAlert(t *testing.T) {
	g := mustGraph(t)
	must(t, g.UpsertNode(node("user:a", domain.NodeUser, 60)))
	must(t, g.UpsertNode(node("role:b", domain.NodeRole, 70)))
	must(t, g.UpsertEdge("user:a", "role:b", domain.EdgeCanAssume, nil))

	tunables := defaultTunables()
	e, err := New(g, tunables, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alerts, err := e.Scan(context.Background(), "user:a")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts for delta below threshold, got %+v", alerts)
	}
}

func TestAlertIDIsDeterministic(t *testing.T) {
	g := internAssumesAdmin(t)
	e, err := New(g, defaultTunables(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := e.Scan(context.Background(), "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	second, err := e.Scan(context.Background(), "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected exactly one alert per scan, got %d and %d", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Errorf("alert id not stable across reruns: %s vs %s", first[0].ID, second[0].ID)
	}
}

func TestRescanReplacesAlertOfSameID(t *testing.T) {
	g := internAssumesAdmin(t)
	e, err := New(g, defaultTunables(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := e.Scan(context.Background(), ""); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if _, err := e.Scan(context.Background(), ""); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(e.List()) != 1 {
		t.Fatalf("expected rescans to replace, not duplicate: %d alerts retained", len(e.List()))
	}
}

func TestAutoResponseEligibilityExcludesCritical(t *testing.T) {
	g := mustGraph(t)
	// A high-confidence chain with a large blast radius at the target
	// scores into the critical band, which the eligibility gate excludes
	// regardless of confidence or blast radius.
	must(t, g.UpsertNode(node("user:x", domain.NodeUser, 5)))
	must(t, g.UpsertNode(node("role:target", domain.NodeRole, 95)))
	must(t, g.UpsertEdge("role:target", "user:x", domain.EdgeTrusts, nil))
	must(t, g.UpsertEdge("user:x", "role:target", domain.EdgeCanAssume, nil))
	for i := 0; i < 60; i++ {
		id := "res:" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		must(t, g.UpsertNode(node(id, domain.NodeResource, 0)))
		must(t, g.UpsertEdge("role:target", id, domain.EdgeOwns, nil))
	}

	e, err := New(g, defaultTunables(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	alerts, err := e.Scan(context.Background(), "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Severity != domain.SeverityCritical {
		t.Fatalf("expected critical severity for this setup, got %s (score inputs: confidence=%f blast=%d)", a.Severity, a.Confidence, a.BlastRadius)
	}
	if a.AutoResponseEligible {
		t.Errorf("critical alerts must never be auto-eligible, got AutoResponseEligible=true")
	}
}

func TestRecommendedActionsCappedAtMax(t *testing.T) {
	g := internAssumesAdmin(t)
	tunables := defaultTunables()
	tunables.MaxRecommendations = 1
	e, err := New(g, tunables, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alerts, err := e.Scan(context.Background(), "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if len(alerts[0].RecommendedActions) > 1 {
		t.Errorf("expected recommendations capped at 1, got %v", alerts[0].RecommendedActions)
	}
}

func defaultTunables() config.Tunables {
	return config.Tunables{
		MinPrivilegeDelta:      config.DefaultMinPrivilegeDelta,
		MaxPathDepth:           config.DefaultMaxPathDepth,
		LowPrivilegeThreshold:  config.DefaultLowPrivilegeThreshold,
		HighPrivilegeThreshold: config.DefaultHighPrivilegeThreshold,
		MaxRecommendations:     config.DefaultMaxRecommendations,
		BlastRadiusCap:         config.DefaultBlastRadiusCap,
		ReachableMaxDepth:      config.DefaultReachableMaxDepth,
		AutoEligibleConfidence: config.DefaultAutoEligibleConfidence,
		AutoEligibleBlastCap:   config.DefaultAutoEligibleBlastCap,
	}
}
