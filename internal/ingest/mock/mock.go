// Package mock synthesizes a plausible multi-tenant AWS-shaped identity
// graph without touching a real account, for USE_MOCK_DATA=true
// operation and for exercising the engine end to end. Two escalation
// chains are deliberately planted: an intern able to pivot through a
// PassRole-capable maintenance role, and a data lead able to edit a
// custom policy attached to an analytics admin role.
package mock

import (
	"context"
	"fmt"

	"breachmap/internal/domain"
)

// departments pairs a mock workforce segment with the group and policy
// that governs it.
var departments = []struct {
	name       string
	groupName  string
	policyName string
	privilege  int
}{
	{"engineering", "Engineering", "PowerUserAccess", 60},
	{"data_science", "DataScience", "AmazonS3FullAccess", 55},
	{"finance", "Finance", "Billing", 45},
	{"hr", "HR", "ReadOnlyAccess", 15},
	{"interns", "Interns", "ReadOnlyAccess", 10},
	{"contractors", "Contractors", "RestrictedContractorPolicy", 20},
}

// usersPerDepartment controls the synthetic workforce size; small enough
// to stay a fast, readable fixture, large enough that a scan walks real
// fan-out.
const usersPerDepartment = 4

// Ingester is the mock Ingester implementation.
type Ingester struct{}

// New returns a mock Ingester.
func New() *Ingester { return &Ingester{} }

// Ingest returns a deterministic synthetic dataset; it never touches a
// network or an AWS account.
func (Ingester) Ingest(_ context.Context) ([]domain.Node, []domain.Edge, error) {
	var nodes []domain.Node
	var edges []domain.Edge

	addNode := func(n domain.Node) { nodes = append(nodes, n) }
	addEdge := func(src, dst string, kind domain.EdgeKind, attrs map[string]string) {
		edges = append(edges, domain.Edge{Source: src, Target: dst, Kind: kind, Attrs: attrs})
	}

	// Departmental groups, policies, and rank-and-file users.
	for _, dept := range departments {
		groupID := "group:" + dept.groupName
		policyID := "policy:" + dept.policyName
		addNode(domain.Node{ID: groupID, Kind: domain.NodeGroup, DisplayName: dept.groupName, PrivilegeLevel: dept.privilege})
		addNode(domain.Node{ID: policyID, Kind: domain.NodePolicy, DisplayName: dept.policyName, PrivilegeLevel: dept.privilege})
		addEdge(groupID, policyID, domain.EdgeHasPolicy, nil)

		for i := 1; i <= usersPerDepartment; i++ {
			userID := fmt.Sprintf("user:%s_%02d", dept.name, i)
			addNode(domain.Node{ID: userID, Kind: domain.NodeUser, DisplayName: userID, PrivilegeLevel: dept.privilege, Attrs: map[string]string{"department": dept.name}})
			addEdge(userID, groupID, domain.EdgeMemberOf, nil)
		}
	}

	// Baseline service roles, unreachable from the escalation fixtures
	// below, for fan-out realism.
	for _, r := range []struct {
		name      string
		policy    string
		privilege int
	}{
		{"AuditorRole", "SecurityAudit", 65},
		{"BillingRole", "Billing", 60},
		{"ReadOnlyRole", "ReadOnlyAccess", 20},
	} {
		roleID := "role:" + r.name
		policyID := "policy:" + r.policy
		addNode(domain.Node{ID: roleID, Kind: domain.NodeRole, DisplayName: r.name, PrivilegeLevel: r.privilege})
		if !hasNode(nodes, policyID) {
			addNode(domain.Node{ID: policyID, Kind: domain.NodePolicy, DisplayName: r.policy, PrivilegeLevel: r.privilege})
		}
		addEdge(roleID, policyID, domain.EdgeHasPolicy, nil)
	}

	// Intern escalation chain:
	// user:intern_a --can_assume--> role:maintenance
	//   --allows_action(iam:PassRole)--> role:prod_admin
	//   --can_assume--> resource:ec2
	addNode(domain.Node{ID: "user:intern_a", Kind: domain.NodeUser, DisplayName: "intern_a", PrivilegeLevel: 10, Attrs: map[string]string{"department": "interns"}})
	addNode(domain.Node{ID: "role:maintenance", Kind: domain.NodeRole, DisplayName: "MaintenanceRole", PrivilegeLevel: 60})
	addNode(domain.Node{ID: "role:prod_admin", Kind: domain.NodeRole, DisplayName: "ProdEC2Admin", PrivilegeLevel: 100})
	addNode(domain.Node{ID: "resource:ec2", Kind: domain.NodeResource, DisplayName: "ec2-fleet", PrivilegeLevel: 0})
	addEdge("role:maintenance", "user:intern_a", domain.EdgeTrusts, nil)
	addEdge("user:intern_a", "role:maintenance", domain.EdgeCanAssume, nil)
	addEdge("role:maintenance", "role:prod_admin", domain.EdgeAllowsAction, map[string]string{"action": domain.ActionPassRole})
	addEdge("role:prod_admin", "resource:ec2", domain.EdgeCanAssume, map[string]string{"principal": "ec2.amazonaws.com"})

	// The production fleet the admin role owns; sizing the blast radius
	// here is what pushes the intern chain into the critical band.
	for _, res := range []string{"resource:prod_db", "resource:prod_s3", "resource:prod_vpc", "resource:billing_export"} {
		addNode(domain.Node{ID: res, Kind: domain.NodeResource, DisplayName: res, PrivilegeLevel: 0})
		addEdge("role:prod_admin", res, domain.EdgeOwns, nil)
	}

	// Policy-edit escalation:
	// user:data_lead --allows_action(iam:CreatePolicyVersion/SetDefaultPolicyVersion)--> policy:ds_custom,
	// which role:analytics_admin is governed by (has_policy).
	addNode(domain.Node{ID: "user:data_lead", Kind: domain.NodeUser, DisplayName: "data_lead", PrivilegeLevel: 50, Attrs: map[string]string{"department": "data_science"}})
	addNode(domain.Node{ID: "policy:ds_custom", Kind: domain.NodePolicy, DisplayName: "DataScienceCustomPolicy", PrivilegeLevel: 50})
	addNode(domain.Node{ID: "role:analytics_admin", Kind: domain.NodeRole, DisplayName: "AnalyticsAdmin", PrivilegeLevel: 95})
	addEdge("user:data_lead", "policy:ds_custom", domain.EdgeAllowsAction, map[string]string{"action": domain.ActionCreatePolicyVersion})
	addEdge("user:data_lead", "policy:ds_custom", domain.EdgeAllowsAction, map[string]string{"action": domain.ActionSetDefaultPolicyVersion})
	addEdge("role:analytics_admin", "policy:ds_custom", domain.EdgeHasPolicy, nil)
	for _, res := range []string{"resource:warehouse", "resource:feature_store", "resource:notebooks"} {
		addNode(domain.Node{ID: res, Kind: domain.NodeResource, DisplayName: res, PrivilegeLevel: 0})
		addEdge("role:analytics_admin", res, domain.EdgeOwns, nil)
	}

	// A vendor role with no edges at all, so no modeled principal can
	// reach it. Unreachable, present for realism.
	addNode(domain.Node{ID: "role:vendor_audit", Kind: domain.NodeRole, DisplayName: "VendorAuditRole", PrivilegeLevel: 60})

	return nodes, edges, nil
}

func hasNode(nodes []domain.Node, id string) bool {
	for _, n := range nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
