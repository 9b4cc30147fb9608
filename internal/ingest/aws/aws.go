// Package aws walks a live AWS account's IAM state via
// aws-sdk-go-v2/service/iam and translates it into graph primitives:
// users/groups/roles/policies become Nodes; group membership, policy
// attachment, trust relationships, and dangerous statement grants
// become Edges.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"breachmap/internal/domain"
	"breachmap/internal/logging"
)

// Client is the subset of *iam.Client methods the ingester calls.
type Client interface {
	ListUsers(ctx context.Context, in *iam.ListUsersInput, opts ...func(*iam.Options)) (*iam.ListUsersOutput, error)
	ListGroups(ctx context.Context, in *iam.ListGroupsInput, opts ...func(*iam.Options)) (*iam.ListGroupsOutput, error)
	ListRoles(ctx context.Context, in *iam.ListRolesInput, opts ...func(*iam.Options)) (*iam.ListRolesOutput, error)
	ListPolicies(ctx context.Context, in *iam.ListPoliciesInput, opts ...func(*iam.Options)) (*iam.ListPoliciesOutput, error)
	ListGroupsForUser(ctx context.Context, in *iam.ListGroupsForUserInput, opts ...func(*iam.Options)) (*iam.ListGroupsForUserOutput, error)
	ListAttachedUserPolicies(ctx context.Context, in *iam.ListAttachedUserPoliciesInput, opts ...func(*iam.Options)) (*iam.ListAttachedUserPoliciesOutput, error)
	ListAttachedRolePolicies(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, opts ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	ListAttachedGroupPolicies(ctx context.Context, in *iam.ListAttachedGroupPoliciesInput, opts ...func(*iam.Options)) (*iam.ListAttachedGroupPoliciesOutput, error)
	GetPolicy(ctx context.Context, in *iam.GetPolicyInput, opts ...func(*iam.Options)) (*iam.GetPolicyOutput, error)
	GetPolicyVersion(ctx context.Context, in *iam.GetPolicyVersionInput, opts ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error)
}

// Ingester walks a live AWS account's IAM state.
type Ingester struct {
	client Client
}

// New returns an Ingester backed by client.
func New(client Client) *Ingester {
	return &Ingester{client: client}
}

// dangerousActions classifies policy statement actions this engine cares
// about; anything else contributes no allows_action edge.
var dangerousActions = map[string]bool{
	strings.ToLower(domain.ActionPassRole):                true,
	strings.ToLower(domain.ActionCreatePolicyVersion):     true,
	strings.ToLower(domain.ActionSetDefaultPolicyVersion): true,
	strings.ToLower(domain.ActionSTSAssumeRole):           true,
	strings.ToLower(domain.ActionEC2RunInstances):         true,
}

func (ing *Ingester) Ingest(ctx context.Context) ([]domain.Node, []domain.Edge, error) {
	var nodes []domain.Node
	var edges []domain.Edge

	users, err := ing.listUsers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: list users: %w", err)
	}
	groups, err := ing.listGroups(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: list groups: %w", err)
	}
	roles, err := ing.listRoles(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: list roles: %w", err)
	}
	policies, err := ing.listPolicies(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: list policies: %w", err)
	}

	nodeIdx := make(map[string]int)
	addNode := func(n domain.Node) {
		nodeIdx[n.ID] = len(nodes)
		nodes = append(nodes, n)
	}

	for _, u := range users {
		addNode(domain.Node{ID: userNodeID(u), Kind: domain.NodeUser, DisplayName: awssdk.ToString(u.UserName), PrivilegeLevel: baseUserPrivilege})
	}
	for _, g := range groups {
		addNode(domain.Node{ID: groupNodeID(g), Kind: domain.NodeGroup, DisplayName: awssdk.ToString(g.GroupName), PrivilegeLevel: domain.PrivilegeMin})
	}
	for _, r := range roles {
		addNode(domain.Node{ID: roleNodeID(r), Kind: domain.NodeRole, DisplayName: awssdk.ToString(r.RoleName), PrivilegeLevel: rolePrivilege(awssdk.ToString(r.RoleName), nil)})
	}
	for _, p := range policies {
		addNode(domain.Node{ID: policyNodeID(p), Kind: domain.NodePolicy, DisplayName: awssdk.ToString(p.PolicyName), PrivilegeLevel: policyPrivilege(awssdk.ToString(p.PolicyName))})
	}

	for _, u := range users {
		memberships, err := ing.client.ListGroupsForUser(ctx, &iam.ListGroupsForUserInput{UserName: u.UserName})
		if err != nil {
			logging.LogWarn("failed to list groups for user", map[string]interface{}{"node_id": userNodeID(u), "error": err.Error()})
			continue
		}
		for _, g := range memberships.Groups {
			edges = append(edges, domain.Edge{Source: userNodeID(u), Target: "group:" + awssdk.ToString(g.GroupName), Kind: domain.EdgeMemberOf})
		}

		attached, err := ing.client.ListAttachedUserPolicies(ctx, &iam.ListAttachedUserPoliciesInput{UserName: u.UserName})
		if err != nil {
			logging.LogWarn("failed to list attached user policies", map[string]interface{}{"node_id": userNodeID(u), "error": err.Error()})
			continue
		}
		for _, p := range attached.AttachedPolicies {
			edges = append(edges, domain.Edge{Source: userNodeID(u), Target: "policy:" + awssdk.ToString(p.PolicyName), Kind: domain.EdgeHasPolicy})
		}
		nodes[nodeIdx[userNodeID(u)]].PrivilegeLevel = userPrivilege(attached.AttachedPolicies)
	}

	for _, g := range groups {
		attached, err := ing.client.ListAttachedGroupPolicies(ctx, &iam.ListAttachedGroupPoliciesInput{GroupName: g.GroupName})
		if err != nil {
			logging.LogWarn("failed to list attached group policies", map[string]interface{}{"node_id": groupNodeID(g), "error": err.Error()})
			continue
		}
		for _, p := range attached.AttachedPolicies {
			edges = append(edges, domain.Edge{Source: groupNodeID(g), Target: "policy:" + awssdk.ToString(p.PolicyName), Kind: domain.EdgeHasPolicy})
		}
	}

	for _, r := range roles {
		attached, err := ing.client.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{RoleName: r.RoleName})
		if err != nil {
			logging.LogWarn("failed to list attached role policies", map[string]interface{}{"node_id": roleNodeID(r), "error": err.Error()})
			continue
		}
		for _, p := range attached.AttachedPolicies {
			edges = append(edges, domain.Edge{Source: roleNodeID(r), Target: "policy:" + awssdk.ToString(p.PolicyName), Kind: domain.EdgeHasPolicy})
		}
		nodes[nodeIdx[roleNodeID(r)]].PrivilegeLevel = rolePrivilege(awssdk.ToString(r.RoleName), attached.AttachedPolicies)

		if r.AssumeRolePolicyDocument != nil {
			doc, err := decodePolicyDocument(awssdk.ToString(r.AssumeRolePolicyDocument))
			if err != nil {
				logging.LogWarn("failed to decode trust policy", map[string]interface{}{"node_id": roleNodeID(r), "error": err.Error()})
			} else {
				for _, principal := range trustedPrincipals(doc) {
					principalID := principalNodeID(principal, users)
					if principalID == "" {
						continue
					}
					edges = append(edges, domain.Edge{Source: roleNodeID(r), Target: principalID, Kind: domain.EdgeTrusts})
					edges = append(edges, domain.Edge{Source: principalID, Target: roleNodeID(r), Kind: domain.EdgeCanAssume})
				}
			}
		}
	}

	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}

	for _, p := range policies {
		doc, err := ing.fetchPolicyDocument(ctx, p)
		if err != nil {
			logging.LogWarn("failed to fetch policy document", map[string]interface{}{"node_id": policyNodeID(p), "error": err.Error()})
			continue
		}
		for _, grant := range dangerousGrants(doc) {
			targetID := grantTargetID(grant.resource)
			if !known[targetID] {
				// Grants often point outside the walked account (another
				// account's role, a wildcard, a service resource); give the
				// edge a node to land on so it survives insertion. A
				// role-shaped target still gets the name-based privilege
				// ranking so it can surface as a candidate target.
				n := domain.Node{ID: targetID, Kind: domain.NodeResource, DisplayName: grant.resource, PrivilegeLevel: domain.PrivilegeMin}
				if name, ok := strings.CutPrefix(targetID, "role:"); ok {
					n.Kind = domain.NodeRole
					n.PrivilegeLevel = rolePrivilege(name, nil)
				}
				nodes = append(nodes, n)
				known[targetID] = true
			}
			edges = append(edges, domain.Edge{Source: policyNodeID(p), Target: targetID, Kind: domain.EdgeAllowsAction, Attrs: map[string]string{"action": grant.action}})
		}
	}

	return nodes, edges, nil
}

// grantTargetID maps a policy statement's Resource to a graph node id:
// role ARNs join the walked account's role nodes, everything else gets
// an opaque resource node.
func grantTargetID(resource string) string {
	if strings.Contains(resource, ":role/") {
		return "role:" + resource[strings.LastIndex(resource, "/")+1:]
	}
	return "resource:" + resource
}

type grant struct {
	action   string
	resource string
}

// dangerousGrants walks a policy document's Allow statements and
// records (action, resource) pairs for the action verbs this engine
// classifies.
func dangerousGrants(doc map[string]interface{}) []grant {
	statements, _ := doc["Statement"].([]interface{})
	var grants []grant
	for _, raw := range statements {
		stmt, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if effect, _ := stmt["Effect"].(string); effect != "Allow" {
			continue
		}
		resources := normalizeToList(stmt["Resource"])
		resource := "*"
		if len(resources) > 0 {
			resource = resources[0]
		}
		for _, action := range normalizeToList(stmt["Action"]) {
			if dangerousActions[strings.ToLower(action)] {
				grants = append(grants, grant{action: canonicalAction(action), resource: resource})
			}
		}
	}
	return grants
}

func canonicalAction(action string) string {
	for _, canon := range []string{
		domain.ActionPassRole, domain.ActionCreatePolicyVersion, domain.ActionSetDefaultPolicyVersion,
		domain.ActionSTSAssumeRole, domain.ActionEC2RunInstances,
	} {
		if strings.EqualFold(action, canon) {
			return canon
		}
	}
	return action
}

// trustedPrincipals extracts every principal a role's assume-role policy
// allows.
func trustedPrincipals(doc map[string]interface{}) []string {
	statements, _ := doc["Statement"].([]interface{})
	var out []string
	for _, raw := range statements {
		stmt, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if effect, _ := stmt["Effect"].(string); effect != "Allow" {
			continue
		}
		switch p := stmt["Principal"].(type) {
		case string:
			out = append(out, p)
		case map[string]interface{}:
			for _, v := range p {
				out = append(out, normalizeToList(v)...)
			}
		}
	}
	return out
}

func principalNodeID(principalARN string, users []iamtypes.User) string {
	for _, u := range users {
		if awssdk.ToString(u.Arn) == principalARN {
			return userNodeID(u)
		}
	}
	if strings.Contains(principalARN, ":role/") {
		name := principalARN[strings.LastIndex(principalARN, "/")+1:]
		return "role:" + name
	}
	return ""
}

func (ing *Ingester) listUsers(ctx context.Context) ([]iamtypes.User, error) {
	out, err := ing.client.ListUsers(ctx, &iam.ListUsersInput{})
	if err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (ing *Ingester) listGroups(ctx context.Context) ([]iamtypes.Group, error) {
	out, err := ing.client.ListGroups(ctx, &iam.ListGroupsInput{})
	if err != nil {
		return nil, err
	}
	return out.Groups, nil
}

func (ing *Ingester) listRoles(ctx context.Context) ([]iamtypes.Role, error) {
	out, err := ing.client.ListRoles(ctx, &iam.ListRolesInput{})
	if err != nil {
		return nil, err
	}
	return out.Roles, nil
}

func (ing *Ingester) listPolicies(ctx context.Context) ([]iamtypes.Policy, error) {
	out, err := ing.client.ListPolicies(ctx, &iam.ListPoliciesInput{Scope: iamtypes.PolicyScopeTypeLocal})
	if err != nil {
		return nil, err
	}
	return out.Policies, nil
}

func (ing *Ingester) fetchPolicyDocument(ctx context.Context, p iamtypes.Policy) (map[string]interface{}, error) {
	policy, err := ing.client.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: p.Arn})
	if err != nil {
		return nil, err
	}
	if policy.Policy == nil || policy.Policy.DefaultVersionId == nil {
		return nil, fmt.Errorf("policy %s has no default version", awssdk.ToString(p.PolicyName))
	}
	version, err := ing.client.GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{PolicyArn: p.Arn, VersionId: policy.Policy.DefaultVersionId})
	if err != nil {
		return nil, err
	}
	if version.PolicyVersion == nil || version.PolicyVersion.Document == nil {
		return nil, fmt.Errorf("policy %s version has no document", awssdk.ToString(p.PolicyName))
	}
	return decodePolicyDocument(awssdk.ToString(version.PolicyVersion.Document))
}

// baseUserPrivilege is the floor for a user with no attached policies.
const baseUserPrivilege = 10

// policyPrivilege ranks a managed policy by its name: the well-known
// AWS-managed tiers anchor the scale, anything custom lands mid-range.
func policyPrivilege(name string) int {
	switch {
	case strings.Contains(name, "AdministratorAccess"):
		return 100
	case strings.Contains(name, "PowerUserAccess"):
		return 80
	case strings.Contains(name, "ReadOnlyAccess"):
		return 20
	case strings.Contains(name, "FullAccess"):
		return 70
	default:
		return 40
	}
}

// userPrivilege ranks a user by the strongest policy attached directly
// to them.
func userPrivilege(attached []iamtypes.AttachedPolicy) int {
	privilege := baseUserPrivilege
	for _, p := range attached {
		name := awssdk.ToString(p.PolicyName)
		switch {
		case strings.Contains(name, "Admin") || strings.Contains(name, "FullAccess"):
			privilege = max(privilege, 90)
		case strings.Contains(name, "PowerUser"):
			privilege = max(privilege, 70)
		case strings.Contains(name, "ReadOnly"):
			privilege = max(privilege, 20)
		default:
			privilege = max(privilege, 40)
		}
	}
	return privilege
}

// rolePrivilege ranks a role by naming convention, then lifts it by the
// strongest attached policy. Pass nil attachments for a name-only rank.
func rolePrivilege(roleName string, attached []iamtypes.AttachedPolicy) int {
	privilege := 20
	lower := strings.ToLower(roleName)
	switch {
	case strings.Contains(lower, "admin") || strings.Contains(lower, "root") || strings.Contains(lower, "super"):
		privilege = 95
	case strings.Contains(lower, "power") || strings.Contains(lower, "engineer") ||
		strings.Contains(lower, "production") || strings.Contains(lower, "maintenance"):
		privilege = 75
	case strings.Contains(lower, "billing") || strings.Contains(lower, "security") || strings.Contains(lower, "auditor"):
		privilege = 65
	case strings.Contains(lower, "readonly") || strings.Contains(lower, "viewer"):
		privilege = 25
	case strings.Contains(lower, "ec2"):
		privilege = 50
	}

	for _, p := range attached {
		name := awssdk.ToString(p.PolicyName)
		switch {
		case strings.Contains(name, "AdministratorAccess"):
			privilege = 100
		case strings.Contains(name, "IAMFullAccess") || strings.Contains(name, "IAMManagement"):
			privilege = max(privilege, 90)
		case strings.Contains(name, "PowerUserAccess"):
			privilege = max(privilege, 85)
		case strings.Contains(name, "FullAccess"):
			privilege = max(privilege, 75)
		}
	}
	return privilege
}

func userNodeID(u iamtypes.User) string   { return "user:" + awssdk.ToString(u.UserName) }
func groupNodeID(g iamtypes.Group) string { return "group:" + awssdk.ToString(g.GroupName) }
func roleNodeID(r iamtypes.Role) string   { return "role:" + awssdk.ToString(r.RoleName) }
func policyNodeID(p iamtypes.Policy) string { return "policy:" + awssdk.ToString(p.PolicyName) }

// decodePolicyDocument parses an IAM policy document, which the API
// returns URL-encoded JSON.
func decodePolicyDocument(raw string) (map[string]interface{}, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(decoded), &doc); err != nil {
		return nil, fmt.Errorf("decode policy document: %w", err)
	}
	return doc, nil
}

// normalizeToList flattens IAM Action/Resource/Principal fields, which
// may be a single string or a list.
func normalizeToList(value interface{}) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
