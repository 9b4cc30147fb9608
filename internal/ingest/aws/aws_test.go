package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"breachmap/internal/domain"
)

// fakeClient is a minimal in-memory stand-in for *iam.Client, wired with
// one escalation chain: user "alice" can assume "maintenance-role" (role
// trusts her directly), and "maintenance-role"'s attached policy grants
// iam:PassRole onto "arn:aws:iam::111111111111:role/prod-admin".
type fakeClient struct {
	trustDoc  string
	policyDoc string
}

func (f *fakeClient) ListUsers(context.Context, *iam.ListUsersInput, ...func(*iam.Options)) (*iam.ListUsersOutput, error) {
	return &iam.ListUsersOutput{Users: []iamtypes.User{
		{UserName: aws.String("alice"), Arn: aws.String("arn:aws:iam::111111111111:user/alice")},
	}}, nil
}

func (f *fakeClient) ListGroups(context.Context, *iam.ListGroupsInput, ...func(*iam.Options)) (*iam.ListGroupsOutput, error) {
	return &iam.ListGroupsOutput{}, nil
}

func (f *fakeClient) ListRoles(context.Context, *iam.ListRolesInput, ...func(*iam.Options)) (*iam.ListRolesOutput, error) {
	return &iam.ListRolesOutput{Roles: []iamtypes.Role{
		{RoleName: aws.String("maintenance-role"), Arn: aws.String("arn:aws:iam::111111111111:role/maintenance-role"), AssumeRolePolicyDocument: aws.String(f.trustDoc)},
	}}, nil
}

func (f *fakeClient) ListPolicies(context.Context, *iam.ListPoliciesInput, ...func(*iam.Options)) (*iam.ListPoliciesOutput, error) {
	return &iam.ListPoliciesOutput{Policies: []iamtypes.Policy{
		{PolicyName: aws.String("maintenance-policy"), Arn: aws.String("arn:aws:iam::111111111111:policy/maintenance-policy"), DefaultVersionId: aws.String("v1")},
	}}, nil
}

func (f *fakeClient) ListGroupsForUser(context.Context, *iam.ListGroupsForUserInput, ...func(*iam.Options)) (*iam.ListGroupsForUserOutput, error) {
	return &iam.ListGroupsForUserOutput{}, nil
}

func (f *fakeClient) ListAttachedUserPolicies(context.Context, *iam.ListAttachedUserPoliciesInput, ...func(*iam.Options)) (*iam.ListAttachedUserPoliciesOutput, error) {
	return &iam.ListAttachedUserPoliciesOutput{}, nil
}

func (f *fakeClient) ListAttachedRolePolicies(context.Context, *iam.ListAttachedRolePoliciesInput, ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	return &iam.ListAttachedRolePoliciesOutput{AttachedPolicies: []iamtypes.AttachedPolicy{
		{PolicyName: aws.String("maintenance-policy"), PolicyArn: aws.String("arn:aws:iam::111111111111:policy/maintenance-policy")},
	}}, nil
}

func (f *fakeClient) ListAttachedGroupPolicies(context.Context, *iam.ListAttachedGroupPoliciesInput, ...func(*iam.Options)) (*iam.ListAttachedGroupPoliciesOutput, error) {
	return &iam.ListAttachedGroupPoliciesOutput{}, nil
}

func (f *fakeClient) GetPolicy(context.Context, *iam.GetPolicyInput, ...func(*iam.Options)) (*iam.GetPolicyOutput, error) {
	return &iam.GetPolicyOutput{Policy: &iamtypes.Policy{PolicyName: aws.String("maintenance-policy"), DefaultVersionId: aws.String("v1")}}, nil
}

func (f *fakeClient) GetPolicyVersion(context.Context, *iam.GetPolicyVersionInput, ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error) {
	return &iam.GetPolicyVersionOutput{PolicyVersion: &iamtypes.PolicyVersion{Document: aws.String(f.policyDoc)}}, nil
}

const trustAlice = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":"arn:aws:iam::111111111111:user/alice"},"Action":"sts:AssumeRole"}]}`

const passRolePolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"iam:PassRole","Resource":"arn:aws:iam::111111111111:role/prod-admin"}]}`

func TestIngestEmitsTrustAndCanAssumeEdges(t *testing.T) {
	client := &fakeClient{trustDoc: trustAlice, policyDoc: passRolePolicy}
	nodes, edges, err := New(client).Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(nodes) == 0 {
		t.Fatal("expected nodes")
	}

	var sawTrusts, sawCanAssume, sawPassRole bool
	for _, e := range edges {
		switch {
		case e.Kind == domain.EdgeTrusts && e.Source == "role:maintenance-role" && e.Target == "user:alice":
			sawTrusts = true
		case e.Kind == domain.EdgeCanAssume && e.Source == "user:alice" && e.Target == "role:maintenance-role":
			sawCanAssume = true
		case e.Kind == domain.EdgeAllowsAction && e.Attrs["action"] == domain.ActionPassRole:
			sawPassRole = true
		}
	}
	if !sawTrusts {
		t.Error("expected role:maintenance-role -trusts-> user:alice edge")
	}
	if !sawCanAssume {
		t.Error("expected user:alice -can_assume-> role:maintenance-role edge")
	}
	if !sawPassRole {
		t.Error("expected an allows_action edge carrying iam:PassRole")
	}

	priv := make(map[string]int, len(nodes))
	for _, n := range nodes {
		priv[n.ID] = n.PrivilegeLevel
	}
	if got := priv["role:maintenance-role"]; got != 75 {
		t.Errorf("expected maintenance-role privilege 75 from the name heuristic, got %d", got)
	}
	if got := priv["role:prod-admin"]; got != 95 {
		t.Errorf("expected synthesized prod-admin grant target privilege 95, got %d", got)
	}
	if got := priv["user:alice"]; got != 10 {
		t.Errorf("expected alice privilege 10 with no attached policies, got %d", got)
	}
}

func TestIngestSkipsPolicyOnFetchFailure(t *testing.T) {
	client := &fakeClient{trustDoc: `{"Version":"2012-10-17","Statement":[]}`, policyDoc: `not json`}
	_, _, err := New(client).Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest should tolerate a single bad policy document, got: %v", err)
	}
}
