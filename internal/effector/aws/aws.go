// Package aws implements effector.Effector against a live AWS account
// using aws-sdk-go-v2/service/iam: one IAM call (or call pair) per
// action kind, with the pre-action state captured into the rollback
// descriptor before anything is mutated.
package aws

import (
	"context"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"breachmap/internal/domain"
	"breachmap/internal/effector"
	"breachmap/internal/logging"
)

// Client is the subset of *iam.Client methods this effector calls,
// narrowed so tests can substitute a fake.
type Client interface {
	DeleteLoginProfile(ctx context.Context, in *iam.DeleteLoginProfileInput, opts ...func(*iam.Options)) (*iam.DeleteLoginProfileOutput, error)
	GetLoginProfile(ctx context.Context, in *iam.GetLoginProfileInput, opts ...func(*iam.Options)) (*iam.GetLoginProfileOutput, error)
	DetachUserPolicy(ctx context.Context, in *iam.DetachUserPolicyInput, opts ...func(*iam.Options)) (*iam.DetachUserPolicyOutput, error)
	AttachUserPolicy(ctx context.Context, in *iam.AttachUserPolicyInput, opts ...func(*iam.Options)) (*iam.AttachUserPolicyOutput, error)
	DetachRolePolicy(ctx context.Context, in *iam.DetachRolePolicyInput, opts ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, opts ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	GetRole(ctx context.Context, in *iam.GetRoleInput, opts ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	UpdateAssumeRolePolicy(ctx context.Context, in *iam.UpdateAssumeRolePolicyInput, opts ...func(*iam.Options)) (*iam.UpdateAssumeRolePolicyOutput, error)
	SetDefaultPolicyVersion(ctx context.Context, in *iam.SetDefaultPolicyVersionInput, opts ...func(*iam.Options)) (*iam.SetDefaultPolicyVersionOutput, error)
	GetPolicy(ctx context.Context, in *iam.GetPolicyInput, opts ...func(*iam.Options)) (*iam.GetPolicyOutput, error)
	ListAccessKeys(ctx context.Context, in *iam.ListAccessKeysInput, opts ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
	UpdateAccessKey(ctx context.Context, in *iam.UpdateAccessKeyInput, opts ...func(*iam.Options)) (*iam.UpdateAccessKeyOutput, error)
}

// quarantinePolicy denies sts:AssumeRole to every principal; it is
// attached as the trust policy document of a quarantined role so nothing
// can assume it until rolled back.
const quarantinePolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Deny","Principal":"*","Action":"sts:AssumeRole"}]}`

// Effector performs containment actions against a live AWS account.
type Effector struct {
	client Client
}

// New returns an Effector backed by client.
func New(client Client) *Effector {
	return &Effector{client: client}
}

// Do dispatches on kind to the matching IAM call.
func (e *Effector) Do(ctx context.Context, kind domain.ActionKind, target string, descriptor map[string]string) (bool, string, map[string]string, error) {
	switch kind {
	case domain.ActionDisableLoginProfile:
		return e.disableLoginProfile(ctx, target)
	case domain.ActionDetachUserPolicy:
		user, policy := splitPair(target)
		return e.detachUserPolicy(ctx, user, policy)
	case domain.ActionDetachRolePolicy:
		role, policy := splitPair(target)
		return e.detachRolePolicy(ctx, role, policy)
	case domain.ActionQuarantineRole:
		return e.quarantineRole(ctx, target)
	case domain.ActionRevertPolicyVersion:
		policy, _ := splitPair(target)
		return e.revertPolicyVersion(ctx, policy, descriptor)
	case domain.ActionRevokeAccessKey:
		return e.revokeAccessKey(ctx, target)
	case domain.ActionNotifyOperator:
		// No external system to call; the audit log entry is the
		// notification. Always succeeds, nothing to roll back.
		return true, fmt.Sprintf("operator notified for %s", target), nil, nil
	default:
		return false, "", nil, fmt.Errorf("effector: unknown action kind %q", kind)
	}
}

// Undo reverses a previously-completed action using its descriptor.
func (e *Effector) Undo(ctx context.Context, kind domain.ActionKind, target string, rollback map[string]string) (bool, string, error) {
	switch kind {
	case domain.ActionDisableLoginProfile:
		return e.restoreLoginProfile(ctx, target, rollback)
	case domain.ActionDetachUserPolicy:
		user, policy := splitPair(target)
		if _, err := e.client.AttachUserPolicy(ctx, &iam.AttachUserPolicyInput{
			UserName: awssdk.String(user), PolicyArn: awssdk.String(policy),
		}); err != nil {
			return false, "", classify(err)
		}
		return true, fmt.Sprintf("reattached %s to %s", policy, user), nil
	case domain.ActionDetachRolePolicy:
		role, policy := splitPair(target)
		if _, err := e.client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName: awssdk.String(role), PolicyArn: awssdk.String(policy),
		}); err != nil {
			return false, "", classify(err)
		}
		return true, fmt.Sprintf("reattached %s to %s", policy, role), nil
	case domain.ActionQuarantineRole:
		return e.restoreTrustPolicy(ctx, target, rollback)
	case domain.ActionRevertPolicyVersion:
		policy, _ := splitPair(target)
		prior := rollback["prior_version_id"]
		if prior == "" {
			return false, "", fmt.Errorf("effector: no prior_version_id in rollback descriptor for %s", policy)
		}
		if _, err := e.client.SetDefaultPolicyVersion(ctx, &iam.SetDefaultPolicyVersionInput{
			PolicyArn: awssdk.String(policy), VersionId: awssdk.String(prior),
		}); err != nil {
			return false, "", classify(err)
		}
		return true, fmt.Sprintf("restored %s to version %s", policy, prior), nil
	default:
		return false, "", fmt.Errorf("effector: %q has no rollback", kind)
	}
}

func (e *Effector) disableLoginProfile(ctx context.Context, user string) (bool, string, map[string]string, error) {
	existing, err := e.client.GetLoginProfile(ctx, &iam.GetLoginProfileInput{UserName: awssdk.String(user)})
	if err != nil {
		// No console login profile to disable is a success, not a failure:
		// the containment goal (no password login) already holds.
		return true, fmt.Sprintf("%s had no login profile", user), nil, nil
	}

	if _, err := e.client.DeleteLoginProfile(ctx, &iam.DeleteLoginProfileInput{UserName: awssdk.String(user)}); err != nil {
		return false, "", nil, classify(err)
	}

	rollback := map[string]string{"user": user}
	if existing.LoginProfile != nil {
		rollback["had_profile"] = "true"
	}
	return true, fmt.Sprintf("disabled console login for %s", user), rollback, nil
}

func (e *Effector) restoreLoginProfile(ctx context.Context, user string, rollback map[string]string) (bool, string, error) {
	if rollback["had_profile"] != "true" {
		return true, fmt.Sprintf("%s had no login profile to restore", user), nil
	}
	logging.LogWarn("login profile rollback requires a fresh operator-issued password", map[string]interface{}{"node_id": user})
	return false, "", fmt.Errorf("effector: cannot restore a login profile's original password; operator must reissue one for %s", user)
}

func (e *Effector) detachUserPolicy(ctx context.Context, user, policy string) (bool, string, map[string]string, error) {
	if _, err := e.client.DetachUserPolicy(ctx, &iam.DetachUserPolicyInput{
		UserName: awssdk.String(user), PolicyArn: awssdk.String(policy),
	}); err != nil {
		return false, "", nil, classify(err)
	}
	return true, fmt.Sprintf("detached %s from %s", policy, user), map[string]string{"user": user, "policy": policy}, nil
}

func (e *Effector) detachRolePolicy(ctx context.Context, role, policy string) (bool, string, map[string]string, error) {
	if _, err := e.client.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName: awssdk.String(role), PolicyArn: awssdk.String(policy),
	}); err != nil {
		return false, "", nil, classify(err)
	}
	return true, fmt.Sprintf("detached %s from %s", policy, role), map[string]string{"role": role, "policy": policy}, nil
}

func (e *Effector) quarantineRole(ctx context.Context, role string) (bool, string, map[string]string, error) {
	current, err := e.client.GetRole(ctx, &iam.GetRoleInput{RoleName: awssdk.String(role)})
	if err != nil {
		return false, "", nil, classify(err)
	}

	var priorDoc string
	if current.Role != nil && current.Role.AssumeRolePolicyDocument != nil {
		priorDoc = awssdk.ToString(current.Role.AssumeRolePolicyDocument)
	}

	if _, err := e.client.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
		RoleName: awssdk.String(role), PolicyDocument: awssdk.String(quarantinePolicy),
	}); err != nil {
		return false, "", nil, classify(err)
	}

	return true, fmt.Sprintf("quarantined role %s", role), map[string]string{"role": role, "prior_trust_policy": priorDoc}, nil
}

func (e *Effector) restoreTrustPolicy(ctx context.Context, role string, rollback map[string]string) (bool, string, error) {
	prior := rollback["prior_trust_policy"]
	if prior == "" {
		return false, "", fmt.Errorf("effector: no prior_trust_policy in rollback descriptor for %s", role)
	}
	if _, err := e.client.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
		RoleName: awssdk.String(role), PolicyDocument: awssdk.String(prior),
	}); err != nil {
		return false, "", classify(err)
	}
	return true, fmt.Sprintf("restored trust policy for %s", role), nil
}

func (e *Effector) revertPolicyVersion(ctx context.Context, policy string, descriptor map[string]string) (bool, string, map[string]string, error) {
	current, err := e.client.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: awssdk.String(policy)})
	if err != nil {
		return false, "", nil, classify(err)
	}
	var currentVersion string
	if current.Policy != nil {
		currentVersion = awssdk.ToString(current.Policy.DefaultVersionId)
	}

	target := descriptor["revert_to_version_id"]
	if target == "" {
		return false, "", nil, fmt.Errorf("effector: revert_policy_version requires revert_to_version_id in descriptor")
	}

	if _, err := e.client.SetDefaultPolicyVersion(ctx, &iam.SetDefaultPolicyVersionInput{
		PolicyArn: awssdk.String(policy), VersionId: awssdk.String(target),
	}); err != nil {
		return false, "", nil, classify(err)
	}

	return true, fmt.Sprintf("reverted %s to version %s", policy, target),
		map[string]string{"policy": policy, "prior_version_id": currentVersion}, nil
}

// revokeAccessKey deactivates every active access key belonging to a
// user. The planner's fixed recipe never emits this kind; it is
// reachable through a manual plan edit or a future recipe rule.
func (e *Effector) revokeAccessKey(ctx context.Context, user string) (bool, string, map[string]string, error) {
	keys, err := e.client.ListAccessKeys(ctx, &iam.ListAccessKeysInput{UserName: awssdk.String(user)})
	if err != nil {
		return false, "", nil, classify(err)
	}

	var revoked []string
	for _, k := range keys.AccessKeyMetadata {
		if k.Status != iamtypes.StatusTypeActive {
			continue
		}
		if _, err := e.client.UpdateAccessKey(ctx, &iam.UpdateAccessKeyInput{
			UserName: awssdk.String(user), AccessKeyId: k.AccessKeyId, Status: iamtypes.StatusTypeInactive,
		}); err != nil {
			return false, "", nil, classify(err)
		}
		revoked = append(revoked, awssdk.ToString(k.AccessKeyId))
	}

	return true, fmt.Sprintf("revoked %d access key(s) for %s", len(revoked), user),
		map[string]string{"user": user, "revoked_key_ids": strings.Join(revoked, ",")}, nil
}

func splitPair(target string) (string, string) {
	parts := strings.SplitN(target, "::", 2)
	if len(parts) != 2 {
		return target, ""
	}
	return parts[0], parts[1]
}

// classify wraps an AWS SDK error, marking throttling/connectivity
// failures as transient so the executor retries them; everything else
// is permanent.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "throttl") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") || strings.Contains(msg, "503") {
		return &effector.TransientError{Err: err}
	}
	return fmt.Errorf("effector: %w", err)
}
