package domain

import "time"

// ActionKind is the fixed set of containment actions the planner may
// recommend and the executor may run.
type ActionKind string

const (
	ActionDisableLoginProfile ActionKind = "disable_login_profile"
	ActionDetachUserPolicy    ActionKind = "detach_user_policy"
	ActionDetachRolePolicy    ActionKind = "detach_role_policy"
	ActionRevokeAccessKey     ActionKind = "revoke_access_key"
	ActionQuarantineRole      ActionKind = "quarantine_role"
	ActionRevertPolicyVersion ActionKind = "revert_policy_version"
	ActionNotifyOperator      ActionKind = "notify_operator"
)

// ActionStatus is the lifecycle state of a single Action.
type ActionStatus string

const (
	ActionPlanned    ActionStatus = "planned"
	ActionExecuting  ActionStatus = "executing"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
	ActionRolledBack ActionStatus = "rolled_back"
)

// Action is a single containment step within a Plan.
type Action struct {
	ID                string            `json:"id"`
	Kind              ActionKind        `json:"kind"`
	Target            string            `json:"target"`
	Status            ActionStatus      `json:"status"`
	ExecutedAt        *time.Time        `json:"executed_at,omitempty"`
	Result            string            `json:"result,omitempty"`
	Reversible        bool              `json:"reversible"`
	RollbackDescriptor map[string]string `json:"rollback_descriptor,omitempty"`
	RollbackPerformed bool              `json:"rollback_performed"`
}
