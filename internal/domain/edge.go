package domain

// EdgeKind is the relationship type an Edge represents.
type EdgeKind string

const (
	// EdgeMemberOf: principal belongs to group.
	EdgeMemberOf EdgeKind = "member_of"
	// EdgeHasPolicy: principal or group is governed by policy.
	EdgeHasPolicy EdgeKind = "has_policy"
	// EdgeCanAssume: principal may obtain the target role's credentials.
	EdgeCanAssume EdgeKind = "can_assume"
	// EdgeAllowsAction: policy grants a privileged action on the target.
	// The specific action verb is stored under attrs["action"].
	EdgeAllowsAction EdgeKind = "allows_action"
	// EdgeTrusts: role's assume-role policy trusts the given principal.
	EdgeTrusts EdgeKind = "trusts"
	// EdgeOwns: administrative ownership of a resource.
	EdgeOwns EdgeKind = "owns"
)

// Privileged action verbs recognized under allows_action edges.
const (
	ActionPassRole                = "iam:PassRole"
	ActionCreatePolicyVersion     = "iam:CreatePolicyVersion"
	ActionSetDefaultPolicyVersion = "iam:SetDefaultPolicyVersion"
	ActionSTSAssumeRole           = "sts:AssumeRole"
	ActionEC2RunInstances         = "ec2:RunInstances"
)

// Edge is a directed, typed relationship between two nodes. The graph is
// a multigraph: multiple edges of different kinds (or the same kind with
// different attrs) may exist between the same ordered pair.
type Edge struct {
	Source string            `json:"source"`
	Target string            `json:"target"`
	Kind   EdgeKind          `json:"kind"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// Direction selects which side of an edge to traverse from a node.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)
