// Package recipe holds the fixed edge-kind-to-action mapping shared by
// the detection engine (which needs it to populate
// Alert.RecommendedActions) and the response planner (which needs it to
// build the actual Actions of a Plan). Keeping one table instead of two
// keeps the two packages from drifting apart on what a given path implies.
package recipe

import (
	"fmt"

	"breachmap/internal/domain"
)

// Resolver looks up a node by id, the way a graphstore.Store does.
type Resolver func(id string) (domain.Node, bool)

// step is one recipe-table hit produced while walking a path's edges.
type step struct {
	kind   domain.ActionKind
	target string
}

// walk applies the fixed recipe table to every edge on path, in edge
// order, and returns the resulting (kind, target) steps before
// deduplication or the trailing notify_operator is applied.
func walk(path domain.Path, resolve Resolver) []step {
	var steps []step
	for _, e := range path.Edges {
		src, srcOK := resolve(e.Source)
		if !srcOK {
			continue
		}

		switch {
		case e.Kind == domain.EdgeCanAssume && src.Kind == domain.NodeUser:
			steps = append(steps, step{domain.ActionDisableLoginProfile, src.ID})

		case e.Kind == domain.EdgeHasPolicy && src.Kind == domain.NodeUser:
			steps = append(steps, step{domain.ActionDetachUserPolicy, targetPair(e.Source, e.Target)})

		case e.Kind == domain.EdgeHasPolicy && src.Kind == domain.NodeRole:
			steps = append(steps, step{domain.ActionDetachRolePolicy, targetPair(e.Source, e.Target)})

		// The policy being edited sits on the target end of a
		// policy-version grant; the source is the actor holding it.
		case e.Kind == domain.EdgeAllowsAction && isPolicyVersionAction(e.Attrs["action"]):
			steps = append(steps, step{domain.ActionRevertPolicyVersion, targetPair(e.Target, "prior_version")})

		// A role that itself holds an iam:PassRole grant is the pivot a
		// path escalates through; quarantining it (not the role it passes
		// into) blocks the pivot regardless of which principal reaches it
		// next.
		case e.Kind == domain.EdgeAllowsAction && e.Attrs["action"] == domain.ActionPassRole && src.Kind == domain.NodeRole:
			steps = append(steps, step{domain.ActionQuarantineRole, src.ID})
		}
	}

	return steps
}

func isPolicyVersionAction(action string) bool {
	return action == domain.ActionCreatePolicyVersion || action == domain.ActionSetDefaultPolicyVersion
}

func targetPair(a, b string) string {
	return fmt.Sprintf("%s::%s", a, b)
}

// dedup removes steps sharing a (kind, target) pair, keeping the first
// occurrence.
func dedup(steps []step) []step {
	seen := make(map[step]bool, len(steps))
	out := make([]step, 0, len(steps))
	for _, s := range steps {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// RecommendedKinds returns the ordered, deduplicated, capped list of
// action kinds a path implies, the content of Alert.RecommendedActions.
// notify_operator is appended last and the cap applies to the whole
// list, so it is dropped when the path's own steps fill the cap.
func RecommendedKinds(path domain.Path, resolve Resolver, maxRecommendations int) []domain.ActionKind {
	steps := dedup(walk(path, resolve))

	kinds := make([]domain.ActionKind, 0, len(steps)+1)
	for _, s := range steps {
		kinds = append(kinds, s.kind)
	}
	kinds = appendNotifyOperator(kinds)

	if maxRecommendations > 0 && len(kinds) > maxRecommendations {
		kinds = kinds[:maxRecommendations]
	}
	return kinds
}

func appendNotifyOperator(kinds []domain.ActionKind) []domain.ActionKind {
	for _, k := range kinds {
		if k == domain.ActionNotifyOperator {
			return kinds
		}
	}
	return append(kinds, domain.ActionNotifyOperator)
}

// BuildActions synthesizes the ordered, deduplicated Plan.Actions for an
// alert: same recipe table as RecommendedKinds, but materialized into
// full Action records. No cap here; the plan carries every containment
// step the path implies, only the alert's recommendation preview is
// capped.
func BuildActions(alertID string, path domain.Path, resolve Resolver, newID func() string) []domain.Action {
	steps := dedup(walk(path, resolve))

	actions := make([]domain.Action, 0, len(steps)+1)
	for _, s := range steps {
		actions = append(actions, domain.Action{
			ID:         newID(),
			Kind:       s.kind,
			Target:     s.target,
			Status:     domain.ActionPlanned,
			Reversible: isReversible(s.kind),
		})
	}

	actions = append(actions, domain.Action{
		ID:         newID(),
		Kind:       domain.ActionNotifyOperator,
		Target:     alertID,
		Status:     domain.ActionPlanned,
		Reversible: false,
	})

	return actions
}

// isReversible reports whether an action kind has a meaningful undo.
// The effector is expected to capture a rollback descriptor for these
// on success.
func isReversible(kind domain.ActionKind) bool {
	switch kind {
	case domain.ActionDisableLoginProfile, domain.ActionDetachUserPolicy,
		domain.ActionDetachRolePolicy, domain.ActionQuarantineRole,
		domain.ActionRevertPolicyVersion:
		return true
	default:
		return false
	}
}
