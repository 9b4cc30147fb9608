// Package effector defines the pluggable external-action contract the
// response executor drives. Concrete implementations live in
// internal/effector/mock (deterministic, for tests and USE_MOCK_DATA
// mode) and internal/effector/aws (live IAM calls).
package effector

import (
	"context"
	"errors"

	"breachmap/internal/domain"
)

// Effector performs and reverses a single containment action against
// whatever backs a node's identifier: a live AWS account, or nothing at
// all in mock mode. Implementations must tolerate repeated identical
// calls: the executor re-runs a completed plan's actions in order on a
// caller-requested re-run, and treats Do as idempotent.
type Effector interface {
	// Do performs the action. On success it returns a rollback descriptor
	// capturing whatever state Undo later needs to reverse it; actions
	// with domain.Action.Reversible == false may return a nil descriptor.
	Do(ctx context.Context, kind domain.ActionKind, target string, descriptor map[string]string) (ok bool, result string, rollback map[string]string, err error)

	// Undo reverses a previously-completed action using its stored
	// rollback descriptor.
	Undo(ctx context.Context, kind domain.ActionKind, target string, rollback map[string]string) (ok bool, result string, err error)
}

// TransientError marks an Effector failure the executor should retry
// with backoff before giving up. Anything else is treated as permanent
// and halts the plan immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
