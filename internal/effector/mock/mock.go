// Package mock implements a deterministic in-memory Effector for tests
// and USE_MOCK_DATA=true operation. Every action kind succeeds
// idempotently and fabricates a plausible rollback descriptor without
// touching any real account.
package mock

import (
	"context"
	"fmt"

	"breachmap/internal/domain"
)

// Effector is the mock implementation of effector.Effector.
type Effector struct{}

// New returns a ready-to-use mock effector. It holds no state: every
// call is independently idempotent.
func New() *Effector { return &Effector{} }

// Do fabricates a successful result and a rollback descriptor that
// Undo can use to report a symmetric, equally fabricated reversal.
func (Effector) Do(_ context.Context, kind domain.ActionKind, target string, descriptor map[string]string) (bool, string, map[string]string, error) {
	rollback := map[string]string{"kind": string(kind), "target": target}
	for k, v := range descriptor {
		rollback[k] = v
	}
	return true, fmt.Sprintf("mock: %s applied to %s", kind, target), rollback, nil
}

// Undo reports a successful reversal; the stored descriptor is not read.
func (Effector) Undo(_ context.Context, kind domain.ActionKind, target string, _ map[string]string) (bool, string, error) {
	return true, fmt.Sprintf("mock: %s reverted on %s", kind, target), nil
}
