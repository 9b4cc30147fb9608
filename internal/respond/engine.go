// Package respond implements the response planner and executor as one
// coordinator type: both halves mutate the same Plan records under the
// same lock, since the executor's state transitions must serialize
// against the planner's approve/reject calls.
package respond

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"breachmap/internal/apierr"
	"breachmap/internal/domain"
	"breachmap/internal/effector"
	"breachmap/internal/logging"
	"breachmap/internal/persist"
	"breachmap/internal/recipe"
)

// retrySchedule is the backoff applied to transient effector failures:
// 3 retries after the first attempt.
var retrySchedule = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

// GraphReader resolves node identifiers for the recipe's (edge kind,
// node kind) lookups.
type GraphReader interface {
	GetNode(id string) (domain.Node, bool)
}

// AuditRecorder appends one entry to the audit log. Response operations
// record every state transition.
type AuditRecorder interface {
	Append(verb, actor, target, status, detail string) (domain.AuditEntry, error)
}

// Engine owns every Plan and drives it through the per-plan state
// machine: pending_approval -> approved/rejected, approved -> executing
// -> completed/failed.
type Engine struct {
	mu           sync.Mutex
	plans        map[string]domain.Plan
	graph        GraphReader
	audit        AuditRecorder
	effector     effector.Effector
	writer       *persist.AtomicWriter
	newID        func() string
	planDeadline time.Duration
}

// snapshot is the on-disk form of every tracked plan.
type snapshot struct {
	Plans []domain.Plan `json:"plans"`
}

// New returns an Engine. If path is non-empty its prior plans are
// restored from disk; newID mints plan/action identifiers (production
// wiring passes uuid.NewString).
func New(graph GraphReader, audit AuditRecorder, eff effector.Effector, path string, planDeadline time.Duration, newID func() string) (*Engine, error) {
	e := &Engine{
		plans:        make(map[string]domain.Plan),
		graph:        graph,
		audit:        audit,
		effector:     eff,
		newID:        newID,
		planDeadline: planDeadline,
	}

	if path == "" {
		return e, nil
	}
	w, err := persist.NewAtomicWriter(path)
	if err != nil {
		return nil, err
	}
	e.writer = w

	var snap snapshot
	ok, err := persist.ReadJSON(path, &snap)
	if err != nil {
		return e, err
	}
	if ok {
		for _, p := range snap.Plans {
			e.plans[p.ID] = p
		}
	}
	return e, nil
}

// CreatePlan synthesizes a Plan from an Alert via the fixed action
// recipe, then applies the approval gate: auto-eligible alerts start
// approved, everything else waits for a human.
func (e *Engine) CreatePlan(alert domain.Alert) (domain.Plan, error) {
	resolve := func(id string) (domain.Node, bool) { return e.graph.GetNode(id) }
	actions := recipe.BuildActions(alert.ID, alert.Path, resolve, e.newID)

	state := domain.PlanPendingApproval
	if alert.AutoResponseEligible {
		state = domain.PlanApproved
	}

	plan := domain.Plan{
		ID:           e.newID(),
		AlertID:      alert.ID,
		Actions:      actions,
		AutoApproved: alert.AutoResponseEligible,
		CreatedAt:    time.Now(),
		State:        state,
	}

	e.mu.Lock()
	e.plans[plan.ID] = plan
	err := e.persistLocked()
	e.mu.Unlock()
	if err != nil {
		return domain.Plan{}, err
	}

	logging.GetMetrics().RecordPlan(string(state))
	e.recordAudit(domain.VerbPlanCreated, "system", plan.ID, string(state),
		fmt.Sprintf("alert=%s auto_approved=%v actions=%d", alert.ID, plan.AutoApproved, len(plan.Actions)))
	return plan, nil
}

// Approve transitions a pending_approval plan to approved.
func (e *Engine) Approve(planID, actor string) (domain.Plan, error) {
	plan, err := e.transition(planID, domain.PlanPendingApproval, func(p *domain.Plan) {
		p.HumanApproved = true
		p.State = domain.PlanApproved
	})
	if err != nil {
		return domain.Plan{}, err
	}
	e.recordAudit(domain.VerbPlanApproved, actor, planID, string(domain.PlanApproved), "")
	return plan, nil
}

// Reject transitions a pending_approval plan to rejected.
func (e *Engine) Reject(planID, actor, reason string) (domain.Plan, error) {
	plan, err := e.transition(planID, domain.PlanPendingApproval, func(p *domain.Plan) {
		p.State = domain.PlanRejected
	})
	if err != nil {
		return domain.Plan{}, err
	}
	e.recordAudit(domain.VerbPlanRejected, actor, planID, string(domain.PlanRejected), reason)
	return plan, nil
}

// transition applies mutate to the plan if it is currently in
// requiredState, persisting the result under the engine lock.
func (e *Engine) transition(planID string, requiredState domain.PlanState, mutate func(*domain.Plan)) (domain.Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, ok := e.plans[planID]
	if !ok {
		return domain.Plan{}, apierr.New(apierr.NotFound, "plan_not_found", fmt.Sprintf("plan %q not found", planID))
	}
	if plan.State != requiredState {
		return domain.Plan{}, apierr.New(apierr.Conflict, "plan_wrong_state", fmt.Sprintf("plan %q is %s, not %s", planID, plan.State, requiredState))
	}

	mutate(&plan)
	e.plans[planID] = plan
	if err := e.persistLocked(); err != nil {
		return domain.Plan{}, err
	}
	return plan, nil
}

// Execute runs every action of an approved (or previously completed or
// failed, for a caller-requested re-run) plan in order, stopping at the
// first failure. ctx is bounded to the engine's configured plan
// deadline. A re-run restarts from the first action; the effector is
// expected to tolerate repeated identical calls.
func (e *Engine) Execute(ctx context.Context, planID string) (domain.Plan, error) {
	e.mu.Lock()
	plan, ok := e.plans[planID]
	if !ok {
		e.mu.Unlock()
		return domain.Plan{}, apierr.New(apierr.NotFound, "plan_not_found", fmt.Sprintf("plan %q not found", planID))
	}
	if plan.State != domain.PlanApproved && plan.State != domain.PlanCompleted && plan.State != domain.PlanFailed {
		e.mu.Unlock()
		return domain.Plan{}, apierr.New(apierr.Conflict, "plan_wrong_state", fmt.Sprintf("plan %q is %s, cannot execute", planID, plan.State))
	}
	plan.State = domain.PlanExecuting
	e.plans[planID] = plan
	err := e.persistLocked()
	// The loop below mutates actions outside the lock; work on a private
	// copy so the stored plan only changes under the lock at the end.
	plan.Actions = append([]domain.Action(nil), plan.Actions...)
	e.mu.Unlock()
	if err != nil {
		return domain.Plan{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.planDeadline)
	defer cancel()

	failed := false
	for i := range plan.Actions {
		action := &plan.Actions[i]
		action.Status = domain.ActionExecuting

		ok, result, rollback, err := e.runWithRetry(ctx, action.Kind, action.Target, action.RollbackDescriptor)
		now := time.Now()
		action.ExecutedAt = &now
		action.Result = result

		if ok {
			action.Status = domain.ActionCompleted
			if rollback != nil {
				action.RollbackDescriptor = rollback
			}
			logging.GetMetrics().RecordAction("completed")
		} else {
			action.Status = domain.ActionFailed
			if err != nil {
				action.Result = err.Error()
			}
			logging.GetMetrics().RecordAction("failed")
			failed = true
		}

		e.recordAudit(domain.VerbActionExecuted, "executor", action.Target, string(action.Status), action.Result)

		if failed {
			break
		}
	}

	if failed {
		plan.State = domain.PlanFailed
	} else {
		plan.State = domain.PlanCompleted
	}

	e.mu.Lock()
	e.plans[planID] = plan
	err = e.persistLocked()
	e.mu.Unlock()
	if err != nil {
		return domain.Plan{}, err
	}

	logging.GetMetrics().RecordPlan(string(plan.State))
	e.recordAudit(domain.VerbPlanExecuted, "executor", planID, string(plan.State), "")
	return plan, nil
}

// runWithRetry invokes the effector, retrying transient failures on the
// fixed schedule and giving up immediately on permanent ones. A success
// that needed retries says so in its result string.
func (e *Engine) runWithRetry(ctx context.Context, kind domain.ActionKind, target string, descriptor map[string]string) (bool, string, map[string]string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		ok, result, rollback, err := e.effector.Do(ctx, kind, target, descriptor)
		if ok {
			if attempt > 0 {
				result = fmt.Sprintf("%s (after %d retries)", result, attempt)
			}
			return true, result, rollback, nil
		}
		lastErr = err
		if err == nil || !effector.IsTransient(err) || attempt >= len(retrySchedule) {
			return false, result, nil, lastErr
		}

		select {
		case <-ctx.Done():
			return false, "", nil, ctx.Err()
		case <-time.After(retrySchedule[attempt]):
		}
	}
}

// Rollback reverses a completed, reversible action within a plan.
func (e *Engine) Rollback(ctx context.Context, planID, actionID string) (domain.Plan, error) {
	e.mu.Lock()
	plan, ok := e.plans[planID]
	if !ok {
		e.mu.Unlock()
		return domain.Plan{}, apierr.New(apierr.NotFound, "plan_not_found", fmt.Sprintf("plan %q not found", planID))
	}

	idx := -1
	for i, a := range plan.Actions {
		if a.ID == actionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		e.mu.Unlock()
		return domain.Plan{}, apierr.New(apierr.NotFound, "action_not_found", fmt.Sprintf("action %q not found in plan %q", actionID, planID))
	}
	action := plan.Actions[idx]
	e.mu.Unlock()

	if !action.Reversible || action.Status != domain.ActionCompleted {
		return domain.Plan{}, apierr.New(apierr.Conflict, "action_not_rollbackable", fmt.Sprintf("action %q is not a completed reversible action", actionID))
	}

	ok2, result, err := e.effector.Undo(ctx, action.Kind, action.Target, action.RollbackDescriptor)

	e.mu.Lock()
	defer e.mu.Unlock()
	plan = e.plans[planID]
	action = plan.Actions[idx]
	if ok2 {
		action.Status = domain.ActionRolledBack
		action.RollbackPerformed = true
		action.Result = result
	} else if err != nil {
		action.Result = err.Error()
	}
	plan.Actions[idx] = action
	e.plans[planID] = plan
	if perr := e.persistLocked(); perr != nil {
		return domain.Plan{}, perr
	}

	status := "failed"
	if ok2 {
		status = "rolled_back"
	}
	e.recordAudit(domain.VerbActionRolledBack, "operator", actionID, status, action.Result)

	if !ok2 {
		kind := apierr.PermanentExternal
		if effector.IsTransient(err) {
			kind = apierr.TransientExternal
		}
		return plan, apierr.Wrap(kind, "rollback_failed", "effector rollback failed", err)
	}
	return plan, nil
}

// List returns every tracked plan, newest first.
func (e *Engine) List() []domain.Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Plan, 0, len(e.plans))
	for _, p := range e.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ByID returns a single plan by identifier.
func (e *Engine) ByID(id string) (domain.Plan, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.plans[id]
	return p, ok
}

func (e *Engine) persistLocked() error {
	if e.writer == nil {
		return nil
	}
	plans := make([]domain.Plan, 0, len(e.plans))
	for _, p := range e.plans {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return e.writer.WriteJSON(snapshot{Plans: plans})
}

func (e *Engine) recordAudit(verb, actor, target, status, detail string) {
	if e.audit == nil {
		return
	}
	if _, err := e.audit.Append(verb, actor, target, status, detail); err != nil {
		logging.LogError("failed to record audit entry", err, map[string]interface{}{"operation": verb})
	}
}
