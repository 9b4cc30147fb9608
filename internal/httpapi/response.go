package httpapi

import (
	"context"
	"net/http"
	"time"

	"breachmap/internal/apierr"
	"breachmap/internal/domain"
)

func (s *Server) handlePendingPlans(w http.ResponseWriter, r *http.Request) {
	var out []domain.Plan
	for _, p := range s.responder.List() {
		if p.State == domain.PlanPendingApproval {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlanHistory(w http.ResponseWriter, r *http.Request) {
	var out []domain.Plan
	for _, p := range s.responder.List() {
		switch p.State {
		case domain.PlanCompleted, domain.PlanFailed, domain.PlanRejected:
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	plan, err := s.responder.Approve(r.PathValue("plan_id"), actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	plan, err := s.responder.Reject(r.PathValue("plan_id"), actorFromRequest(r), reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	plan, err := s.responder.Execute(ctx, r.PathValue("plan_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	actionID := r.PathValue("action_id")
	planID, ok := s.findPlanIDForAction(actionID)
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "action_not_found", "no plan holds an action with this id"))
		return
	}

	plan, err := s.responder.Rollback(ctx, planID, actionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// findPlanIDForAction locates the plan owning actionID; the rollback
// route carries only the action id, so it is resolved against every
// known plan.
func (s *Server) findPlanIDForAction(actionID string) (string, bool) {
	for _, p := range s.responder.List() {
		for _, a := range p.Actions {
			if a.ID == actionID {
				return p.ID, true
			}
		}
	}
	return "", false
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	filter := auditFilterFromQuery(r)
	writeJSON(w, http.StatusOK, s.auditLog.List(filter))
}
