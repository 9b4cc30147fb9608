// Package httpapi exposes the engine over HTTP: one struct wrapping an
// http.ServeMux, one routes() method wiring every endpoint with Go 1.22
// method+pattern routing, one handler method per route decoding a
// request and encoding a JSON response.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"breachmap/internal/apierr"
	"breachmap/internal/audit"
	"breachmap/internal/authn"
	"breachmap/internal/detect"
	"breachmap/internal/graphstore"
	"breachmap/internal/ingest"
	"breachmap/internal/respond"
)

// Server is the HTTP front end wiring every engine component to a route.
type Server struct {
	mux        *http.ServeMux
	graph      *graphstore.Store
	detector   *detect.Engine
	responder  *respond.Engine
	auditLog   *audit.Log
	auth       *authn.Manager
	ingester   ingest.Ingester
	startedAt  time.Time
	limiter    *rateLimiter
	scanBudget time.Duration
}

// New assembles a Server from its dependencies and wires every route.
// scanBudget bounds how long a single /api/detect/scan request may run
// (config.Tunables.ScanBudget); a zero value falls back to 30s.
func New(graph *graphstore.Store, detector *detect.Engine, responder *respond.Engine, auditLog *audit.Log, auth *authn.Manager, ingester ingest.Ingester, scanBudget time.Duration) *Server {
	if scanBudget <= 0 {
		scanBudget = 30 * time.Second
	}
	s := &Server{
		mux:        http.NewServeMux(),
		graph:      graph,
		detector:   detector,
		responder:  responder,
		auditLog:   auditLog,
		auth:       auth,
		ingester:   ingester,
		startedAt:  time.Now(),
		limiter:    newRateLimiter(5, time.Minute),
		scanBudget: scanBudget,
	}
	s.routes()
	return s
}

// Handler returns the wired http.Handler, ready to pass to http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/auth/register", s.limiter.wrap(s.handleRegister))
	s.mux.HandleFunc("POST /api/auth/login", s.limiter.wrap(s.handleLogin))

	s.mux.HandleFunc("GET /api/graph", s.authenticated(s.handleGraph))
	s.mux.HandleFunc("GET /api/graph/stats", s.authenticated(s.handleGraphStats))
	s.mux.HandleFunc("GET /api/identities", s.authenticated(s.handleIdentities))
	s.mux.HandleFunc("POST /api/ingest/aws", s.authenticated(s.handleIngest))
	s.mux.HandleFunc("POST /api/detect/scan", s.authenticated(s.handleScan))
	s.mux.HandleFunc("GET /api/alerts", s.authenticated(s.handleAlerts))

	s.mux.HandleFunc("GET /api/response/pending", s.adminOnly(s.handlePendingPlans))
	s.mux.HandleFunc("GET /api/response/history", s.adminOnly(s.handlePlanHistory))
	s.mux.HandleFunc("POST /api/response/approve/{plan_id}", s.adminOnly(s.handleApprove))
	s.mux.HandleFunc("POST /api/response/reject/{plan_id}", s.adminOnly(s.handleReject))
	s.mux.HandleFunc("POST /api/response/execute/{plan_id}", s.adminOnly(s.handleExecute))
	s.mux.HandleFunc("POST /api/response/rollback/{action_id}", s.adminOnly(s.handleRollback))

	s.mux.HandleFunc("GET /api/audit/logs", s.adminOnly(s.handleAuditLogs))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if e, ok := err.(*apierr.Error); ok {
		apiErr = e
	} else {
		apiErr = apierr.Wrap(apierr.Internal, "internal_error", "an internal error occurred", err)
	}
	writeJSON(w, apiErr.Kind.HTTPStatus(), map[string]string{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Wrap(apierr.Validation, "invalid_body", "request body is not valid JSON", err)
	}
	return nil
}
