package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"breachmap/internal/apierr"
	"breachmap/internal/domain"
	"breachmap/internal/logging"
)

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.graph.Snapshot())
}

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	stats := logging.GetMetrics().Snapshot()
	stats["node_count"] = s.graph.NodeCount()
	stats["edge_count"] = s.graph.EdgeCount()
	writeJSON(w, http.StatusOK, stats)
}

// principalKinds is the set of node kinds /api/identities treats as a
// principal: something that can itself hold and present credentials, as
// distinct from a group (a collection of principals) or a
// policy/resource (not an actor at all).
var principalKinds = map[domain.NodeKind]bool{
	domain.NodeUser: true,
	domain.NodeRole: true,
}

func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	var out []domain.Node
	for _, n := range s.graph.AllNodes() {
		if principalKinds[n.Kind] {
			out = append(out, n)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	nodes, edges, err := s.ingester.Ingest(ctx)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.TransientExternal, "ingest_failed", "failed to ingest identity data", err))
		return
	}
	if err := s.graph.ReplaceAll(nodes, edges); err != nil {
		writeError(w, apierr.Wrap(apierr.Persistence, "ingest_store_failed", "failed to store ingested graph", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"node_count": len(nodes), "edge_count": len(edges)})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.scanBudget)
	defer cancel()

	startNode := r.URL.Query().Get("start_node")
	minDelta := -1
	if raw := r.URL.Query().Get("min_delta"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apierr.New(apierr.Validation, "invalid_min_delta", "min_delta must be an integer"))
			return
		}
		minDelta = v
	}

	alerts, err := s.detector.Scan(ctx, startNode)
	if err != nil {
		if startNode != "" && !s.graph.HasNode(startNode) {
			writeError(w, apierr.Wrap(apierr.NotFound, "start_node_not_found", "start_node does not exist in the graph", err))
			return
		}
		writeError(w, apierr.Wrap(apierr.Internal, "scan_failed", "detection scan failed", err))
		return
	}

	if minDelta >= 0 {
		filtered := alerts[:0]
		for _, a := range alerts {
			if a.PrivilegeDelta >= minDelta {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.detector.List())
}
