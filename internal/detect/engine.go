// Package detect runs bounded depth-first searches over the identity
// graph and surfaces privilege-escalation paths as Alerts. Each alert
// carries a confidence derived from per-edge weights, a blast radius
// sized from the target's reachable set, and a severity banded from
// confidence x privilege delta x log2(1 + blast radius).
package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"breachmap/internal/config"
	"breachmap/internal/domain"
	"breachmap/internal/graphstore"
	"breachmap/internal/logging"
	"breachmap/internal/persist"
	"breachmap/internal/recipe"
)

// GraphReader is the subset of graphstore.Store the engine needs to read.
type GraphReader interface {
	GetNode(id string) (domain.Node, bool)
	Neighbors(id string, dir domain.Direction, kinds ...domain.EdgeKind) ([]graphstore.NeighborEdge, error)
	Reachable(id string, maxDepth int, kinds ...domain.EdgeKind) (map[string]struct{}, error)
	AllNodes() []domain.Node
}

// escalationKinds are the edge kinds exempt from the lateral-move prune:
// they can raise privilege, so a path may step down through them on its
// way to a higher node elsewhere on the path.
var escalationKinds = map[domain.EdgeKind]bool{
	domain.EdgeCanAssume:    true,
	domain.EdgeAllowsAction: true,
}

// blastRadiusKinds are the edge kinds counted when sizing the reachable
// set from an alert's target node.
var blastRadiusKinds = []domain.EdgeKind{domain.EdgeCanAssume, domain.EdgeAllowsAction, domain.EdgeOwns}

// snapshot is the serializable form of the retained alert set, mirrored
// to alerts.json.
type snapshot struct {
	Alerts []domain.Alert `json:"alerts"`
}

// Engine holds the emitted-alert set and runs scans against a graph.
type Engine struct {
	graph       GraphReader
	tunables    config.Tunables
	mu          sync.RWMutex
	alerts      map[string]domain.Alert
	planHandler func(domain.Alert)
	writer      *persist.AtomicWriter
}

// New returns an Engine reading from graph with the given tunable knobs.
// If path is non-empty, the retained alert set is mirrored to that file
// on every emit/purge and restored from it on construction; a missing
// or unparsable file is not fatal.
func New(graph GraphReader, tunables config.Tunables, path string) (*Engine, error) {
	e := &Engine{
		graph:    graph,
		tunables: tunables,
		alerts:   make(map[string]domain.Alert),
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
		for _, a := range snap.Alerts {
			e.alerts[a.ID] = a
		}
	}
	return e, nil
}

func (e *Engine) persistLocked() error {
	if e.writer == nil {
		return nil
	}
	out := make([]domain.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		out = append(out, a)
	}
	return e.writer.WriteJSON(snapshot{Alerts: out})
}

// SetPlanHandler installs the callback invoked for every newly emitted
// Alert of medium or higher severity; low severity never triggers a
// plan, and whether the resulting plan is auto-approved or held for a
// human is the planner's call. This handler slot is the only coupling
// between detection and response, so either side can be swapped for a
// no-op in tests.
func (e *Engine) SetPlanHandler(h func(domain.Alert)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.planHandler = h
}

// Scan runs the bounded DFS from every candidate source (or just
// startNode, if non-empty) to every candidate target, emitting Alerts
// that clear the privilege-delta gate. It returns every Alert produced
// by this run, whether or not it replaced a prior Alert of the same id.
func (e *Engine) Scan(ctx context.Context, startNode string) ([]domain.Alert, error) {
	logging.GetMetrics().RecordScan()
	logging.LogOperationStart("detection_scan")
	started := time.Now()

	targets := make(map[string]bool)
	for _, n := range e.graph.AllNodes() {
		if n.PrivilegeLevel >= e.tunables.HighPrivilegeThreshold {
			targets[n.ID] = true
		}
	}

	var sources []domain.Node
	if startNode != "" {
		n, ok := e.graph.GetNode(startNode)
		if !ok {
			return nil, fmt.Errorf("scan: start node %q does not exist", startNode)
		}
		sources = []domain.Node{n}
	} else {
		for _, n := range e.graph.AllNodes() {
			if n.PrivilegeLevel <= e.tunables.LowPrivilegeThreshold {
				sources = append(sources, n)
			}
		}
	}

	var emitted []domain.Alert
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}
		found, err := e.walkFrom(src, targets)
		if err != nil {
			return emitted, err
		}
		emitted = append(emitted, found...)
	}

	var persistErr error
	for _, a := range emitted {
		if err := e.emit(a); err != nil {
			persistErr = err
		}
	}
	if persistErr != nil {
		logging.LogOperationEnd("detection_scan", time.Since(started), false, persistErr)
		return emitted, fmt.Errorf("scan: failed to persist alert snapshot: %w", persistErr)
	}

	logging.LogOperationEnd("detection_scan", time.Since(started), true, nil)
	return emitted, nil
}

// dfsState tracks one in-progress path during the walk.
type dfsState struct {
	nodes   []string
	edges   []domain.Edge
	visited map[string]bool
	maxPriv int
}

func (e *Engine) walkFrom(source domain.Node, targets map[string]bool) ([]domain.Alert, error) {
	state := &dfsState{
		nodes:   []string{source.ID},
		visited: map[string]bool{source.ID: true},
		maxPriv: source.PrivilegeLevel,
	}
	var out []domain.Alert
	if err := e.dfs(source, targets, state, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) dfs(source domain.Node, targets map[string]bool, state *dfsState, depth int, out *[]domain.Alert) error {
	cur := state.nodes[len(state.nodes)-1]

	if targets[cur] && len(state.nodes) >= 2 {
		if alert, ok, err := e.buildAlert(source, cur, state); err != nil {
			return err
		} else if ok {
			*out = append(*out, alert)
		}
	}

	if depth >= e.tunables.MaxPathDepth {
		return nil
	}

	neighbors, err := e.graph.Neighbors(cur, domain.Outgoing)
	if err != nil {
		return err
	}

	// Controlling a policy escalates into everything the policy governs.
	// Attachees sit on the incoming side of has_policy, so a policy node
	// also walks those edges in reverse; the edge is recorded on the path
	// as stored (principal -> policy).
	if n, ok := e.graph.GetNode(cur); ok && n.Kind == domain.NodePolicy {
		attachees, err := e.graph.Neighbors(cur, domain.Incoming, domain.EdgeHasPolicy)
		if err != nil {
			return err
		}
		neighbors = append(neighbors, attachees...)
	}

	for _, ne := range neighbors {
		next := ne.Other
		if state.visited[next.ID] {
			continue
		}
		lateral := next.PrivilegeLevel < source.PrivilegeLevel && next.PrivilegeLevel < state.maxPriv
		if lateral && !escalationKinds[ne.Edge.Kind] {
			continue
		}

		prevMax := state.maxPriv
		if next.PrivilegeLevel > state.maxPriv {
			state.maxPriv = next.PrivilegeLevel
		}
		state.nodes = append(state.nodes, next.ID)
		state.edges = append(state.edges, ne.Edge)
		state.visited[next.ID] = true

		if err := e.dfs(source, targets, state, depth+1, out); err != nil {
			return err
		}

		state.visited[next.ID] = false
		state.edges = state.edges[:len(state.edges)-1]
		state.nodes = state.nodes[:len(state.nodes)-1]
		state.maxPriv = prevMax
	}

	return nil
}

func (e *Engine) buildAlert(source domain.Node, targetID string, state *dfsState) (domain.Alert, bool, error) {
	target, ok := e.graph.GetNode(targetID)
	if !ok {
		return domain.Alert{}, false, nil
	}

	delta := target.PrivilegeLevel - source.PrivilegeLevel
	if delta < e.tunables.MinPrivilegeDelta {
		return domain.Alert{}, false, nil
	}

	path := domain.Path{
		Nodes: append([]string(nil), state.nodes...),
		Edges: append([]domain.Edge(nil), state.edges...),
	}

	confidence := 1.0
	for _, edge := range path.Edges {
		confidence *= e.edgeWeight(edge)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	reachable, err := e.graph.Reachable(targetID, e.tunables.ReachableMaxDepth, blastRadiusKinds...)
	if err != nil {
		return domain.Alert{}, false, err
	}
	blastRadius := len(reachable)
	if blastRadius > e.tunables.BlastRadiusCap {
		blastRadius = e.tunables.BlastRadiusCap
	}

	score := confidence * float64(delta) * math.Log2(1+float64(blastRadius))
	severity := severityFromScore(score)

	autoEligible := confidence >= e.tunables.AutoEligibleConfidence &&
		blastRadius <= e.tunables.AutoEligibleBlastCap &&
		(severity == domain.SeverityMedium || severity == domain.SeverityHigh)

	resolve := func(id string) (domain.Node, bool) { return e.graph.GetNode(id) }
	recommended := recipe.RecommendedKinds(path, resolve, e.tunables.MaxRecommendations)

	alert := domain.Alert{
		ID:                   alertID(path),
		Path:                 path,
		SourceNode:           source.ID,
		TargetNode:           targetID,
		PrivilegeDelta:       delta,
		Confidence:           confidence,
		BlastRadius:          blastRadius,
		Severity:             severity,
		DetectedAt:           time.Now(),
		RecommendedActions:   recommended,
		AutoResponseEligible: autoEligible,
	}
	return alert, true, nil
}

// edgeWeight returns the per-edge confidence weight. can_assume's
// "satisfied trust" and allows_action's "on admin role" qualifiers both
// require looking at the rest of the graph.
func (e *Engine) edgeWeight(edge domain.Edge) float64 {
	switch edge.Kind {
	case domain.EdgeCanAssume:
		if e.trustIsSatisfied(edge) {
			return 0.95
		}
		return 0.50
	case domain.EdgeAllowsAction:
		switch edge.Attrs["action"] {
		case domain.ActionPassRole:
			if e.isAdminRole(edge.Target) {
				return 0.90
			}
			return 0.50
		case domain.ActionCreatePolicyVersion, domain.ActionSetDefaultPolicyVersion:
			return 0.85
		case domain.ActionSTSAssumeRole:
			return 0.80
		default:
			return 0.50
		}
	case domain.EdgeMemberOf, domain.EdgeHasPolicy:
		return 0.99
	default:
		return 0.50
	}
}

// trustIsSatisfied reports whether the role on the target end of a
// can_assume edge trusts the principal on the source end back, i.e. a
// trusts edge exists role -> principal (domain.Edge's trusts direction
// per domain/edge.go's doc comment).
func (e *Engine) trustIsSatisfied(can domain.Edge) bool {
	trusted, err := e.graph.Neighbors(can.Target, domain.Outgoing, domain.EdgeTrusts)
	if err != nil {
		return false
	}
	for _, t := range trusted {
		if t.Other.ID == can.Source {
			return true
		}
	}
	return false
}

func (e *Engine) isAdminRole(nodeID string) bool {
	n, ok := e.graph.GetNode(nodeID)
	return ok && n.PrivilegeLevel >= e.tunables.HighPrivilegeThreshold
}

func severityFromScore(score float64) domain.Severity {
	switch {
	case score >= 80:
		return domain.SeverityCritical
	case score >= 40:
		return domain.SeverityHigh
	case score >= 15:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// alertID computes a stable hash over the ordered (node id, edge kind)
// tuples of the path: identical graph, identical id, across reruns.
func alertID(path domain.Path) string {
	h := sha256.New()
	for i, n := range path.Nodes {
		fmt.Fprintf(h, "%d:%s|", i, n)
	}
	for i, e := range path.Edges {
		fmt.Fprintf(h, "%d:%s:%s:%s|", i, e.Source, e.Kind, e.Target)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// emit inserts or replaces the alert with the same id (a rerun replaces;
// stale alerts from prior scans survive until explicitly purged) and
// fires the plan handler when eligible.
func (e *Engine) emit(a domain.Alert) error {
	e.mu.Lock()
	_, existed := e.alerts[a.ID]
	e.alerts[a.ID] = a
	err := e.persistLocked()
	handler := e.planHandler
	e.mu.Unlock()

	logging.GetMetrics().RecordAlert(string(a.Severity))
	logging.LogInfo("alert_emitted", map[string]interface{}{"alert_id": a.ID, "severity": string(a.Severity)})

	// Only a first emission plans a response; a rescan replacing the same
	// alert does not mint a duplicate plan.
	if handler != nil && !existed && a.Severity != domain.SeverityLow {
		handler(a)
	}
	return err
}

// List returns every retained alert, severity-descending then
// confidence-descending then id-ascending (domain.SeverityLess' order).
func (e *Engine) List() []domain.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return domain.SeverityLess(out[i], out[j]) })
	return out
}

// HighPriority returns alerts with severity in {high, critical}, most
// confident first.
func (e *Engine) HighPriority() []domain.Alert {
	all := e.List()
	out := make([]domain.Alert, 0, len(all))
	for _, a := range all {
		if a.Severity == domain.SeverityHigh || a.Severity == domain.SeverityCritical {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// ByID returns a single alert by identifier.
func (e *Engine) ByID(id string) (domain.Alert, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.alerts[id]
	return a, ok
}

// Purge removes every retained alert. Re-ingest never does this
// implicitly; purging is always an explicit caller operation.
func (e *Engine) Purge() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerts = make(map[string]domain.Alert)
	return e.persistLocked()
}
