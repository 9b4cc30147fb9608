package logging

import (
	"sync"
	"time"
)

// Metrics is the in-process counters registry. It is not a metrics
// exporter; its Snapshot is returned by GET /api/graph/stats alongside
// the graph's node and edge counts.
type Metrics struct {
	StartTime        time.Time
	TotalScans       int
	AlertsBySeverity map[string]int
	PlansByState     map[string]int
	ActionsByOutcome map[string]int
	mu               sync.RWMutex
}

var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance (singleton).
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			StartTime:        time.Now(),
			AlertsBySeverity: make(map[string]int),
			PlansByState:     make(map[string]int),
			ActionsByOutcome: make(map[string]int),
		}
	})
	return globalMetrics
}

// RecordScan increments the total scan counter.
func (m *Metrics) RecordScan() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalScans++
}

// RecordAlert increments the counter for the given severity.
func (m *Metrics) RecordAlert(severity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AlertsBySeverity[severity]++
}

// RecordPlan increments the counter for the given plan state.
func (m *Metrics) RecordPlan(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlansByState[state]++
}

// RecordAction increments the counter for the given action outcome
// (completed, failed, rolled_back).
func (m *Metrics) RecordAction(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ActionsByOutcome[outcome]++
}

// Snapshot returns a point-in-time copy safe for JSON marshaling, used
// by the /api/graph/stats handler.
func (m *Metrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	severities := make(map[string]int, len(m.AlertsBySeverity))
	for k, v := range m.AlertsBySeverity {
		severities[k] = v
	}
	states := make(map[string]int, len(m.PlansByState))
	for k, v := range m.PlansByState {
		states[k] = v
	}
	outcomes := make(map[string]int, len(m.ActionsByOutcome))
	for k, v := range m.ActionsByOutcome {
		outcomes[k] = v
	}

	return map[string]interface{}{
		"uptime_seconds":     time.Since(m.StartTime).Seconds(),
		"total_scans":        m.TotalScans,
		"alerts_by_severity": severities,
		"plans_by_state":     states,
		"actions_by_outcome": outcomes,
	}
}
