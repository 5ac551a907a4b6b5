package rules

import "sync/atomic"

// Metrics tracks rule evaluation statistics with atomic counters.
type Metrics struct {
	Evaluated    atomic.Int64
	Matched      atomic.Int64
	Blocked      atomic.Int64
	Errors       atomic.Int64
	Logged       atomic.Int64
	ActionCounts map[string]*atomic.Int64 // action type -> count, map itself is read-only after init
}

// NewMetrics creates a Metrics with pre-initialized action counters for
// every non-terminating action type the engine supports.
func NewMetrics() *Metrics {
	m := &Metrics{
		ActionCounts: make(map[string]*atomic.Int64),
	}
	for _, a := range []string{"set_headers", "rewrite", "group", "log"} {
		m.ActionCounts[a] = &atomic.Int64{}
	}
	return m
}

// IncrAction increments the counter for the given action type.
func (m *Metrics) IncrAction(actionType string) {
	if c, ok := m.ActionCounts[actionType]; ok {
		c.Add(1)
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics for JSON serialization.
type MetricsSnapshot struct {
	Evaluated    int64            `json:"evaluated"`
	Matched      int64            `json:"matched"`
	Blocked      int64            `json:"blocked"`
	Errors       int64            `json:"errors"`
	Logged       int64            `json:"logged"`
	ActionCounts map[string]int64 `json:"action_counts,omitempty"`
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Evaluated: m.Evaluated.Load(),
		Matched:   m.Matched.Load(),
		Blocked:   m.Blocked.Load(),
		Errors:    m.Errors.Load(),
		Logged:    m.Logged.Load(),
	}
	if len(m.ActionCounts) > 0 {
		snap.ActionCounts = make(map[string]int64, len(m.ActionCounts))
		for k, v := range m.ActionCounts {
			if n := v.Load(); n > 0 {
				snap.ActionCounts[k] = n
			}
		}
	}
	return snap
}
