package distribute

import (
	"sync"
	"time"
)

// FailureWindow is the rolling window used for the LoadBalanced reliability
// term; failures older than this are pruned.
const FailureWindow = time.Hour

// FailureTracker records per-agent failure timestamps and reports counts
// within the last hour, feeding agentWeight's reliability term.
type FailureTracker struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewFailureTracker creates an empty tracker.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{failures: make(map[string][]time.Time)}
}

// RecordFailure appends a failure timestamp for agentID.
func (t *FailureTracker) RecordFailure(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[agentID] = append(t.failures[agentID], time.Now())
}

// CountLastHour returns the number of failures recorded for agentID within
// the last hour, pruning older entries as a side effect.
func (t *FailureTracker) CountLastHour(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-FailureWindow)
	kept := t.failures[agentID][:0]
	for _, ts := range t.failures[agentID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.failures[agentID] = kept
	return len(kept)
}

// Loads builds an AgentLoad map for agents using each one's current load,
// response time and pruned failure count, suitable for passing to
// Distribute/Redistribute with StrategyLoadBalanced.
func (t *FailureTracker) Loads(currentLoad map[string]float64, responseTimeMS map[string]float64) map[string]AgentLoad {
	t.mu.Lock()
	ids := make([]string, 0, len(t.failures))
	for id := range t.failures {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for id := range currentLoad {
		if !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}

	out := make(map[string]AgentLoad, len(ids))
	for _, id := range ids {
		out[id] = AgentLoad{
			AgentID:                id,
			CurrentLoad:            currentLoad[id],
			ResponseTimeMS:         responseTimeMS[id],
			RecentFailuresLastHour: t.CountLastHour(id),
		}
	}
	return out
}
