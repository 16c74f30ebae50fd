package distribute

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsuite/orchestrator/internal/model"
)

func onlineAgentSet(ids ...string) []model.AgentInfo {
	out := make([]model.AgentInfo, len(ids))
	for i, id := range ids {
		out[i] = model.AgentInfo{ID: id, Status: model.AgentOnline}
	}
	return out
}

func TestDistributeRefusesWhenNoOnlineAgents(t *testing.T) {
	agents := []model.AgentInfo{{ID: "a1", Status: model.AgentOffline}}
	_, err := Distribute([]string{"x"}, agents, Strategy{Kind: StrategyRoundRobin}, nil)
	assert.Error(t, err)
}

func TestRoundRobinPreservesOriginalIndices(t *testing.T) {
	agents := onlineAgentSet("a1", "a2")
	payloads := []string{"p0", "p1", "p2", "p3", "p4"}

	stats, err := Distribute(payloads, agents, Strategy{Kind: StrategyRoundRobin}, nil)
	require.NoError(t, err)
	require.Len(t, stats.Assignments, 2)

	byID := map[string]model.PayloadAssignment{}
	for _, a := range stats.Assignments {
		byID[a.AgentID] = a
	}
	assert.Equal(t, []string{"p0", "p2", "p4"}, byID["a1"].Payloads)
	assert.Equal(t, []int{0, 2, 4}, byID["a1"].OriginalIndices)
	assert.Equal(t, []string{"p1", "p3"}, byID["a2"].Payloads)
	assert.Equal(t, []int{1, 3}, byID["a2"].OriginalIndices)
}

func TestBatchAssignsConsecutiveChunksRotatingAgents(t *testing.T) {
	agents := onlineAgentSet("a1", "a2")
	payloads := []string{"p0", "p1", "p2", "p3", "p4"}

	stats, err := Distribute(payloads, agents, Strategy{Kind: StrategyBatch, BatchSize: 2}, nil)
	require.NoError(t, err)

	byID := map[string]model.PayloadAssignment{}
	for _, a := range stats.Assignments {
		byID[a.AgentID] = a
	}
	assert.Equal(t, []string{"p0", "p1", "p4"}, byID["a1"].Payloads)
	assert.Equal(t, []string{"p2", "p3"}, byID["a2"].Payloads)
}

func TestBatchRefusesNonPositiveSize(t *testing.T) {
	agents := onlineAgentSet("a1")
	_, err := Distribute([]string{"p0"}, agents, Strategy{Kind: StrategyBatch, BatchSize: 0}, nil)
	assert.Error(t, err)
}

func TestLoadBalancedWeightsByCapacityResponseReliability(t *testing.T) {
	agents := onlineAgentSet("fast", "slow")
	loads := map[string]AgentLoad{
		"fast": {AgentID: "fast", CurrentLoad: 0.1, ResponseTimeMS: 50, RecentFailuresLastHour: 0},
		"slow": {AgentID: "slow", CurrentLoad: 0.8, ResponseTimeMS: 2000, RecentFailuresLastHour: 5},
	}
	payloads := make([]string, 100)
	for i := range payloads {
		payloads[i] = "p"
	}

	stats, err := Distribute(payloads, agents, Strategy{Kind: StrategyLoadBalanced}, loads)
	require.NoError(t, err)

	byID := map[string]model.PayloadAssignment{}
	for _, a := range stats.Assignments {
		byID[a.AgentID] = a
	}
	assert.Greater(t, len(byID["fast"].Payloads), len(byID["slow"].Payloads))

	total := 0
	for _, a := range stats.Assignments {
		total += len(a.Payloads)
	}
	assert.Equal(t, 100, total, "rounding residue must be fully accounted for")
}

func TestLoadBalancedEveryAgentGetsAtLeastOnePayload(t *testing.T) {
	agents := onlineAgentSet("weak", "strong")
	loads := map[string]AgentLoad{
		// The weak agent's weight floors at the 0.1 minimum.
		"weak":   {AgentID: "weak", CurrentLoad: 1.0, ResponseTimeMS: 5000, RecentFailuresLastHour: 10},
		"strong": {AgentID: "strong", CurrentLoad: 0.0, ResponseTimeMS: 10, RecentFailuresLastHour: 0},
	}

	stats, err := Distribute([]string{"p0", "p1"}, agents, Strategy{Kind: StrategyLoadBalanced}, loads)
	require.NoError(t, err)

	total := 0
	for _, a := range stats.Assignments {
		assert.NotEmpty(t, a.Payloads, "agent %s must receive at least one payload", a.AgentID)
		assert.GreaterOrEqual(t, a.PriorityWeight, 0.0)
		total += len(a.Payloads)
	}
	assert.Equal(t, 2, total)
}

func TestBalanceFactorIsOneWhenPerfectlyEven(t *testing.T) {
	assignments := []model.PayloadAssignment{
		{AgentID: "a1", Payloads: []string{"a", "b"}},
		{AgentID: "a2", Payloads: []string{"c", "d"}},
	}
	assert.InDelta(t, 1.0, BalanceFactor(assignments), 1e-9)
}

func TestBalanceFactorDropsWithImbalance(t *testing.T) {
	assignments := []model.PayloadAssignment{
		{AgentID: "a1", Payloads: []string{"a", "b", "c", "d", "e", "f", "g", "h"}},
		{AgentID: "a2", Payloads: []string{"x"}},
	}
	f := BalanceFactor(assignments)
	assert.Less(t, f, 1.0)
	assert.GreaterOrEqual(t, f, 0.0)
}

func TestRedistributeExcludesFailedAgent(t *testing.T) {
	agents := onlineAgentSet("a1", "a2", "a3")
	stats, err := Redistribute([]string{"p0", "p1", "p2"}, agents, "a2", nil)
	require.NoError(t, err)
	for _, a := range stats.Assignments {
		assert.NotEqual(t, "a2", a.AgentID)
	}
	assert.Equal(t, 2, stats.TotalAgents)
}

func TestFailureTrackerPrunesOlderThanOneHour(t *testing.T) {
	tr := NewFailureTracker()
	tr.mu.Lock()
	tr.failures["a1"] = []time.Time{time.Now().Add(-2 * time.Hour), time.Now().Add(-10 * time.Minute)}
	tr.mu.Unlock()

	assert.Equal(t, 1, tr.CountLastHour("a1"))
}

func TestFailureTrackerRecordAndLoads(t *testing.T) {
	tr := NewFailureTracker()
	tr.RecordFailure("a1")
	tr.RecordFailure("a1")

	loads := tr.Loads(map[string]float64{"a1": 0.5, "a2": 0.1}, map[string]float64{"a1": 200, "a2": 100})
	assert.Equal(t, 2, loads["a1"].RecentFailuresLastHour)
	assert.Equal(t, 0, loads["a2"].RecentFailuresLastHour)
}
