// Package distribute implements the payload distributor: RoundRobin, Batch
// and LoadBalanced strategies over the set of Online agents, plus
// redistribution on agent failure and a balance-factor observability
// metric.
package distribute

import (
	"math"
	"sort"

	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/model"
)

// StrategyKind is the closed set of distribution strategies.
type StrategyKind string

const (
	StrategyRoundRobin   StrategyKind = "round_robin"
	StrategyBatch        StrategyKind = "batch"
	StrategyLoadBalanced StrategyKind = "load_balanced"
)

// Strategy is a tagged-variant distribution strategy configuration.
type Strategy struct {
	Kind      StrategyKind
	BatchSize int // only meaningful for StrategyBatch
}

// AgentLoad carries the inputs to the LoadBalanced weighting formula for
// one agent.
type AgentLoad struct {
	AgentID                string
	CurrentLoad            float64 // fraction of capacity in use, [0,1]
	ResponseTimeMS         float64
	RecentFailuresLastHour int
}

func unavailable(reason string) error {
	return errortax.New(errortax.KindAgentUnavailable, reason)
}

func invalidConfig(reason string) error {
	return errortax.New(errortax.KindInvalidAttackConfig, reason)
}

// Distribute filters agents to Online, then applies strategy. Returns
// AgentUnavailable if no Online agent remains.
func Distribute(payloads []string, agents []model.AgentInfo, strategy Strategy, loads map[string]AgentLoad) (model.DistributionStats, error) {
	online := onlineAgents(agents)
	if len(online) == 0 {
		return model.DistributionStats{}, unavailable("no online agents available for distribution")
	}

	var assignments []model.PayloadAssignment
	var err error
	switch strategy.Kind {
	case StrategyRoundRobin:
		assignments = roundRobin(payloads, online)
	case StrategyBatch:
		if strategy.BatchSize <= 0 {
			return model.DistributionStats{}, invalidConfig("batch strategy requires a positive batch size")
		}
		assignments = batch(payloads, online, strategy.BatchSize)
	case StrategyLoadBalanced:
		assignments = loadBalanced(payloads, online, loads)
	default:
		return model.DistributionStats{}, invalidConfig("unknown distribution strategy")
	}
	if err != nil {
		return model.DistributionStats{}, err
	}

	return model.DistributionStats{
		TotalPayloads: len(payloads),
		TotalAgents:   len(online),
		Assignments:   assignments,
		BalanceFactor: balanceFactor(assignments),
	}, nil
}

func onlineAgents(agents []model.AgentInfo) []model.AgentInfo {
	out := make([]model.AgentInfo, 0, len(agents))
	for _, a := range agents {
		if a.IsHealthy() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// roundRobin assigns payload i to agents[i mod N], preserving original
// indices per payload since the resulting per-agent slices are interleaved.
func roundRobin(payloads []string, agents []model.AgentInfo) []model.PayloadAssignment {
	n := len(agents)
	byAgent := make(map[string]*model.PayloadAssignment, n)
	order := make([]string, 0, n)
	for _, a := range agents {
		byAgent[a.ID] = &model.PayloadAssignment{AgentID: a.ID, StartIndex: -1, EndIndex: -1}
		order = append(order, a.ID)
	}

	for i, p := range payloads {
		agentID := order[i%n]
		a := byAgent[agentID]
		a.Payloads = append(a.Payloads, p)
		a.OriginalIndices = append(a.OriginalIndices, i)
		if a.StartIndex == -1 || i < a.StartIndex {
			a.StartIndex = i
		}
		if i > a.EndIndex {
			a.EndIndex = i
		}
	}

	out := make([]model.PayloadAssignment, 0, n)
	for _, id := range order {
		out = append(out, *byAgent[id])
	}
	return out
}

// batch assigns consecutive chunks of size payloads per agent, rotating
// agents by chunk.
func batch(payloads []string, agents []model.AgentInfo, size int) []model.PayloadAssignment {
	n := len(agents)
	byAgent := make(map[string]*model.PayloadAssignment, n)
	order := make([]string, 0, n)
	for _, a := range agents {
		byAgent[a.ID] = &model.PayloadAssignment{AgentID: a.ID, StartIndex: -1, EndIndex: -1}
		order = append(order, a.ID)
	}

	chunk := 0
	for start := 0; start < len(payloads); start += size {
		end := start + size
		if end > len(payloads) {
			end = len(payloads)
		}
		agentID := order[chunk%n]
		a := byAgent[agentID]
		for i := start; i < end; i++ {
			a.Payloads = append(a.Payloads, payloads[i])
			a.OriginalIndices = append(a.OriginalIndices, i)
		}
		if a.StartIndex == -1 || start < a.StartIndex {
			a.StartIndex = start
		}
		if end-1 > a.EndIndex {
			a.EndIndex = end - 1
		}
		chunk++
	}

	out := make([]model.PayloadAssignment, 0, n)
	for _, id := range order {
		out = append(out, *byAgent[id])
	}
	return out
}

// loadBalanced weights each agent by capacity*response*reliability and
// allocates payloads proportional to normalized weight, appending any
// rounding residue to the highest-weight assignment. When there are at
// least as many payloads as agents, every agent is seeded with one payload
// before the proportional split, so no online agent sits idle behind a
// floored low weight.
func loadBalanced(payloads []string, agents []model.AgentInfo, loads map[string]AgentLoad) []model.PayloadAssignment {
	weights := make([]float64, len(agents))
	var total float64
	for i, a := range agents {
		w := agentWeight(loads[a.ID])
		weights[i] = w
		total += w
	}
	if total == 0 {
		total = float64(len(agents))
		for i := range weights {
			weights[i] = 1
		}
	}

	counts := make([]int, len(agents))
	remaining := len(payloads)
	if remaining >= len(agents) {
		for i := range counts {
			counts[i] = 1
		}
		remaining -= len(agents)
	}

	allocated := 0
	shares := make([]int, len(agents))
	for i, w := range weights {
		n := int(math.Floor(w / total * float64(remaining)))
		shares[i] = n
		allocated += n
	}
	residue := remaining - allocated
	if residue > 0 {
		hi := 0
		for i, w := range weights {
			if w > weights[hi] {
				hi = i
			}
		}
		shares[hi] += residue
	}
	for i := range counts {
		counts[i] += shares[i]
	}

	out := make([]model.PayloadAssignment, len(agents))
	cursor := 0
	for i, a := range agents {
		n := counts[i]
		assignment := model.PayloadAssignment{
			AgentID:        a.ID,
			PriorityWeight: weights[i] / total,
			StartIndex:     -1,
			EndIndex:       -1,
		}
		if n > 0 {
			assignment.Payloads = append([]string{}, payloads[cursor:cursor+n]...)
			assignment.OriginalIndices = indexRange(cursor, cursor+n)
			assignment.StartIndex = cursor
			assignment.EndIndex = cursor + n - 1
		}
		cursor += n
		out[i] = assignment
	}
	return out
}

func agentWeight(l AgentLoad) float64 {
	capacity := 1 - l.CurrentLoad
	if capacity < 0 {
		capacity = 0
	}
	response := 1 / (1 + l.ResponseTimeMS/1000)
	failures := l.RecentFailuresLastHour
	if failures > 10 {
		failures = 10
	}
	reliability := float64(10-failures) / 10
	w := capacity * response * reliability
	if w < 0.1 {
		w = 0.1
	}
	return w
}

func indexRange(start, end int) []int {
	out := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}

// Redistribute reallocates a failed agent's remaining payloads via
// LoadBalanced across the remaining Online agents.
func Redistribute(remaining []string, agents []model.AgentInfo, failedAgentID string, loads map[string]AgentLoad) (model.DistributionStats, error) {
	var survivors []model.AgentInfo
	for _, a := range agents {
		if a.ID != failedAgentID {
			survivors = append(survivors, a)
		}
	}
	return Distribute(remaining, survivors, Strategy{Kind: StrategyLoadBalanced}, loads)
}

// BalanceFactor computes 1 / (1 + sigma/mu) over per-agent payload counts,
// clamped to [0,1]. Reported for observability only.
func BalanceFactor(assignments []model.PayloadAssignment) float64 {
	return balanceFactor(assignments)
}

func balanceFactor(assignments []model.PayloadAssignment) float64 {
	n := len(assignments)
	if n == 0 {
		return 1
	}
	counts := make([]float64, n)
	var sum float64
	for i, a := range assignments {
		counts[i] = float64(len(a.Payloads))
		sum += counts[i]
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 1
	}
	var variance float64
	for _, c := range counts {
		d := c - mean
		variance += d * d
	}
	variance /= float64(n)
	sigma := math.Sqrt(variance)
	factor := 1 / (1 + sigma/mean)
	if factor < 0 {
		return 0
	}
	if factor > 1 {
		return 1
	}
	return factor
}
