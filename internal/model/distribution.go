package model

import "time"

// PayloadAssignment is the slice of payloads routed to one agent, plus the
// original indices into the combined payload stream. StartIndex and
// EndIndex are the lowest and highest source index the agent received; the
// indices between them need not all belong to this agent (RoundRobin
// interleaves, and Batch rotates chunks across agents). OriginalIndices
// carries the exact source index of every payload.
type PayloadAssignment struct {
	AgentID         string
	Payloads        []string
	StartIndex      int
	EndIndex        int
	OriginalIndices []int
	PriorityWeight  float64
}

// DistributionStats summarizes one distribution call.
type DistributionStats struct {
	TotalPayloads int
	TotalAgents   int
	Assignments   []PayloadAssignment
	BalanceFactor float64 // 1 / (1 + coefficient of variation)
	EstimatedTime *time.Duration
}
