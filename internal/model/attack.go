package model

import "time"

// AttackMode is the rule combining payload positions and sets into the
// concrete request sequence.
type AttackMode string

const (
	ModeSniper       AttackMode = "sniper"
	ModeBatteringRam AttackMode = "battering_ram"
	ModePitchfork    AttackMode = "pitchfork"
	ModeClusterBomb  AttackMode = "cluster_bomb"
)

// AttackStatus is the lifecycle of a running or completed attack.
type AttackStatus string

const (
	AttackConfigured AttackStatus = "configured"
	AttackStarting   AttackStatus = "starting"
	AttackRunning    AttackStatus = "running"
	AttackPausing    AttackStatus = "pausing"
	AttackPaused     AttackStatus = "paused"
	AttackStopping   AttackStatus = "stopping"
	AttackCompleted  AttackStatus = "completed"
	AttackFailed     AttackStatus = "failed"
	AttackCancelled  AttackStatus = "cancelled"
)

// AgentStats is per-agent bookkeeping folded into AttackProgress.
type AgentStats struct {
	AgentID      string
	Dispatched   int
	Completed    int
	Successful   int
	Failed       int
	AvgLatencyMS float64
}

// AttackProgress is the coordinator-owned snapshot of one attack's
// lifecycle. Successive broadcasts for the same attack must have
// non-decreasing Completed and equal Total.
type AttackProgress struct {
	AttackID          string
	Status            AttackStatus
	Total             int
	Completed         int
	Successful        int
	Failed            int
	Highlighted       int
	RequestsPerSecond float64
	AvgLatencyMS      float64
	EstimatedEndAt    *time.Time
	PerAgent          map[string]*AgentStats
	StartedAt         *time.Time
	EndedAt           *time.Time
}

// Clone returns a deep-enough copy safe to hand to a broadcast subscriber
// without sharing the coordinator's mutable map.
func (p AttackProgress) Clone() AttackProgress {
	out := p
	out.PerAgent = make(map[string]*AgentStats, len(p.PerAgent))
	for k, v := range p.PerAgent {
		cp := *v
		out.PerAgent[k] = &cp
	}
	return out
}
