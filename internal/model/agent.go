package model

import "time"

// AgentStatus tracks an agent's registration/health lifecycle.
type AgentStatus string

const (
	AgentOnline     AgentStatus = "online"
	AgentOffline    AgentStatus = "offline"
	AgentConnecting AgentStatus = "connecting"
	AgentError      AgentStatus = "error"
)

// AgentInfo describes one worker agent. Ownership: mutated only by the
// registry in response to registration/heartbeat/failure events.
type AgentInfo struct {
	ID                   string
	Hostname             string
	Status               AgentStatus
	LastHeartbeat        time.Time
	Capabilities         []string
	AdvertisedResponseMS int64
}

// IsHealthy reports whether the agent should be considered for distribution.
func (a AgentInfo) IsHealthy() bool {
	return a.Status == AgentOnline
}
