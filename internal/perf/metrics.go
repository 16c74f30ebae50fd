package perf

import (
	"time"

	"github.com/vectorsuite/orchestrator/internal/model"
)

const ewmaAlpha = 0.1

// recordCompletion folds one request's outcome into the agent's rolling
// metrics: completed/failed counters, EWMA response time, error rate,
// health, overloaded flag, then a bounded history append that trims to the
// most recent half on overflow.
func (m *Monitor) recordCompletion(agentID string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.agents[agentID]
	if !ok {
		state = &agentState{current: model.AgentPerformanceMetrics{AgentID: agentID, Health: 1}}
		m.agents[agentID] = state
	}
	c := &state.current
	if c.ActiveInFlight > 0 {
		c.ActiveInFlight--
	}
	c.Completed++
	if !success {
		c.Failed++
	}

	observedMS := float64(duration.Milliseconds())
	if c.AvgResponseMS == 0 {
		c.AvgResponseMS = observedMS
	} else {
		c.AvgResponseMS = ewmaAlpha*observedMS + (1-ewmaAlpha)*c.AvgResponseMS
	}

	if c.Completed > 0 {
		c.ErrorRate = float64(c.Failed) / float64(c.Completed)
	}

	c.Health = health(c.ErrorRate, c.AvgResponseMS)
	c.Overloaded = c.Health < 0.3

	state.history = append(state.history, *c)
	if len(state.history) > m.cfg.HistorySize {
		half := len(state.history) / 2
		state.history = append([]model.AgentPerformanceMetrics{}, state.history[half:]...)
	}

	if m.sink != nil {
		status := "success"
		if !success {
			status = "failure"
		}
		m.sink.RecordAgentRequest(m.service, agentID, status, duration)
		m.sink.SetAgentHealth(m.service, agentID, c.Health)
	}
}

// health weights the error rate at 0.6 and a sub-second speed factor at 0.4.
func health(errorRate, avgResponseMS float64) float64 {
	speedFactor := 1.0
	if avgResponseMS > 0 {
		speedFactor = 1000 / avgResponseMS
		if speedFactor > 1 {
			speedFactor = 1
		}
	}
	return 0.6*(1-errorRate) + 0.4*speedFactor
}

// AgentMetrics returns a copy of the current rolling metrics for agentID.
func (m *Monitor) AgentMetrics(agentID string) (model.AgentPerformanceMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.agents[agentID]
	if !ok {
		return model.AgentPerformanceMetrics{}, false
	}
	return state.current, true
}

// AgentHistory returns a copy of the bounded metrics history for agentID.
func (m *Monitor) AgentHistory(agentID string) []model.AgentPerformanceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.agents[agentID]
	if !ok {
		return nil
	}
	out := make([]model.AgentPerformanceMetrics, len(state.history))
	copy(out, state.history)
	return out
}

// AllAgentMetrics returns a snapshot of every tracked agent's metrics.
func (m *Monitor) AllAgentMetrics() []model.AgentPerformanceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AgentPerformanceMetrics, 0, len(m.agents))
	for _, state := range m.agents {
		out = append(out, state.current)
	}
	return out
}
