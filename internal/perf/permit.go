// Package perf implements the performance monitor: global and per-agent
// concurrency permits, backpressure grading, EWMA metric updates, system
// sampling and the periodic load-balancing adjustment pass.
package perf

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/metrics"
	"github.com/vectorsuite/orchestrator/internal/model"
)

// Config bounds the monitor's concurrency and history retention.
type Config struct {
	GlobalMaxConcurrent   int
	MaxConcurrentPerAgent int
	HistorySize           int // per-agent bounded metrics history
	MemoryThresholdMB     float64
}

// DefaultConfig mirrors reasonable orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		GlobalMaxConcurrent:   200,
		MaxConcurrentPerAgent: 20,
		HistorySize:           200,
		MemoryThresholdMB:     512,
	}
}

// Monitor owns the semaphores, per-agent metrics, and backpressure state
// shared by every worker in the execution coordinator. The semaphores are
// the only contention-bearing primitives on the request path; everything
// else mutates under short critical sections.
type Monitor struct {
	cfg     Config
	sink    *metrics.Metrics
	service string

	global chan struct{}

	mu                 sync.Mutex
	perAgent           map[string]chan struct{}
	limiters           map[string]*rate.Limiter // optional advertised-RPS cap per agent
	agents             map[string]*agentState
	backpressure       model.BackpressureLevel
	backpressureReason model.BackpressureReason
	system             model.AgentPerformanceMetrics // system-wide rollup, AgentID empty
}

type agentState struct {
	current model.AgentPerformanceMetrics
	history []model.AgentPerformanceMetrics
}

// New creates a Monitor with its global semaphore sized per cfg.
func New(cfg Config) *Monitor {
	if cfg.GlobalMaxConcurrent <= 0 {
		cfg.GlobalMaxConcurrent = DefaultConfig().GlobalMaxConcurrent
	}
	if cfg.MaxConcurrentPerAgent <= 0 {
		cfg.MaxConcurrentPerAgent = DefaultConfig().MaxConcurrentPerAgent
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	return &Monitor{
		cfg:      cfg,
		global:   make(chan struct{}, cfg.GlobalMaxConcurrent),
		perAgent: make(map[string]chan struct{}),
		limiters: make(map[string]*rate.Limiter),
		agents:   make(map[string]*agentState),
	}
}

// UseMetrics attaches a Prometheus sink so permit completions and
// backpressure evaluations are exported for scraping. service labels the
// exported series; nil disables export.
func (m *Monitor) UseMetrics(sink *metrics.Metrics, service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
	m.service = service
}

// InitAgent provisions a per-agent permit channel and, if advertisedRPS>0,
// an x/time/rate limiter capping that agent's request issue rate to its
// advertised capacity.
func (m *Monitor) InitAgent(agentID string, advertisedRPS float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perAgent[agentID]; !ok {
		m.perAgent[agentID] = make(chan struct{}, m.cfg.MaxConcurrentPerAgent)
	}
	if advertisedRPS > 0 {
		m.limiters[agentID] = rate.NewLimiter(rate.Limit(advertisedRPS), int(advertisedRPS)+1)
	}
	if _, ok := m.agents[agentID]; !ok {
		m.agents[agentID] = &agentState{current: model.AgentPerformanceMetrics{AgentID: agentID, Health: 1}}
	}
}

// PermitHandle is returned by AcquireRequestPermit. Complete must be called
// exactly once; further calls are no-ops, so a deferred Complete after an
// early return never double-releases.
type PermitHandle struct {
	m         *Monitor
	agentID   string
	startedAt time.Time
	released  bool
}

var backpressureDelay = map[model.BackpressureLevel]time.Duration{
	model.BackpressureLow:    100 * time.Millisecond,
	model.BackpressureMedium: 500 * time.Millisecond,
	model.BackpressureHigh:   1000 * time.Millisecond,
}

func transientRejected(reason string) error {
	return errortax.New(errortax.KindResourceExhaustion, reason)
}

// AcquireRequestPermit consults backpressure (Critical rejects, lower levels
// apply a graded delay), then takes the global permit, the per-agent permit,
// and increments the agent's in-flight count.
func (m *Monitor) AcquireRequestPermit(ctx context.Context, agentID string) (*PermitHandle, error) {
	level, _ := m.Backpressure()
	switch level {
	case model.BackpressureCritical:
		return nil, transientRejected("backpressure critical: rejecting new permit acquisition")
	case model.BackpressureLow, model.BackpressureMedium, model.BackpressureHigh:
		select {
		case <-time.After(backpressureDelay[level]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if limiter := m.limiterFor(agentID); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	select {
	case m.global <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	perAgent := m.perAgentChan(agentID)
	select {
	case perAgent <- struct{}{}:
	case <-ctx.Done():
		<-m.global
		return nil, ctx.Err()
	}

	m.mu.Lock()
	state := m.agents[agentID]
	if state == nil {
		state = &agentState{current: model.AgentPerformanceMetrics{AgentID: agentID, Health: 1}}
		m.agents[agentID] = state
	}
	state.current.ActiveInFlight++
	m.mu.Unlock()

	return &PermitHandle{m: m, agentID: agentID, startedAt: time.Now()}, nil
}

func (m *Monitor) perAgentChan(agentID string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.perAgent[agentID]
	if !ok {
		ch = make(chan struct{}, m.cfg.MaxConcurrentPerAgent)
		m.perAgent[agentID] = ch
	}
	return ch
}

func (m *Monitor) limiterFor(agentID string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limiters[agentID]
}

// Complete releases the permit and records the outcome. Safe to call at
// most once; subsequent calls are no-ops.
func (h *PermitHandle) Complete(success bool) {
	if h == nil || h.released {
		return
	}
	h.released = true
	duration := time.Since(h.startedAt)

	<-h.m.perAgentChan(h.agentID)
	<-h.m.global

	h.m.recordCompletion(h.agentID, duration, success)
}

// Backpressure returns the current graded level and its reason.
func (m *Monitor) Backpressure() (model.BackpressureLevel, model.BackpressureReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backpressure, m.backpressureReason
}
