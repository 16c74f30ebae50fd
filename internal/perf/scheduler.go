package perf

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vectorsuite/orchestrator/internal/logging"
	"github.com/vectorsuite/orchestrator/internal/model"
)

// LoadBalanceAdjustment is a proposed per-agent weight change, rate-limited
// to at most one per agent per minute.
type LoadBalanceAdjustment struct {
	AgentID           string
	PerformanceFactor float64
	ProposedWeight    float64
	Reason            string
}

// Thresholds gate when the 30s load-balancing task proposes an adjustment.
type Thresholds struct {
	AvgResponseMS float64
	ErrorRate     float64
}

// DefaultThresholds mirrors typical HTTP-attack latency/error limits.
func DefaultThresholds() Thresholds {
	return Thresholds{AvgResponseMS: 2000, ErrorRate: 0.1}
}

// Scheduler drives the monitor's two periodic tasks via robfig/cron: the 5s
// system-metrics sampler and the 30s load-balancing adjustment pass.
type Scheduler struct {
	cron       *cron.Cron
	monitor    *Monitor
	sampler    *SystemMetricsSampler
	thresholds Thresholds
	log        *logging.Logger

	mu           sync.Mutex
	lastAdjusted map[string]time.Time
	onAdjust     func(LoadBalanceAdjustment)
}

// NewScheduler wires the cron-backed periodic tasks; onAdjust receives each
// proposed adjustment (typically forwarded to the distributor).
func NewScheduler(monitor *Monitor, sampler *SystemMetricsSampler, thresholds Thresholds, log *logging.Logger, onAdjust func(LoadBalanceAdjustment)) *Scheduler {
	return &Scheduler{
		cron:         cron.New(cron.WithSeconds()),
		monitor:      monitor,
		sampler:      sampler,
		thresholds:   thresholds,
		log:          log,
		lastAdjusted: make(map[string]time.Time),
		onAdjust:     onAdjust,
	}
}

// Start registers the cron entries and begins running them.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.sampler != nil {
		if _, err := s.cron.AddFunc("*/5 * * * * *", func() { s.sampler.SampleOnce(ctx) }); err != nil {
			return err
		}
	}
	if _, err := s.cron.AddFunc("*/30 * * * * *", func() { s.runLoadBalancePass() }); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler and awaits in-flight jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// runLoadBalancePass inspects the most recent metrics per agent and
// proposes adjustments, rate-limited to one per agent per minute.
func (s *Scheduler) runLoadBalancePass() {
	for _, metrics := range s.monitor.AllAgentMetrics() {
		needsAdjustment := metrics.AvgResponseMS > s.thresholds.AvgResponseMS ||
			metrics.ErrorRate > s.thresholds.ErrorRate ||
			metrics.Overloaded
		if !needsAdjustment {
			continue
		}

		s.mu.Lock()
		last, seen := s.lastAdjusted[metrics.AgentID]
		if seen && time.Since(last) < time.Minute {
			s.mu.Unlock()
			continue
		}
		s.lastAdjusted[metrics.AgentID] = time.Now()
		s.mu.Unlock()

		factor := performanceFactor(metrics.AvgResponseMS, metrics.ErrorRate)
		adjustment := LoadBalanceAdjustment{
			AgentID:           metrics.AgentID,
			PerformanceFactor: factor,
			ProposedWeight:    factor,
			Reason:            adjustmentReason(metrics, s.thresholds),
		}
		if s.log != nil {
			s.log.WithFields(map[string]interface{}{
				"agent_id": adjustment.AgentID,
				"factor":   adjustment.PerformanceFactor,
				"reason":   adjustment.Reason,
			}).Info("load balance adjustment proposed")
		}
		if s.onAdjust != nil {
			s.onAdjust(adjustment)
		}
	}
}

func performanceFactor(avgResponseMS, errorRate float64) float64 {
	return health(errorRate, avgResponseMS)
}

func adjustmentReason(metrics model.AgentPerformanceMetrics, t Thresholds) string {
	switch {
	case metrics.Overloaded:
		return "overloaded"
	case metrics.AvgResponseMS > t.AvgResponseMS:
		return "avg_response_time_exceeded"
	case metrics.ErrorRate > t.ErrorRate:
		return "error_rate_exceeded"
	default:
		return "unspecified"
	}
}
