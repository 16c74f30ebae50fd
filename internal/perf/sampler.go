package perf

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/vectorsuite/orchestrator/internal/logging"
)

// SystemMetricsSampler reads process memory and host CPU and folds them
// into the monitor's backpressure evaluation.
type SystemMetricsSampler struct {
	monitor *Monitor
	log     *logging.Logger
	proc    *process.Process
}

// NewSystemMetricsSampler binds a sampler to the running process.
func NewSystemMetricsSampler(monitor *Monitor, log *logging.Logger) (*SystemMetricsSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &SystemMetricsSampler{monitor: monitor, log: log, proc: proc}, nil
}

// SampleOnce reads current memory/CPU and evaluates backpressure.
func (s *SystemMetricsSampler) SampleOnce(ctx context.Context) {
	memInfo, err := s.proc.MemoryInfoWithContext(ctx)
	var memoryMB float64
	if err == nil && memInfo != nil {
		memoryMB = float64(memInfo.RSS) / (1024 * 1024)
	}

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	var cpuFraction float64
	if err == nil && len(cpuPercents) > 0 {
		cpuFraction = cpuPercents[0] / 100
	}

	level, reason := s.monitor.EvaluateBackpressure(memoryMB, cpuFraction)
	if s.log != nil && level > 0 {
		s.log.WithFields(map[string]interface{}{
			"level":     level.String(),
			"reason":    reason,
			"memory_mb": memoryMB,
			"cpu":       cpuFraction,
		}).Warn("backpressure active")
	}
}

// Run calls SampleOnce every interval (5s when interval is not positive)
// until ctx is cancelled.
func (s *SystemMetricsSampler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}
