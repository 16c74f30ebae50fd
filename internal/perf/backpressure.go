package perf

import "github.com/vectorsuite/orchestrator/internal/model"

// EvaluateBackpressure grades system load against memory and CPU thresholds
// and stores the result for AcquireRequestPermit to consult. cpu is a
// fraction in [0,1]; memoryMB is graded against multiples of the configured
// base threshold.
func (m *Monitor) EvaluateBackpressure(memoryMB, cpu float64) (model.BackpressureLevel, model.BackpressureReason) {
	threshold := m.cfg.MemoryThresholdMB
	if threshold <= 0 {
		threshold = DefaultConfig().MemoryThresholdMB
	}

	memCritical := memoryMB > 2*threshold
	memHigh := memoryMB > 1.5*threshold
	memMedium := memoryMB > 1.2*threshold
	memLow := memoryMB > threshold

	cpuCritical := cpu > 0.95
	cpuHigh := cpu > 0.90
	cpuMedium := cpu > 0.85
	cpuLow := cpu > 0.80

	level := model.BackpressureNone
	var reason model.BackpressureReason

	switch {
	case cpuCritical && memCritical:
		level, reason = model.BackpressureCritical, model.ReasonSystemResourceExhausted
	case cpuCritical:
		level, reason = model.BackpressureCritical, model.ReasonCPUOverload
	case memCritical:
		level, reason = model.BackpressureCritical, model.ReasonMemoryPressure
	case cpuHigh && memHigh:
		level, reason = model.BackpressureHigh, model.ReasonSystemResourceExhausted
	case cpuHigh:
		level, reason = model.BackpressureHigh, model.ReasonCPUOverload
	case memHigh:
		level, reason = model.BackpressureHigh, model.ReasonMemoryPressure
	case cpuMedium && memMedium:
		level, reason = model.BackpressureMedium, model.ReasonSystemResourceExhausted
	case cpuMedium:
		level, reason = model.BackpressureMedium, model.ReasonCPUOverload
	case memMedium:
		level, reason = model.BackpressureMedium, model.ReasonMemoryPressure
	case cpuLow && memLow:
		level, reason = model.BackpressureLow, model.ReasonSystemResourceExhausted
	case cpuLow:
		level, reason = model.BackpressureLow, model.ReasonCPUOverload
	case memLow:
		level, reason = model.BackpressureLow, model.ReasonMemoryPressure
	default:
		level, reason = model.BackpressureNone, model.ReasonNone
	}

	m.mu.Lock()
	m.backpressure = level
	m.backpressureReason = reason
	m.system.MemoryMB = &memoryMB
	m.system.CPUPercent = &cpu
	sink := m.sink
	m.mu.Unlock()

	if sink != nil {
		sink.BackpressureLevel.Set(float64(level))
	}

	return level, reason
}
