package coordinator

import (
	"context"
	"time"

	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/stream"
)

// runIngress is the single consumer of an attack's result channel and the
// sole writer of its Progress counters. It feeds the buffered writer, runs
// highlight evaluation, publishes NewResult/HighlightedResult events, and
// recomputes Progress on a fixed cadence plus immediately at completion.
func (c *Coordinator) runIngress(ra *runningAttack) {
	cadence := c.cfg.ProgressCadence
	if cadence <= 0 {
		cadence = 500 * time.Millisecond
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	var completedDelta, successfulDelta, failedDelta, highlightedDelta int
	start := ra.startedAt

	flushProgress := func() {
		if completedDelta == 0 && successfulDelta == 0 && failedDelta == 0 && highlightedDelta == 0 {
			return
		}
		ra.mu.Lock()
		ra.progress = stream.RecomputeProgress(ra.progress, completedDelta, successfulDelta, failedDelta, highlightedDelta, time.Since(start))
		snap := ra.progress.Clone()
		ra.mu.Unlock()
		completedDelta, successfulDelta, failedDelta, highlightedDelta = 0, 0, 0, 0

		c.broadcaster.Publish(stream.Event{
			Kind:     stream.EventProgressUpdate,
			AttackID: ra.cfg.AttackID,
			Progress: &snap,
			At:       time.Now(),
		})
	}

loop:
	for {
		select {
		case result, ok := <-ra.resultCh:
			if !ok {
				break loop
			}
			c.ingestResult(ra, result)

			completedDelta++
			if result.Success() {
				successfulDelta++
			} else {
				failedDelta++
			}
			if result.IsHighlighted {
				highlightedDelta++
			}
		case <-ticker.C:
			flushProgress()
		}
	}

	flushProgress()
	ra.writer.Stop()

	ra.mu.Lock()
	if ra.stopRequested.Load() {
		ra.progress.Status = model.AttackCancelled
	} else {
		ra.progress.Status = model.AttackCompleted
	}
	now := time.Now()
	ra.progress.EndedAt = &now
	summary := ra.progress.Clone()
	ra.mu.Unlock()

	if c.attacksDB != nil {
		_ = c.attacksDB.UpdateAttackStatus(context.Background(), ra.cfg.AttackID, summary.Status)
	}

	if c.metrics != nil {
		c.metrics.AttacksActive.Dec()
		c.metrics.RecordAttackFinished(c.service, string(summary.Status))
	}

	c.broadcaster.Publish(stream.Event{
		Kind:     stream.EventAttackCompleted,
		AttackID: ra.cfg.AttackID,
		Summary:  &summary,
		At:       now,
	})

	close(ra.done)
}

// ingestResult evaluates highlight rules, records per-agent stats, queues
// the result for persistence, and publishes the appropriate broadcast event.
func (c *Coordinator) ingestResult(ra *runningAttack, result model.Result) {
	matched, names, whys := stream.Evaluate(ra.rules, result)
	if matched {
		result.IsHighlighted = true
		result.HighlightNames = names
		result.HighlightWhy = append(result.HighlightWhy, whys...)
	}

	ra.mu.Lock()
	stats, ok := ra.progress.PerAgent[result.AgentID]
	if !ok {
		stats = &model.AgentStats{AgentID: result.AgentID}
		ra.progress.PerAgent[result.AgentID] = stats
	}
	stats.Dispatched++
	stats.Completed++
	if result.Success() {
		stats.Successful++
	} else {
		stats.Failed++
	}
	n := float64(stats.Completed)
	stats.AvgLatencyMS = stats.AvgLatencyMS + (float64(result.Duration.Milliseconds())-stats.AvgLatencyMS)/n
	ra.mu.Unlock()

	ra.writer.Add(result)

	if result.IsHighlighted {
		c.broadcaster.Publish(stream.Event{
			Kind:     stream.EventHighlightedResult,
			AttackID: ra.cfg.AttackID,
			Result:   &result,
			At:       time.Now(),
		})
		return
	}
	c.broadcaster.Publish(stream.Event{
		Kind:     stream.EventNewResult,
		AttackID: ra.cfg.AttackID,
		Result:   &result,
		At:       time.Now(),
	})
}
