package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/vectorsuite/orchestrator/internal/attackmode"
	"github.com/vectorsuite/orchestrator/internal/distribute"
	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/requestparse"
)

// runWorker is the per-agent worker loop: for every AttackRequest assigned
// to agentID, acquire a permit, reconstruct the request record, apply the
// session if configured, invoke the agent RPC with a bounded timeout, build
// a Result and hand it to the ingress consumer. A permit or parse failure
// degrades to a failed Result rather than aborting the whole attack, except
// when the agent itself goes unhealthy, in which case the remaining
// requests are redistributed.
func (c *Coordinator) runWorker(ctx context.Context, ra *runningAttack, agentID string, assigned []attackmode.AttackRequest) {
	defer ra.wg.Done()

	for i := 0; i < len(assigned); i++ {
		for ra.paused.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		ar := assigned[i]
		result := c.executeOne(ctx, ra, agentID, ar)

		select {
		case ra.resultCh <- result:
		case <-ctx.Done():
			return
		}

		if !result.Success() {
			c.quickFail.RecordFailure(agentID)
		} else {
			c.quickFail.RecordSuccess(agentID)
		}

		if c.quickFail.IsUnhealthy(agentID) {
			remaining := assigned[i+1:]
			c.redistribute(ctx, ra, agentID, remaining)
			return
		}
	}
}

// executeOne runs a single AttackRequest through the full permit -> parse ->
// session -> RPC -> result pipeline. It never returns an error; failures at
// any stage are captured in the returned Result's Err field.
func (c *Coordinator) executeOne(ctx context.Context, ra *runningAttack, agentID string, ar attackmode.AttackRequest) model.Result {
	base := model.Result{
		ID:            newResultID(),
		AttackID:      ra.cfg.AttackID,
		Index:         ar.Index,
		AgentID:       agentID,
		PayloadValues: ar.PayloadValues,
		ExecutedAt:    time.Now(),
	}

	permit, err := c.perf.AcquireRequestPermit(ctx, agentID)
	if err != nil {
		base.Err = err
		return base
	}
	defer func() { permit.Complete(base.Success()) }()

	req, err := requestparse.Parse(ar.Injected, ra.cfg.BaseURL)
	if err != nil {
		base.Err = err
		base.Request = req
		return base
	}
	base.Request = req

	if ra.cfg.SessionID != "" {
		withSession, warnings, err := c.sessions.ApplySessionToRequest(ctx, req, ra.cfg.SessionID, ra.cfg.SessionPolicy)
		if err != nil {
			base.Err = err
			return base
		}
		if len(warnings) > 0 && c.log != nil {
			c.log.WithFields(map[string]interface{}{
				"attack_id": ra.cfg.AttackID,
				"agent_id":  agentID,
			}).Warn("session application warnings: " + joinWarnings(warnings))
		}
		req = withSession
		base.Request = req
	}

	timeout := ra.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rpcCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.rpc.Execute(rpcCtx, agentID, req)
	base.Duration = time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errortax.Wrap(errortax.KindTimeout, "agent request timed out", err).
				WithDetails("operation", "execute_request").
				WithDetails("duration_ms", base.Duration.Milliseconds())
		}
		base.Err = err
		return base
	}

	base.Response = &resp
	base.StatusCode = resp.Status
	base.ResponseLength = len(resp.Body)
	if ra.cfg.SessionID != "" && !resp.IsSuccess() {
		if c.sessions.DetectAuthFailure(ctx, ra.cfg.SessionID, resp) {
			base.HighlightWhy = append(base.HighlightWhy, "authentication failure detected; session invalidated")
		}
	}
	return base
}

func joinWarnings(warnings []string) string {
	out := warnings[0]
	for _, w := range warnings[1:] {
		out += "; " + w
	}
	return out
}

// redistribute hands the unexecuted tail of one unhealthy agent's work to
// the surviving online agents. Each AttackRequest keeps its original index
// so result ordering and progress accounting stay correct.
func (c *Coordinator) redistribute(ctx context.Context, ra *runningAttack, failedAgentID string, remaining []attackmode.AttackRequest) {
	if len(remaining) == 0 {
		return
	}
	online := c.onlineTargets(ra.cfg.TargetAgentIDs)
	survivors := make([]model.AgentInfo, 0, len(online))
	for _, a := range online {
		if a.ID != failedAgentID {
			survivors = append(survivors, a)
		}
	}
	if len(survivors) == 0 {
		c.fatalWorkerErr(ra, failedAgentID, agentUnavailable("agent "+failedAgentID+" became unhealthy and no other online agent is available for redistribution"))
		for _, ar := range remaining {
			select {
			case ra.resultCh <- failedResult(ra.cfg.AttackID, failedAgentID, ar, agentUnavailable("no agent available")):
			case <-ctx.Done():
				return
			}
		}
		return
	}

	texts := make([]string, len(remaining))
	for i, ar := range remaining {
		texts[i] = ar.Injected
	}
	stats, err := distribute.Redistribute(texts, survivors, failedAgentID, ra.cfg.DistributionLoads)
	if err != nil {
		c.fatalWorkerErr(ra, failedAgentID, err)
		return
	}

	for _, assignment := range stats.Assignments {
		if len(assignment.OriginalIndices) == 0 {
			continue
		}
		subset := reconstruct(remaining, assignment.OriginalIndices)
		ra.wg.Add(1)
		go c.runWorker(ctx, ra, assignment.AgentID, subset)
	}
}

func failedResult(attackID, agentID string, ar attackmode.AttackRequest, err error) model.Result {
	return model.Result{
		ID:            newResultID(),
		AttackID:      attackID,
		Index:         ar.Index,
		AgentID:       agentID,
		PayloadValues: ar.PayloadValues,
		ExecutedAt:    time.Now(),
		Err:           err,
	}
}
