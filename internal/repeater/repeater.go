// Package repeater implements the Repeater façade: single-request editing,
// execution and history, plus the session operations a Repeater tab shares
// with the rest of the engine. Unlike Intruder's bulk pipeline, every
// operation here concerns exactly one request at a time, so it talks
// directly to the performance monitor's permits and the agent RPC contract
// rather than going through the coordinator's per-attack worker pool.
package repeater

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vectorsuite/orchestrator/internal/agent"
	"github.com/vectorsuite/orchestrator/internal/coordinator"
	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/logging"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/perf"
	"github.com/vectorsuite/orchestrator/internal/resilience"
	"github.com/vectorsuite/orchestrator/internal/session"
	"github.com/vectorsuite/orchestrator/internal/store"
	"github.com/vectorsuite/orchestrator/internal/stream"
)

// Component is the name Repeater executions register under with the shared
// errortax.Handler, so Repeater traffic gets its own circuit breaker and
// retry policy independent of Intruder attacks.
const Component = "repeater"

func invalidConfig(reason string) error {
	return errortax.New(errortax.KindInvalidAttackConfig, reason)
}

func agentUnavailable(reason string) error {
	return errortax.New(errortax.KindAgentUnavailable, reason)
}

// Facade exposes the Repeater admin operations.
type Facade struct {
	tabs        store.RepeaterStore
	sessions    *session.Manager
	registry    *agent.Registry
	perf        *perf.Monitor
	rpc         coordinator.AgentRPC
	broadcaster *stream.Broadcaster
	handler     *errortax.Handler
	log         *logging.Logger

	defaultTimeout time.Duration
	retryPolicy    resilience.RetryPolicy
}

// New builds a Facade over the given collaborators. defaultTimeout bounds
// ExecuteRequest/ExecuteWithRetry when the caller's context carries no
// deadline of its own.
func New(tabs store.RepeaterStore, sessions *session.Manager, registry *agent.Registry, monitor *perf.Monitor, rpc coordinator.AgentRPC, broadcaster *stream.Broadcaster, handler *errortax.Handler, log *logging.Logger, defaultTimeout time.Duration) *Facade {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Facade{
		tabs:           tabs,
		sessions:       sessions,
		registry:       registry,
		perf:           monitor,
		rpc:            rpc,
		broadcaster:    broadcaster,
		handler:        handler,
		log:            log,
		defaultTimeout: defaultTimeout,
		retryPolicy:    resilience.DefaultRetryPolicy(),
	}
}

// SetRetryPolicy overrides the policy ExecuteWithRetry runs under.
func (f *Facade) SetRetryPolicy(p resilience.RetryPolicy) {
	f.retryPolicy = p
}

// CreateTab implements createTab.
func (f *Facade) CreateTab(ctx context.Context, name string, req model.Request, targetAgentID string) (store.RepeaterTabRecord, error) {
	if err := req.Validate(); err != nil {
		return store.RepeaterTabRecord{}, invalidConfig(err.Error())
	}
	rec := store.RepeaterTabRecord{
		ID:              uuid.New().String(),
		Name:            name,
		RequestTemplate: req,
		TargetAgentID:   targetAgentID,
	}
	return f.tabs.CreateTab(ctx, rec)
}

// ListTabs implements listTabs.
func (f *Facade) ListTabs(ctx context.Context) ([]store.RepeaterTabRecord, error) {
	return f.tabs.ListTabs(ctx)
}

// GetTab implements getTab.
func (f *Facade) GetTab(ctx context.Context, id string) (store.RepeaterTabRecord, error) {
	return f.tabs.GetTab(ctx, id)
}

// UpdateTab implements updateTab.
func (f *Facade) UpdateTab(ctx context.Context, rec store.RepeaterTabRecord) (store.RepeaterTabRecord, error) {
	if err := rec.RequestTemplate.Validate(); err != nil {
		return store.RepeaterTabRecord{}, invalidConfig(err.Error())
	}
	return f.tabs.UpdateTab(ctx, rec)
}

// DeleteTab implements deleteTab.
func (f *Facade) DeleteTab(ctx context.Context, id string) error {
	return f.tabs.DeleteTab(ctx, id)
}

// pickAgent resolves the agent a single-shot execution should target:
// explicit targetAgentID if given and online, otherwise any online agent.
func (f *Facade) pickAgent(targetAgentID string) (model.AgentInfo, error) {
	if targetAgentID != "" {
		info, ok := f.registry.Get(targetAgentID)
		if !ok || !info.IsHealthy() {
			return model.AgentInfo{}, agentUnavailable("target agent " + targetAgentID + " is not online")
		}
		return info, nil
	}
	online := f.registry.Online()
	if len(online) == 0 {
		return model.AgentInfo{}, agentUnavailable("no online agent available")
	}
	return online[0], nil
}

// executeOnce acquires a permit, runs one RPC, records its outcome and
// returns the persisted execution record. tabID may be empty for an ad hoc
// execution that isn't tied to a stored tab.
func (f *Facade) executeOnce(ctx context.Context, tabID string, req model.Request, targetAgentID string) (store.RepeaterExecutionRecord, error) {
	agentInfo, err := f.pickAgent(targetAgentID)
	if err != nil {
		return store.RepeaterExecutionRecord{}, err
	}

	permit, err := f.perf.AcquireRequestPermit(ctx, agentInfo.ID)
	if err != nil {
		return store.RepeaterExecutionRecord{}, err
	}

	started := time.Now()
	resp, rpcErr := f.rpc.Execute(ctx, agentInfo.ID, req)
	duration := time.Since(started)
	permit.Complete(rpcErr == nil)

	rec := store.RepeaterExecutionRecord{
		ID:      uuid.New().String(),
		TabID:   tabID,
		Request: req,
		AgentID: agentInfo.ID,
	}
	if rpcErr == nil {
		ms := duration.Milliseconds()
		status := resp.Status
		rec.Response = &resp
		rec.DurationMS = &ms
		rec.StatusCode = &status
	}

	stored, storeErr := f.tabs.InsertExecution(ctx, rec)
	if storeErr != nil {
		return store.RepeaterExecutionRecord{}, storeErr
	}

	f.broadcaster.Publish(stream.Event{
		Kind:     stream.EventNewResult,
		AttackID: tabID,
		Result:   resultFromExecution(stored),
		Err:      rpcErr,
		At:       time.Now(),
	})

	if rpcErr != nil {
		return stored, rpcErr
	}
	return stored, nil
}

func resultFromExecution(rec store.RepeaterExecutionRecord) *model.Result {
	r := &model.Result{
		ID:         rec.ID,
		AttackID:   rec.TabID,
		Request:    rec.Request,
		Response:   rec.Response,
		AgentID:    rec.AgentID,
		ExecutedAt: rec.ExecutedAt,
	}
	if rec.DurationMS != nil {
		r.Duration = time.Duration(*rec.DurationMS) * time.Millisecond
	}
	if rec.StatusCode != nil {
		r.StatusCode = *rec.StatusCode
	}
	return r
}

// ExecuteRequest runs a single RPC, no retry.
func (f *Facade) ExecuteRequest(ctx context.Context, tabID string, req model.Request, targetAgentID string) (store.RepeaterExecutionRecord, error) {
	if err := req.Validate(); err != nil {
		return store.RepeaterExecutionRecord{}, invalidConfig(err.Error())
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	return f.executeOnce(ctx, tabID, req, targetAgentID)
}

func (f *Facade) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.defaultTimeout)
}

// ExecuteWithRetry retries a failed execution under the component's
// registered retry policy and circuit breaker, returning the last attempt's
// record once it succeeds or every retry is exhausted.
func (f *Facade) ExecuteWithRetry(ctx context.Context, tabID string, req model.Request, targetAgentID string) (store.RepeaterExecutionRecord, error) {
	if err := req.Validate(); err != nil {
		return store.RepeaterExecutionRecord{}, invalidConfig(err.Error())
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	var last store.RepeaterExecutionRecord

	retryErr := resilience.Retry(ctx, f.retryPolicy, func() error {
		rec, err := f.executeOnce(ctx, tabID, req, targetAgentID)
		last = rec
		if err == nil {
			return nil
		}
		if f.handler != nil {
			result := f.handler.Handle(ctx, err, Component, "executeWithRetry")
			if !result.ShouldRetry {
				return resilience.Permanent(err)
			}
		}
		return err
	})
	if retryErr != nil {
		return last, retryErr
	}
	return last, nil
}

// GetExecutionHistory implements getExecutionHistory.
func (f *Facade) GetExecutionHistory(ctx context.Context, tabID string) ([]store.RepeaterExecutionRecord, error) {
	return f.tabs.ListExecutions(ctx, tabID)
}

// GetExecution implements getExecution.
func (f *Facade) GetExecution(ctx context.Context, id string) (store.RepeaterExecutionRecord, error) {
	return f.tabs.GetExecution(ctx, id)
}

// AddSession implements addSession.
func (f *Facade) AddSession(s model.Session) error {
	return f.sessions.Add(s)
}

// GetSessions implements getSessions.
func (f *Facade) GetSessions() []model.Session {
	return f.sessions.List()
}

// SelectSession implements selectSession.
func (f *Facade) SelectSession(criteria session.SelectionCriteria) []model.Session {
	return f.sessions.Select(criteria)
}

// ApplySessionToRequest implements applySessionToRequest.
func (f *Facade) ApplySessionToRequest(ctx context.Context, req model.Request, sessionID string, policy session.ExpirationPolicy) (model.Request, []string, error) {
	return f.sessions.ApplySessionToRequest(ctx, req, sessionID, policy)
}

// DetectAuthenticationFailure implements detectAuthenticationFailure.
func (f *Facade) DetectAuthenticationFailure(ctx context.Context, sessionID string, resp model.Response) bool {
	return f.sessions.DetectAuthFailure(ctx, sessionID, resp)
}

// RefreshSession implements refreshSession.
func (f *Facade) RefreshSession(ctx context.Context, sessionID string) error {
	return f.sessions.Refresh(ctx, sessionID)
}
