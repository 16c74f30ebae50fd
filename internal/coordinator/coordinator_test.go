package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsuite/orchestrator/internal/agent"
	"github.com/vectorsuite/orchestrator/internal/distribute"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/perf"
	"github.com/vectorsuite/orchestrator/internal/session"
	"github.com/vectorsuite/orchestrator/internal/store"
	"github.com/vectorsuite/orchestrator/internal/stream"
)

type fakeRPC struct {
	mu      sync.Mutex
	calls   int
	delay   time.Duration
	failFor map[string]error // agentID -> forced error
}

func (f *fakeRPC) Execute(ctx context.Context, agentID string, req model.Request) (model.Response, error) {
	f.mu.Lock()
	f.calls++
	forced := f.failFor[agentID]
	f.mu.Unlock()

	if forced != nil {
		return model.Response{}, forced
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.Response{}, ctx.Err()
		}
	}
	return model.Response{Status: 200, Body: []byte("ok")}, nil
}

func (f *fakeRPC) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memResultStore struct {
	mu      sync.Mutex
	records []store.ResultRecord
}

func (s *memResultStore) InsertResults(ctx context.Context, results []store.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, results...)
	return nil
}

func (s *memResultStore) ListResults(ctx context.Context, attackID string, highlightedOnly bool) ([]store.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ResultRecord
	for _, r := range s.records {
		if r.AttackID != attackID {
			continue
		}
		if highlightedOnly && !r.IsHighlighted {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *memResultStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type memAttackStore struct {
	mu       sync.Mutex
	statuses []model.AttackStatus
}

func (s *memAttackStore) CreateAttack(ctx context.Context, rec store.AttackRecord) (store.AttackRecord, error) {
	return rec, nil
}

func (s *memAttackStore) UpdateAttackStatus(ctx context.Context, id string, status model.AttackStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *memAttackStore) GetAttack(ctx context.Context, id string) (store.AttackRecord, error) {
	return store.AttackRecord{}, errors.New("not implemented")
}
func (s *memAttackStore) ListAttacks(ctx context.Context) ([]store.AttackRecord, error) {
	return nil, nil
}
func (s *memAttackStore) DeleteAttack(ctx context.Context, id string) error { return nil }
func (s *memAttackStore) CreatePayloadSet(ctx context.Context, rec store.PayloadSetRecord) (store.PayloadSetRecord, error) {
	return rec, nil
}
func (s *memAttackStore) GetPayloadSet(ctx context.Context, id string) (store.PayloadSetRecord, error) {
	return store.PayloadSetRecord{}, errors.New("not implemented")
}
func (s *memAttackStore) ListPayloadSets(ctx context.Context) ([]store.PayloadSetRecord, error) {
	return nil, nil
}
func (s *memAttackStore) DeletePayloadSet(ctx context.Context, id string) error { return nil }

func (s *memAttackStore) lastStatus() model.AttackStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

func newTestCoordinator(t *testing.T, rpc AgentRPC, agentIDs ...string) (*Coordinator, *agent.Registry, *memResultStore, *memAttackStore) {
	t.Helper()

	registry := agent.New(nil, time.Minute)
	for _, id := range agentIDs {
		registry.Register(id, id+".test", nil, 0)
		registry.Heartbeat(id)
	}

	monitor := perf.New(perf.Config{GlobalMaxConcurrent: 20, MaxConcurrentPerAgent: 5, HistorySize: 50})
	sessions := session.New(nil, session.DefaultAuthFailureRules(), nil)
	broadcaster := stream.NewBroadcaster()
	results := &memResultStore{}
	attacks := &memAttackStore{}

	c := New(registry, monitor, sessions, broadcaster, results, attacks, rpc, nil, Config{
		ProgressCadence: 20 * time.Millisecond,
		FlushInterval:   20 * time.Millisecond,
	})
	return c, registry, results, attacks
}

func waitForCompletion(t *testing.T, events <-chan stream.Event, timeout time.Duration) (model.AttackProgress, []model.AttackProgress) {
	t.Helper()

	var progresses []model.AttackProgress
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case stream.EventProgressUpdate:
				if ev.Progress != nil {
					progresses = append(progresses, *ev.Progress)
				}
			case stream.EventAttackCompleted:
				require.NotNil(t, ev.Summary)
				return *ev.Summary, progresses
			}
		case <-deadline:
			t.Fatal("timed out waiting for attack completion")
		}
	}
}

func TestStartRunsAllRequestsAndCompletes(t *testing.T) {
	rpc := &fakeRPC{}
	c, _, results, attacks := newTestCoordinator(t, rpc, "agent-1", "agent-2")

	id, events := c.Subscribe()
	defer c.Unsubscribe(id)

	err := c.Start(context.Background(), AttackConfig{
		AttackID:             "attack-1",
		RequestTemplate:      "GET http://target.test/items/§id§ HTTP/1.1",
		Mode:                 model.ModeSniper,
		PayloadSets:          map[string][]string{"id": {"1", "2", "3", "4", "5", "6"}},
		DistributionStrategy: distribute.Strategy{Kind: distribute.StrategyRoundRobin},
		RequestTimeout:       time.Second,
	})
	require.NoError(t, err)

	summary, progresses := waitForCompletion(t, events, 5*time.Second)

	assert.Equal(t, model.AttackCompleted, summary.Status)
	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 6, summary.Completed)
	assert.Equal(t, 6, summary.Successful)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 6, rpc.callCount())
	assert.Equal(t, model.AttackCompleted, attacks.lastStatus())

	prev := 0
	for _, p := range progresses {
		assert.GreaterOrEqual(t, p.Completed, prev, "progress must be monotonic")
		assert.Equal(t, 6, p.Total)
		prev = p.Completed
	}

	// The ingress consumer stops the buffered writer on completion, so every
	// result is flushed by the time the summary event is published.
	assert.Equal(t, 6, results.count())
}

func TestStartRequiresOnlineAgent(t *testing.T) {
	rpc := &fakeRPC{}
	c, _, _, _ := newTestCoordinator(t, rpc) // no agents registered

	err := c.Start(context.Background(), AttackConfig{
		AttackID:             "attack-1",
		RequestTemplate:      "GET http://target.test/§id§ HTTP/1.1",
		Mode:                 model.ModeSniper,
		PayloadSets:          map[string][]string{"id": {"a"}},
		DistributionStrategy: distribute.Strategy{Kind: distribute.StrategyRoundRobin},
	})
	assert.Error(t, err)
}

func TestStopCancelsAndMarksCancelled(t *testing.T) {
	rpc := &fakeRPC{delay: 50 * time.Millisecond}
	c, _, _, attacks := newTestCoordinator(t, rpc, "agent-1")

	err := c.Start(context.Background(), AttackConfig{
		AttackID:             "attack-2",
		RequestTemplate:      "GET http://target.test/items/§id§ HTTP/1.1",
		Mode:                 model.ModeSniper,
		PayloadSets:          map[string][]string{"id": {"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}},
		DistributionStrategy: distribute.Strategy{Kind: distribute.StrategyRoundRobin},
		RequestTimeout:       time.Second,
	})
	require.NoError(t, err)

	time.Sleep(75 * time.Millisecond) // let at least one request go out

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx, "attack-2"))

	assert.Equal(t, model.AttackCancelled, attacks.lastStatus())
	assert.Less(t, rpc.callCount(), 10, "cancellation must prevent the remaining requests")
}

func TestPauseBlocksNewRequestsAndResumeContinues(t *testing.T) {
	rpc := &fakeRPC{delay: 10 * time.Millisecond}
	c, _, _, _ := newTestCoordinator(t, rpc, "agent-1")

	id, events := c.Subscribe()
	defer c.Unsubscribe(id)

	require.NoError(t, c.Start(context.Background(), AttackConfig{
		AttackID:             "attack-3",
		RequestTemplate:      "GET http://target.test/items/§id§ HTTP/1.1",
		Mode:                 model.ModeSniper,
		PayloadSets:          map[string][]string{"id": {"1", "2", "3", "4", "5"}},
		DistributionStrategy: distribute.Strategy{Kind: distribute.StrategyRoundRobin},
		RequestTimeout:       time.Second,
	}))

	require.NoError(t, c.Pause("attack-3"))
	progress, ok := c.Progress("attack-3")
	require.True(t, ok)
	assert.Equal(t, model.AttackPaused, progress.Status)

	pausedCalls := rpc.callCount()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, rpc.callCount(), pausedCalls+1, "at most the in-flight request completes while paused")

	require.NoError(t, c.Resume("attack-3"))
	summary, _ := waitForCompletion(t, events, 5*time.Second)
	assert.Equal(t, 5, summary.Completed)
}

func TestUnknownAttackOperationsFail(t *testing.T) {
	rpc := &fakeRPC{}
	c, _, _, _ := newTestCoordinator(t, rpc, "agent-1")

	assert.Error(t, c.Stop(context.Background(), "nope"))
	assert.Error(t, c.Pause("nope"))
	assert.Error(t, c.Resume("nope"))
	_, ok := c.Progress("nope")
	assert.False(t, ok)
}

func TestFailedRPCProducesFailedResults(t *testing.T) {
	rpc := &fakeRPC{failFor: map[string]error{"agent-1": errors.New("connection refused")}}
	c, _, _, _ := newTestCoordinator(t, rpc, "agent-1")

	id, events := c.Subscribe()
	defer c.Unsubscribe(id)

	require.NoError(t, c.Start(context.Background(), AttackConfig{
		AttackID:             "attack-4",
		RequestTemplate:      "GET http://target.test/items/§id§ HTTP/1.1",
		Mode:                 model.ModeSniper,
		PayloadSets:          map[string][]string{"id": {"1", "2"}},
		DistributionStrategy: distribute.Strategy{Kind: distribute.StrategyRoundRobin},
		RequestTimeout:       time.Second,
	}))

	summary, _ := waitForCompletion(t, events, 5*time.Second)
	assert.Equal(t, summary.Completed, summary.Failed+summary.Successful)
	assert.Greater(t, summary.Failed, 0)
}
