package intruder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsuite/orchestrator/internal/agent"
	"github.com/vectorsuite/orchestrator/internal/coordinator"
	"github.com/vectorsuite/orchestrator/internal/distribute"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/payload"
	"github.com/vectorsuite/orchestrator/internal/perf"
	"github.com/vectorsuite/orchestrator/internal/session"
	"github.com/vectorsuite/orchestrator/internal/store"
	"github.com/vectorsuite/orchestrator/internal/stream"
)

type memStore struct {
	mu      sync.Mutex
	attacks map[string]store.AttackRecord
	sets    map[string]store.PayloadSetRecord
	results []store.ResultRecord
}

func newMemStore() *memStore {
	return &memStore{
		attacks: make(map[string]store.AttackRecord),
		sets:    make(map[string]store.PayloadSetRecord),
	}
}

func (m *memStore) CreateAttack(ctx context.Context, rec store.AttackRecord) (store.AttackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attacks[rec.ID] = rec
	return rec, nil
}

func (m *memStore) UpdateAttackStatus(ctx context.Context, id string, status model.AttackStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.attacks[id]
	if !ok {
		return errors.New("attack not found")
	}
	rec.Status = status
	m.attacks[id] = rec
	return nil
}

func (m *memStore) GetAttack(ctx context.Context, id string) (store.AttackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.attacks[id]
	if !ok {
		return store.AttackRecord{}, errors.New("attack not found")
	}
	return rec, nil
}

func (m *memStore) ListAttacks(ctx context.Context) ([]store.AttackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.AttackRecord, 0, len(m.attacks))
	for _, rec := range m.attacks {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) DeleteAttack(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attacks, id)
	return nil
}

func (m *memStore) CreatePayloadSet(ctx context.Context, rec store.PayloadSetRecord) (store.PayloadSetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[rec.ID] = rec
	return rec, nil
}

func (m *memStore) GetPayloadSet(ctx context.Context, id string) (store.PayloadSetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sets[id]
	if !ok {
		return store.PayloadSetRecord{}, errors.New("payload set not found")
	}
	return rec, nil
}

func (m *memStore) ListPayloadSets(ctx context.Context) ([]store.PayloadSetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.PayloadSetRecord, 0, len(m.sets))
	for _, rec := range m.sets {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) DeletePayloadSet(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, id)
	return nil
}

func (m *memStore) InsertResults(ctx context.Context, results []store.ResultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, results...)
	return nil
}

func (m *memStore) ListResults(ctx context.Context, attackID string, highlightedOnly bool) ([]store.ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ResultRecord
	for _, r := range m.results {
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

type okRPC struct{}

func (okRPC) Execute(ctx context.Context, agentID string, req model.Request) (model.Response, error) {
	return model.Response{Status: 200, Body: []byte("ok")}, nil
}

func newTestFacade(t *testing.T) (*Facade, *memStore) {
	t.Helper()

	registry := agent.New(nil, time.Minute)
	registry.Register("agent-1", "h1", nil, 0)
	registry.Heartbeat("agent-1")

	s := newMemStore()
	coord := coordinator.New(
		registry,
		perf.New(perf.Config{GlobalMaxConcurrent: 10, MaxConcurrentPerAgent: 5}),
		session.New(nil, session.DefaultAuthFailureRules(), nil),
		stream.NewBroadcaster(),
		s, s, okRPC{}, nil,
		coordinator.Config{ProgressCadence: 20 * time.Millisecond, FlushInterval: 20 * time.Millisecond},
	)
	return New(s, s, registry, coord), s
}

// createSet stores a Custom payload set whose record id doubles as the
// template marker body, the way attack authors pair the two.
func createSet(t *testing.T, f *Facade, id string, values []string) {
	t.Helper()
	rec := store.PayloadSetRecord{ID: id, Name: id, Config: payload.Config{Kind: payload.KindCustom, Values: values}}
	_, err := f.attacks.CreatePayloadSet(context.Background(), rec)
	require.NoError(t, err)
}

func TestValidateConfigAndEstimateCount(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()

	createSet(t, f, "user", []string{"a", "b"})
	createSet(t, f, "pass", []string{"1", "2", "3"})

	in := AttackConfigInput{
		Name:            "cluster",
		RequestTemplate: "GET http://target.test/login?user=§user§&pass=§pass§ HTTP/1.1",
		Mode:            model.ModeClusterBomb,
		PayloadSetIDs:   []string{"user", "pass"},
	}
	require.NoError(t, f.ValidateConfig(ctx, in))

	n, err := f.EstimateRequestCount(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestValidateConfigRejectsMissingSet(t *testing.T) {
	f, _ := newTestFacade(t)

	in := AttackConfigInput{
		Name:            "broken",
		RequestTemplate: "GET http://target.test/§user§ HTTP/1.1",
		Mode:            model.ModeSniper,
		PayloadSetIDs:   []string{"user"},
	}
	assert.Error(t, f.ValidateConfig(context.Background(), in))
}

func TestCreateAttackPersistsConfiguredRecord(t *testing.T) {
	f, s := newTestFacade(t)
	ctx := context.Background()

	createSet(t, f, "user", []string{"admin", "guest"})

	rec, err := f.CreateAttack(ctx, AttackConfigInput{
		Name:                 "sweep",
		RequestTemplate:      "GET http://target.test/users/§user§ HTTP/1.1",
		Mode:                 model.ModeSniper,
		PayloadSetIDs:        []string{"user"},
		DistributionStrategy: distribute.Strategy{Kind: distribute.StrategyRoundRobin},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, model.AttackConfigured, rec.Status)

	stored, err := s.GetAttack(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "sweep", stored.Name)
}

func TestStartAttackExecutionRunsToCompletion(t *testing.T) {
	f, s := newTestFacade(t)
	ctx := context.Background()

	createSet(t, f, "user", []string{"admin", "guest"})

	rec, err := f.CreateAttack(ctx, AttackConfigInput{
		Name:                 "sweep",
		RequestTemplate:      "GET http://target.test/users/§user§ HTTP/1.1",
		Mode:                 model.ModeSniper,
		PayloadSetIDs:        []string{"user"},
		DistributionStrategy: distribute.Strategy{Kind: distribute.StrategyRoundRobin},
		RequestTimeout:       time.Second,
	})
	require.NoError(t, err)

	events, unsubscribe := f.SubscribeProgress(ctx)
	defer unsubscribe()

	require.NoError(t, f.StartAttackExecution(ctx, rec.ID))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == stream.EventAttackCompleted {
				require.NotNil(t, ev.Summary)
				assert.Equal(t, 2, ev.Summary.Completed)
				assert.Equal(t, 2, len(mustResults(t, s, rec.ID)))
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for attack completion")
		}
	}
}

func mustResults(t *testing.T, s *memStore, attackID string) []store.ResultRecord {
	t.Helper()
	out, err := s.ListResults(context.Background(), attackID, false)
	require.NoError(t, err)
	return out
}

func TestPreviewPayloadsIsBounded(t *testing.T) {
	f, _ := newTestFacade(t)

	values := make([]string, 250)
	for i := range values {
		values[i] = "v"
	}
	out, err := f.PreviewPayloads(payload.Config{Kind: payload.KindCustom, Values: values})
	require.NoError(t, err)
	assert.Len(t, out, MaxPreviewPayloads)
}

func TestDistributePayloadsUsesOnlineAgents(t *testing.T) {
	f, _ := newTestFacade(t)

	stats, err := f.DistributePayloads([]string{"a", "b", "c"}, distribute.Strategy{Kind: distribute.StrategyRoundRobin}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalPayloads)
	assert.Equal(t, 1, stats.TotalAgents)
}

func TestExportAttackResultsJSON(t *testing.T) {
	f, s := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, s.InsertResults(ctx, []store.ResultRecord{{
		ID:       "r1",
		AttackID: "a1",
		Request:  model.Request{Method: model.MethodGet, URL: "http://target.test/"},
	}}))

	out, err := f.ExportAttackResults(ctx, "a1", stream.FormatJSON, false)
	require.NoError(t, err)
	assert.Contains(t, out, `"r1"`)
}
