// Package coordinator implements the execution coordinator, the core of
// the orchestration engine. It owns per-attack state
// (configuration, Progress, a cancellation signal, the result ingress
// channel, and the set of per-agent worker tasks), spawns one worker per
// distributed assignment, streams results through highlighting and the
// broadcaster, and drains completed Results into the persistence layer via
// a buffered writer.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vectorsuite/orchestrator/internal/agent"
	"github.com/vectorsuite/orchestrator/internal/attackmode"
	"github.com/vectorsuite/orchestrator/internal/distribute"
	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/logging"
	"github.com/vectorsuite/orchestrator/internal/metrics"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/perf"
	"github.com/vectorsuite/orchestrator/internal/resilience"
	"github.com/vectorsuite/orchestrator/internal/session"
	"github.com/vectorsuite/orchestrator/internal/store"
	"github.com/vectorsuite/orchestrator/internal/stream"
	"github.com/vectorsuite/orchestrator/internal/template"
)

// AgentRPC is the subset of the agent RPC contract the core consumes.
// Registration and the traffic/metrics streams are handled by the external
// transport; the coordinator only ever calls Execute.
type AgentRPC interface {
	Execute(ctx context.Context, agentID string, req model.Request) (model.Response, error)
}

// AttackConfig is everything Start needs to run one attack.
type AttackConfig struct {
	AttackID             string
	RequestTemplate      string // raw text with §set-id§ markers
	BaseURL              string // resolves relative request-uris in RequestTemplate
	Mode                 model.AttackMode
	PayloadSets          map[string][]string // set-id -> generated values
	TargetAgentIDs       []string            // empty means every Online agent
	DistributionStrategy distribute.Strategy
	DistributionLoads    map[string]distribute.AgentLoad
	SessionID            string
	SessionPolicy        session.ExpirationPolicy
	RequestTimeout       time.Duration
	HighlightRules       []model.HighlightRule // nil uses stream.DefaultRules()
}

// Config bounds the coordinator's own background cadences.
type Config struct {
	ProgressCadence time.Duration
	FlushInterval   time.Duration
	FlushBatchSize  int
}

// Coordinator owns every running attack's state and collaborates with the
// registry, performance monitor, session manager and broadcaster to run it.
type Coordinator struct {
	registry    *agent.Registry
	perf        *perf.Monitor
	sessions    *session.Manager
	broadcaster *stream.Broadcaster
	results     store.ResultStore
	attacksDB   store.AttackStore
	rpc         AgentRPC
	quickFail   *resilience.QuickFailureDetector
	log         *logging.Logger
	cfg         Config
	metrics     *metrics.Metrics
	service     string

	mu      sync.Mutex
	attacks map[string]*runningAttack
}

// UseMetrics attaches a Prometheus sink so attack starts/completions are
// exported for scraping. service labels the exported series.
func (c *Coordinator) UseMetrics(sink *metrics.Metrics, service string) {
	c.metrics = sink
	c.service = service
}

// New builds a Coordinator. attacksDB may be nil if the caller persists
// attack status transitions itself.
func New(registry *agent.Registry, monitor *perf.Monitor, sessions *session.Manager, broadcaster *stream.Broadcaster, results store.ResultStore, attacksDB store.AttackStore, rpc AgentRPC, log *logging.Logger, cfg Config) *Coordinator {
	if cfg.ProgressCadence <= 0 {
		cfg.ProgressCadence = 500 * time.Millisecond
	}
	c := &Coordinator{
		registry:    registry,
		perf:        monitor,
		sessions:    sessions,
		broadcaster: broadcaster,
		results:     results,
		attacksDB:   attacksDB,
		rpc:         rpc,
		log:         log,
		cfg:         cfg,
		attacks:     make(map[string]*runningAttack),
	}
	c.quickFail = resilience.NewQuickFailureDetector(func(agentID string, consecutive int, perMinute float64) {
		registry.MarkError(agentID)
		if log != nil {
			log.WithFields(map[string]interface{}{
				"agent_id":            agentID,
				"consecutive_fails":   consecutive,
				"failures_per_minute": perMinute,
			}).Warn("agent marked unhealthy by quick-failure detector")
		}
	})
	return c
}

type runningAttack struct {
	cfg      AttackConfig
	rules    []model.HighlightRule
	writer   *bufferedWriter
	cancel   context.CancelFunc
	resultCh chan model.Result
	wg       sync.WaitGroup
	done     chan struct{}

	paused        atomic.Bool
	stopRequested atomic.Bool

	mu        sync.Mutex
	progress  model.AttackProgress
	startedAt time.Time
}

func agentUnavailable(reason string) error {
	return errortax.New(errortax.KindAgentUnavailable, reason)
}

// Start expands the template through the mode executor, distributes the
// resulting requests over the online target agents, marks the attack
// Running, and launches one worker per assignment plus the ingress
// consumer.
func (c *Coordinator) Start(ctx context.Context, cfg AttackConfig) error {
	online := c.onlineTargets(cfg.TargetAgentIDs)
	if len(online) == 0 {
		return agentUnavailable("no online agent available for attack " + cfg.AttackID)
	}
	for _, a := range online {
		c.perf.InitAgent(a.ID, 0)
	}

	parsed, err := template.Parse(cfg.RequestTemplate)
	if err != nil {
		return err
	}
	attackRequests, err := attackmode.GenerateRequests(cfg.Mode, parsed, cfg.PayloadSets)
	if err != nil {
		return err
	}

	texts := make([]string, len(attackRequests))
	for i, ar := range attackRequests {
		texts[i] = ar.Injected
	}
	distStats, err := distribute.Distribute(texts, online, cfg.DistributionStrategy, cfg.DistributionLoads)
	if err != nil {
		return err
	}

	if c.attacksDB != nil {
		if err := c.attacksDB.UpdateAttackStatus(ctx, cfg.AttackID, model.AttackRunning); err != nil {
			return err
		}
	}

	rules := cfg.HighlightRules
	if rules == nil {
		rules = stream.DefaultRules()
	}

	now := time.Now()
	ra := &runningAttack{
		cfg:      cfg,
		rules:    rules,
		writer:   newBufferedWriter(c.results, c.log, c.cfg.FlushInterval, c.cfg.FlushBatchSize),
		resultCh: make(chan model.Result, 1024),
		done:     make(chan struct{}),
		progress: model.AttackProgress{
			AttackID:  cfg.AttackID,
			Status:    model.AttackRunning,
			Total:     len(attackRequests),
			PerAgent:  make(map[string]*model.AgentStats),
			StartedAt: &now,
		},
		startedAt: now,
	}
	runCtx, cancel := context.WithCancel(context.Background())
	ra.cancel = cancel

	c.mu.Lock()
	c.attacks[cfg.AttackID] = ra
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.AttacksActive.Inc()
	}

	go ra.writer.run()

	for _, assignment := range distStats.Assignments {
		if len(assignment.OriginalIndices) == 0 {
			continue
		}
		subset := reconstruct(attackRequests, assignment.OriginalIndices)
		ra.wg.Add(1)
		go c.runWorker(runCtx, ra, assignment.AgentID, subset)
	}

	go func() {
		ra.wg.Wait()
		close(ra.resultCh)
	}()
	go c.runIngress(ra)

	c.broadcaster.Publish(stream.Event{
		Kind:     stream.EventProgressUpdate,
		AttackID: cfg.AttackID,
		Progress: progressSnapshot(ra),
		At:       time.Now(),
	})
	return nil
}

func (c *Coordinator) onlineTargets(targetIDs []string) []model.AgentInfo {
	online := c.registry.Online()
	if len(targetIDs) == 0 {
		return online
	}
	want := make(map[string]bool, len(targetIDs))
	for _, id := range targetIDs {
		want[id] = true
	}
	out := make([]model.AgentInfo, 0, len(online))
	for _, a := range online {
		if want[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

func reconstruct(all []attackmode.AttackRequest, indices []int) []attackmode.AttackRequest {
	out := make([]attackmode.AttackRequest, len(indices))
	for i, idx := range indices {
		out[i] = all[idx]
	}
	return out
}

func progressSnapshot(ra *runningAttack) *model.AttackProgress {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	snap := ra.progress.Clone()
	return &snap
}

// Stop cancels the attack's signal, awaits every worker's termination, and
// transitions the attack to Cancelled.
func (c *Coordinator) Stop(ctx context.Context, attackID string) error {
	ra, ok := c.attack(attackID)
	if !ok {
		return errortax.New(errortax.KindInvalidAttackConfig, "unknown attack "+attackID)
	}
	ra.stopRequested.Store(true)
	ra.cancel()
	select {
	case <-ra.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Pause flips Progress to Paused; in-flight requests complete, no new ones
// start while paused.
func (c *Coordinator) Pause(attackID string) error {
	ra, ok := c.attack(attackID)
	if !ok {
		return errortax.New(errortax.KindInvalidAttackConfig, "unknown attack "+attackID)
	}
	ra.paused.Store(true)
	ra.mu.Lock()
	ra.progress.Status = model.AttackPaused
	ra.mu.Unlock()
	c.broadcaster.Publish(stream.Event{Kind: stream.EventProgressUpdate, AttackID: attackID, Progress: progressSnapshot(ra), At: time.Now()})
	return nil
}

// Resume flips Progress back to Running.
func (c *Coordinator) Resume(attackID string) error {
	ra, ok := c.attack(attackID)
	if !ok {
		return errortax.New(errortax.KindInvalidAttackConfig, "unknown attack "+attackID)
	}
	ra.paused.Store(false)
	ra.mu.Lock()
	ra.progress.Status = model.AttackRunning
	ra.mu.Unlock()
	c.broadcaster.Publish(stream.Event{Kind: stream.EventProgressUpdate, AttackID: attackID, Progress: progressSnapshot(ra), At: time.Now()})
	return nil
}

// Progress returns a snapshot of an attack's current progress.
func (c *Coordinator) Progress(attackID string) (model.AttackProgress, bool) {
	ra, ok := c.attack(attackID)
	if !ok {
		return model.AttackProgress{}, false
	}
	return *progressSnapshot(ra), true
}

// Active returns the ids of attacks the coordinator currently tracks.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.attacks))
	for id := range c.attacks {
		out = append(out, id)
	}
	return out
}

// Subscribe registers a broadcast subscriber; delegates to the Broadcaster.
func (c *Coordinator) Subscribe() (int, <-chan stream.Event) {
	return c.broadcaster.Subscribe()
}

// Unsubscribe removes a broadcast subscriber.
func (c *Coordinator) Unsubscribe(id int) {
	c.broadcaster.Unsubscribe(id)
}

func (c *Coordinator) attack(attackID string) (*runningAttack, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ra, ok := c.attacks[attackID]
	return ra, ok
}

func newResultID() string { return uuid.New().String() }

func (c *Coordinator) fatalWorkerErr(ra *runningAttack, agentID string, err error) {
	if c.log != nil {
		c.log.WithFields(map[string]interface{}{
			"attack_id": ra.cfg.AttackID,
			"agent_id":  agentID,
		}).WithError(err).Warn("worker aborted: request generation failed")
	}
	c.broadcaster.Publish(stream.Event{
		Kind:     stream.EventAttackError,
		AttackID: ra.cfg.AttackID,
		Err:      err,
		At:       time.Now(),
	})
}
