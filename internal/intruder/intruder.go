// Package intruder implements the Intruder façade: the operations an
// external admin transport calls to configure, validate, preview,
// distribute, run and export an Intruder attack. It is pure orchestration
// glue; payload generation, template parsing, attack-mode expansion,
// distribution and execution all live in their own packages, and this
// package wires them together behind the named operations and the
// persistence contract.
package intruder

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vectorsuite/orchestrator/internal/agent"
	"github.com/vectorsuite/orchestrator/internal/attackmode"
	"github.com/vectorsuite/orchestrator/internal/coordinator"
	"github.com/vectorsuite/orchestrator/internal/distribute"
	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/payload"
	"github.com/vectorsuite/orchestrator/internal/session"
	"github.com/vectorsuite/orchestrator/internal/store"
	"github.com/vectorsuite/orchestrator/internal/stream"
	"github.com/vectorsuite/orchestrator/internal/template"
)

// AttackConfigInput is the caller-supplied shape for CreateAttack and
// ValidateConfig.
type AttackConfigInput struct {
	Name                 string
	RequestTemplate      string
	BaseURL              string
	Mode                 model.AttackMode
	PayloadSetIDs        []string // ordered, must line up with the template's positions
	TargetAgentIDs       []string
	DistributionStrategy distribute.Strategy
	SessionID            string
	SessionPolicy        session.ExpirationPolicy
	RequestTimeout       time.Duration
	HighlightRules       []model.HighlightRule
}

// Facade exposes the Intruder admin operations over the stored attacks,
// the agent registry and the coordinator.
type Facade struct {
	attacks     store.AttackStore
	results     store.ResultStore
	registry    *agent.Registry
	coordinator *coordinator.Coordinator
	rules       map[string][]model.HighlightRule // attackID -> override, applied at next start
	runtime     map[string]runtimeOptions        // attackID -> start-time options not persisted in the attack row

	mu sync.Mutex
}

// runtimeOptions carries the per-attack execution knobs the persistence
// schema has no columns for: they live for the façade's lifetime and are
// re-supplied on restart by the admin transport.
type runtimeOptions struct {
	BaseURL        string
	SessionID      string
	SessionPolicy  session.ExpirationPolicy
	RequestTimeout time.Duration
}

// New builds a Facade over the given collaborators.
func New(attacks store.AttackStore, results store.ResultStore, registry *agent.Registry, coord *coordinator.Coordinator) *Facade {
	return &Facade{
		attacks:     attacks,
		results:     results,
		registry:    registry,
		coordinator: coord,
		rules:       make(map[string][]model.HighlightRule),
		runtime:     make(map[string]runtimeOptions),
	}
}

func invalidConfig(reason string) error {
	return errortax.New(errortax.KindInvalidAttackConfig, reason)
}

// resolvePayloadSets loads and generates every referenced payload set,
// keyed by the set-id used in the template's markers. Intruder's
// PayloadSetIDs and the template's own §set-id§ markers must agree; the
// façade trusts the stored PayloadSetRecord.ID to equal the marker body,
// since that is how CreatePayloadSet and the template's markers are meant
// to be authored together.
func (f *Facade) resolvePayloadSets(ctx context.Context, ids []string) (map[string][]string, error) {
	sets := make(map[string][]string, len(ids))
	for _, id := range ids {
		rec, err := f.attacks.GetPayloadSet(ctx, id)
		if err != nil {
			return nil, err
		}
		values, err := rec.Config.Generate()
		if err != nil {
			return nil, err
		}
		sets[rec.ID] = values
	}
	return sets, nil
}

// ValidateConfig parses the template, resolves every referenced payload
// set, and confirms the chosen mode can produce a request count.
func (f *Facade) ValidateConfig(ctx context.Context, in AttackConfigInput) error {
	if in.Name == "" {
		return invalidConfig("attack name must not be empty")
	}
	parsed, err := template.Parse(in.RequestTemplate)
	if err != nil {
		return err
	}
	sets, err := f.resolvePayloadSets(ctx, in.PayloadSetIDs)
	if err != nil {
		return err
	}
	if _, err := attackmode.CountRequests(in.Mode, parsed.Positions, sets); err != nil {
		return err
	}
	return nil
}

// EstimateRequestCount returns the exact request count a mode+sets
// combination would produce, without generating requests.
func (f *Facade) EstimateRequestCount(ctx context.Context, in AttackConfigInput) (int, error) {
	parsed, err := template.Parse(in.RequestTemplate)
	if err != nil {
		return 0, err
	}
	sets, err := f.resolvePayloadSets(ctx, in.PayloadSetIDs)
	if err != nil {
		return 0, err
	}
	return attackmode.CountRequests(in.Mode, parsed.Positions, sets)
}

// CreateAttack validates, then persists a new attack in Configured status.
func (f *Facade) CreateAttack(ctx context.Context, in AttackConfigInput) (store.AttackRecord, error) {
	if err := f.ValidateConfig(ctx, in); err != nil {
		return store.AttackRecord{}, err
	}
	rec := store.AttackRecord{
		ID:                   uuid.New().String(),
		Name:                 in.Name,
		RequestTemplate:      in.RequestTemplate,
		AttackMode:           in.Mode,
		PayloadSetIDs:        in.PayloadSetIDs,
		TargetAgentIDs:       in.TargetAgentIDs,
		DistributionStrategy: in.DistributionStrategy,
		Status:               model.AttackConfigured,
	}
	f.mu.Lock()
	if in.HighlightRules != nil {
		f.rules[rec.ID] = in.HighlightRules
	}
	f.runtime[rec.ID] = runtimeOptions{
		BaseURL:        in.BaseURL,
		SessionID:      in.SessionID,
		SessionPolicy:  in.SessionPolicy,
		RequestTimeout: in.RequestTimeout,
	}
	f.mu.Unlock()
	return f.attacks.CreateAttack(ctx, rec)
}

// ListAttacks implements listAttacks.
func (f *Facade) ListAttacks(ctx context.Context) ([]store.AttackRecord, error) {
	return f.attacks.ListAttacks(ctx)
}

// GetAttack implements getAttack.
func (f *Facade) GetAttack(ctx context.Context, id string) (store.AttackRecord, error) {
	return f.attacks.GetAttack(ctx, id)
}

// UpdateStatus implements updateStatus.
func (f *Facade) UpdateStatus(ctx context.Context, id string, status model.AttackStatus) error {
	return f.attacks.UpdateAttackStatus(ctx, id, status)
}

// DeleteAttack removes the stored attack and drops its start-time options.
func (f *Facade) DeleteAttack(ctx context.Context, id string) error {
	if err := f.attacks.DeleteAttack(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.rules, id)
	delete(f.runtime, id)
	f.mu.Unlock()
	return nil
}

// CreatePayloadSet implements createPayloadSet.
func (f *Facade) CreatePayloadSet(ctx context.Context, name string, cfg payload.Config) (store.PayloadSetRecord, error) {
	if err := cfg.Validate(); err != nil {
		return store.PayloadSetRecord{}, err
	}
	rec := store.PayloadSetRecord{
		ID:     uuid.New().String(),
		Name:   name,
		Config: cfg,
	}
	return f.attacks.CreatePayloadSet(ctx, rec)
}

// ListPayloadSets implements listPayloadSets.
func (f *Facade) ListPayloadSets(ctx context.Context) ([]store.PayloadSetRecord, error) {
	return f.attacks.ListPayloadSets(ctx)
}

// DeletePayloadSet implements deletePayloadSet.
func (f *Facade) DeletePayloadSet(ctx context.Context, id string) error {
	return f.attacks.DeletePayloadSet(ctx, id)
}

// MaxPreviewPayloads bounds PreviewPayloads.
const MaxPreviewPayloads = 100

// PreviewPayloads generates up to MaxPreviewPayloads payloads from cfg
// without requiring a stored PayloadSetRecord, so a caller can preview a
// set before saving it.
func (f *Facade) PreviewPayloads(cfg payload.Config) ([]string, error) {
	values, err := cfg.Generate()
	if err != nil {
		return nil, err
	}
	if len(values) > MaxPreviewPayloads {
		values = values[:MaxPreviewPayloads]
	}
	return values, nil
}

// DistributePayloads applies a distribution strategy over the currently
// Online agents without starting an attack.
func (f *Facade) DistributePayloads(payloads []string, strategy distribute.Strategy, loads map[string]distribute.AgentLoad) (model.DistributionStats, error) {
	return distribute.Distribute(payloads, f.registry.Online(), strategy, loads)
}

// StartAttackExecution loads the stored attack and its payload sets, then
// asks the coordinator to run it.
func (f *Facade) StartAttackExecution(ctx context.Context, attackID string) error {
	rec, err := f.attacks.GetAttack(ctx, attackID)
	if err != nil {
		return err
	}
	sets, err := f.resolvePayloadSets(ctx, rec.PayloadSetIDs)
	if err != nil {
		return err
	}

	f.mu.Lock()
	rules := f.rules[attackID]
	opts := f.runtime[attackID]
	f.mu.Unlock()

	cfg := coordinator.AttackConfig{
		AttackID:             rec.ID,
		RequestTemplate:      rec.RequestTemplate,
		BaseURL:              opts.BaseURL,
		Mode:                 rec.AttackMode,
		PayloadSets:          sets,
		TargetAgentIDs:       rec.TargetAgentIDs,
		DistributionStrategy: rec.DistributionStrategy,
		SessionID:            opts.SessionID,
		SessionPolicy:        opts.SessionPolicy,
		RequestTimeout:       opts.RequestTimeout,
		HighlightRules:       rules,
	}
	return f.coordinator.Start(ctx, cfg)
}

// StopAttackExecution cancels a running attack and waits for its workers.
func (f *Facade) StopAttackExecution(ctx context.Context, attackID string) error {
	return f.coordinator.Stop(ctx, attackID)
}

// PauseAttackExecution implements pauseAttackExecution.
func (f *Facade) PauseAttackExecution(attackID string) error {
	return f.coordinator.Pause(attackID)
}

// ResumeAttackExecution implements resumeAttackExecution.
func (f *Facade) ResumeAttackExecution(attackID string) error {
	return f.coordinator.Resume(attackID)
}

// GetAttackProgress implements getAttackProgress.
func (f *Facade) GetAttackProgress(attackID string) (model.AttackProgress, bool) {
	return f.coordinator.Progress(attackID)
}

// GetActiveAttacks implements getActiveAttacks.
func (f *Facade) GetActiveAttacks() []string {
	return f.coordinator.Active()
}

// SubscribeProgress returns a filtered view of the coordinator's broadcast
// stream carrying only progress, completion and error events.
func (f *Facade) SubscribeProgress(ctx context.Context) (<-chan stream.Event, func()) {
	return f.subscribeFiltered(ctx, stream.EventProgressUpdate, stream.EventAttackCompleted, stream.EventAttackError)
}

// SubscribeResults returns a filtered view carrying only NewResult and
// HighlightedResult events.
func (f *Facade) SubscribeResults(ctx context.Context) (<-chan stream.Event, func()) {
	return f.subscribeFiltered(ctx, stream.EventNewResult, stream.EventHighlightedResult)
}

func (f *Facade) subscribeFiltered(ctx context.Context, kinds ...stream.EventKind) (<-chan stream.Event, func()) {
	want := make(map[stream.EventKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	id, raw := f.coordinator.Subscribe()
	out := make(chan stream.Event, stream.BroadcastCapacity)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-raw:
				if !ok {
					return
				}
				if !want[ev.Kind] {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, func() { f.coordinator.Unsubscribe(id) }
}

// ExportAttackResults implements exportAttackResults.
func (f *Facade) ExportAttackResults(ctx context.Context, attackID string, format stream.ExportFormat, highlightedOnly bool) (string, error) {
	records, err := f.results.ListResults(ctx, attackID, highlightedOnly)
	if err != nil {
		return "", err
	}
	results := make([]model.Result, len(records))
	for i, rec := range records {
		results[i] = resultFromRecord(rec)
	}
	return stream.Export(results, format, highlightedOnly)
}

func resultFromRecord(rec store.ResultRecord) model.Result {
	r := model.Result{
		ID:            rec.ID,
		AttackID:      rec.AttackID,
		Request:       rec.Request,
		Response:      rec.Response,
		AgentID:       rec.AgentID,
		PayloadValues: rec.PayloadValues,
		ExecutedAt:    rec.ExecutedAt,
		IsHighlighted: rec.IsHighlighted,
	}
	if rec.DurationMS != nil {
		r.Duration = time.Duration(*rec.DurationMS) * time.Millisecond
	}
	if rec.StatusCode != nil {
		r.StatusCode = *rec.StatusCode
	}
	if rec.ResponseLength != nil {
		r.ResponseLength = *rec.ResponseLength
	}
	return r
}

// UpdateHighlightingConfig stores rules applied the next time this attack
// starts. The coordinator owns a running attack's rule set for the attack's
// lifetime, so this only affects future Start calls for attackID.
func (f *Facade) UpdateHighlightingConfig(attackID string, rules []model.HighlightRule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[attackID] = rules
}
