// Package store defines the persistence contract (intruder attacks, their
// results, payload sets, repeater tabs and their executions) as a small
// interface any database engine can satisfy. internal/store/postgres
// provides the concrete lib/pq-backed implementation; the core otherwise
// treats persistence as an opaque collaborator.
package store

import (
	"context"
	"time"

	"github.com/vectorsuite/orchestrator/internal/distribute"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/payload"
)

// AttackRecord mirrors the intruder_attacks table.
type AttackRecord struct {
	ID                   string
	Name                 string
	RequestTemplate      string
	AttackMode           model.AttackMode
	PayloadSetIDs        []string // references into payload_sets, ordered by position index
	TargetAgentIDs       []string
	DistributionStrategy distribute.Strategy
	Status               model.AttackStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PayloadSetRecord mirrors the payload_sets table.
type PayloadSetRecord struct {
	ID        string
	Name      string
	Config    payload.Config
	CreatedAt time.Time
}

// ResultRecord mirrors the intruder_results table.
type ResultRecord struct {
	ID             string
	AttackID       string
	Request        model.Request
	Response       *model.Response
	AgentID        string
	PayloadValues  map[string]string
	ExecutedAt     time.Time
	DurationMS     *int64
	StatusCode     *int
	ResponseLength *int
	IsHighlighted  bool
}

// RepeaterTabRecord mirrors the repeater_tabs table.
type RepeaterTabRecord struct {
	ID              string
	Name            string
	RequestTemplate model.Request
	TargetAgentID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	IsActive        bool
}

// RepeaterExecutionRecord mirrors the repeater_executions table.
type RepeaterExecutionRecord struct {
	ID         string
	TabID      string
	Request    model.Request
	Response   *model.Response
	AgentID    string
	DurationMS *int64
	StatusCode *int
	ExecutedAt time.Time
}

// AttackStore covers intruder_attacks and payload_sets.
type AttackStore interface {
	CreateAttack(ctx context.Context, rec AttackRecord) (AttackRecord, error)
	UpdateAttackStatus(ctx context.Context, id string, status model.AttackStatus) error
	GetAttack(ctx context.Context, id string) (AttackRecord, error)
	ListAttacks(ctx context.Context) ([]AttackRecord, error)
	DeleteAttack(ctx context.Context, id string) error

	CreatePayloadSet(ctx context.Context, rec PayloadSetRecord) (PayloadSetRecord, error)
	GetPayloadSet(ctx context.Context, id string) (PayloadSetRecord, error)
	ListPayloadSets(ctx context.Context) ([]PayloadSetRecord, error)
	DeletePayloadSet(ctx context.Context, id string) error
}

// ResultStore covers intruder_results, bulk-inserted in batches by the
// coordinator's buffered writer.
type ResultStore interface {
	InsertResults(ctx context.Context, results []ResultRecord) error
	ListResults(ctx context.Context, attackID string, highlightedOnly bool) ([]ResultRecord, error)
}

// RepeaterStore covers repeater_tabs and repeater_executions.
type RepeaterStore interface {
	CreateTab(ctx context.Context, rec RepeaterTabRecord) (RepeaterTabRecord, error)
	UpdateTab(ctx context.Context, rec RepeaterTabRecord) (RepeaterTabRecord, error)
	GetTab(ctx context.Context, id string) (RepeaterTabRecord, error)
	ListTabs(ctx context.Context) ([]RepeaterTabRecord, error)
	DeleteTab(ctx context.Context, id string) error // soft delete: sets is_active=false

	InsertExecution(ctx context.Context, rec RepeaterExecutionRecord) (RepeaterExecutionRecord, error)
	GetExecution(ctx context.Context, id string) (RepeaterExecutionRecord, error)
	ListExecutions(ctx context.Context, tabID string) ([]RepeaterExecutionRecord, error)
}

// Store is the full persistence contract consumed by the façades.
type Store interface {
	AttackStore
	ResultStore
	RepeaterStore
}

// ResultRecordFromModel converts a coordinator-produced model.Result into
// its persisted record shape. The nullable duration/status_code/
// response_length columns are populated only when the RPC actually
// completed.
func ResultRecordFromModel(r model.Result) ResultRecord {
	rec := ResultRecord{
		ID:            r.ID,
		AttackID:      r.AttackID,
		Request:       r.Request,
		Response:      r.Response,
		AgentID:       r.AgentID,
		PayloadValues: r.PayloadValues,
		ExecutedAt:    r.ExecutedAt,
		IsHighlighted: r.IsHighlighted,
	}
	if r.Response != nil {
		ms := r.Duration.Milliseconds()
		status := r.StatusCode
		length := r.ResponseLength
		rec.DurationMS = &ms
		rec.StatusCode = &status
		rec.ResponseLength = &length
	}
	return rec
}
