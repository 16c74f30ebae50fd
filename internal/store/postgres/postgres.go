// Package postgres implements internal/store.Store over a *sql.DB opened
// with github.com/lib/pq: one struct wrapping *sql.DB, hand-written
// parameterized SQL, JSON columns for nested structures.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/vectorsuite/orchestrator/internal/distribute"
	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/store"
)

// Store implements store.Store against PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and applies the given pool limits; a non-positive
// limit leaves the driver default in place.
func Open(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errortax.Wrap(errortax.KindDatabaseError, "failed to open postgres connection", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB, e.g. one built with sqlmock in tests.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func dbErr(op string, err error) error {
	return errortax.Wrap(errortax.KindDatabaseError, fmt.Sprintf("%s failed", op), err)
}

// --- intruder_attacks -------------------------------------------------

func (s *Store) CreateAttack(ctx context.Context, rec store.AttackRecord) (store.AttackRecord, error) {
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	payloadSetsJSON, err := json.Marshal(rec.PayloadSetIDs)
	if err != nil {
		return store.AttackRecord{}, errortax.Wrap(errortax.KindSerializationError, "marshal payload_sets_json", err)
	}
	targetAgentsJSON, err := json.Marshal(rec.TargetAgentIDs)
	if err != nil {
		return store.AttackRecord{}, errortax.Wrap(errortax.KindSerializationError, "marshal target_agents_json", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO intruder_attacks
			(id, name, request_template, attack_mode, payload_sets_json, target_agents_json,
			 distribution_strategy, created_at, updated_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.Name, rec.RequestTemplate, string(rec.AttackMode), payloadSetsJSON, targetAgentsJSON,
		string(rec.DistributionStrategy.Kind), rec.CreatedAt, rec.UpdatedAt, string(rec.Status))
	if err != nil {
		return store.AttackRecord{}, dbErr("create attack", err)
	}
	return rec, nil
}

func (s *Store) UpdateAttackStatus(ctx context.Context, id string, status model.AttackStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE intruder_attacks SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return dbErr("update attack status", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return errortax.New(errortax.KindDatabaseError, fmt.Sprintf("attack %q not found", id))
	}
	return nil
}

func (s *Store) GetAttack(ctx context.Context, id string) (store.AttackRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, request_template, attack_mode, payload_sets_json, target_agents_json,
		       distribution_strategy, created_at, updated_at, status
		FROM intruder_attacks WHERE id = $1
	`, id)
	return scanAttack(row)
}

func (s *Store) ListAttacks(ctx context.Context) ([]store.AttackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, request_template, attack_mode, payload_sets_json, target_agents_json,
		       distribution_strategy, created_at, updated_at, status
		FROM intruder_attacks ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, dbErr("list attacks", err)
	}
	defer rows.Close()

	var out []store.AttackRecord
	for rows.Next() {
		rec, err := scanAttack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAttack(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM intruder_attacks WHERE id = $1`, id); err != nil {
		return dbErr("delete attack", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttack(row rowScanner) (store.AttackRecord, error) {
	var rec store.AttackRecord
	var mode, strategy, status string
	var payloadSetsJSON, targetAgentsJSON []byte

	if err := row.Scan(&rec.ID, &rec.Name, &rec.RequestTemplate, &mode, &payloadSetsJSON, &targetAgentsJSON,
		&strategy, &rec.CreatedAt, &rec.UpdatedAt, &status); err != nil {
		if err == sql.ErrNoRows {
			return store.AttackRecord{}, errortax.New(errortax.KindDatabaseError, "attack not found")
		}
		return store.AttackRecord{}, dbErr("scan attack", err)
	}
	rec.AttackMode = model.AttackMode(mode)
	rec.Status = model.AttackStatus(status)
	rec.DistributionStrategy = distribute.Strategy{Kind: distribute.StrategyKind(strategy)}
	if err := json.Unmarshal(payloadSetsJSON, &rec.PayloadSetIDs); err != nil {
		return store.AttackRecord{}, errortax.Wrap(errortax.KindSerializationError, "unmarshal payload_sets_json", err)
	}
	if err := json.Unmarshal(targetAgentsJSON, &rec.TargetAgentIDs); err != nil {
		return store.AttackRecord{}, errortax.Wrap(errortax.KindSerializationError, "unmarshal target_agents_json", err)
	}
	return rec, nil
}

// --- payload_sets -------------------------------------------------------

func (s *Store) CreatePayloadSet(ctx context.Context, rec store.PayloadSetRecord) (store.PayloadSetRecord, error) {
	rec.CreatedAt = time.Now().UTC()
	cfgJSON, err := json.Marshal(rec.Config)
	if err != nil {
		return store.PayloadSetRecord{}, errortax.Wrap(errortax.KindSerializationError, "marshal payload set config", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payload_sets (id, name, type, configuration_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.Name, string(rec.Config.Kind), cfgJSON, rec.CreatedAt)
	if err != nil {
		return store.PayloadSetRecord{}, dbErr("create payload set", err)
	}
	return rec, nil
}

func (s *Store) GetPayloadSet(ctx context.Context, id string) (store.PayloadSetRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, configuration_json, created_at FROM payload_sets WHERE id = $1
	`, id)
	return scanPayloadSet(row)
}

func (s *Store) ListPayloadSets(ctx context.Context) ([]store.PayloadSetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, configuration_json, created_at FROM payload_sets ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, dbErr("list payload sets", err)
	}
	defer rows.Close()

	var out []store.PayloadSetRecord
	for rows.Next() {
		rec, err := scanPayloadSet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeletePayloadSet(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM payload_sets WHERE id = $1`, id); err != nil {
		return dbErr("delete payload set", err)
	}
	return nil
}

func scanPayloadSet(row rowScanner) (store.PayloadSetRecord, error) {
	var rec store.PayloadSetRecord
	var cfgJSON []byte
	if err := row.Scan(&rec.ID, &rec.Name, &cfgJSON, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return store.PayloadSetRecord{}, errortax.New(errortax.KindDatabaseError, "payload set not found")
		}
		return store.PayloadSetRecord{}, dbErr("scan payload set", err)
	}
	if err := json.Unmarshal(cfgJSON, &rec.Config); err != nil {
		return store.PayloadSetRecord{}, errortax.Wrap(errortax.KindSerializationError, "unmarshal payload set config", err)
	}
	return rec, nil
}
