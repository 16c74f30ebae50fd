package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/store"
)

// --- repeater_tabs --------------------------------------------------------

func (s *Store) CreateTab(ctx context.Context, rec store.RepeaterTabRecord) (store.RepeaterTabRecord, error) {
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	rec.IsActive = true

	tmplJSON, err := json.Marshal(rec.RequestTemplate)
	if err != nil {
		return store.RepeaterTabRecord{}, errortax.Wrap(errortax.KindSerializationError, "marshal request_template_json", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO repeater_tabs (id, name, request_template_json, target_agent_id, created_at, updated_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.Name, tmplJSON, nullableString(rec.TargetAgentID), rec.CreatedAt, rec.UpdatedAt, rec.IsActive)
	if err != nil {
		return store.RepeaterTabRecord{}, dbErr("create repeater tab", err)
	}
	return rec, nil
}

func (s *Store) UpdateTab(ctx context.Context, rec store.RepeaterTabRecord) (store.RepeaterTabRecord, error) {
	rec.UpdatedAt = time.Now().UTC()
	tmplJSON, err := json.Marshal(rec.RequestTemplate)
	if err != nil {
		return store.RepeaterTabRecord{}, errortax.Wrap(errortax.KindSerializationError, "marshal request_template_json", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE repeater_tabs
		SET name = $2, request_template_json = $3, target_agent_id = $4, updated_at = $5, is_active = $6
		WHERE id = $1
	`, rec.ID, rec.Name, tmplJSON, nullableString(rec.TargetAgentID), rec.UpdatedAt, rec.IsActive)
	if err != nil {
		return store.RepeaterTabRecord{}, dbErr("update repeater tab", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return store.RepeaterTabRecord{}, errortax.New(errortax.KindDatabaseError, "repeater tab not found")
	}
	return rec, nil
}

func (s *Store) GetTab(ctx context.Context, id string) (store.RepeaterTabRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, request_template_json, target_agent_id, created_at, updated_at, is_active
		FROM repeater_tabs WHERE id = $1
	`, id)
	return scanTab(row)
}

func (s *Store) ListTabs(ctx context.Context) ([]store.RepeaterTabRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, request_template_json, target_agent_id, created_at, updated_at, is_active
		FROM repeater_tabs WHERE is_active = true ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, dbErr("list repeater tabs", err)
	}
	defer rows.Close()

	var out []store.RepeaterTabRecord
	for rows.Next() {
		rec, err := scanTab(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteTab soft-deletes: is_active gates visibility in ListTabs.
func (s *Store) DeleteTab(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE repeater_tabs SET is_active = false, updated_at = $2 WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return dbErr("delete repeater tab", err)
	}
	return nil
}

func scanTab(row rowScanner) (store.RepeaterTabRecord, error) {
	var rec store.RepeaterTabRecord
	var tmplJSON []byte
	var targetAgentID sql.NullString
	if err := row.Scan(&rec.ID, &rec.Name, &tmplJSON, &targetAgentID, &rec.CreatedAt, &rec.UpdatedAt, &rec.IsActive); err != nil {
		if err == sql.ErrNoRows {
			return store.RepeaterTabRecord{}, errortax.New(errortax.KindDatabaseError, "repeater tab not found")
		}
		return store.RepeaterTabRecord{}, dbErr("scan repeater tab", err)
	}
	rec.TargetAgentID = targetAgentID.String
	if err := json.Unmarshal(tmplJSON, &rec.RequestTemplate); err != nil {
		return store.RepeaterTabRecord{}, errortax.Wrap(errortax.KindSerializationError, "unmarshal request_template_json", err)
	}
	return rec, nil
}

// --- repeater_executions ---------------------------------------------------

func (s *Store) InsertExecution(ctx context.Context, rec store.RepeaterExecutionRecord) (store.RepeaterExecutionRecord, error) {
	rec.ExecutedAt = time.Now().UTC()
	reqJSON, err := json.Marshal(rec.Request)
	if err != nil {
		return store.RepeaterExecutionRecord{}, errortax.Wrap(errortax.KindSerializationError, "marshal request_data_json", err)
	}
	var respJSON []byte
	if rec.Response != nil {
		respJSON, err = json.Marshal(rec.Response)
		if err != nil {
			return store.RepeaterExecutionRecord{}, errortax.Wrap(errortax.KindSerializationError, "marshal response_data_json", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO repeater_executions (id, tab_id, request_data_json, response_data_json, agent_id, duration_ms, status_code, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.TabID, reqJSON, nullableBytes(respJSON), rec.AgentID, rec.DurationMS, rec.StatusCode, rec.ExecutedAt)
	if err != nil {
		return store.RepeaterExecutionRecord{}, dbErr("insert repeater execution", err)
	}
	return rec, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (store.RepeaterExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tab_id, request_data_json, response_data_json, agent_id, duration_ms, status_code, executed_at
		FROM repeater_executions WHERE id = $1
	`, id)
	return scanExecution(row)
}

func (s *Store) ListExecutions(ctx context.Context, tabID string) ([]store.RepeaterExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tab_id, request_data_json, response_data_json, agent_id, duration_ms, status_code, executed_at
		FROM repeater_executions WHERE tab_id = $1 ORDER BY executed_at DESC
	`, tabID)
	if err != nil {
		return nil, dbErr("list repeater executions", err)
	}
	defer rows.Close()

	var out []store.RepeaterExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanExecution(row rowScanner) (store.RepeaterExecutionRecord, error) {
	var rec store.RepeaterExecutionRecord
	var reqJSON, respJSON []byte
	if err := row.Scan(&rec.ID, &rec.TabID, &reqJSON, &respJSON, &rec.AgentID, &rec.DurationMS, &rec.StatusCode, &rec.ExecutedAt); err != nil {
		if err == sql.ErrNoRows {
			return store.RepeaterExecutionRecord{}, errortax.New(errortax.KindDatabaseError, "repeater execution not found")
		}
		return store.RepeaterExecutionRecord{}, dbErr("scan repeater execution", err)
	}
	if err := json.Unmarshal(reqJSON, &rec.Request); err != nil {
		return store.RepeaterExecutionRecord{}, errortax.Wrap(errortax.KindSerializationError, "unmarshal request_data_json", err)
	}
	if len(respJSON) > 0 {
		var resp model.Response
		if err := json.Unmarshal(respJSON, &resp); err != nil {
			return store.RepeaterExecutionRecord{}, errortax.Wrap(errortax.KindSerializationError, "unmarshal response_data_json", err)
		}
		rec.Response = &resp
	}
	return rec, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
