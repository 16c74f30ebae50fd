package postgres

import (
	"context"
	"encoding/json"

	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/store"
)

// InsertResults bulk-inserts a batch in one transaction, matching the
// buffered writer's periodic/size-triggered flush.
func (s *Store) InsertResults(ctx context.Context, results []store.ResultRecord) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin result batch", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO intruder_results
			(id, attack_id, request_data_json, response_data_json, agent_id, payload_values_json,
			 executed_at, duration_ms, status_code, response_length, is_highlighted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	if err != nil {
		return dbErr("prepare result insert", err)
	}
	defer stmt.Close()

	for _, r := range results {
		reqJSON, err := json.Marshal(r.Request)
		if err != nil {
			return errortax.Wrap(errortax.KindSerializationError, "marshal request_data_json", err)
		}
		var respJSON []byte
		if r.Response != nil {
			respJSON, err = json.Marshal(r.Response)
			if err != nil {
				return errortax.Wrap(errortax.KindSerializationError, "marshal response_data_json", err)
			}
		}
		valuesJSON, err := json.Marshal(r.PayloadValues)
		if err != nil {
			return errortax.Wrap(errortax.KindSerializationError, "marshal payload_values_json", err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.AttackID, reqJSON, nullableBytes(respJSON), r.AgentID, valuesJSON,
			r.ExecutedAt, r.DurationMS, r.StatusCode, r.ResponseLength, r.IsHighlighted); err != nil {
			return dbErr("insert result", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbErr("commit result batch", err)
	}
	return nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (s *Store) ListResults(ctx context.Context, attackID string, highlightedOnly bool) ([]store.ResultRecord, error) {
	query := `
		SELECT id, attack_id, request_data_json, response_data_json, agent_id, payload_values_json,
		       executed_at, duration_ms, status_code, response_length, is_highlighted
		FROM intruder_results WHERE attack_id = $1`
	if highlightedOnly {
		query += ` AND is_highlighted = true`
	}
	query += ` ORDER BY executed_at ASC`

	rows, err := s.db.QueryContext(ctx, query, attackID)
	if err != nil {
		return nil, dbErr("list results", err)
	}
	defer rows.Close()

	var out []store.ResultRecord
	for rows.Next() {
		var rec store.ResultRecord
		var reqJSON, respJSON, valuesJSON []byte
		if err := rows.Scan(&rec.ID, &rec.AttackID, &reqJSON, &respJSON, &rec.AgentID, &valuesJSON,
			&rec.ExecutedAt, &rec.DurationMS, &rec.StatusCode, &rec.ResponseLength, &rec.IsHighlighted); err != nil {
			return nil, dbErr("scan result", err)
		}
		if err := json.Unmarshal(reqJSON, &rec.Request); err != nil {
			return nil, errortax.Wrap(errortax.KindSerializationError, "unmarshal request_data_json", err)
		}
		if len(respJSON) > 0 {
			var resp model.Response
			if err := json.Unmarshal(respJSON, &resp); err != nil {
				return nil, errortax.Wrap(errortax.KindSerializationError, "unmarshal response_data_json", err)
			}
			rec.Response = &resp
		}
		if len(valuesJSON) > 0 {
			if err := json.Unmarshal(valuesJSON, &rec.PayloadValues); err != nil {
				return nil, errortax.Wrap(errortax.KindSerializationError, "unmarshal payload_values_json", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
