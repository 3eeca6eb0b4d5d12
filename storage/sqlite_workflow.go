package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/richinex/agentpatterns/model"
)

// WorkflowStore implementation.
// Timestamps are stored as Unix milliseconds.

// CreateInstance inserts a new instance.
func (s *SqliteStorage) CreateInstance(ctx context.Context, inst model.WorkflowInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances
		(instance_id, workflow_name, status, input, output, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		inst.Name,
		string(inst.Status),
		nullableJSON(inst.Input),
		nullableJSON(inst.Output),
		nullableString(inst.Error),
		inst.CreatedAt.UnixMilli(),
		inst.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}
	return nil
}

// UpdateInstance overwrites status, output, error and update time of an
// instance that has not finished.
func (s *SqliteStorage) UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET status = ?, output = ?, error = ?, updated_at = ?
		WHERE instance_id = ? AND status NOT IN (?, ?, ?)`,
		string(inst.Status),
		nullableJSON(inst.Output),
		nullableString(inst.Error),
		inst.UpdatedAt.UnixMilli(),
		inst.ID,
		string(model.WorkflowCompleted),
		string(model.WorkflowFailed),
		string(model.WorkflowTerminated),
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update workflow instance: %w", err)
	}
	if n == 0 {
		if _, err := s.GetInstance(ctx, inst.ID); err != nil {
			return err
		}
		return ErrFinished
	}
	return nil
}

// GetInstance returns an instance or ErrNotFound.
func (s *SqliteStorage) GetInstance(ctx context.Context, id string) (model.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT instance_id, workflow_name, status, input, output, error, created_at, updated_at
		FROM workflow_instances WHERE instance_id = ?`, id)

	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WorkflowInstance{}, ErrNotFound
	}
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("failed to get workflow instance: %w", err)
	}
	return inst, nil
}

// ListInstances returns matching instances, oldest first.
func (s *SqliteStorage) ListInstances(ctx context.Context, status model.WorkflowStatus) ([]model.WorkflowInstance, error) {
	query := `
		SELECT instance_id, workflow_name, status, input, output, error, created_at, updated_at
		FROM workflow_instances`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at ASC, instance_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow instances: %w", err)
	}
	defer rows.Close()

	out := []model.WorkflowInstance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow instances: %w", err)
	}
	return out, nil
}

// SaveActivity inserts or replaces the record at (InstanceID, Sequence).
func (s *SqliteStorage) SaveActivity(ctx context.Context, rec model.ActivityRecord) error {
	completed := 0
	if rec.Completed {
		completed = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO workflow_activities
		(instance_id, sequence, name, input, output, error, attempts, completed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.InstanceID,
		rec.Sequence,
		rec.Name,
		nullableJSON(rec.Input),
		nullableJSON(rec.Output),
		nullableString(rec.Error),
		rec.Attempts,
		completed,
		rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save activity: %w", err)
	}
	return nil
}

// LoadActivities returns the history of an instance ordered by sequence.
func (s *SqliteStorage) LoadActivities(ctx context.Context, instanceID string) ([]model.ActivityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, sequence, name, input, output, error, attempts, completed, updated_at
		FROM workflow_activities
		WHERE instance_id = ?
		ORDER BY sequence ASC`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	out := []model.ActivityRecord{}
	for rows.Next() {
		var rec model.ActivityRecord
		var input, output, errText sql.NullString
		var completed int
		var updated int64
		if err := rows.Scan(&rec.InstanceID, &rec.Sequence, &rec.Name, &input, &output, &errText,
			&rec.Attempts, &completed, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		rec.Input = rawOrNil(input)
		rec.Output = rawOrNil(output)
		rec.Error = errText.String
		rec.Completed = completed == 1
		rec.UpdatedAt = time.UnixMilli(updated)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	var status string
	var input, output, errText sql.NullString
	var created, updated int64

	if err := row.Scan(&inst.ID, &inst.Name, &status, &input, &output, &errText, &created, &updated); err != nil {
		return model.WorkflowInstance{}, err
	}
	inst.Status = model.WorkflowStatus(status)
	inst.Input = rawOrNil(input)
	inst.Output = rawOrNil(output)
	inst.Error = errText.String
	inst.CreatedAt = time.UnixMilli(created)
	inst.UpdatedAt = time.UnixMilli(updated)
	return inst, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNil(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}
