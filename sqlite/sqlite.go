// Package sqlite provides a file-backed store implementing the
// execution record, workflow, integration, and queue list contracts
// over a single sqlite database. It suits the single-node daemon;
// multi-node deployments should use the postgres package instead.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flowkit-dev/flowkit"
	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store implements flowkit.ExecutionStore, flowkit.IntegrationStore,
// flowkit.WorkflowSource, and flowkit.ListStore over one sqlite file.
type Store struct {
	db *sql.DB
}

var (
	_ flowkit.ExecutionStore   = (*Store)(nil)
	_ flowkit.IntegrationStore = (*Store)(nil)
	_ flowkit.WorkflowSource   = (*Store)(nil)
	_ flowkit.ListStore        = (*Store)(nil)
)

// Open opens or creates the database at path and applies the schema.
// The database runs in WAL mode for concurrent readers.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func timeToDB(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timeFromDB(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// minuteBucket returns the dedup bucket for schedule executions, or
// NULL for every other trigger type so the partial unique index never
// sees them.
func minuteBucket(execution *flowkit.Execution) any {
	if execution.TriggerType != flowkit.TriggerTypeSchedule {
		return nil
	}
	return execution.CreatedAt.UTC().Truncate(time.Minute).Format(time.RFC3339)
}

// CreateExecution inserts a new execution row. For schedule triggers
// the insert also enforces the one-per-workflow-per-minute guard; a
// duplicate fails with a constraint error.
func (s *Store) CreateExecution(ctx context.Context, execution *flowkit.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(id, workflow_id, user_id, status, trigger_type, error_message,
			 started_at, completed_at, duration_ms, created_at, minute_bucket)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		execution.ID, execution.WorkflowID, execution.UserID,
		string(execution.Status), string(execution.TriggerType), execution.ErrorMessage,
		timeToDB(execution.StartedAt), timeToDB(execution.CompletedAt),
		execution.DurationMS, timeToDB(execution.CreatedAt), minuteBucket(execution))
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// UpdateExecution overwrites an execution row by ID.
func (s *Store) UpdateExecution(ctx context.Context, execution *flowkit.Execution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			status = ?, error_message = ?, started_at = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		string(execution.Status), execution.ErrorMessage,
		timeToDB(execution.StartedAt), timeToDB(execution.CompletedAt),
		execution.DurationMS, execution.ID)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("execution not found: %s", execution.ID)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, id string) (*flowkit.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, user_id, status, trigger_type, error_message,
		       started_at, completed_at, duration_ms, created_at
		FROM executions WHERE id = ?`, id)
	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution not found: %s", id)
	}
	return execution, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*flowkit.Execution, error) {
	var execution flowkit.Execution
	var status, triggerType, startedAt, completedAt, createdAt string
	err := row.Scan(&execution.ID, &execution.WorkflowID, &execution.UserID,
		&status, &triggerType, &execution.ErrorMessage,
		&startedAt, &completedAt, &execution.DurationMS, &createdAt)
	if err != nil {
		return nil, err
	}
	execution.Status = flowkit.ExecutionStatus(status)
	execution.TriggerType = flowkit.TriggerType(triggerType)
	if execution.StartedAt, err = timeFromDB(startedAt); err != nil {
		return nil, err
	}
	if execution.CompletedAt, err = timeFromDB(completedAt); err != nil {
		return nil, err
	}
	if execution.CreatedAt, err = timeFromDB(createdAt); err != nil {
		return nil, err
	}
	return &execution, nil
}

// LatestScheduleExecution returns the most recent schedule-triggered
// execution for the workflow created at or after since, or nil.
func (s *Store) LatestScheduleExecution(ctx context.Context, workflowID string, since time.Time) (*flowkit.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, user_id, status, trigger_type, error_message,
		       started_at, completed_at, duration_ms, created_at
		FROM executions
		WHERE workflow_id = ? AND trigger_type = 'schedule' AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`,
		workflowID, timeToDB(since))
	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return execution, err
}

// CreateStep inserts a new step row. Steps order by insertion within
// an execution.
func (s *Store) CreateStep(ctx context.Context, step *flowkit.ExecutionStep) error {
	inputData, err := json.Marshal(step.InputData)
	if err != nil {
		return fmt.Errorf("encoding step input: %w", err)
	}
	outputData, err := json.Marshal(step.OutputData)
	if err != nil {
		return fmt.Errorf("encoding step output: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_steps
			(id, execution_id, node_id, node_type, status, input_data, output_data,
			 error_message, started_at, completed_at, duration_ms, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM execution_steps WHERE execution_id = ?))`,
		step.ID, step.ExecutionID, step.NodeID, step.NodeType, string(step.Status),
		string(inputData), string(outputData), step.ErrorMessage,
		timeToDB(step.StartedAt), timeToDB(step.CompletedAt), step.DurationMS,
		step.ExecutionID)
	if err != nil {
		return fmt.Errorf("inserting step: %w", err)
	}
	return nil
}

// UpdateStep overwrites a step row by ID.
func (s *Store) UpdateStep(ctx context.Context, step *flowkit.ExecutionStep) error {
	outputData, err := json.Marshal(step.OutputData)
	if err != nil {
		return fmt.Errorf("encoding step output: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE execution_steps SET
			status = ?, output_data = ?, error_message = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		string(step.Status), string(outputData), step.ErrorMessage,
		timeToDB(step.CompletedAt), step.DurationMS, step.ID)
	if err != nil {
		return fmt.Errorf("updating step: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("step not found: %s", step.ID)
	}
	return nil
}

// ListSteps returns all steps for an execution in creation order.
func (s *Store) ListSteps(ctx context.Context, executionID string) ([]*flowkit.ExecutionStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, node_id, node_type, status, input_data, output_data,
		       error_message, started_at, completed_at, duration_ms
		FROM execution_steps WHERE execution_id = ? ORDER BY seq`, executionID)
	if err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}
	defer rows.Close()

	var steps []*flowkit.ExecutionStep
	for rows.Next() {
		var step flowkit.ExecutionStep
		var status, inputData, outputData, startedAt, completedAt string
		err := rows.Scan(&step.ID, &step.ExecutionID, &step.NodeID, &step.NodeType,
			&status, &inputData, &outputData, &step.ErrorMessage,
			&startedAt, &completedAt, &step.DurationMS)
		if err != nil {
			return nil, err
		}
		step.Status = flowkit.StepStatus(status)
		if err := json.Unmarshal([]byte(inputData), &step.InputData); err != nil {
			return nil, fmt.Errorf("decoding step input: %w", err)
		}
		if err := json.Unmarshal([]byte(outputData), &step.OutputData); err != nil {
			return nil, fmt.Errorf("decoding step output: %w", err)
		}
		if step.StartedAt, err = timeFromDB(startedAt); err != nil {
			return nil, err
		}
		if step.CompletedAt, err = timeFromDB(completedAt); err != nil {
			return nil, err
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

// SaveWorkflow inserts or replaces a workflow definition.
func (s *Store) SaveWorkflow(ctx context.Context, workflow *flowkit.Workflow) error {
	nodes, err := json.Marshal(workflow.Nodes)
	if err != nil {
		return fmt.Errorf("encoding workflow nodes: %w", err)
	}
	edges, err := json.Marshal(workflow.Edges)
	if err != nil {
		return fmt.Errorf("encoding workflow edges: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, user_id, name, is_active, nodes, edges)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id, name = excluded.name,
			is_active = excluded.is_active, nodes = excluded.nodes, edges = excluded.edges`,
		workflow.ID, workflow.UserID, workflow.Name, boolToInt(workflow.IsActive),
		string(nodes), string(edges))
	if err != nil {
		return fmt.Errorf("saving workflow: %w", err)
	}
	return nil
}

// ListActiveWorkflows returns all workflows marked active.
func (s *Store) ListActiveWorkflows(ctx context.Context) ([]*flowkit.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, is_active, nodes, edges
		FROM workflows WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*flowkit.Workflow
	for rows.Next() {
		var workflow flowkit.Workflow
		var isActive int
		var nodes, edges string
		if err := rows.Scan(&workflow.ID, &workflow.UserID, &workflow.Name, &isActive, &nodes, &edges); err != nil {
			return nil, err
		}
		workflow.IsActive = isActive != 0
		if err := json.Unmarshal([]byte(nodes), &workflow.Nodes); err != nil {
			return nil, fmt.Errorf("decoding workflow nodes: %w", err)
		}
		if err := json.Unmarshal([]byte(edges), &workflow.Edges); err != nil {
			return nil, fmt.Errorf("decoding workflow edges: %w", err)
		}
		workflows = append(workflows, &workflow)
	}
	return workflows, rows.Err()
}

// SaveIntegration inserts or replaces a user's credential for a
// provider.
func (s *Store) SaveIntegration(ctx context.Context, userID string, integration flowkit.Integration) error {
	settings, err := json.Marshal(integration.Settings)
	if err != nil {
		return fmt.Errorf("encoding integration settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrations (user_id, provider, access_token, settings, is_active)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token, settings = excluded.settings, is_active = 1`,
		userID, integration.Provider, integration.AccessToken, string(settings))
	if err != nil {
		return fmt.Errorf("saving integration: %w", err)
	}
	return nil
}

// ActiveIntegrations returns the user's active credentials keyed by
// provider.
func (s *Store) ActiveIntegrations(ctx context.Context, userID string) (map[string]flowkit.Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, access_token, settings
		FROM integrations WHERE user_id = ? AND is_active = 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing integrations: %w", err)
	}
	defer rows.Close()

	integrations := map[string]flowkit.Integration{}
	for rows.Next() {
		var integration flowkit.Integration
		var settings string
		if err := rows.Scan(&integration.Provider, &integration.AccessToken, &settings); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(settings), &integration.Settings); err != nil {
			return nil, fmt.Errorf("decoding integration settings: %w", err)
		}
		integrations[integration.Provider] = integration
	}
	return integrations, rows.Err()
}

// RPush appends a value to the tail of the named list.
func (s *Store) RPush(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_items (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("pushing queue item: %w", err)
	}
	return nil
}

// LPop removes and returns the head of the named list, or (nil, nil)
// when empty. Select and delete run in one transaction so concurrent
// workers never pop the same item.
func (s *Store) LPop(ctx context.Context, key string) ([]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	var value []byte
	err = tx.QueryRowContext(ctx,
		`SELECT id, value FROM queue_items WHERE key = ? ORDER BY id LIMIT 1`, key).
		Scan(&id, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading queue head: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("deleting queue head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing pop: %w", err)
	}
	return value, nil
}

// LLen returns the current length of the named list.
func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	var length int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE key = ?`, key).Scan(&length)
	if err != nil {
		return 0, fmt.Errorf("counting queue items: %w", err)
	}
	return length, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
