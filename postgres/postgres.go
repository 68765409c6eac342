// Package postgres provides a store implementing the execution record,
// workflow, integration, and queue list contracts over PostgreSQL. The
// queue pop uses SKIP LOCKED so multiple worker processes can share one
// database without double-delivering jobs.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/flowkit-dev/flowkit"
	"github.com/goccy/go-json"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// Store implements flowkit.ExecutionStore, flowkit.IntegrationStore,
// flowkit.WorkflowSource, and flowkit.ListStore over PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ flowkit.ExecutionStore   = (*Store)(nil)
	_ flowkit.IntegrationStore = (*Store)(nil)
	_ flowkit.WorkflowSource   = (*Store)(nil)
	_ flowkit.ListStore        = (*Store)(nil)
)

// Open connects with the given DSN and applies the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func minuteBucket(execution *flowkit.Execution) sql.NullTime {
	if execution.TriggerType != flowkit.TriggerTypeSchedule {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: execution.CreatedAt.UTC().Truncate(time.Minute), Valid: true}
}

// CreateExecution inserts a new execution row. Schedule triggers also
// hit the one-per-workflow-per-minute unique index; a duplicate fails
// with a constraint error.
func (s *Store) CreateExecution(ctx context.Context, execution *flowkit.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(id, workflow_id, user_id, status, trigger_type, error_message,
			 started_at, completed_at, duration_ms, created_at, minute_bucket)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		execution.ID, execution.WorkflowID, execution.UserID,
		string(execution.Status), string(execution.TriggerType), execution.ErrorMessage,
		nullTime(execution.StartedAt), nullTime(execution.CompletedAt),
		execution.DurationMS, nullTime(execution.CreatedAt), minuteBucket(execution))
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// UpdateExecution overwrites an execution row by ID.
func (s *Store) UpdateExecution(ctx context.Context, execution *flowkit.Execution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			status = $1, error_message = $2, started_at = $3, completed_at = $4, duration_ms = $5
		WHERE id = $6`,
		string(execution.Status), execution.ErrorMessage,
		nullTime(execution.StartedAt), nullTime(execution.CompletedAt),
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
		FROM executions WHERE id = $1`, id)
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
	var status, triggerType string
	var startedAt, completedAt, createdAt sql.NullTime
	err := row.Scan(&execution.ID, &execution.WorkflowID, &execution.UserID,
		&status, &triggerType, &execution.ErrorMessage,
		&startedAt, &completedAt, &execution.DurationMS, &createdAt)
	if err != nil {
		return nil, err
	}
	execution.Status = flowkit.ExecutionStatus(status)
	execution.TriggerType = flowkit.TriggerType(triggerType)
	execution.StartedAt = fromNullTime(startedAt)
	execution.CompletedAt = fromNullTime(completedAt)
	execution.CreatedAt = fromNullTime(createdAt)
	return &execution, nil
}

// LatestScheduleExecution returns the most recent schedule-triggered
// execution for the workflow created at or after since, or nil.
func (s *Store) LatestScheduleExecution(ctx context.Context, workflowID string, since time.Time) (*flowkit.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, user_id, status, trigger_type, error_message,
		       started_at, completed_at, duration_ms, created_at
		FROM executions
		WHERE workflow_id = $1 AND trigger_type = 'schedule' AND created_at >= $2
		ORDER BY created_at DESC LIMIT 1`,
		workflowID, since.UTC())
	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return execution, err
}

// CreateStep inserts a new step row.
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
			 error_message, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		step.ID, step.ExecutionID, step.NodeID, step.NodeType, string(step.Status),
		string(inputData), string(outputData), step.ErrorMessage,
		nullTime(step.StartedAt), nullTime(step.CompletedAt), step.DurationMS)
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
			status = $1, output_data = $2, error_message = $3, completed_at = $4, duration_ms = $5
		WHERE id = $6`,
		string(step.Status), string(outputData), step.ErrorMessage,
		nullTime(step.CompletedAt), step.DurationMS, step.ID)
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
		FROM execution_steps WHERE execution_id = $1 ORDER BY seq`, executionID)
	if err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}
	defer rows.Close()

	var steps []*flowkit.ExecutionStep
	for rows.Next() {
		var step flowkit.ExecutionStep
		var status, inputData, outputData string
		var startedAt, completedAt sql.NullTime
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
		step.StartedAt = fromNullTime(startedAt)
		step.CompletedAt = fromNullTime(completedAt)
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
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id, name = excluded.name,
			is_active = excluded.is_active, nodes = excluded.nodes, edges = excluded.edges`,
		workflow.ID, workflow.UserID, workflow.Name, workflow.IsActive,
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
		FROM workflows WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*flowkit.Workflow
	for rows.Next() {
		var workflow flowkit.Workflow
		var nodes, edges string
		if err := rows.Scan(&workflow.ID, &workflow.UserID, &workflow.Name, &workflow.IsActive, &nodes, &edges); err != nil {
			return nil, err
		}
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
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token, settings = excluded.settings, is_active = TRUE`,
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
		FROM integrations WHERE user_id = $1 AND is_active`, userID)
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
		`INSERT INTO queue_items (key, value) VALUES ($1, $2)`, key, value)
	if err != nil {
		return fmt.Errorf("pushing queue item: %w", err)
	}
	return nil
}

// LPop removes and returns the head of the named list, or (nil, nil)
// when empty. SKIP LOCKED lets concurrent workers pop different rows
// instead of blocking on each other, and the delete-returning form
// makes the pop a single atomic statement.
func (s *Store) LPop(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM queue_items WHERE id = (
			SELECT id FROM queue_items WHERE key = $1
			ORDER BY id LIMIT 1
			FOR UPDATE SKIP LOCKED
		) RETURNING value`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("popping queue item: %w", err)
	}
	return value, nil
}

// LLen returns the current length of the named list.
func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	var length int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE key = $1`, key).Scan(&length)
	if err != nil {
		return 0, fmt.Errorf("counting queue items: %w", err)
	}
	return length, nil
}
