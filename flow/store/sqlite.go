package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/flowrun-go/flow"
	_ "modernc.org/sqlite"
)

// SQLiteExecutionStore is a SQLite implementation of flow.ExecutionStore.
//
// It persists execution records in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-process hosts
//   - Local persistence before migrating to MySQL
//
// The store uses WAL mode so readers do not block the engine's
// checkpoint writes. Payload maps and node records are stored as JSON
// text columns; timestamps are stored as RFC 3339 strings with
// nanosecond precision so round-trips preserve ordering.
//
// Example:
//
//	store, err := store.NewSQLiteExecutionStore("./flowrun.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// For testing with an in-memory database:
//
//	store, err := store.NewSQLiteExecutionStore(":memory:")
type SQLiteExecutionStore struct {
	db *sql.DB
}

// NewSQLiteExecutionStore opens (creating if needed) the database at
// path and migrates the schema.
func NewSQLiteExecutionStore(path string) (*SQLiteExecutionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteExecutionStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteExecutionStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			input_data TEXT,
			output_data TEXT,
			error_message TEXT NOT NULL DEFAULT '',
			node_executions TEXT
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_exec_workflow ON executions(workflow_id, started_at)",
		"CREATE INDEX IF NOT EXISTS idx_exec_status ON executions(status)",
		"CREATE INDEX IF NOT EXISTS idx_exec_started ON executions(started_at)",
	} {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Close releases the database connection.
func (s *SQLiteExecutionStore) Close() error {
	return s.db.Close()
}

// Save implements flow.ExecutionStore: insert or replace by ID.
func (s *SQLiteExecutionStore) Save(ctx context.Context, exec *flow.Execution) error {
	row, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions
			(id, workflow_id, trigger_type, status, started_at, finished_at,
			 input_data, output_data, error_message, node_executions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			output_data = excluded.output_data,
			error_message = excluded.error_message,
			node_executions = excluded.node_executions
	`
	_, err = s.db.ExecContext(ctx, query,
		row.id, row.workflowID, row.triggerType, row.status, row.startedAt,
		row.finishedAt, row.inputData, row.outputData, row.errorMessage, row.nodeExecutions)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}
	return nil
}

const executionColumns = `id, workflow_id, trigger_type, status, started_at,
	finished_at, input_data, output_data, error_message, node_executions`

// FindByID implements flow.ExecutionStore.
func (s *SQLiteExecutionStore) FindByID(ctx context.Context, id string) (*flow.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE id = ?", id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return exec, err
}

// FindByWorkflowID implements flow.ExecutionStore: most recently started
// first.
func (s *SQLiteExecutionStore) FindByWorkflowID(ctx context.Context, workflowID string) ([]*flow.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE workflow_id = ? ORDER BY started_at DESC",
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	return collectExecutions(rows)
}

// FindRunning implements flow.ExecutionStore.
func (s *SQLiteExecutionStore) FindRunning(ctx context.Context) ([]*flow.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE status = ? ORDER BY started_at DESC",
		string(flow.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query running executions: %w", err)
	}
	return collectExecutions(rows)
}

// FindByTimeRange implements flow.ExecutionStore: executions started
// within [from, to], most recent first.
func (s *SQLiteExecutionStore) FindByTimeRange(ctx context.Context, from, to time.Time) ([]*flow.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE started_at >= ? AND started_at <= ? ORDER BY started_at DESC",
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to query executions by time range: %w", err)
	}
	return collectExecutions(rows)
}

// DeleteAll implements flow.ExecutionStore.
func (s *SQLiteExecutionStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM executions"); err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}
	return nil
}

// executionRow is the wire form of an execution in SQL stores.
type executionRow struct {
	id             string
	workflowID     string
	triggerType    string
	status         string
	startedAt      string
	finishedAt     sql.NullString
	inputData      sql.NullString
	outputData     sql.NullString
	errorMessage   string
	nodeExecutions sql.NullString
}

func encodeExecution(exec *flow.Execution) (*executionRow, error) {
	row := &executionRow{
		id:           exec.ID,
		workflowID:   exec.WorkflowID,
		triggerType:  string(exec.TriggerType),
		status:       string(exec.Status),
		startedAt:    exec.StartedAt.UTC().Format(time.RFC3339Nano),
		errorMessage: exec.ErrorMessage,
	}
	if exec.FinishedAt != nil {
		row.finishedAt = sql.NullString{String: exec.FinishedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	var err error
	if row.inputData, err = marshalNullable(exec.InputData != nil, exec.InputData); err != nil {
		return nil, &flow.DataParsingError{Field: "inputData", Message: "serialize failed", Cause: err}
	}
	if row.outputData, err = marshalNullable(exec.OutputData != nil, exec.OutputData); err != nil {
		return nil, &flow.DataParsingError{Field: "outputData", Message: "serialize failed", Cause: err}
	}
	if row.nodeExecutions, err = marshalNullable(exec.NodeExecutions != nil, exec.NodeExecutions); err != nil {
		return nil, &flow.DataParsingError{Field: "nodeExecutions", Message: "serialize failed", Cause: err}
	}
	return row, nil
}

func marshalNullable(present bool, v any) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(r rowScanner) (*flow.Execution, error) {
	var row executionRow
	if err := r.Scan(&row.id, &row.workflowID, &row.triggerType, &row.status,
		&row.startedAt, &row.finishedAt, &row.inputData, &row.outputData,
		&row.errorMessage, &row.nodeExecutions); err != nil {
		return nil, err
	}
	return decodeExecution(&row)
}

func decodeExecution(row *executionRow) (*flow.Execution, error) {
	startedAt, err := time.Parse(time.RFC3339Nano, row.startedAt)
	if err != nil {
		return nil, &flow.DataParsingError{Field: "startedAt", Message: "invalid timestamp", Cause: err}
	}

	exec := &flow.Execution{
		ID:           row.id,
		WorkflowID:   row.workflowID,
		TriggerType:  flow.TriggerType(row.triggerType),
		Status:       flow.ExecutionStatus(row.status),
		StartedAt:    startedAt,
		ErrorMessage: row.errorMessage,
	}

	if row.finishedAt.Valid {
		finished, err := time.Parse(time.RFC3339Nano, row.finishedAt.String)
		if err != nil {
			return nil, &flow.DataParsingError{Field: "finishedAt", Message: "invalid timestamp", Cause: err}
		}
		exec.FinishedAt = &finished
	}
	if row.inputData.Valid {
		if err := json.Unmarshal([]byte(row.inputData.String), &exec.InputData); err != nil {
			return nil, &flow.DataParsingError{Field: "inputData", Message: "deserialize failed", Cause: err}
		}
	}
	if row.outputData.Valid {
		if err := json.Unmarshal([]byte(row.outputData.String), &exec.OutputData); err != nil {
			return nil, &flow.DataParsingError{Field: "outputData", Message: "deserialize failed", Cause: err}
		}
	}
	if row.nodeExecutions.Valid {
		if err := json.Unmarshal([]byte(row.nodeExecutions.String), &exec.NodeExecutions); err != nil {
			return nil, &flow.DataParsingError{Field: "nodeExecutions", Message: "deserialize failed", Cause: err}
		}
	}
	return exec, nil
}

func collectExecutions(rows *sql.Rows) ([]*flow.Execution, error) {
	defer rows.Close()

	var out []*flow.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return out, nil
}
