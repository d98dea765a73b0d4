package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dshills/flowrun-go/flow"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLExecutionStore is a MySQL/MariaDB implementation of
// flow.ExecutionStore.
//
// Designed for:
//   - Production hosts requiring durable execution history
//   - Multiple engine processes sharing one history
//   - Audit trails and compliance requirements
//
// The schema mirrors the SQLite store: JSON text columns for payloads
// and node records, RFC 3339 strings for timestamps.
//
// Security warning: never hardcode credentials in source. Use an
// environment variable:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	if dsn == "" {
//	    log.Fatal("MYSQL_DSN environment variable not set")
//	}
//	store, err := store.NewMySQLExecutionStore(dsn)
type MySQLExecutionStore struct {
	db *sql.DB
}

// NewMySQLExecutionStore opens a pooled connection for the DSN, verifies
// it, and migrates the schema.
//
// DSN format: [username[:password]@][protocol[(address)]]/dbname[?params]
//
// Example:
//
//	store, err := store.NewMySQLExecutionStore("user:pass@tcp(localhost:3306)/flowrun")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func NewMySQLExecutionStore(dsn string) (*MySQLExecutionStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLExecutionStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLExecutionStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			trigger_type VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL,
			started_at VARCHAR(40) NOT NULL,
			finished_at VARCHAR(40),
			input_data LONGTEXT,
			output_data LONGTEXT,
			error_message TEXT NOT NULL,
			node_executions LONGTEXT,
			INDEX idx_exec_workflow (workflow_id, started_at),
			INDEX idx_exec_status (status),
			INDEX idx_exec_started (started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *MySQLExecutionStore) Close() error {
	return s.db.Close()
}

// Save implements flow.ExecutionStore: insert or update by ID.
func (s *MySQLExecutionStore) Save(ctx context.Context, exec *flow.Execution) error {
	row, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions
			(id, workflow_id, trigger_type, status, started_at, finished_at,
			 input_data, output_data, error_message, node_executions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			finished_at = VALUES(finished_at),
			output_data = VALUES(output_data),
			error_message = VALUES(error_message),
			node_executions = VALUES(node_executions)
	`
	_, err = s.db.ExecContext(ctx, query,
		row.id, row.workflowID, row.triggerType, row.status, row.startedAt,
		row.finishedAt, row.inputData, row.outputData, row.errorMessage, row.nodeExecutions)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}
	return nil
}

// FindByID implements flow.ExecutionStore.
func (s *MySQLExecutionStore) FindByID(ctx context.Context, id string) (*flow.Execution, error) {
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
func (s *MySQLExecutionStore) FindByWorkflowID(ctx context.Context, workflowID string) ([]*flow.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE workflow_id = ? ORDER BY started_at DESC",
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	return collectExecutions(rows)
}

// FindRunning implements flow.ExecutionStore.
func (s *MySQLExecutionStore) FindRunning(ctx context.Context) ([]*flow.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE status = ? ORDER BY started_at DESC",
		string(flow.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query running executions: %w", err)
	}
	return collectExecutions(rows)
}

// FindByTimeRange implements flow.ExecutionStore.
func (s *MySQLExecutionStore) FindByTimeRange(ctx context.Context, from, to time.Time) ([]*flow.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE started_at >= ? AND started_at <= ? ORDER BY started_at DESC",
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to query executions by time range: %w", err)
	}
	return collectExecutions(rows)
}

// DeleteAll implements flow.ExecutionStore.
func (s *MySQLExecutionStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM executions"); err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}
	return nil
}
