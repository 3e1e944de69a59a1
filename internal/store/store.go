// Package store provides durable SQLite persistence of tasks, executions,
// and execution events, with idempotent schema initialization and additive
// forward migrations, over database/sql and mattn/go-sqlite3.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mx-claw/agent-fleet/internal/apperrors"
)

// Store is the exclusive owner of the persistent form of Task, Execution,
// and ExecutionEvent. All mutation goes through its methods.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the SQLite database at path and runs
// Initialize. _txlock=immediate makes every transaction started via
// db.BeginTx use BEGIN IMMEDIATE, giving the dequeue-and-claim path its
// atomicity without hand-written BEGIN statements.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperrors.Store(err, "failed to open database")
	}
	// SQLite supports a single writer; serialize via one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: path}
	if err := s.Initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Initialize is idempotent: it creates the parent directory if absent,
// creates tables/indexes, and applies additive migrations. Safe to call
// more than once against the same database.
func (s *Store) Initialize() error {
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return apperrors.Store(err, "failed to create database directory")
		}
	}
	if err := initSchema(s.db); err != nil {
		return apperrors.Store(err, "failed to initialize schema")
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
}

// ---- Task operations ----

// EnqueueTask inserts a new task in status=queued, stamping created_at,
// updated_at, and queued_at to the same instant.
func (s *Store) EnqueueTask(ctx context.Context, kind, payload string) (Task, error) {
	id := uuid.New().String()
	ts := nowISO()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, payload, status, created_at, updated_at, queued_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL)
	`, id, kind, payload, string(StatusQueued), ts, ts, ts)
	if err != nil {
		return Task{}, apperrors.Store(err, "failed to enqueue task")
	}
	return s.GetTask(ctx, id)
}

// DequeueNextTask atomically selects the oldest queued task (by queued_at,
// then id) and transitions it to running inside one immediate transaction.
// Returns (Task{}, false, nil) when the queue is empty.
func (s *Store) DequeueNextTask(ctx context.Context) (Task, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, false, apperrors.Store(err, "failed to begin dequeue transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id FROM tasks
		WHERE status = ?
		ORDER BY queued_at ASC, id ASC
		LIMIT 1
	`, string(StatusQueued))

	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return Task{}, false, nil
		}
		return Task{}, false, apperrors.Store(err, "failed to select next queued task")
	}

	ts := nowISO()
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?, started_at = ? WHERE id = ?
	`, string(StatusRunning), ts, ts, id); err != nil {
		return Task{}, false, apperrors.Store(err, "failed to claim task")
	}

	task, err := scanTaskRow(tx.QueryRowContext(ctx, taskSelectByID, id))
	if err != nil {
		return Task{}, false, apperrors.Store(err, "failed to read claimed task")
	}

	if err := tx.Commit(); err != nil {
		return Task{}, false, apperrors.Store(err, "failed to commit dequeue transaction")
	}
	return task, true, nil
}

// MarkTaskSucceeded transitions a task to succeeded and stamps finished_at.
func (s *Store) MarkTaskSucceeded(ctx context.Context, id string) (Task, error) {
	return s.updateTaskStatus(ctx, id, StatusSucceeded)
}

// MarkTaskFailed transitions a task to failed and stamps finished_at.
func (s *Store) MarkTaskFailed(ctx context.Context, id string) (Task, error) {
	return s.updateTaskStatus(ctx, id, StatusFailed)
}

// MarkTaskCanceled transitions a task to canceled and stamps finished_at.
// No CLI path reaches this today; kept representable for future
// direct-from-queued cancellation.
func (s *Store) MarkTaskCanceled(ctx context.Context, id string) (Task, error) {
	return s.updateTaskStatus(ctx, id, StatusCanceled)
}

func (s *Store) updateTaskStatus(ctx context.Context, id string, status Status) (Task, error) {
	ts := nowISO()
	var finishedAt any
	switch status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		finishedAt = ts
	default:
		finishedAt = nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?, finished_at = COALESCE(?, finished_at) WHERE id = ?
	`, string(status), ts, finishedAt, id)
	if err != nil {
		return Task{}, apperrors.Store(err, "failed to update task status")
	}
	return s.GetTask(ctx, id)
}

const taskSelectByID = `
	SELECT id, kind, payload, status, created_at, updated_at, queued_at, started_at, finished_at
	FROM tasks WHERE id = ?
`

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	task, err := scanTaskRow(s.db.QueryRowContext(ctx, taskSelectByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return Task{}, apperrors.Validation("task %q not found", id)
		}
		return Task{}, apperrors.Store(err, "failed to fetch task")
	}
	return task, nil
}

// ListTasks returns the most recently created tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload, status, created_at, updated_at, queued_at, started_at, finished_at
		FROM tasks ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan task row")
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRow(row rowScanner) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.Kind, &t.Payload, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.QueuedAt, &t.StartedAt, &t.FinishedAt)
	return t, err
}

func scanTask(rows *sql.Rows) (Task, error) {
	return scanTaskRow(rows)
}

// ---- Execution operations ----

// CreateExecution inserts a new execution row in status=queued.
func (s *Store) CreateExecution(ctx context.Context, taskID, agentName string) (Execution, error) {
	id := uuid.New().String()
	ts := nowISO()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, task_id, agent_name, status, process_id, exit_code, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, NULL, NULL, ?, NULL, NULL)
	`, id, taskID, agentName, string(StatusQueued), ts)
	if err != nil {
		return Execution{}, apperrors.Store(err, "failed to create execution")
	}
	return s.GetExecution(ctx, id)
}

// MarkExecutionRunning stamps process_id and started_at, clearing finished_at.
func (s *Store) MarkExecutionRunning(ctx context.Context, id string, processID int) (Execution, error) {
	ts := nowISO()
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, process_id = ?, started_at = ?, finished_at = NULL WHERE id = ?
	`, string(StatusRunning), processID, ts, id)
	if err != nil {
		return Execution{}, apperrors.Store(err, "failed to mark execution running")
	}
	return s.GetExecution(ctx, id)
}

// MarkExecutionSucceeded finalizes an execution with the observed exit code.
func (s *Store) MarkExecutionSucceeded(ctx context.Context, id string, exitCode int) (Execution, error) {
	return s.finishExecution(ctx, id, StatusSucceeded, &exitCode)
}

// MarkExecutionFailed finalizes an execution, with exitCode nil for
// orchestrator-side failures that never reached process exit.
func (s *Store) MarkExecutionFailed(ctx context.Context, id string, exitCode *int) (Execution, error) {
	return s.finishExecution(ctx, id, StatusFailed, exitCode)
}

func (s *Store) finishExecution(ctx context.Context, id string, status Status, exitCode *int) (Execution, error) {
	ts := nowISO()
	var exitCodeArg any
	if exitCode != nil {
		exitCodeArg = *exitCode
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, exit_code = ?, finished_at = ? WHERE id = ?
	`, string(status), exitCodeArg, ts, id)
	if err != nil {
		return Execution{}, apperrors.Store(err, "failed to finalize execution")
	}
	return s.GetExecution(ctx, id)
}

const executionSelectByID = `
	SELECT id, task_id, agent_name, status, process_id, exit_code, created_at, started_at, finished_at
	FROM executions WHERE id = ?
`

// GetExecution fetches an execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (Execution, error) {
	e, err := scanExecutionRow(s.db.QueryRowContext(ctx, executionSelectByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return Execution{}, apperrors.Validation("execution %q not found", id)
		}
		return Execution{}, apperrors.Store(err, "failed to fetch execution")
	}
	return e, nil
}

// ListExecutionsForTask returns a task's executions, oldest first.
func (s *Store) ListExecutionsForTask(ctx context.Context, taskID string) ([]Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, agent_name, status, process_id, exit_code, created_at, started_at, finished_at
		FROM executions WHERE task_id = ? ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		e, err := scanExecutionRow(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan execution row")
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

func scanExecutionRow(row rowScanner) (Execution, error) {
	var e Execution
	err := row.Scan(&e.ID, &e.TaskID, &e.AgentName, &e.Status, &e.ProcessID, &e.ExitCode, &e.CreatedAt, &e.StartedAt, &e.FinishedAt)
	return e, err
}

// ---- Execution event operations ----

// AppendExecutionEvent inserts one classified output line.
func (s *Store) AppendExecutionEvent(ctx context.Context, executionID string, sequenceNumber int64, source, eventType, payload string) (ExecutionEvent, error) {
	ts := nowISO()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_events (execution_id, sequence_number, source, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, executionID, sequenceNumber, source, eventType, payload, ts)
	if err != nil {
		return ExecutionEvent{}, apperrors.Store(err, "failed to append execution event")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return ExecutionEvent{}, apperrors.Store(err, "failed to read inserted event id")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, execution_id, sequence_number, source, event_type, payload, created_at
		FROM execution_events WHERE id = ?
	`, id)
	var e ExecutionEvent
	if err := row.Scan(&e.ID, &e.ExecutionID, &e.SequenceNumber, &e.Source, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
		return ExecutionEvent{}, apperrors.Store(err, "failed to fetch inserted event")
	}
	return e, nil
}

// ListExecutionEvents returns an execution's events, ordered by
// sequence_number then id; the two orderings always coincide.
func (s *Store) ListExecutionEvents(ctx context.Context, executionID string) ([]ExecutionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, sequence_number, source, event_type, payload, created_at
		FROM execution_events WHERE execution_id = ? ORDER BY sequence_number ASC, id ASC
	`, executionID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list execution events")
	}
	defer rows.Close()

	var events []ExecutionEvent
	for rows.Next() {
		var e ExecutionEvent
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.SequenceNumber, &e.Source, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, apperrors.Store(err, "failed to scan execution event row")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetTaskHistory returns the task plus, for each of its executions, the
// ordered list of its events. Returns (TaskHistory{}, false, nil) if the
// task does not exist.
func (s *Store) GetTaskHistory(ctx context.Context, taskID string) (TaskHistory, bool, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		if apperrors.IsValidation(err) {
			return TaskHistory{}, false, nil
		}
		return TaskHistory{}, false, err
	}

	executions, err := s.ListExecutionsForTask(ctx, taskID)
	if err != nil {
		return TaskHistory{}, false, err
	}

	history := TaskHistory{Task: task}
	for _, execution := range executions {
		events, err := s.ListExecutionEvents(ctx, execution.ID)
		if err != nil {
			return TaskHistory{}, false, err
		}
		history.Executions = append(history.Executions, ExecutionHistory{Execution: execution, Events: events})
	}
	return history, true, nil
}
