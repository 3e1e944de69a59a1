package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"sort"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agent_fleet.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitializeIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Initialize(); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
}

func TestEnqueueTaskInvariants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.EnqueueTask(ctx, "codex", `{"working_dir":"/tmp"}`)
	if err != nil {
		t.Fatalf("EnqueueTask failed: %v", err)
	}
	if task.Status != StatusQueued {
		t.Errorf("expected status queued, got %s", task.Status)
	}
	if task.QueuedAt != task.CreatedAt {
		t.Errorf("expected queued_at == created_at, got %s vs %s", task.QueuedAt, task.CreatedAt)
	}
	if task.CreatedAt > task.UpdatedAt {
		t.Errorf("expected created_at <= updated_at")
	}
	if task.StartedAt != nil || task.FinishedAt != nil {
		t.Errorf("expected started_at/finished_at unset at birth")
	}
}

func TestTaskLifecycleTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.EnqueueTask(ctx, "codex", `{}`)
	if err != nil {
		t.Fatalf("EnqueueTask failed: %v", err)
	}

	running, ok, err := s.DequeueNextTask(ctx)
	if err != nil || !ok {
		t.Fatalf("DequeueNextTask failed: ok=%v err=%v", ok, err)
	}
	if running.ID != task.ID {
		t.Fatalf("expected to claim enqueued task")
	}
	if running.Status != StatusRunning || running.StartedAt == nil {
		t.Fatalf("expected running status with started_at set, got %+v", running)
	}

	finished, err := s.MarkTaskSucceeded(ctx, task.ID)
	if err != nil {
		t.Fatalf("MarkTaskSucceeded failed: %v", err)
	}
	if finished.Status != StatusSucceeded || finished.FinishedAt == nil {
		t.Fatalf("expected succeeded status with finished_at set, got %+v", finished)
	}
}

func TestExecutionEventsSequenceNumberContiguous(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.EnqueueTask(ctx, "codex", `{}`)
	if err != nil {
		t.Fatalf("EnqueueTask failed: %v", err)
	}
	execution, err := s.CreateExecution(ctx, task.ID, "codex")
	if err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}

	for i := int64(1); i <= 3; i++ {
		if _, err := s.AppendExecutionEvent(ctx, execution.ID, i, "stdout", "raw_text", "line"); err != nil {
			t.Fatalf("AppendExecutionEvent(%d) failed: %v", i, err)
		}
	}

	events, err := s.ListExecutionEvents(ctx, execution.ID)
	if err != nil {
		t.Fatalf("ListExecutionEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, e := range events {
		if e.SequenceNumber != int64(i+1) {
			t.Errorf("expected sequence_number %d, got %d", i+1, e.SequenceNumber)
		}
	}
	if !sort.SliceIsSorted(events, func(i, j int) bool { return events[i].ID < events[j].ID }) {
		t.Errorf("expected events ordered by id to match sequence order")
	}
}

func TestJSONEventPayloadRoundTripsAsValidJSON(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, _ := s.EnqueueTask(ctx, "codex", `{}`)
	execution, _ := s.CreateExecution(ctx, task.ID, "codex")

	payload := `{"b":1,"a":2}`
	event, err := s.AppendExecutionEvent(ctx, execution.ID, 1, "json", "task_started", payload)
	if err != nil {
		t.Fatalf("AppendExecutionEvent failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(event.Payload), &decoded); err != nil {
		t.Fatalf("expected payload to be valid JSON: %v", err)
	}
}

func TestGetTaskHistoryMissingTask(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetTaskHistory(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetTaskHistory failed: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing task")
	}
}

func TestGetTaskHistoryNestsExecutionsAndEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, _ := s.EnqueueTask(ctx, "codex", `{}`)
	execution, _ := s.CreateExecution(ctx, task.ID, "codex")
	if _, err := s.AppendExecutionEvent(ctx, execution.ID, 1, "stdout", "raw_text", "hello"); err != nil {
		t.Fatalf("AppendExecutionEvent failed: %v", err)
	}

	history, ok, err := s.GetTaskHistory(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("GetTaskHistory failed: ok=%v err=%v", ok, err)
	}
	if len(history.Executions) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(history.Executions))
	}
	if len(history.Executions[0].Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(history.Executions[0].Events))
	}
}

// TestMigrationBackfillsLegacyColumns simulates a pre-migration database
// (no sequence_number/source columns on execution_events, sparse process_id
// on executions) and asserts that Initialize brings it forward.
func TestMigrationBackfillsLegacyColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}

	legacySchema := []string{
		`CREATE TABLE tasks (
			id TEXT PRIMARY KEY, kind TEXT NOT NULL, payload TEXT NOT NULL,
			status TEXT NOT NULL, created_at TEXT NOT NULL, updated_at TEXT NOT NULL,
			queued_at TEXT NOT NULL, started_at TEXT, finished_at TEXT
		)`,
		`CREATE TABLE executions (
			id TEXT PRIMARY KEY, task_id TEXT NOT NULL, agent_name TEXT NOT NULL,
			status TEXT NOT NULL, created_at TEXT NOT NULL, started_at TEXT, finished_at TEXT
		)`,
		`CREATE TABLE execution_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT, execution_id TEXT NOT NULL,
			event_type TEXT NOT NULL, payload TEXT NOT NULL, created_at TEXT NOT NULL
		)`,
		`INSERT INTO tasks VALUES ('t1','codex','{}','succeeded','c','u','q',NULL,NULL)`,
		`INSERT INTO executions VALUES ('e1','t1','codex','succeeded','c',NULL,NULL)`,
		`INSERT INTO execution_events (execution_id, event_type, payload, created_at) VALUES ('e1','json_event','{}','c')`,
		`INSERT INTO execution_events (execution_id, event_type, payload, created_at) VALUES ('e1','json_event','{}','c')`,
	}
	for _, stmt := range legacySchema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("legacy schema setup failed: %v", err)
		}
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open on legacy db failed: %v", err)
	}
	defer s.Close()

	events, err := s.ListExecutionEvents(context.Background(), "e1")
	if err != nil {
		t.Fatalf("ListExecutionEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 legacy events, got %d", len(events))
	}
	for i, e := range events {
		if e.SequenceNumber != int64(i+1) {
			t.Errorf("expected backfilled sequence_number %d, got %d", i+1, e.SequenceNumber)
		}
		if e.Source != "json" {
			t.Errorf("expected backfilled source=json, got %q", e.Source)
		}
	}
}
