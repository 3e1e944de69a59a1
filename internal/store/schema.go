package store

import "database/sql"

// schemaStatements creates the three core tables and their indexes as plain
// SQL strings, applied idempotently on every Open.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('queued', 'running', 'succeeded', 'failed', 'canceled')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		queued_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		agent_name TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('queued', 'running', 'succeeded', 'failed', 'canceled')),
		process_id INTEGER,
		exit_code INTEGER,
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS execution_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
		sequence_number INTEGER NOT NULL,
		source TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_queued_at ON tasks(status, queued_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_task_id ON executions(task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_execution_events_execution_id ON execution_events(execution_id, id)`,
}

// migrationColumns lists additive columns that must exist on tables created
// by an earlier schema version. Each is added as nullable so that it is safe
// to apply against a fresh database too (initSchema already creates them).
var migrationColumns = map[string][][2]string{
	"executions": {
		{"process_id", "INTEGER"},
		{"exit_code", "INTEGER"},
	},
	"execution_events": {
		{"sequence_number", "INTEGER"},
		{"source", "TEXT"},
	},
}

// initSchema creates tables/indexes, applies additive migrations, and
// backfills migrated columns. Safe to call repeatedly.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	if err := ensureColumns(db); err != nil {
		return err
	}
	return backfillExecutionEvents(db)
}

func ensureColumns(db *sql.DB) error {
	for table, columns := range migrationColumns {
		existing, err := tableColumns(db, table)
		if err != nil {
			return err
		}
		for _, col := range columns {
			name, typ := col[0], col[1]
			if existing[name] {
				continue
			}
			if _, err := db.Exec("ALTER TABLE " + table + " ADD COLUMN " + name + " " + typ); err != nil {
				return err
			}
		}
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// backfillExecutionEvents populates sequence_number (per execution_id, row
// order by id) and source ("json" for legacy rows) where they were just
// added by a migration and are still null.
func backfillExecutionEvents(db *sql.DB) error {
	cols, err := tableColumns(db, "execution_events")
	if err != nil {
		return err
	}

	if cols["sequence_number"] {
		_, err := db.Exec(`
			WITH numbered AS (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY execution_id ORDER BY id ASC) AS seq
				FROM execution_events
			)
			UPDATE execution_events
			SET sequence_number = (
				SELECT seq FROM numbered WHERE numbered.id = execution_events.id
			)
			WHERE sequence_number IS NULL
		`)
		if err != nil {
			return err
		}
	}

	if cols["source"] {
		if _, err := db.Exec(`UPDATE execution_events SET source = 'json' WHERE source IS NULL`); err != nil {
			return err
		}
	}
	return nil
}
