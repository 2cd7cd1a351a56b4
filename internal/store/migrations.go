package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all dispatcher tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS archived_tasks (
		id               TEXT PRIMARY KEY,
		order_ref        TEXT NOT NULL DEFAULT '',
		product_model    TEXT NOT NULL DEFAULT '',
		material         TEXT NOT NULL,
		priority         INTEGER NOT NULL DEFAULT 0,
		quantity         INTEGER NOT NULL DEFAULT 0,
		program_name     TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		assigned_machine TEXT NOT NULL DEFAULT '',
		retry_count      INTEGER NOT NULL DEFAULT 0,
		error_message    TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		started_at       TEXT,
		completed_at     TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS dispatches (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id    TEXT NOT NULL,
		machine_id TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_archived_tasks_status ON archived_tasks(status)`,
	`CREATE INDEX IF NOT EXISTS idx_archived_tasks_machine ON archived_tasks(assigned_machine)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatches_machine ON dispatches(machine_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatches_task ON dispatches(task_id)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
