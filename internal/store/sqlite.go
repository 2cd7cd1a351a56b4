package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/godnc/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a
// Store. Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// ArchiveTask upserts a task into the archive. The scheduler archives tasks
// as they go terminal; re-archiving the same id replaces the row.
func (s *SQLiteStore) ArchiveTask(ctx context.Context, t model.ProductionTask) error {
	s.logger.Debug("sql", "op", "upsert", "table", "archived_tasks", "id", t.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO archived_tasks
		 (id, order_ref, product_model, material, priority, quantity, program_name,
		  status, assigned_machine, retry_count, error_message,
		  created_at, updated_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		  status=excluded.status, assigned_machine=excluded.assigned_machine,
		  retry_count=excluded.retry_count, error_message=excluded.error_message,
		  updated_at=excluded.updated_at, started_at=excluded.started_at,
		  completed_at=excluded.completed_at`,
		t.ID, t.OrderRef, t.ProductModel, t.Material, t.Priority, t.Quantity, t.ProgramName,
		string(t.Status), t.AssignedMachine, t.RetryCount, t.ErrorMessage,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
		nullTime(t.StartedAt), nullTime(t.CompletedAt),
	)
	return err
}

// GetArchivedTask returns the archived task, or nil if absent.
func (s *SQLiteStore) GetArchivedTask(ctx context.Context, id string) (*model.ProductionTask, error) {
	s.logger.Debug("sql", "op", "select", "table", "archived_tasks", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, order_ref, product_model, material, priority, quantity, program_name,
		        status, assigned_machine, retry_count, error_message,
		        created_at, updated_at, started_at, completed_at
		 FROM archived_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// ListArchivedTasks returns a page of archived tasks, newest first, plus the
// total count matching the filter.
func (s *SQLiteStore) ListArchivedTasks(ctx context.Context, opts model.ListOptions) ([]*model.ProductionTask, int, error) {
	opts.Clamp()
	s.logger.Debug("sql", "op", "select", "table", "archived_tasks",
		"limit", opts.Limit, "offset", opts.Offset, "status", opts.Status)

	where, args := "", []any{}
	if opts.Status != "" {
		where = " WHERE status = ?"
		args = append(args, opts.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM archived_tasks"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_ref, product_model, material, priority, quantity, program_name,
		        status, assigned_machine, retry_count, error_message,
		        created_at, updated_at, started_at, completed_at
		 FROM archived_tasks`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*model.ProductionTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// RecordDispatch appends one dispatch attempt to the history.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, taskID, machineID, outcome string) error {
	s.logger.Debug("sql", "op", "insert", "table", "dispatches",
		"task_id", taskID, "machine_id", machineID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches (task_id, machine_id, outcome, created_at) VALUES (?, ?, ?, ?)`,
		taskID, machineID, outcome, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// ListDispatches returns the machine's most recent dispatch attempts, newest
// first. machineID "" lists across all machines.
func (s *SQLiteStore) ListDispatches(ctx context.Context, machineID string, limit int) ([]*Dispatch, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := "", []any{}
	if machineID != "" {
		where = " WHERE machine_id = ?"
		args = append(args, machineID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, machine_id, outcome, created_at FROM dispatches`+
			where+` ORDER BY id DESC LIMIT ?`, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Dispatch
	for rows.Next() {
		var d Dispatch
		var created string
		if err := rows.Scan(&d.ID, &d.TaskID, &d.MachineID, &d.Outcome, &created); err != nil {
			return nil, err
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// DispatchCountSince counts the machine's dispatches at or after since.
func (s *SQLiteStore) DispatchCountSince(ctx context.Context, machineID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dispatches WHERE machine_id = ? AND created_at >= ?`,
		machineID, since.UTC().Format(time.RFC3339Nano)).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.ProductionTask, error) {
	var t model.ProductionTask
	var status, createdAt, updatedAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(&t.ID, &t.OrderRef, &t.ProductModel, &t.Material, &t.Priority,
		&t.Quantity, &t.ProgramName, &status, &t.AssignedMachine, &t.RetryCount,
		&t.ErrorMessage, &createdAt, &updatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	t.StartedAt = parseNullTime(startedAt)
	t.CompletedAt = parseNullTime(completedAt)
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
