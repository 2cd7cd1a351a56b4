package store

import (
	"context"
	"time"

	"github.com/me/godnc/pkg/model"
)

// Store is the dispatcher's persistence layer. Live task and machine state
// lives in the registries; the store keeps what outlives a process: terminal
// tasks and the dispatch history.
type Store interface {
	// Task archive
	ArchiveTask(ctx context.Context, t model.ProductionTask) error
	GetArchivedTask(ctx context.Context, id string) (*model.ProductionTask, error)
	ListArchivedTasks(ctx context.Context, opts model.ListOptions) ([]*model.ProductionTask, int, error)

	// Dispatch history
	RecordDispatch(ctx context.Context, taskID, machineID, outcome string) error
	ListDispatches(ctx context.Context, machineID string, limit int) ([]*Dispatch, error)
	DispatchCountSince(ctx context.Context, machineID string, since time.Time) (int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Dispatch is one recorded dispatch attempt.
type Dispatch struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	MachineID string    `json:"machine_id"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}
