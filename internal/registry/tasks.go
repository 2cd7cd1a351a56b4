package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/me/godnc/pkg/model"
)

// TaskRegistry holds every production task known to the dispatcher. Tasks
// enter via order intake (the REST façade) and are mutated only through
// Commit, which runs the mutation inside the registry lock.
type TaskRegistry struct {
	mu     sync.RWMutex
	tasks  map[string]*model.ProductionTask
	logger *slog.Logger
}

// NewTaskRegistry creates an empty task registry.
func NewTaskRegistry(logger *slog.Logger) *TaskRegistry {
	return &TaskRegistry{
		tasks:  make(map[string]*model.ProductionTask),
		logger: logger.With("component", "task_registry"),
	}
}

// Add registers a new task. Duplicate ids are rejected.
func (r *TaskRegistry) Add(t model.ProductionTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = model.TaskPending
	}
	r.tasks[t.ID] = &t
	return nil
}

// Get returns a copy of the task, or false if unknown.
func (r *TaskRegistry) Get(id string) (model.ProductionTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return model.ProductionTask{}, false
	}
	return *t, true
}

// List returns copies of every task, newest first.
func (r *TaskRegistry) List() []model.ProductionTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ProductionTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ByStatus returns copies of tasks in the given status, ordered by creation
// time ascending so strategies see a stable queue.
func (r *TaskRegistry) ByStatus(status model.TaskStatus) []model.ProductionTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.ProductionTask
	for _, t := range r.tasks {
		if t.Status == status {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Commit runs fn on the live task under the registry lock. fn returning an
// error aborts the commit with the task unchanged beyond what fn already did;
// mutations must therefore be applied only after fn's own validation. This is
// the single write path for task state.
func (r *TaskRegistry) Commit(id string, fn func(*model.ProductionTask) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrTaskNotFound)
	}
	if err := fn(t); err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// AssignedTo returns a copy of the non-terminal task assigned to the machine,
// if any. At most one exists by the reservation invariant.
func (r *TaskRegistry) AssignedTo(machineID string) (model.ProductionTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tasks {
		if t.AssignedMachine == machineID && !t.Status.IsTerminal() {
			return *t, true
		}
	}
	return model.ProductionTask{}, false
}
