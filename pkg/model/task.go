package model

import (
	"time"
)

// ProductionTask is a unit of production work dispatched to a machine tool.
// Tasks are created by order intake, mutated by the scheduler and by explicit
// operator commands, and archived outside the dispatch core.
type ProductionTask struct {
	ID       string `json:"id"`
	OrderRef string `json:"order_ref"`

	// ProductModel is the part model number from the production order.
	ProductModel string `json:"product_model,omitempty"`

	// Material is the required stock material (e.g. "S45C"). The
	// compatibility engine resolves it to a changeover group.
	Material string `json:"material"`

	// Capabilities lists machine capabilities the task requires
	// (e.g. "turning", "facing").
	Capabilities []string `json:"capabilities,omitempty"`

	// Priority orders tasks within a strategy; higher is more urgent.
	Priority int `json:"priority"`

	Quantity    int    `json:"quantity"`
	ProgramName string `json:"program_name,omitempty"`

	Status          TaskStatus `json:"status"`
	AssignedMachine string     `json:"assigned_machine,omitempty"`
	RetryCount      int        `json:"retry_count"`
	ErrorMessage    string     `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the task to next, enforcing the task transition table.
// UpdatedAt and the start/completion timestamps are maintained here so every
// caller gets the same bookkeeping.
func (t *ProductionTask) Transition(next TaskStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{Entity: "task", ID: t.ID, From: t.Status.String(), To: next.String()}
	}
	now := time.Now().UTC()
	t.Status = next
	t.UpdatedAt = now
	switch next {
	case TaskRunning:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case TaskCompleted, TaskFailed, TaskCancelled:
		t.CompletedAt = &now
	}
	return nil
}
