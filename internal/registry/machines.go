// Package registry owns the shared mutable state of the dispatcher: the
// machine registry and the task registry. Both use short critical sections
// with a snapshot-read, mutate-commit discipline; callers never perform
// network I/O while holding a registry lock.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/godnc/pkg/model"
)

// MachineRegistry holds the live view of every configured machine. The
// protocol layer updates machine fields from responses and broadcasts; the
// scheduler touches only the reservation flag.
type MachineRegistry struct {
	mu       sync.RWMutex
	machines map[string]*model.Machine
	logger   *slog.Logger
}

// NewMachineRegistry creates an empty machine registry.
func NewMachineRegistry(logger *slog.Logger) *MachineRegistry {
	return &MachineRegistry{
		machines: make(map[string]*model.Machine),
		logger:   logger.With("component", "machine_registry"),
	}
}

// Add registers a machine. Machines start OFF until the protocol layer
// reports their real state.
func (r *MachineRegistry) Add(m model.Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Status == "" {
		m.Status = model.MachineOff
	}
	m.LastUpdate = time.Now().UTC()
	r.machines[m.ID] = &m
}

// Get returns a copy of the machine, or false if unknown.
func (r *MachineRegistry) Get(id string) (model.Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[id]
	if !ok {
		return model.Machine{}, false
	}
	return *m, true
}

// Snapshot returns a consistent point-in-time copy of every machine.
func (r *MachineRegistry) Snapshot() []model.Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, *m)
	}
	return out
}

// ApplyStatus merges a status update from a response or broadcast into the
// machine's live fields. Unknown machines are ignored with a log line rather
// than invented, the update path never creates registry entries.
func (r *MachineRegistry) ApplyStatus(id string, status model.MachineStatus, u model.StatusUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[id]
	if !ok {
		r.logger.Warn("status update for unknown machine", "machine_id", id)
		return
	}
	m.Status = status
	m.ProgramName = u.ProgramName
	m.SpindleSpeed = u.SpindleSpeed
	m.FeedRate = u.FeedRate
	m.SpindleLoad = u.SpindleLoad
	m.CurrentTool = u.CurrentTool
	m.WorkpieceCount = u.WorkpieceCount
	m.AlarmCode = u.AlarmCode
	m.AlarmMessage = u.AlarmMessage
	m.LastUpdate = time.Now().UTC()
}

// Reserve claims the machine for a task for the window between a scheduling
// decision and the confirmed dispatch outcome. A machine can be reserved by
// at most one task at a time.
func (r *MachineRegistry) Reserve(machineID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[machineID]
	if !ok {
		return fmt.Errorf("reserve machine %s: %w", machineID, model.ErrMachineNotFound)
	}
	if m.Reserved {
		return fmt.Errorf("reserve: machine %s already reserved by task %s", machineID, m.ReservedBy)
	}
	m.Reserved = true
	m.ReservedBy = taskID
	return nil
}

// Release drops the machine's reservation.
func (r *MachineRegistry) Release(machineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.machines[machineID]; ok {
		m.Reserved = false
		m.ReservedBy = ""
	}
}

// SetCurrentTask records (or clears, with "") the task a machine is hosting.
func (r *MachineRegistry) SetCurrentTask(machineID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.machines[machineID]; ok {
		m.CurrentTask = taskID
	}
}

// SetDegraded flags or clears a repeatedly timing out connection. Degraded
// machines drop out of the candidate pool; their task bookkeeping is left
// alone.
func (r *MachineRegistry) SetDegraded(machineID string, degraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.machines[machineID]; ok {
		m.Degraded = degraded
	}
}

// MarkOffline records that reconnection attempts were exhausted. The machine
// reads as OFF and is excluded from scheduling until a reconnect succeeds.
func (r *MachineRegistry) MarkOffline(machineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.machines[machineID]; ok {
		m.Status = model.MachineOff
		m.Degraded = false
		m.LastUpdate = time.Now().UTC()
	}
}

// SetMaterial records the stock currently loaded on the machine.
func (r *MachineRegistry) SetMaterial(machineID, mat string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.machines[machineID]; ok {
		m.Material = mat
	}
}
