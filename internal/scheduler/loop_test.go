package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/me/godnc/internal/material"
	"github.com/me/godnc/internal/registry"
	"github.com/me/godnc/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCosts() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"STEEL":           {"STEEL": 0, "ALUMINUM": 30, "STAINLESS_STEEL": 45, "COPPER": 60},
		"ALUMINUM":        {"STEEL": 30, "ALUMINUM": 0, "STAINLESS_STEEL": 40, "COPPER": 35},
		"STAINLESS_STEEL": {"STEEL": 45, "ALUMINUM": 40, "STAINLESS_STEEL": 0, "COPPER": 50},
		"COPPER":          {"STEEL": 60, "ALUMINUM": 35, "STAINLESS_STEEL": 50, "COPPER": 0},
	}
}

func testEngine(t *testing.T) *material.Engine {
	t.Helper()
	engine, err := material.New(testCosts(), testLogger())
	if err != nil {
		t.Fatalf("material engine: %v", err)
	}
	return engine
}

type sentCommand struct {
	MachineID string
	Cmd       model.Command
	Params    map[string]any
}

// fakeDispatcher records every Send and fails the ones a test arranges.
type fakeDispatcher struct {
	mu    sync.Mutex
	sent  []sentCommand
	failF func(machineID string, cmd model.Command) error
}

func (f *fakeDispatcher) Send(_ context.Context, machineID string, cmd model.Command, params map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCommand{MachineID: machineID, Cmd: cmd, Params: params})
	if f.failF != nil {
		if err := f.failF(machineID, cmd); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeDispatcher) commands() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentCommand, len(f.sent))
	copy(out, f.sent)
	return out
}

type testHarness struct {
	loop     *Loop
	machines *registry.MachineRegistry
	tasks    *registry.TaskRegistry
	dispatch *fakeDispatcher
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	h := &testHarness{
		machines: registry.NewMachineRegistry(testLogger()),
		tasks:    registry.NewTaskRegistry(testLogger()),
		dispatch: &fakeDispatcher{},
	}
	h.loop = New(cfg, Deps{
		Machines:   h.machines,
		Tasks:      h.tasks,
		Dispatcher: h.dispatch,
		Engine:     testEngine(t),
		Logger:     testLogger(),
	})
	return h
}

func (h *testHarness) addIdleMachine(id, mat string) {
	h.machines.Add(model.Machine{
		ID: id, Host: "127.0.0.1", Port: 8193, Enabled: true,
		Status: model.MachineIdle, Material: mat,
	})
}

func (h *testHarness) addTask(t *testing.T, id, mat string, priority, quantity int) {
	t.Helper()
	if err := h.tasks.Add(model.ProductionTask{
		ID: id, Material: mat, Priority: priority, Quantity: quantity,
		ProgramName: "O" + id,
	}); err != nil {
		t.Fatalf("add task %s: %v", id, err)
	}
}

func (h *testHarness) taskStatus(t *testing.T, id string) model.TaskStatus {
	t.Helper()
	task, ok := h.tasks.Get(id)
	if !ok {
		t.Fatalf("task %s missing", id)
	}
	return task.Status
}

func TestTick_MaterialMatchDispatchesInOneCycle(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addIdleMachine("M1", "STEEL")
	h.addTask(t, "T1", "STEEL", 5, 0)

	h.loop.Tick(context.Background())

	task, _ := h.tasks.Get("T1")
	if task.Status != model.TaskRunning {
		t.Fatalf("task status = %s, want RUNNING", task.Status)
	}
	if task.AssignedMachine != "M1" {
		t.Errorf("assigned machine = %s, want M1", task.AssignedMachine)
	}
	cmds := h.dispatch.commands()
	if len(cmds) != 1 || cmds[0].Cmd != model.CmdStartMachine || cmds[0].MachineID != "M1" {
		t.Fatalf("sent = %+v, want one start_machine to M1", cmds)
	}
	if cmds[0].Params["program_name"] != "OT1" {
		t.Errorf("start params = %+v", cmds[0].Params)
	}
	m, _ := h.machines.Get("M1")
	if m.CurrentTask != "T1" || !m.Reserved {
		t.Errorf("machine bookkeeping = %+v", m)
	}
}

func TestTick_RetryExhaustionFailsTask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	h := newHarness(t, cfg)
	h.addIdleMachine("M1", "STEEL")
	h.addTask(t, "T1", "STEEL", 5, 0)
	h.dispatch.failF = func(machineID string, cmd model.Command) error {
		return &model.ProtocolError{MachineID: machineID, Op: string(cmd), Timeout: true}
	}

	for i := 1; i <= 3; i++ {
		h.loop.Tick(context.Background())
		task, _ := h.tasks.Get("T1")
		if task.RetryCount != i {
			t.Fatalf("after tick %d: retry count = %d", i, task.RetryCount)
		}
		if i < 3 && task.Status != model.TaskPending {
			t.Fatalf("after tick %d: status = %s, want PENDING", i, task.Status)
		}
	}

	if got := h.taskStatus(t, "T1"); got != model.TaskFailed {
		t.Fatalf("status after exhaustion = %s, want FAILED", got)
	}
	m, _ := h.machines.Get("M1")
	if m.Reserved {
		t.Error("machine should return to the unreserved pool")
	}

	// A FAILED task is never selected again.
	before := len(h.dispatch.commands())
	h.loop.Tick(context.Background())
	if after := len(h.dispatch.commands()); after != before {
		t.Errorf("failed task redispatched: %d -> %d commands", before, after)
	}
}

func TestTick_DispatchesOnlyToIdleMachines(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.machines.Add(model.Machine{ID: "M1", Enabled: true, Status: model.MachineRunning, Material: "STEEL"})
	h.machines.Add(model.Machine{ID: "M2", Enabled: true, Status: model.MachineAlarm, Material: "STEEL"})
	h.machines.Add(model.Machine{ID: "M3", Enabled: false, Status: model.MachineIdle, Material: "STEEL"})
	h.machines.Add(model.Machine{ID: "M4", Enabled: true, Status: model.MachineIdle, Material: "STEEL", Degraded: true})
	h.addTask(t, "T1", "STEEL", 5, 0)

	h.loop.Tick(context.Background())

	if cmds := h.dispatch.commands(); len(cmds) != 0 {
		t.Fatalf("dispatched to non-schedulable machine: %+v", cmds)
	}
	if got := h.taskStatus(t, "T1"); got != model.TaskPending {
		t.Errorf("status = %s, want PENDING", got)
	}
}

func TestTick_QuantityReachedCompletesTask(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addIdleMachine("M1", "STEEL")
	h.addTask(t, "T1", "STEEL", 5, 3)

	h.loop.Tick(context.Background())
	if got := h.taskStatus(t, "T1"); got != model.TaskRunning {
		t.Fatalf("status after dispatch = %s", got)
	}

	// The machine reports three finished workpieces.
	h.machines.ApplyStatus("M1", model.MachineRunning, model.StatusUpdate{
		MachineID: "M1", Status: "RUNNING", WorkpieceCount: 3,
	})
	h.loop.Tick(context.Background())

	if got := h.taskStatus(t, "T1"); got != model.TaskCompleted {
		t.Fatalf("status = %s, want COMPLETED", got)
	}
	cmds := h.dispatch.commands()
	last := cmds[len(cmds)-1]
	if last.Cmd != model.CmdStopMachine || last.MachineID != "M1" {
		t.Errorf("last command = %+v, want stop_machine to M1", last)
	}
	m, _ := h.machines.Get("M1")
	if m.Reserved || m.CurrentTask != "" {
		t.Errorf("machine not released: %+v", m)
	}

	task, _ := h.tasks.Get("T1")
	if task.CompletedAt == nil {
		t.Error("completed task missing completion time")
	}
}

func TestTick_MachineStoppedExternallyCompletesTask(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addIdleMachine("M1", "STEEL")
	h.addTask(t, "T1", "STEEL", 5, 0)

	h.loop.Tick(context.Background())
	h.machines.ApplyStatus("M1", model.MachineStopped, model.StatusUpdate{
		MachineID: "M1", Status: "STOPPED",
	})
	h.loop.Tick(context.Background())

	if got := h.taskStatus(t, "T1"); got != model.TaskCompleted {
		t.Errorf("status = %s, want COMPLETED", got)
	}
}

func TestTick_AlarmKeepsTaskRunning(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addIdleMachine("M1", "STEEL")
	h.addTask(t, "T1", "STEEL", 5, 10)

	h.loop.Tick(context.Background())
	h.machines.ApplyStatus("M1", model.MachineAlarm, model.StatusUpdate{
		MachineID: "M1", Status: "ALARM", AlarmCode: 1001, AlarmMessage: "spindle overheat",
	})
	h.loop.Tick(context.Background())

	if got := h.taskStatus(t, "T1"); got != model.TaskRunning {
		t.Errorf("status = %s, want RUNNING to stay until resolved", got)
	}
}

func TestPauseResumeTask(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addIdleMachine("M1", "STEEL")
	h.addTask(t, "T1", "STEEL", 5, 10)
	h.loop.Tick(context.Background())

	if err := h.loop.PauseTask(context.Background(), "T1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := h.taskStatus(t, "T1"); got != model.TaskPaused {
		t.Fatalf("status = %s, want PAUSED", got)
	}
	cmds := h.dispatch.commands()
	if last := cmds[len(cmds)-1]; last.Cmd != model.CmdPauseMachine {
		t.Errorf("last command = %+v, want pause_machine", last)
	}

	if err := h.loop.ResumeTask(context.Background(), "T1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := h.taskStatus(t, "T1"); got != model.TaskRunning {
		t.Fatalf("status = %s, want RUNNING", got)
	}
}

func TestPauseTask_PendingRejectedWithoutMachineCommand(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addTask(t, "T1", "STEEL", 5, 0)

	err := h.loop.PauseTask(context.Background(), "T1")
	var ite *model.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	if len(h.dispatch.commands()) != 0 {
		t.Error("machine command sent for an invalid task transition")
	}
}

func TestCancelTask_PendingNeedsNoMachine(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addTask(t, "T1", "STEEL", 5, 0)

	if err := h.loop.CancelTask(context.Background(), "T1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := h.taskStatus(t, "T1"); got != model.TaskCancelled {
		t.Fatalf("status = %s, want CANCELLED", got)
	}
	if len(h.dispatch.commands()) != 0 {
		t.Error("no machine command should be needed for a pending task")
	}
}

func TestCancelTask_RunningStopsMachineFirst(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addIdleMachine("M1", "STEEL")
	h.addTask(t, "T1", "STEEL", 5, 10)
	h.loop.Tick(context.Background())

	if err := h.loop.CancelTask(context.Background(), "T1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := h.taskStatus(t, "T1"); got != model.TaskCancelled {
		t.Fatalf("status = %s, want CANCELLED", got)
	}
	cmds := h.dispatch.commands()
	if last := cmds[len(cmds)-1]; last.Cmd != model.CmdStopMachine || last.MachineID != "M1" {
		t.Errorf("last command = %+v, want stop_machine to M1", last)
	}
	m, _ := h.machines.Get("M1")
	if m.Reserved || m.CurrentTask != "" {
		t.Errorf("machine not released after cancel: %+v", m)
	}
}

func TestCancelTask_StopFailureLeavesTaskRunning(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addIdleMachine("M1", "STEEL")
	h.addTask(t, "T1", "STEEL", 5, 10)
	h.loop.Tick(context.Background())

	h.dispatch.failF = func(machineID string, cmd model.Command) error {
		if cmd == model.CmdStopMachine {
			return &model.ProtocolError{MachineID: machineID, Op: string(cmd), Timeout: true}
		}
		return nil
	}

	err := h.loop.CancelTask(context.Background(), "T1")
	var se *model.SchedulingError
	if !errors.As(err, &se) {
		t.Fatalf("want SchedulingError, got %v", err)
	}
	if got := h.taskStatus(t, "T1"); got != model.TaskRunning {
		t.Errorf("status = %s; a task must never be CANCELLED before the stop is confirmed", got)
	}
}

func TestCancelTask_UnknownTask(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if err := h.loop.CancelTask(context.Background(), "nope"); !errors.Is(err, model.ErrTaskNotFound) {
		t.Fatalf("want ErrTaskNotFound, got %v", err)
	}
}

func TestSetStrategy(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if got := h.loop.Strategy(); got != model.StrategyMaterialFirst {
		t.Fatalf("default strategy = %s", got)
	}
	h.loop.SetStrategy(model.StrategyPriorityFirst)
	if got := h.loop.Strategy(); got != model.StrategyPriorityFirst {
		t.Fatalf("strategy after set = %s", got)
	}
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	h := newHarness(t, cfg)
	h.addIdleMachine("M1", "STEEL")
	h.addTask(t, "T1", "STEEL", 5, 0)

	h.loop.Start()
	deadline := time.After(2 * time.Second)
	for h.taskStatus(t, "T1") != model.TaskRunning {
		select {
		case <-deadline:
			t.Fatal("loop never dispatched the task")
		case <-time.After(5 * time.Millisecond):
		}
	}
	h.loop.Stop()
}
