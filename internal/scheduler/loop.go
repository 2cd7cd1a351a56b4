package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/me/godnc/internal/material"
	"github.com/me/godnc/internal/registry"
	"github.com/me/godnc/pkg/model"
)

// Loop is the timer-driven scheduler. It owns cycle serialization, dispatch
// retries, completion detection and the manual task operations.
type Loop struct {
	cfg        Config
	machines   *registry.MachineRegistry
	tasks      *registry.TaskRegistry
	dispatcher Dispatcher
	engine     *material.Engine
	recorder   Recorder
	metrics    Metrics
	logger     *slog.Logger

	strategyMu sync.RWMutex
	strategy   model.Strategy

	// tickMu serializes cycles and the manual operations against them.
	tickMu sync.Mutex
	window *assignmentWindow
	// baseline remembers each machine's workpiece count at dispatch time so
	// progress toward the task quantity can be measured from broadcasts.
	baseline map[string]int

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

var _ Scheduler = (*Loop)(nil)

func New(cfg Config, d Deps) *Loop {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	return &Loop{
		cfg:        cfg,
		machines:   d.Machines,
		tasks:      d.Tasks,
		dispatcher: d.Dispatcher,
		engine:     d.Engine,
		recorder:   d.Recorder,
		metrics:    d.Metrics,
		logger:     d.Logger.With("component", "scheduler"),
		strategy:   cfg.Strategy,
		window:     newAssignmentWindow(cfg.LoadWindow),
		baseline:   make(map[string]int),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the cycle ticker. Safe to call once.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Stop halts the ticker and waits for an in-flight cycle to finish.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	<-l.doneCh
}

func (l *Loop) run() {
	defer close(l.doneCh)
	l.logger.Info("scheduling loop started",
		"strategy", l.Strategy(), "interval", l.cfg.CheckInterval)
	ticker := time.NewTicker(l.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			l.logger.Info("scheduling loop stopped")
			return
		case <-ticker.C:
			l.Tick(context.Background())
		}
	}
}

// Strategy returns the active strategy.
func (l *Loop) Strategy() model.Strategy {
	l.strategyMu.RLock()
	defer l.strategyMu.RUnlock()
	return l.strategy
}

// SetStrategy replaces the strategy used by subsequent cycles. A cycle
// already executing keeps the strategy it started with.
func (l *Loop) SetStrategy(s model.Strategy) {
	l.strategyMu.Lock()
	defer l.strategyMu.Unlock()
	if l.strategy != s {
		l.logger.Info("strategy changed", "from", l.strategy, "to", s)
		l.strategy = s
	}
}

// Tick runs one full scheduling cycle. Cycles are serialized; a concurrent
// caller blocks until the running cycle finishes.
func (l *Loop) Tick(ctx context.Context) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	start := time.Now()
	l.finalize(ctx)
	dispatched, failed := l.dispatch(ctx)

	if l.metrics != nil {
		l.metrics.CycleCompleted(time.Since(start), dispatched, failed)
		l.metrics.ObserveMachines(l.machines.Snapshot())
	}
	if dispatched > 0 || failed > 0 {
		l.logger.Info("cycle finished",
			"dispatched", dispatched, "failed", failed, "took", time.Since(start))
	}
}

// finalize inspects every machine carrying a task and resolves tasks whose
// work is done. A task is complete when the machine has produced the ordered
// quantity, or when the machine has confirmably stopped cutting. Machines in
// ALARM keep their task RUNNING until an operator or retry path resolves it.
func (l *Loop) finalize(ctx context.Context) {
	for _, m := range l.machines.Snapshot() {
		if m.CurrentTask == "" {
			continue
		}
		task, ok := l.tasks.Get(m.CurrentTask)
		if !ok || task.Status.IsTerminal() {
			l.releaseMachine(m.ID)
			continue
		}
		if task.Status != model.TaskRunning {
			continue
		}

		switch m.Status {
		case model.MachineRunning, model.MachinePaused:
			if task.Quantity > 0 && m.WorkpieceCount-l.baseline[m.ID] >= task.Quantity {
				if _, err := l.dispatcher.Send(ctx, m.ID, model.CmdStopMachine, nil); err != nil {
					l.logger.Warn("stop after quantity reached failed, will retry",
						"task_id", task.ID, "machine_id", m.ID, "error", err)
					continue
				}
				l.completeTask(ctx, task.ID, m.ID)
			}
		case model.MachineIdle, model.MachineStopped:
			// The machine is confirmed no longer cutting.
			l.completeTask(ctx, task.ID, m.ID)
		}
	}
}

func (l *Loop) completeTask(ctx context.Context, taskID, machineID string) {
	err := l.tasks.Commit(taskID, func(t *model.ProductionTask) error {
		return t.Transition(model.TaskCompleted)
	})
	if err != nil {
		l.logger.Error("completing task failed", "task_id", taskID, "error", err)
		return
	}
	l.releaseMachine(machineID)
	l.archive(ctx, taskID)
	l.logger.Info("task completed", "task_id", taskID, "machine_id", machineID)
}

func (l *Loop) releaseMachine(machineID string) {
	l.machines.SetCurrentTask(machineID, "")
	l.machines.Release(machineID)
	delete(l.baseline, machineID)
}

func (l *Loop) archive(ctx context.Context, taskID string) {
	if l.recorder == nil {
		return
	}
	if t, ok := l.tasks.Get(taskID); ok {
		if err := l.recorder.ArchiveTask(ctx, t); err != nil {
			l.logger.Warn("archiving task failed", "task_id", taskID, "error", err)
		}
	}
}

// dispatch plans the cycle's pairings and executes them one by one. The
// machine is reserved before any network traffic; no registry lock is held
// during the send.
func (l *Loop) dispatch(ctx context.Context) (dispatched, failed int) {
	snapshot := l.machines.Snapshot()
	pending := l.tasks.ByStatus(model.TaskPending)
	pairings := plan(l.Strategy(), snapshot, pending, l.engine, l.window)

	for _, p := range pairings {
		if err := l.machines.Reserve(p.machine.ID, p.task.ID); err != nil {
			l.logger.Debug("reservation lost", "machine_id", p.machine.ID, "error", err)
			continue
		}
		if l.dispatchOne(ctx, p) {
			dispatched++
		} else {
			failed++
		}
	}
	return dispatched, failed
}

// dispatchOne sends start_machine for one pairing and commits the outcome.
// The caller has already reserved the machine.
func (l *Loop) dispatchOne(ctx context.Context, p pairing) bool {
	params := map[string]any{
		"task_id":      p.task.ID,
		"program_name": p.task.ProgramName,
		"material":     p.task.Material,
		"quantity":     p.task.Quantity,
	}
	_, err := l.dispatcher.Send(ctx, p.machine.ID, model.CmdStartMachine, params)
	if err != nil {
		l.failDispatch(ctx, p, err)
		return false
	}

	err = l.tasks.Commit(p.task.ID, func(t *model.ProductionTask) error {
		if err := t.Transition(model.TaskRunning); err != nil {
			return err
		}
		t.AssignedMachine = p.machine.ID
		return nil
	})
	if err != nil {
		// The task changed under us (e.g. cancelled mid-dispatch). The
		// machine was started, so stop it again and free the reservation.
		l.logger.Warn("task changed during dispatch, stopping machine",
			"task_id", p.task.ID, "machine_id", p.machine.ID, "error", err)
		if _, stopErr := l.dispatcher.Send(ctx, p.machine.ID, model.CmdStopMachine, nil); stopErr != nil {
			l.logger.Error("compensating stop failed", "machine_id", p.machine.ID, "error", stopErr)
		}
		l.machines.Release(p.machine.ID)
		return false
	}

	l.machines.SetCurrentTask(p.machine.ID, p.task.ID)
	if m, ok := l.machines.Get(p.machine.ID); ok {
		l.baseline[p.machine.ID] = m.WorkpieceCount
	}
	l.window.record(p.machine.ID)
	l.record(ctx, p.task.ID, p.machine.ID, "dispatched")
	l.logger.Info("task dispatched",
		"task_id", p.task.ID, "machine_id", p.machine.ID, "priority", p.task.Priority)
	return true
}

// failDispatch charges one retry to the task and releases the machine. A
// task whose retry count reaches the limit goes FAILED and is never
// requeued.
func (l *Loop) failDispatch(ctx context.Context, p pairing, cause error) {
	derr := &model.DispatchError{TaskID: p.task.ID, MachineID: p.machine.ID, Err: cause}
	serr := &model.SchedulingError{TaskID: p.task.ID, MachineID: p.machine.ID, Err: derr}
	l.logger.Warn("dispatch failed", "task_id", p.task.ID,
		"machine_id", p.machine.ID, "error", serr)

	exhausted := false
	err := l.tasks.Commit(p.task.ID, func(t *model.ProductionTask) error {
		t.RetryCount++
		t.ErrorMessage = derr.Error()
		if t.RetryCount >= l.cfg.MaxRetries {
			exhausted = true
			return t.Transition(model.TaskFailed)
		}
		return nil
	})
	if err != nil {
		l.logger.Error("committing dispatch failure", "task_id", p.task.ID, "error", err)
	}
	l.machines.Release(p.machine.ID)
	l.record(ctx, p.task.ID, p.machine.ID, "failed")

	if exhausted {
		l.archive(ctx, p.task.ID)
		l.logger.Error("task failed, retries exhausted",
			"task_id", p.task.ID, "retries", l.cfg.MaxRetries)
	}
}

func (l *Loop) record(ctx context.Context, taskID, machineID, outcome string) {
	if l.metrics != nil {
		l.metrics.DispatchResult(machineID, outcome)
	}
	if l.recorder != nil {
		if err := l.recorder.RecordDispatch(ctx, taskID, machineID, outcome); err != nil {
			l.logger.Warn("recording dispatch failed", "task_id", taskID, "error", err)
		}
	}
}

// PauseTask pauses a RUNNING task by pausing its machine first. The task is
// only marked PAUSED after the machine confirms.
func (l *Loop) PauseTask(ctx context.Context, taskID string) error {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	task, err := l.taskInState(taskID, model.TaskPaused)
	if err != nil {
		return err
	}
	if _, err := l.dispatcher.Send(ctx, task.AssignedMachine, model.CmdPauseMachine, nil); err != nil {
		return &model.SchedulingError{TaskID: taskID, MachineID: task.AssignedMachine, Err: err}
	}
	return l.tasks.Commit(taskID, func(t *model.ProductionTask) error {
		return t.Transition(model.TaskPaused)
	})
}

// ResumeTask resumes a PAUSED task after its machine confirms the resume.
func (l *Loop) ResumeTask(ctx context.Context, taskID string) error {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	task, err := l.taskInState(taskID, model.TaskRunning)
	if err != nil {
		return err
	}
	if _, err := l.dispatcher.Send(ctx, task.AssignedMachine, model.CmdResumeMachine, nil); err != nil {
		return &model.SchedulingError{TaskID: taskID, MachineID: task.AssignedMachine, Err: err}
	}
	return l.tasks.Commit(taskID, func(t *model.ProductionTask) error {
		return t.Transition(model.TaskRunning)
	})
}

// CancelTask cancels a non-terminal task. A task on a machine is cancelled
// only after the machine confirms the stop; the task state never claims
// CANCELLED while the machine may still be cutting it.
func (l *Loop) CancelTask(ctx context.Context, taskID string) error {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	task, err := l.taskInState(taskID, model.TaskCancelled)
	if err != nil {
		return err
	}

	if task.Status != model.TaskPending && task.AssignedMachine != "" {
		if _, err := l.dispatcher.Send(ctx, task.AssignedMachine, model.CmdStopMachine, nil); err != nil {
			return &model.SchedulingError{TaskID: taskID, MachineID: task.AssignedMachine, Err: err}
		}
	}
	err = l.tasks.Commit(taskID, func(t *model.ProductionTask) error {
		return t.Transition(model.TaskCancelled)
	})
	if err != nil {
		return err
	}
	if task.AssignedMachine != "" {
		l.releaseMachine(task.AssignedMachine)
	}
	l.archive(ctx, taskID)
	l.logger.Info("task cancelled", "task_id", taskID)
	return nil
}

// taskInState fetches the task and validates that moving it to next is legal,
// before any machine command is risked.
func (l *Loop) taskInState(taskID string, next model.TaskStatus) (model.ProductionTask, error) {
	task, ok := l.tasks.Get(taskID)
	if !ok {
		return model.ProductionTask{}, fmt.Errorf("task %s: %w", taskID, model.ErrTaskNotFound)
	}
	if !task.Status.CanTransitionTo(next) {
		return model.ProductionTask{}, &model.InvalidTransitionError{
			Entity: "task", ID: taskID,
			From: string(task.Status), To: string(next),
		}
	}
	return task, nil
}
