// Package scheduler pairs pending production tasks with idle machines and
// drives the dispatch lifecycle: reserve, send, commit. One serialized cycle
// runs per configured interval; no cycle ever overlaps another.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/me/godnc/internal/material"
	"github.com/me/godnc/internal/registry"
	"github.com/me/godnc/pkg/model"
)

// Dispatcher sends one command to one machine and returns the machine's
// response payload. The protocol manager implements it; tests substitute
// fakes.
type Dispatcher interface {
	Send(ctx context.Context, machineID string, cmd model.Command, params map[string]any) (json.RawMessage, error)
}

// Recorder persists dispatch outcomes and terminal tasks. Optional; a nil
// Recorder disables history.
type Recorder interface {
	RecordDispatch(ctx context.Context, taskID, machineID, outcome string) error
	ArchiveTask(ctx context.Context, t model.ProductionTask) error
}

// Metrics receives scheduling observations. Optional; nil disables.
type Metrics interface {
	CycleCompleted(duration time.Duration, dispatched, failed int)
	DispatchResult(machineID, outcome string)
	ObserveMachines(machines []model.Machine)
}

// Scheduler is the control surface the server and CLI drive.
type Scheduler interface {
	Start()
	Stop()
	Tick(ctx context.Context)

	Strategy() model.Strategy
	SetStrategy(s model.Strategy)

	PauseTask(ctx context.Context, taskID string) error
	ResumeTask(ctx context.Context, taskID string) error
	CancelTask(ctx context.Context, taskID string) error
}

// Config holds the scheduling knobs.
type Config struct {
	Strategy      model.Strategy
	CheckInterval time.Duration
	MaxRetries    int
	// LoadWindow is the trailing span LOAD_BALANCE counts dispatches over.
	LoadWindow time.Duration
}

// DefaultConfig mirrors the shipped scheduling defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:      model.StrategyMaterialFirst,
		CheckInterval: 10 * time.Second,
		MaxRetries:    3,
		LoadWindow:    10 * time.Minute,
	}
}

// Deps are the collaborators a Loop needs. Recorder and Metrics may be nil.
type Deps struct {
	Machines   *registry.MachineRegistry
	Tasks      *registry.TaskRegistry
	Dispatcher Dispatcher
	Engine     *material.Engine
	Recorder   Recorder
	Metrics    Metrics
	Logger     *slog.Logger
}
