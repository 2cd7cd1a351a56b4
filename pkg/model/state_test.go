package model

import (
	"errors"
	"testing"
)

// allMachineStatuses covers the closed enumeration.
var allMachineStatuses = []MachineStatus{
	MachineOff, MachineIdle, MachineRunning, MachineAlarm, MachineStopped, MachinePaused,
}

func TestNextMachineStatus_TransitionTable(t *testing.T) {
	tests := []struct {
		cmd     Command
		from    MachineStatus
		want    MachineStatus
		wantErr bool
	}{
		{CmdStartMachine, MachineIdle, MachineRunning, false},
		{CmdStartMachine, MachineRunning, MachineRunning, true},
		{CmdStartMachine, MachineAlarm, MachineAlarm, true},
		{CmdStartMachine, MachineOff, MachineOff, true},
		{CmdStopMachine, MachineIdle, MachineStopped, false},
		{CmdStopMachine, MachineRunning, MachineStopped, false},
		{CmdStopMachine, MachinePaused, MachineStopped, false},
		{CmdStopMachine, MachineAlarm, MachineStopped, false},
		{CmdStopMachine, MachineOff, MachineOff, true},
		{CmdPauseMachine, MachineRunning, MachinePaused, false},
		{CmdPauseMachine, MachineIdle, MachineIdle, true},
		{CmdResumeMachine, MachinePaused, MachineRunning, false},
		{CmdResumeMachine, MachineRunning, MachineRunning, true},
		{CmdTriggerAlarm, MachineRunning, MachineAlarm, false},
		{CmdTriggerAlarm, MachineOff, MachineOff, true},
		{CmdClearAlarm, MachineAlarm, MachineIdle, false},
		{CmdClearAlarm, MachineIdle, MachineIdle, true},
	}

	for _, tt := range tests {
		got, err := NextMachineStatus(tt.cmd, tt.from)
		if tt.wantErr {
			var ite *InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Errorf("%s from %s: want InvalidTransitionError, got %v", tt.cmd, tt.from, err)
			}
			if got != tt.from {
				t.Errorf("%s from %s: state changed on rejected command: %s", tt.cmd, tt.from, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s from %s: unexpected error %v", tt.cmd, tt.from, err)
		}
		if got != tt.want {
			t.Errorf("%s from %s: got %s, want %s", tt.cmd, tt.from, got, tt.want)
		}
	}
}

func TestNextMachineStatus_QueryCommandsNeverChangeState(t *testing.T) {
	for _, from := range allMachineStatuses {
		for _, cmd := range []Command{CmdGetStatus, CmdGetParameters, CmdGetAxisData} {
			got, err := NextMachineStatus(cmd, from)
			if err != nil {
				t.Errorf("%s from %s: unexpected error %v", cmd, from, err)
			}
			if got != from {
				t.Errorf("%s from %s: state changed to %s", cmd, from, got)
			}
		}
	}
}

func TestNextMachineStatus_ResultsStayInEnumeration(t *testing.T) {
	cmds := []Command{
		CmdStartMachine, CmdStopMachine, CmdPauseMachine,
		CmdResumeMachine, CmdTriggerAlarm, CmdClearAlarm,
	}
	valid := map[MachineStatus]bool{}
	for _, s := range allMachineStatuses {
		valid[s] = true
	}
	for _, from := range allMachineStatuses {
		for _, cmd := range cmds {
			got, _ := NextMachineStatus(cmd, from)
			if !valid[got] {
				t.Errorf("%s from %s produced state %q outside the enumeration", cmd, from, got)
			}
		}
	}
}

func TestParseMachineStatus(t *testing.T) {
	if _, err := ParseMachineStatus("IDLE"); err != nil {
		t.Errorf("IDLE should parse: %v", err)
	}
	if _, err := ParseMachineStatus("STANDBY"); err == nil {
		t.Error("STANDBY should be rejected")
	}
	if _, err := ParseMachineStatus(""); err == nil {
		t.Error("empty status should be rejected")
	}
}

func TestTaskTransition(t *testing.T) {
	task := &ProductionTask{ID: "task_1", Status: TaskPending}

	if err := task.Transition(TaskRunning); err != nil {
		t.Fatalf("PENDING -> RUNNING: %v", err)
	}
	if task.StartedAt == nil {
		t.Error("StartedAt not set on RUNNING")
	}
	if err := task.Transition(TaskPaused); err != nil {
		t.Fatalf("RUNNING -> PAUSED: %v", err)
	}
	if err := task.Transition(TaskRunning); err != nil {
		t.Fatalf("PAUSED -> RUNNING: %v", err)
	}
	if err := task.Transition(TaskCompleted); err != nil {
		t.Fatalf("RUNNING -> COMPLETED: %v", err)
	}
	if task.CompletedAt == nil {
		t.Error("CompletedAt not set on COMPLETED")
	}

	// Terminal states accept nothing.
	if err := task.Transition(TaskRunning); err == nil {
		t.Error("COMPLETED -> RUNNING should fail")
	}
	if task.Status != TaskCompleted {
		t.Errorf("status changed on rejected transition: %s", task.Status)
	}
}

func TestTaskTransition_PendingCannotPause(t *testing.T) {
	task := &ProductionTask{ID: "task_2", Status: TaskPending}
	var ite *InvalidTransitionError
	if err := task.Transition(TaskPaused); !errors.As(err, &ite) {
		t.Errorf("want InvalidTransitionError, got %v", err)
	}
}

func TestParseStrategy(t *testing.T) {
	for _, name := range []string{"MATERIAL_FIRST", "PRIORITY_FIRST", "LOAD_BALANCE", "EFFICIENCY_FIRST"} {
		if _, err := ParseStrategy(name); err != nil {
			t.Errorf("%s should parse: %v", name, err)
		}
	}
	var ce *ConfigError
	if _, err := ParseStrategy("FASTEST_FIRST"); !errors.As(err, &ce) {
		t.Error("unknown strategy should be a ConfigError")
	}
}
