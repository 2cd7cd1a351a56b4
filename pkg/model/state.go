package model

// TaskStatus represents the lifecycle state of a ProductionTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskPaused    TaskStatus = "PAUSED"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the task is in a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// ValidTaskTransitions defines the allowed status transitions for tasks.
// CANCELLED is reachable from every non-terminal status, but only after the
// machine hosting the task has confirmed a stop or pause command.
var ValidTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending: {TaskRunning, TaskFailed, TaskCancelled},
	TaskRunning: {TaskPaused, TaskCompleted, TaskFailed, TaskCancelled},
	TaskPaused:  {TaskRunning, TaskCancelled},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MachineStatus represents the state of a machine tool's controller.
type MachineStatus string

const (
	MachineOff     MachineStatus = "OFF"
	MachineIdle    MachineStatus = "IDLE"
	MachineRunning MachineStatus = "RUNNING"
	MachineAlarm   MachineStatus = "ALARM"
	MachineStopped MachineStatus = "STOPPED"
	MachinePaused  MachineStatus = "PAUSED"
)

// String returns the string representation of the machine status.
func (s MachineStatus) String() string {
	return string(s)
}

// ParseMachineStatus validates a status name received off the wire.
// Anything outside the closed enumeration is rejected.
func ParseMachineStatus(raw string) (MachineStatus, error) {
	switch MachineStatus(raw) {
	case MachineOff, MachineIdle, MachineRunning, MachineAlarm, MachineStopped, MachinePaused:
		return MachineStatus(raw), nil
	}
	return "", &ConfigError{Msg: "unknown machine status " + raw}
}

// Command is a control-plane command understood by a machine.
type Command string

const (
	CmdGetStatus     Command = "get_status"
	CmdStartMachine  Command = "start_machine"
	CmdStopMachine   Command = "stop_machine"
	CmdPauseMachine  Command = "pause_machine"
	CmdResumeMachine Command = "resume_machine"
	CmdTriggerAlarm  Command = "trigger_alarm"
	CmdClearAlarm    Command = "clear_alarm"
	CmdGetParameters Command = "get_parameters"
	CmdGetAxisData   Command = "get_axis_data"
)

// commandTransitions maps each state-changing command to the set of source
// states it is legal from and the state it produces.
var commandTransitions = map[Command]struct {
	from []MachineStatus
	to   MachineStatus
}{
	CmdStartMachine:  {from: []MachineStatus{MachineIdle}, to: MachineRunning},
	CmdStopMachine:   {from: []MachineStatus{MachineIdle, MachineRunning, MachinePaused, MachineAlarm}, to: MachineStopped},
	CmdPauseMachine:  {from: []MachineStatus{MachineRunning}, to: MachinePaused},
	CmdResumeMachine: {from: []MachineStatus{MachinePaused}, to: MachineRunning},
	CmdTriggerAlarm:  {from: []MachineStatus{MachineIdle, MachineRunning, MachineAlarm, MachineStopped, MachinePaused}, to: MachineAlarm},
	CmdClearAlarm:    {from: []MachineStatus{MachineAlarm}, to: MachineIdle},
}

// NextMachineStatus applies cmd to the given machine state. A command issued
// from a disallowed source state returns an InvalidTransitionError and leaves
// the state unchanged. Query commands (get_status, get_parameters,
// get_axis_data) are legal from any state and never change it.
func NextMachineStatus(cmd Command, from MachineStatus) (MachineStatus, error) {
	t, ok := commandTransitions[cmd]
	if !ok {
		switch cmd {
		case CmdGetStatus, CmdGetParameters, CmdGetAxisData:
			return from, nil
		}
		return from, &InvalidTransitionError{Entity: "machine", From: from.String(), To: string(cmd)}
	}
	for _, f := range t.from {
		if f == from {
			return t.to, nil
		}
	}
	return from, &InvalidTransitionError{Entity: "machine", From: from.String(), To: t.to.String()}
}

// Strategy selects the task-to-machine assignment policy for a scheduling cycle.
type Strategy string

const (
	StrategyMaterialFirst   Strategy = "MATERIAL_FIRST"
	StrategyPriorityFirst   Strategy = "PRIORITY_FIRST"
	StrategyLoadBalance     Strategy = "LOAD_BALANCE"
	StrategyEfficiencyFirst Strategy = "EFFICIENCY_FIRST"
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	return string(s)
}

// ParseStrategy validates a strategy name. Unknown names are a ConfigError.
func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(raw) {
	case StrategyMaterialFirst, StrategyPriorityFirst, StrategyLoadBalance, StrategyEfficiencyFirst:
		return Strategy(raw), nil
	}
	return "", &ConfigError{Msg: "unknown scheduling strategy " + raw}
}

// Strategies lists every selectable strategy.
func Strategies() []Strategy {
	return []Strategy{StrategyMaterialFirst, StrategyPriorityFirst, StrategyLoadBalance, StrategyEfficiencyFirst}
}
