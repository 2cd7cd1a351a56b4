package model

import (
	"fmt"
	"time"
)

// Machine is the registry's view of one machine tool, kept current by the
// protocol layer (responses and broadcasts) and by the scheduler (reservation
// only).
type Machine struct {
	ID      string `json:"id"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Enabled bool   `json:"enabled"`

	Status MachineStatus `json:"status"`

	// Material is the stock currently loaded on the machine.
	Material     string   `json:"material"`
	Capabilities []string `json:"capabilities,omitempty"`

	ProgramName    string `json:"program_name,omitempty"`
	SpindleSpeed   int    `json:"spindle_speed"`
	FeedRate       int    `json:"feed_rate"`
	SpindleLoad    int    `json:"spindle_load"`
	CurrentTool    int    `json:"current_tool"`
	WorkpieceCount int    `json:"workpiece_count"`
	AlarmCode      int    `json:"alarm_code"`
	AlarmMessage   string `json:"alarm_message,omitempty"`

	LastUpdate time.Time `json:"last_update"`

	// Reserved marks the machine as claimed by the scheduler between a
	// pairing decision and the confirmed dispatch outcome.
	Reserved   bool   `json:"reserved"`
	ReservedBy string `json:"reserved_by,omitempty"`

	// CurrentTask is the id of the task the machine is working on, if any.
	CurrentTask string `json:"current_task,omitempty"`

	// Degraded marks a connection that is repeatedly timing out. Degraded
	// machines are excluded from the scheduling candidate pool without
	// touching their in-flight task bookkeeping.
	Degraded bool `json:"degraded"`
}

// Addr returns the machine's network endpoint as host:port.
func (m *Machine) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Schedulable reports whether the machine may receive a dispatch this cycle.
func (m *Machine) Schedulable() bool {
	return m.Enabled && !m.Reserved && !m.Degraded && m.Status == MachineIdle
}

// StatusUpdate is the payload of a state_update broadcast and of a get_status
// response. Field names follow the wire protocol.
type StatusUpdate struct {
	MachineID      string `json:"machine_id"`
	Status         string `json:"status"`
	ProgramName    string `json:"program_name"`
	SpindleSpeed   int    `json:"spindle_speed"`
	FeedRate       int    `json:"feed_rate"`
	AlarmCode      int    `json:"alarm_code"`
	AlarmMessage   string `json:"alarm_message"`
	CurrentTool    int    `json:"current_tool"`
	WorkpieceCount int    `json:"workpiece_count"`
	SpindleLoad    int    `json:"spindle_load"`
	Timestamp      string `json:"timestamp"`
}
