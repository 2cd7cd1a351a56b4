package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/me/godnc/internal/registry"
	"github.com/me/godnc/pkg/model"
)

// Config holds transport configuration.
type Config struct {
	// RequestTimeout bounds every outbound request.
	RequestTimeout time.Duration

	// ReconnectMaxAttempts bounds the reconnect loop after an I/O error.
	ReconnectMaxAttempts int

	// ReconnectBaseDelay is the first backoff delay; it doubles per attempt.
	ReconnectBaseDelay time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:       5 * time.Second,
		ReconnectMaxAttempts: 5,
		ReconnectBaseDelay:   time.Second,
	}
}

// Observer receives transport events. Optional; the metric set implements it.
type Observer interface {
	TimeoutObserved(machineID string)
	ReconnectObserved(machineID string)
}

// Manager owns one Conn per machine and keeps the machine registry current:
// broadcasts and get_status responses flow into registry fields, connection
// loss triggers reconnect-with-backoff, and exhausted reconnects mark the
// machine OFF.
type Manager struct {
	cfg      Config
	machines *registry.MachineRegistry
	logger   *slog.Logger
	observer Observer

	mu    sync.Mutex
	conns map[string]*Conn
	// reconnecting guards against stacking reconnect loops per machine.
	reconnecting map[string]bool

	rootCtx context.Context
}

// NewManager creates a Manager over the given machine registry.
func NewManager(cfg Config, machines *registry.MachineRegistry, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		machines:     machines,
		logger:       logger.With("component", "protocol_manager"),
		conns:        make(map[string]*Conn),
		reconnecting: make(map[string]bool),
		rootCtx:      context.Background(),
	}
}

// SetObserver installs the transport event observer. Call before ConnectAll.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// ConnectAll dials every enabled machine in parallel. A machine that cannot
// be reached stays OFF; its error is logged, not returned, so one dead
// machine does not block bring-up of the rest.
func (m *Manager) ConnectAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, mach := range m.machines.Snapshot() {
		if !mach.Enabled {
			continue
		}
		id := mach.ID
		g.Go(func() error {
			if err := m.Connect(gctx, id); err != nil {
				m.logger.Warn("initial connect failed", "machine_id", id, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Connect dials the machine and performs the get_status handshake. An
// existing connection is replaced.
func (m *Manager) Connect(ctx context.Context, machineID string) error {
	mach, ok := m.machines.Get(machineID)
	if !ok {
		return fmt.Errorf("connect: unknown machine %s", machineID)
	}

	conn, err := Dial(ctx, machineID, mach.Addr(), m.cfg.RequestTimeout,
		m.applyBroadcast,
		func(err error) { m.connLost(machineID, err) },
		m.logger)
	if err != nil {
		return err
	}

	// Handshake: the first status response seeds the registry view.
	data, err := conn.Call(ctx, model.CmdGetStatus, nil)
	if err != nil {
		conn.Close()
		return err
	}
	if err := m.applyStatusPayload(machineID, data); err != nil {
		conn.Close()
		return err
	}

	m.mu.Lock()
	if old := m.conns[machineID]; old != nil {
		old.Close()
	}
	m.conns[machineID] = conn
	m.reconnecting[machineID] = false
	m.mu.Unlock()

	m.machines.SetDegraded(machineID, false)
	m.logger.Info("machine connected", "machine_id", machineID, "addr", mach.Addr())
	return nil
}

// Disconnect closes the machine's connection and marks it OFF. No reconnect
// loop is started for an explicit disconnect.
func (m *Manager) Disconnect(machineID string) error {
	m.mu.Lock()
	conn := m.conns[machineID]
	delete(m.conns, machineID)
	// Suppress the connLost reconnect; the next Connect clears the flag.
	m.reconnecting[machineID] = true
	m.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("disconnect: machine %s not connected", machineID)
	}
	conn.Close()

	m.machines.MarkOffline(machineID)
	m.logger.Info("machine disconnected", "machine_id", machineID)
	return nil
}

// Connected reports whether the machine currently has a live connection.
func (m *Manager) Connected(machineID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[machineID] != nil
}

// Send routes a command to the machine's connection. Timeouts flag the
// connection degraded; a successful exchange clears the flag.
func (m *Manager) Send(ctx context.Context, machineID string, cmd model.Command, params map[string]any) (json.RawMessage, error) {
	m.mu.Lock()
	conn := m.conns[machineID]
	m.mu.Unlock()
	if conn == nil {
		return nil, &model.ProtocolError{MachineID: machineID, Op: string(cmd), Err: fmt.Errorf("not connected")}
	}

	data, err := conn.Call(ctx, cmd, params)
	if err != nil {
		if model.IsTimeout(err) {
			m.machines.SetDegraded(machineID, true)
			if m.observer != nil {
				m.observer.TimeoutObserved(machineID)
			}
			m.logger.Warn("request timed out, connection degraded", "machine_id", machineID, "command", cmd)
		}
		return nil, err
	}

	m.machines.SetDegraded(machineID, false)
	return data, nil
}

// Close tears down every connection.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.conns {
		m.reconnecting[id] = true
		conn.Close()
	}
	m.conns = make(map[string]*Conn)
}

// applyBroadcast routes a state_update into the registry. Status names
// outside the closed enumeration are dropped with a log line.
func (m *Manager) applyBroadcast(machineID string, update model.StatusUpdate) {
	status, err := model.ParseMachineStatus(update.Status)
	if err != nil {
		m.logger.Warn("broadcast with invalid status", "machine_id", machineID, "status", update.Status)
		return
	}
	m.machines.ApplyStatus(machineID, status, update)
}

// applyStatusPayload applies a get_status response body to the registry.
func (m *Manager) applyStatusPayload(machineID string, data json.RawMessage) error {
	var update model.StatusUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return &model.ProtocolError{MachineID: machineID, Op: "get_status", Err: err}
	}
	status, err := model.ParseMachineStatus(update.Status)
	if err != nil {
		return &model.ProtocolError{MachineID: machineID, Op: "get_status", Err: err}
	}
	m.machines.ApplyStatus(machineID, status, update)
	return nil
}

// connLost is invoked by a connection's read loop when the stream dies. It
// drops the dead conn and starts a bounded exponential-backoff reconnect; if
// every attempt fails the machine is marked OFF and left for a manual or
// later automatic reconnect.
func (m *Manager) connLost(machineID string, cause error) {
	m.mu.Lock()
	if m.reconnecting[machineID] {
		m.mu.Unlock()
		return
	}
	m.reconnecting[machineID] = true
	delete(m.conns, machineID)
	m.mu.Unlock()

	m.logger.Warn("connection lost", "machine_id", machineID, "error", cause)

	go func() {
		defer func() {
			m.mu.Lock()
			m.reconnecting[machineID] = false
			m.mu.Unlock()
		}()

		delay := m.cfg.ReconnectBaseDelay
		for attempt := 1; attempt <= m.cfg.ReconnectMaxAttempts; attempt++ {
			time.Sleep(delay)
			delay *= 2

			if m.observer != nil {
				m.observer.ReconnectObserved(machineID)
			}
			err := m.Connect(m.rootCtx, machineID)
			if err == nil {
				m.logger.Info("reconnected", "machine_id", machineID, "attempt", attempt)
				return
			}
			m.logger.Warn("reconnect failed", "machine_id", machineID, "attempt", attempt, "error", err)
		}

		m.machines.MarkOffline(machineID)
		m.logger.Error("reconnect attempts exhausted, machine offline", "machine_id", machineID)
	}()
}
