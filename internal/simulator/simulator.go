// Package simulator implements a machine-tool controller that speaks the
// dispatcher's wire protocol over TCP. It drives the machine state machine,
// answers requests, and pushes state_update broadcasts to every connected
// client on a timer and on each state change.
package simulator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/me/godnc/internal/protocol"
	"github.com/me/godnc/pkg/model"
)

// AlarmCodes are the fault codes the simulator raises spontaneously.
var AlarmCodes = []int{1001, 1002, 1003, 2001, 2005}

var alarmMessages = map[int]string{
	1001: "spindle overheat",
	1002: "tool wear",
	1003: "insufficient lubrication",
	2001: "abnormal air pressure",
	2005: "position deviation",
}

// Config controls a simulated machine.
type Config struct {
	MachineID string
	Addr      string // listen address, e.g. "127.0.0.1:8193"

	BroadcastInterval time.Duration
	// Per-tick probabilities while RUNNING. Zero disables the behavior,
	// which tests rely on for determinism.
	WorkpieceProb float64
	AlarmProb     float64

	Seed int64
}

// DefaultConfig returns the behavior of a real controller: a broadcast every
// two seconds, a 5% chance per tick of finishing a workpiece and a 0.5%
// chance of a spontaneous alarm.
func DefaultConfig(machineID, addr string) Config {
	return Config{
		MachineID:         machineID,
		Addr:              addr,
		BroadcastInterval: 2 * time.Second,
		WorkpieceProb:     0.05,
		AlarmProb:         0.005,
		Seed:              time.Now().UnixNano(),
	}
}

type client struct {
	conn net.Conn
	wmu  sync.Mutex
}

func (c *client) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteFrame(c.conn, v)
}

// Simulator is one simulated machine tool.
type Simulator struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	status         model.MachineStatus
	programName    string
	spindleSpeed   int
	feedRate       int
	spindleLoad    int
	currentTool    int
	workpieceCount int
	alarmCode      int
	alarmMessage   string
	axisX, axisZ   float64
	rng            *rand.Rand

	clientsMu sync.Mutex
	clients   map[*client]struct{}

	ln       net.Listener
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, logger *slog.Logger) *Simulator {
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = 2 * time.Second
	}
	return &Simulator{
		cfg:         cfg,
		logger:      logger.With("component", "simulator", "machine_id", cfg.MachineID),
		status:      model.MachineIdle,
		currentTool: 1,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		clients:     make(map[*client]struct{}),
		stopCh:      make(chan struct{}),
	}
}

// Start begins listening and serving. It returns once the listener is bound;
// use Addr to discover the bound address when the config used port 0.
func (s *Simulator) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("simulator listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	s.logger.Info("machine online", "addr", ln.Addr().String())

	s.wg.Add(2)
	go s.acceptLoop()
	go s.tickLoop()
	return nil
}

// Addr returns the bound listen address.
func (s *Simulator) Addr() string {
	return s.ln.Addr().String()
}

// Stop closes the listener and all client connections and waits for the
// serving goroutines to finish.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.ln != nil {
			s.ln.Close()
		}
		s.clientsMu.Lock()
		for c := range s.clients {
			c.conn.Close()
		}
		s.clientsMu.Unlock()
	})
	s.wg.Wait()
}

func (s *Simulator) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Warn("accept failed", "error", err)
			return
		}
		c := &client{conn: conn}
		s.clientsMu.Lock()
		s.clients[c] = struct{}{}
		s.clientsMu.Unlock()
		s.wg.Add(1)
		go s.serveClient(c)
	}
}

func (s *Simulator) serveClient(c *client) {
	defer s.wg.Done()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		c.conn.Close()
	}()

	s.logger.Debug("client connected", "remote", c.conn.RemoteAddr().String())
	sc := protocol.NewFrameScanner(c.conn)
	for sc.Scan() {
		var req protocol.Request
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			s.logger.Warn("malformed request frame", "error", err)
			continue
		}
		resp := s.handle(req)
		if err := c.write(resp); err != nil {
			s.logger.Warn("write response failed", "error", err)
			return
		}
	}
	s.logger.Debug("client disconnected", "remote", c.conn.RemoteAddr().String())
}

// handle executes one command and builds the correlated response. State
// changes trigger an immediate broadcast after the response is built.
func (s *Simulator) handle(req protocol.Request) protocol.Response {
	resp := protocol.Response{Type: protocol.TypeResponse, ID: req.ID}

	data, changed, err := s.apply(model.Command(req.Command), req.Params)
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
		s.logger.Info("command rejected", "command", req.Command, "error", err)
	} else {
		resp.Success = true
		resp.Data = data
		s.logger.Debug("command handled", "command", req.Command)
	}
	if changed {
		s.broadcast()
	}
	return resp
}

// apply runs one command against the machine state. It reports whether the
// observable state changed so the caller can broadcast.
func (s *Simulator) apply(cmd model.Command, params map[string]any) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case model.CmdGetStatus:
		return s.statusLocked(), false, nil
	case model.CmdGetParameters:
		return map[string]any{
			"machine_id":        s.cfg.MachineID,
			"max_spindle_speed": 8000,
			"max_feed_rate":     2000,
			"tool_count":        12,
			"axis_count":        2,
			"system_version":    "FANUC 31i-B",
			"controller_type":   "OI-MF",
		}, false, nil
	case model.CmdGetAxisData:
		if s.status == model.MachineRunning {
			s.axisX += s.rng.Float64()*0.2 - 0.1
			s.axisZ += s.rng.Float64()*0.1 - 0.05
			s.spindleLoad = 30 + s.rng.Intn(51)
		} else {
			s.spindleLoad = 0
		}
		return map[string]any{
			"axis_positions": map[string]float64{"X": s.axisX, "Z": s.axisZ},
			"spindle_load":   s.spindleLoad,
		}, false, nil
	}

	prev := s.status
	next, err := model.NextMachineStatus(cmd, s.status)
	if err != nil {
		return nil, false, err
	}
	s.status = next

	switch cmd {
	case model.CmdStartMachine:
		s.programName = stringParam(params, "program_name")
		if s.programName == "" {
			s.programName = fmt.Sprintf("PROGRAM_%03d", 100+s.rng.Intn(900))
		}
		s.spindleSpeed = 1000 + s.rng.Intn(5001)
		s.feedRate = 50 + s.rng.Intn(451)
	case model.CmdStopMachine:
		s.programName = ""
		s.spindleSpeed = 0
		s.feedRate = 0
	case model.CmdTriggerAlarm:
		s.alarmCode = intParam(params, "alarm_code", 1001)
		s.alarmMessage = stringParam(params, "alarm_message")
		if s.alarmMessage == "" {
			s.alarmMessage = alarmMessages[s.alarmCode]
		}
		s.spindleSpeed = 0
		s.feedRate = 0
	case model.CmdClearAlarm:
		s.alarmCode = 0
		s.alarmMessage = ""
	}

	return s.statusLocked(), prev != s.status || cmd == model.CmdTriggerAlarm, nil
}

func (s *Simulator) statusLocked() model.StatusUpdate {
	return model.StatusUpdate{
		MachineID:      s.cfg.MachineID,
		Status:         s.status.String(),
		ProgramName:    s.programName,
		SpindleSpeed:   s.spindleSpeed,
		FeedRate:       s.feedRate,
		SpindleLoad:    s.spindleLoad,
		CurrentTool:    s.currentTool,
		WorkpieceCount: s.workpieceCount,
		AlarmCode:      s.alarmCode,
		AlarmMessage:   s.alarmMessage,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
}

// Status returns a point-in-time copy of the machine's observable state.
func (s *Simulator) Status() model.StatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// WorkpieceCount returns the number of finished workpieces.
func (s *Simulator) WorkpieceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workpieceCount
}

// CompleteWorkpiece increments the finished-workpiece counter as if a cycle
// had ended, and broadcasts the new state. It is how tests and operator
// tooling force deterministic production progress.
func (s *Simulator) CompleteWorkpiece() {
	s.mu.Lock()
	if s.status == model.MachineRunning {
		s.workpieceCount++
	}
	s.mu.Unlock()
	s.broadcast()
}

func (s *Simulator) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
			s.broadcast()
		}
	}
}

// tick advances the autonomous behavior: while RUNNING a workpiece may
// complete and an alarm may fire spontaneously.
func (s *Simulator) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.MachineRunning {
		return
	}
	if s.cfg.WorkpieceProb > 0 && s.rng.Float64() < s.cfg.WorkpieceProb {
		s.workpieceCount++
		s.logger.Info("workpiece finished", "total", s.workpieceCount)
	}
	if s.cfg.AlarmProb > 0 && s.rng.Float64() < s.cfg.AlarmProb {
		code := AlarmCodes[s.rng.Intn(len(AlarmCodes))]
		s.status = model.MachineAlarm
		s.alarmCode = code
		s.alarmMessage = alarmMessages[code]
		s.spindleSpeed = 0
		s.feedRate = 0
		s.logger.Warn("spontaneous alarm", "code", code, "message", s.alarmMessage)
	}
}

func (s *Simulator) broadcast() {
	update := s.Status()
	frame := protocol.Broadcast{Type: protocol.TypeStateUpdate, Data: update}

	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		if err := c.write(frame); err != nil {
			s.logger.Debug("broadcast dropped dead client", "error", err)
			c.conn.Close()
			s.clientsMu.Lock()
			delete(s.clients, c)
			s.clientsMu.Unlock()
		}
	}
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func intParam(params map[string]any, key string, def int) int {
	// JSON numbers decode as float64.
	if v, ok := params[key].(float64); ok {
		return int(v)
	}
	return def
}
