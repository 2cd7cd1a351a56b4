package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/godnc/pkg/model"
)

// BroadcastHandler receives every state_update decoded off a connection.
type BroadcastHandler func(machineID string, update model.StatusUpdate)

// Conn is one machine's control-plane connection. Requests are sent one at a
// time (at most one outstanding); the read loop resolves the pending call by
// correlation id and routes everything else to the broadcast handler.
type Conn struct {
	machineID   string
	timeout     time.Duration
	logger      *slog.Logger
	onBroadcast BroadcastHandler
	onClose     func(err error)

	nc net.Conn

	wmu sync.Mutex // serializes frame writes

	callMu sync.Mutex // serializes Call: one outstanding request per conn

	pmu     sync.Mutex
	pending *pendingCall

	nextID    atomic.Int64
	closed    chan struct{}
	closeOnce sync.Once
}

type pendingCall struct {
	id int64
	ch chan callResult
}

type callResult struct {
	data json.RawMessage
	err  error
}

// Dial connects to the machine at addr and starts the read loop. onBroadcast
// and onClose may be nil.
func Dial(ctx context.Context, machineID, addr string, timeout time.Duration, onBroadcast BroadcastHandler, onClose func(err error), logger *slog.Logger) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &model.ProtocolError{MachineID: machineID, Op: "connect", Err: err}
	}

	c := &Conn{
		machineID:   machineID,
		timeout:     timeout,
		logger:      logger.With("component", "protocol", "machine_id", machineID),
		onBroadcast: onBroadcast,
		onClose:     onClose,
		nc:          nc,
		closed:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call sends a command and blocks until the matching response arrives, the
// request times out, or ctx is cancelled. On timeout the error is a
// ProtocolError with Timeout set.
func (c *Conn) Call(ctx context.Context, cmd model.Command, params map[string]any) (json.RawMessage, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	select {
	case <-c.closed:
		return nil, &model.ProtocolError{MachineID: c.machineID, Op: string(cmd), Err: errors.New("connection closed")}
	default:
	}

	id := c.nextID.Add(1)
	call := &pendingCall{id: id, ch: make(chan callResult, 1)}

	c.pmu.Lock()
	c.pending = call
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		if c.pending == call {
			c.pending = nil
		}
		c.pmu.Unlock()
	}()

	req := Request{Type: TypeRequest, ID: id, Command: cmd, Params: params}
	c.wmu.Lock()
	err := WriteFrame(c.nc, req)
	c.wmu.Unlock()
	if err != nil {
		return nil, &model.ProtocolError{MachineID: c.machineID, Op: string(cmd), Err: err}
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-call.ch:
		return res.data, res.err
	case <-timer.C:
		return nil, &model.ProtocolError{MachineID: c.machineID, Op: string(cmd), Timeout: true}
	case <-ctx.Done():
		return nil, &model.ProtocolError{MachineID: c.machineID, Op: string(cmd), Err: ctx.Err()}
	}
}

// Close tears down the connection. The read loop exits and any pending call
// fails.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.nc.Close()
	})
	return err
}

// readLoop decodes frames off the stream and classifies each one: a response
// matching the outstanding request resolves that call exactly once; a
// state_update goes to the broadcast handler; anything else is a protocol
// anomaly worth a log line, never a crash.
func (c *Conn) readLoop() {
	sc := NewFrameScanner(c.nc)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			c.logger.Warn("malformed frame", "error", err)
			continue
		}

		switch f.Type {
		case TypeResponse:
			c.resolve(&f)
		case TypeStateUpdate:
			var update model.StatusUpdate
			if err := json.Unmarshal(f.Data, &update); err != nil {
				c.logger.Warn("malformed state_update payload", "error", err)
				continue
			}
			if c.onBroadcast != nil {
				c.onBroadcast(c.machineID, update)
			}
		default:
			c.logger.Warn("frame with unknown type", "type", f.Type)
		}
	}

	readErr := sc.Err()
	if readErr == nil {
		readErr = errors.New("connection closed by peer")
	}

	// Fail whatever is still waiting.
	c.pmu.Lock()
	if c.pending != nil {
		c.pending.ch <- callResult{err: &model.ProtocolError{MachineID: c.machineID, Op: "read", Err: readErr}}
		c.pending = nil
	}
	c.pmu.Unlock()

	c.Close()
	if c.onClose != nil {
		c.onClose(readErr)
	}
}

// resolve delivers a response frame to the matching pending call.
func (c *Conn) resolve(f *Frame) {
	c.pmu.Lock()
	defer c.pmu.Unlock()

	if f.ID == nil {
		c.logger.Warn("response frame without correlation id")
		return
	}
	if c.pending == nil || c.pending.id != *f.ID {
		c.logger.Warn("response with no matching request", "id", *f.ID)
		return
	}

	res := callResult{data: f.Data}
	if !f.Success {
		msg := f.Error
		if msg == "" {
			msg = "command rejected"
		}
		res.err = &RejectError{MachineID: c.machineID, Message: msg}
	}
	c.pending.ch <- res
	c.pending = nil
}
