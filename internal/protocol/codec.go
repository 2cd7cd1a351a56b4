// Package protocol implements the machine control plane: newline-delimited
// JSON frames over one long-lived TCP connection per machine, with
// correlation-id request/response matching and asynchronous state_update
// broadcasts demultiplexed off the same stream.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/me/godnc/pkg/model"
)

// Frame type discriminators.
const (
	TypeRequest     = "request"
	TypeResponse    = "response"
	TypeStateUpdate = "state_update"
)

// maxFrameSize bounds a single JSON frame on the wire.
const maxFrameSize = 1 << 20

// Request is the client-to-machine envelope. The id is client-generated and
// echoed back on the matching response.
type Request struct {
	Type    string         `json:"type"`
	ID      int64          `json:"id"`
	Command model.Command  `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Frame is the machine-to-client envelope: either a response (carries the
// correlation id) or a state_update broadcast (carries none).
type Frame struct {
	Type    string          `json:"type"`
	ID      *int64          `json:"id,omitempty"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Response is the machine-to-client reply envelope used by the simulator.
type Response struct {
	Type    string `json:"type"`
	ID      int64  `json:"id"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Broadcast is the unsolicited status push envelope used by the simulator.
type Broadcast struct {
	Type string             `json:"type"`
	Data model.StatusUpdate `json:"data"`
}

// RejectError is a machine's explicit refusal of a command: the request was
// delivered and answered, but success was false. State-transition refusals
// arrive this way.
type RejectError struct {
	MachineID string
	Message   string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s rejected command: %s", e.MachineID, e.Message)
}

// NewFrameScanner returns a scanner that yields one JSON frame per token.
// Newline framing is what makes concatenated frames in a single read, and
// frames split across reads, parse correctly.
func NewFrameScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxFrameSize)
	return sc
}

// WriteFrame marshals v and writes it as a single newline-terminated frame.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
