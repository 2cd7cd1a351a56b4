package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/me/godnc/pkg/model"
)

// chunkReader returns its content in fixed-size chunks, simulating arbitrary
// TCP read boundaries.
type chunkReader struct {
	data  []byte
	chunk int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.chunk
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestFrameScanner_ConcatenatedAndSplitFrames(t *testing.T) {
	id := int64(7)
	response := Frame{Type: TypeResponse, ID: &id, Success: true, Data: json.RawMessage(`{"status":"IDLE"}`)}
	broadcast := Broadcast{Type: TypeStateUpdate, Data: model.StatusUpdate{MachineID: "CNC001", Status: "RUNNING"}}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, response); err != nil {
		t.Fatalf("WriteFrame(response): %v", err)
	}
	if err := WriteFrame(&buf, broadcast); err != nil {
		t.Fatalf("WriteFrame(broadcast): %v", err)
	}

	// Every chunk size must produce exactly the same two frames, whether
	// both frames arrive in one read or one frame is split across many.
	for _, chunk := range []int{1, 3, 16, len(buf.Bytes()), len(buf.Bytes()) * 2} {
		sc := NewFrameScanner(&chunkReader{data: append([]byte(nil), buf.Bytes()...), chunk: chunk})

		var frames []Frame
		for sc.Scan() {
			var f Frame
			if err := json.Unmarshal(sc.Bytes(), &f); err != nil {
				t.Fatalf("chunk=%d: unmarshal: %v", chunk, err)
			}
			frames = append(frames, f)
		}
		if err := sc.Err(); err != nil {
			t.Fatalf("chunk=%d: scan: %v", chunk, err)
		}

		if len(frames) != 2 {
			t.Fatalf("chunk=%d: got %d frames, want 2", chunk, len(frames))
		}
		if frames[0].Type != TypeResponse || frames[0].ID == nil || *frames[0].ID != 7 {
			t.Errorf("chunk=%d: first frame = %+v, want response id 7", chunk, frames[0])
		}
		if frames[1].Type != TypeStateUpdate {
			t.Errorf("chunk=%d: second frame type = %s, want state_update", chunk, frames[1].Type)
		}
	}
}

func TestWriteFrame_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Request{Type: TypeRequest, ID: 1, Command: model.CmdGetStatus}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	b := buf.Bytes()
	if b[len(b)-1] != '\n' {
		t.Error("frame not newline terminated")
	}
	if bytes.Count(b, []byte{'\n'}) != 1 {
		t.Error("frame body must not contain raw newlines")
	}
}
