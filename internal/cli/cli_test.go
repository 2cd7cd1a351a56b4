package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/me/godnc/internal/config"
	"github.com/me/godnc/internal/material"
	"github.com/me/godnc/internal/registry"
	"github.com/me/godnc/internal/scheduler"
	"github.com/me/godnc/internal/server"
	"github.com/me/godnc/pkg/model"
)

var testCosts = map[string]map[string]float64{
	"STEEL":    {"STEEL": 0, "ALUMINUM": 30},
	"ALUMINUM": {"ALUMINUM": 0, "STEEL": 30},
}

type acceptAllDispatcher struct{}

func (acceptAllDispatcher) Send(ctx context.Context, machineID string, cmd model.Command, params map[string]any) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

// startTestServer starts an API server with one idle machine and returns its URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	machines := registry.NewMachineRegistry(srvLogger)
	tasks := registry.NewTaskRegistry(srvLogger)
	machines.Add(model.Machine{ID: "CNC001", Host: "127.0.0.1", Port: 8193, Enabled: true, Material: "STEEL"})
	machines.ApplyStatus("CNC001", model.MachineIdle, model.StatusUpdate{MachineID: "CNC001", Status: "IDLE"})

	engine, err := material.New(testCosts, srvLogger)
	if err != nil {
		t.Fatalf("material.New: %v", err)
	}

	sched := scheduler.New(scheduler.Config{
		Strategy:      model.StrategyMaterialFirst,
		CheckInterval: time.Hour,
		MaxRetries:    3,
		LoadWindow:    10 * time.Minute,
	}, scheduler.Deps{
		Machines:   machines,
		Tasks:      tasks,
		Dispatcher: acceptAllDispatcher{},
		Engine:     engine,
		Logger:     srvLogger,
	})

	srv := server.New(config.ServerConfig{Addr: ":0"}, machines, tasks, sched, srvLogger, server.WithEngine(engine))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// runCLI executes the CLI with captured stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	var errBuf bytes.Buffer
	root.SetOut(&errBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err := root.Execute()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String(), err
}

func submitTestTask(t *testing.T, url string) string {
	t.Helper()
	output, err := runCLI(t, "--server", url, "submit",
		"--order-ref", "ORD-1", "--material", "STEEL", "--quantity", "2")
	if err != nil {
		t.Fatalf("submit error: %v\noutput: %s", err, output)
	}

	// "Task created: task_xxxxxxxx"
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "Task created: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Task created: "))
		}
	}
	t.Fatalf("no task id in output: %s", output)
	return ""
}

func TestSubmitCommand(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "submit",
		"--order-ref", "ORD-100", "--material", "steel", "--quantity", "5", "--priority", "3")
	if err != nil {
		t.Fatalf("submit error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Task created: task_") {
		t.Errorf("expected 'Task created: task_' in output, got: %s", output)
	}
	if !strings.Contains(output, "Material: STEEL") {
		t.Errorf("expected normalized material in output, got: %s", output)
	}
}

func TestSubmitCommand_ValidationError(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "submit",
		"--order-ref", "ORD-1", "--material", "STEEL", "--quantity", "0")
	if err == nil {
		t.Fatalf("expected error for zero quantity, output: %s", output)
	}
	if !strings.Contains(err.Error(), "quantity") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	url := startTestServer(t)
	id := submitTestTask(t, url)

	output, err := runCLI(t, "--server", url, "status", id)
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(output, id) {
		t.Errorf("expected task id in output, got: %s", output)
	}
	if !strings.Contains(output, "PENDING") {
		t.Errorf("expected PENDING status in output, got: %s", output)
	}
}

func TestListCommand(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "list")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(output, "No tasks found") {
		t.Errorf("expected empty list message, got: %s", output)
	}

	id := submitTestTask(t, url)
	output, err = runCLI(t, "--server", url, "list", "--status", "PENDING")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(output, id) {
		t.Errorf("expected task id in list, got: %s", output)
	}
}

func TestCancelCommand(t *testing.T) {
	url := startTestServer(t)
	id := submitTestTask(t, url)

	output, err := runCLI(t, "--server", url, "cancel", id)
	if err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	if !strings.Contains(output, "CANCELLED") {
		t.Errorf("expected CANCELLED in output, got: %s", output)
	}
}

func TestPauseCommand_ConflictSurfacesAPIError(t *testing.T) {
	url := startTestServer(t)
	id := submitTestTask(t, url)

	// Pausing a PENDING task is rejected by the server.
	output, err := runCLI(t, "--server", url, "pause", id)
	if err == nil {
		t.Fatalf("expected conflict error, output: %s", output)
	}
}

func TestMachinesCommand(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "machines")
	if err != nil {
		t.Fatalf("machines error: %v", err)
	}
	if !strings.Contains(output, "CNC001") {
		t.Errorf("expected CNC001 in output, got: %s", output)
	}
	if !strings.Contains(output, "IDLE") {
		t.Errorf("expected IDLE in output, got: %s", output)
	}
}

func TestStrategyCommands(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "strategy")
	if err != nil {
		t.Fatalf("strategy error: %v", err)
	}
	if !strings.Contains(output, "MATERIAL_FIRST") {
		t.Errorf("expected MATERIAL_FIRST in output, got: %s", output)
	}

	output, err = runCLI(t, "--server", url, "strategy", "set", "priority_first")
	if err != nil {
		t.Fatalf("strategy set error: %v\noutput: %s", err, output)
	}

	output, err = runCLI(t, "--server", url, "strategy")
	if err != nil {
		t.Fatalf("strategy error: %v", err)
	}
	if !strings.Contains(output, "PRIORITY_FIRST") {
		t.Errorf("expected PRIORITY_FIRST after set, got: %s", output)
	}
}

func TestStrategyExecuteDispatches(t *testing.T) {
	url := startTestServer(t)
	id := submitTestTask(t, url)

	output, err := runCLI(t, "--server", url, "strategy", "execute")
	if err != nil {
		t.Fatalf("execute error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "1 dispatched") {
		t.Errorf("expected '1 dispatched' in output, got: %s", output)
	}

	output, err = runCLI(t, "--server", url, "status", id)
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(output, "RUNNING") {
		t.Errorf("expected RUNNING after dispatch, got: %s", output)
	}
}
