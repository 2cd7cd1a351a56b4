package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <task_id>",
		Short: "Pause a running task",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return taskLifecycle(args[0], "pause") },
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <task_id>",
		Short: "Resume a paused task",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return taskLifecycle(args[0], "resume") },
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task_id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return taskLifecycle(args[0], "cancel") },
	}
}

func taskLifecycle(id, verb string) error {
	resp, err := client.Post("/api/v1/tasks/"+id+"/"+verb, nil)
	if err != nil {
		return fmt.Errorf("%s task: %w", verb, err)
	}

	var data map[string]any
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	status, _ := data["status"].(string)
	fmt.Printf("Task %s: %s\n", id, status)
	return nil
}
