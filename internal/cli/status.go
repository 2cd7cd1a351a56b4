package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Check the status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			resp, err := client.Get("/api/v1/tasks/" + id)
			if err != nil {
				return fmt.Errorf("get task: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			status, _ := data["status"].(string)
			orderRef, _ := data["order_ref"].(string)
			material, _ := data["material"].(string)

			fmt.Printf("Task: %s\n", id)
			fmt.Printf("  Order:    %s\n", orderRef)
			fmt.Printf("  Material: %s\n", material)
			fmt.Printf("  Status:   %s\n", status)
			if machine, ok := data["assigned_machine"].(string); ok && machine != "" {
				fmt.Printf("  Machine:  %s\n", machine)
			}
			if retries, ok := data["retry_count"].(float64); ok && retries > 0 {
				fmt.Printf("  Retries:  %d\n", int(retries))
			}
			if msg, ok := data["error_message"].(string); ok && msg != "" {
				fmt.Printf("  Error:    %s\n", msg)
			}
			return nil
		},
	}
}
