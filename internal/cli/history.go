package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		flagStatus string
		flagLimit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if flagStatus != "" {
				q.Set("status", flagStatus)
			}
			if flagLimit > 0 {
				q.Set("limit", strconv.Itoa(flagLimit))
			}
			path := "/api/v1/history/tasks"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}

			var data []map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(data) == 0 {
				fmt.Println("No archived tasks.")
				return nil
			}

			fmt.Printf("%-14s  %-10s  %-14s  %-8s  %s\n", "ID", "STATUS", "ORDER", "MACHINE", "COMPLETED")
			fmt.Printf("%-14s  %-10s  %-14s  %-8s  %s\n", "----", "------", "-----", "-------", "---------")
			for _, task := range data {
				id, _ := task["id"].(string)
				status, _ := task["status"].(string)
				orderRef, _ := task["order_ref"].(string)
				machine, _ := task["assigned_machine"].(string)
				completedAt, _ := task["completed_at"].(string)
				fmt.Printf("%-14s  %-10s  %-14s  %-8s  %s\n", id, status, orderRef, machine, completedAt)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagStatus, "status", "", "Filter by terminal status")
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "Maximum number of tasks to show")

	cmd.AddCommand(&cobra.Command{
		Use:   "dispatches [machine_id]",
		Short: "List recorded dispatch attempts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/history/dispatches"
			if len(args) == 1 {
				path += "?machine_id=" + url.QueryEscape(args[0])
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list dispatches: %w", err)
			}

			var data []map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(data) == 0 {
				fmt.Println("No dispatches recorded.")
				return nil
			}

			fmt.Printf("%-14s  %-10s  %-10s  %s\n", "TASK", "MACHINE", "OUTCOME", "AT")
			fmt.Printf("%-14s  %-10s  %-10s  %s\n", "----", "-------", "-------", "--")
			for _, d := range data {
				taskID, _ := d["task_id"].(string)
				machineID, _ := d["machine_id"].(string)
				outcome, _ := d["outcome"].(string)
				createdAt, _ := d["created_at"].(string)
				fmt.Printf("%-14s  %-10s  %-10s  %s\n", taskID, machineID, outcome, createdAt)
			}
			return nil
		},
	})

	return cmd
}
