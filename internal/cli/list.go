package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var (
		flagStatus string
		flagLimit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List production tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if flagStatus != "" {
				q.Set("status", flagStatus)
			}
			if flagLimit > 0 {
				q.Set("limit", strconv.Itoa(flagLimit))
			}
			path := "/api/v1/tasks"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}

			var data []map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(data) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}

			fmt.Printf("%-14s  %-10s  %-14s  %-8s  %-8s  %s\n", "ID", "STATUS", "ORDER", "MATERIAL", "MACHINE", "CREATED")
			fmt.Printf("%-14s  %-10s  %-14s  %-8s  %-8s  %s\n", "----", "------", "-----", "--------", "-------", "-------")
			for _, task := range data {
				id, _ := task["id"].(string)
				status, _ := task["status"].(string)
				orderRef, _ := task["order_ref"].(string)
				material, _ := task["material"].(string)
				machine, _ := task["assigned_machine"].(string)
				createdAt, _ := task["created_at"].(string)
				fmt.Printf("%-14s  %-10s  %-14s  %-8s  %-8s  %s\n", id, status, orderRef, material, machine, createdAt)
			}

			if resp.Meta != nil && resp.Meta.HasMore {
				fmt.Printf("\n(%d of %d shown)\n", len(data), resp.Meta.Total)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&flagStatus, "status", "", "Filter by task status")
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "Maximum number of tasks to show")

	return cmd
}
