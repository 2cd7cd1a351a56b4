package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newMachinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machines",
		Short: "Inspect and manage machine connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listMachines()
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "connect <machine_id>",
			Short: "Connect to a machine",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := client.Post("/api/v1/machines/"+args[0]+"/connect", nil); err != nil {
					return fmt.Errorf("connect machine: %w", err)
				}
				fmt.Printf("Machine %s: connected\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "disconnect <machine_id>",
			Short: "Disconnect from a machine",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := client.Post("/api/v1/machines/"+args[0]+"/disconnect", nil); err != nil {
					return fmt.Errorf("disconnect machine: %w", err)
				}
				fmt.Printf("Machine %s: disconnected\n", args[0])
				return nil
			},
		},
	)

	return cmd
}

func listMachines() error {
	resp, err := client.Get("/api/v1/machines")
	if err != nil {
		return fmt.Errorf("list machines: %w", err)
	}

	var data struct {
		Machines []map[string]any `json:"machines"`
		Summary  map[string]int   `json:"summary"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	if len(data.Machines) == 0 {
		fmt.Println("No machines configured.")
		return nil
	}

	fmt.Printf("%-10s  %-8s  %-10s  %-12s  %-6s  %s\n", "ID", "STATUS", "MATERIAL", "PROGRAM", "COUNT", "TASK")
	fmt.Printf("%-10s  %-8s  %-10s  %-12s  %-6s  %s\n", "----", "------", "--------", "-------", "-----", "----")
	for _, m := range data.Machines {
		id, _ := m["id"].(string)
		status, _ := m["status"].(string)
		material, _ := m["material"].(string)
		program, _ := m["program_name"].(string)
		count, _ := m["workpiece_count"].(float64)
		task, _ := m["current_task"].(string)
		fmt.Printf("%-10s  %-8s  %-10s  %-12s  %-6d  %s\n", id, status, material, program, int(count), task)
	}
	return nil
}
