package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newStrategyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Show the active scheduling strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/scheduling/strategy")
			if err != nil {
				return fmt.Errorf("get strategy: %w", err)
			}

			var data struct {
				Strategy  string   `json:"strategy"`
				Available []string `json:"available_strategies"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Strategy:  %s\n", data.Strategy)
			fmt.Printf("Available: %s\n", strings.Join(data.Available, ", "))
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <strategy>",
			Short: "Set the scheduling strategy",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := client.Put("/api/v1/scheduling/strategy", map[string]any{
					"strategy": strings.ToUpper(args[0]),
				}); err != nil {
					return fmt.Errorf("set strategy: %w", err)
				}
				fmt.Printf("Strategy set to %s\n", strings.ToUpper(args[0]))
				return nil
			},
		},
		&cobra.Command{
			Use:   "execute",
			Short: "Run one scheduling cycle now",
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := client.Post("/api/v1/scheduling/execute", nil)
				if err != nil {
					return fmt.Errorf("execute cycle: %w", err)
				}

				var data map[string]any
				if err := json.Unmarshal(resp.Data, &data); err != nil {
					return fmt.Errorf("parse response: %w", err)
				}

				before, _ := data["pending_before"].(float64)
				after, _ := data["pending_after"].(float64)
				running, _ := data["running"].(float64)
				fmt.Printf("Cycle executed: %d dispatched, %d pending, %d running\n",
					int(before-after), int(after), int(running))
				return nil
			},
		},
	)

	return cmd
}
