package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var (
		flagOrderRef     string
		flagProduct      string
		flagMaterial     string
		flagQuantity     int
		flagPriority     int
		flagProgram      string
		flagCapabilities []string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a production task",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/tasks", map[string]any{
				"order_ref":     flagOrderRef,
				"product_model": flagProduct,
				"material":      flagMaterial,
				"quantity":      flagQuantity,
				"priority":      flagPriority,
				"program_name":  flagProgram,
				"capabilities":  flagCapabilities,
			})
			if err != nil {
				return fmt.Errorf("submit task: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			id, _ := data["id"].(string)
			status, _ := data["status"].(string)
			fmt.Printf("Task created: %s\n", id)
			fmt.Printf("  Order:    %s\n", flagOrderRef)
			fmt.Printf("  Material: %s\n", data["material"])
			fmt.Printf("  Status:   %s\n", status)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagOrderRef, "order-ref", "", "Production order reference (required)")
	cmd.Flags().StringVar(&flagProduct, "product", "", "Product model")
	cmd.Flags().StringVar(&flagMaterial, "material", "", "Workpiece material (required)")
	cmd.Flags().IntVar(&flagQuantity, "quantity", 1, "Order quantity")
	cmd.Flags().IntVar(&flagPriority, "priority", 0, "Scheduling priority (higher wins)")
	cmd.Flags().StringVar(&flagProgram, "program", "", "NC program name")
	cmd.Flags().StringSliceVar(&flagCapabilities, "capability", nil, "Required machine capability (repeatable)")
	cmd.MarkFlagRequired("order-ref")
	cmd.MarkFlagRequired("material")

	return cmd
}
