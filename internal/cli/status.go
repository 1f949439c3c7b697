package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [task_id]",
		Short: "Show engine state, or one task's status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				resp, err := client.Get("/api/v1/generations/" + args[0])
				if err != nil {
					return fmt.Errorf("get generation: %w", err)
				}
				var data map[string]any
				if err := json.Unmarshal(resp.Data, &data); err != nil {
					return fmt.Errorf("parse response: %w", err)
				}
				status, _ := data["status"].(string)
				fmt.Printf("Task:   %s\n", args[0])
				fmt.Printf("Status: %s\n", status)
				return nil
			}

			resp, err := client.Get("/api/v1/state")
			if err != nil {
				return fmt.Errorf("get state: %w", err)
			}
			var state struct {
				Status            string `json:"status"`
				Error             string `json:"error"`
				QueueLength       int    `json:"queue_length"`
				BudgetWaitEndTime string `json:"budget_wait_end_time"`
			}
			if err := json.Unmarshal(resp.Data, &state); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Status:  %s\n", state.Status)
			fmt.Printf("Queued:  %d\n", state.QueueLength)
			if state.Error != "" {
				fmt.Printf("Error:   %s\n", state.Error)
			}
			if state.BudgetWaitEndTime != "" {
				fmt.Printf("Budget wait since: %s\n", state.BudgetWaitEndTime)
			}
			return nil
		},
	}
}
