package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	var flagAll bool

	cmd := &cobra.Command{
		Use:   "cancel [task_id]",
		Short: "Cancel a queued task, or everything with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagAll {
				if _, err := client.Delete("/api/v1/generations"); err != nil {
					return fmt.Errorf("cancel all: %w", err)
				}
				fmt.Println("Cancelled all tasks.")
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("task_id required unless --all is set")
			}
			if _, err := client.Delete("/api/v1/generations/" + args[0]); err != nil {
				return fmt.Errorf("cancel %s: %w", args[0], err)
			}
			fmt.Printf("Cancelled %s.\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagAll, "all", false, "Clear the queue and abort the active task")
	return cmd
}

func newInteractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interact",
		Short: "Deliver the user-interaction signal to a task waiting for budget unlock",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Post("/api/v1/interactions", nil); err != nil {
				return fmt.Errorf("interact: %w", err)
			}
			fmt.Println("Interaction delivered.")
			return nil
		},
	}
}
