package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/genq/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		flagLimit  int
		flagOffset int
		flagStatus string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List settled generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/history?limit=%d&offset=%d", flagLimit, flagOffset)
			if flagStatus != "" {
				path += "&status=" + flagStatus
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}

			var recs []history.Record
			if err := json.Unmarshal(resp.Data, &recs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if len(recs) == 0 {
				fmt.Println("No settled generations.")
				return nil
			}

			for _, rec := range recs {
				fmt.Printf("%-42s %-10s %-14s %6d tok  %s\n",
					rec.TaskID,
					rec.Status,
					rec.Model,
					rec.OutputTokens,
					humanize.RelTime(rec.SettledAt, time.Now(), "ago", "from now"),
				)
				if rec.Error != "" {
					fmt.Printf("    error: %s\n", rec.Error)
				}
			}
			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Printf("(%d of %d, use --offset for more)\n", len(recs), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum records to list")
	cmd.Flags().IntVar(&flagOffset, "offset", 0, "List offset")
	cmd.Flags().StringVar(&flagStatus, "status", "", "Filter by status (completed, failed, cancelled)")
	return cmd
}
