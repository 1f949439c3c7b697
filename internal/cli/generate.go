package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/genq/pkg/model"
)

func newGenerateCmd() *cobra.Command {
	var (
		flagModel      string
		flagSystem     string
		flagMaxTokens  int
		flagMinTokens  int
		flagMaxRetries int
		flagTaskID     string
		flagWait       bool
	)

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Submit a generation request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")

			messages := []model.Message{}
			if flagSystem != "" {
				messages = append(messages, model.Message{Role: model.RoleSystem, Content: flagSystem})
			}
			messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})

			body := map[string]any{
				"messages": messages,
			}
			if flagModel != "" {
				body["model"] = flagModel
			}
			if flagMaxTokens > 0 {
				body["max_tokens"] = flagMaxTokens
			}
			if flagMinTokens > 0 {
				body["min_tokens"] = flagMinTokens
			}
			if flagMaxRetries > 0 {
				body["max_retries"] = flagMaxRetries
			}
			if flagTaskID != "" {
				body["task_id"] = flagTaskID
			}

			resp, err := client.Post("/api/v1/generations", body)
			if err != nil {
				return fmt.Errorf("submit generation: %w", err)
			}

			var info struct {
				TaskID string `json:"task_id"`
				Status string `json:"status"`
			}
			if err := json.Unmarshal(resp.Data, &info); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Task:   %s\n", info.TaskID)
			fmt.Printf("Status: %s\n", info.Status)

			if !flagWait {
				return nil
			}
			return waitForResult(info.TaskID)
		},
	}

	cmd.Flags().StringVar(&flagModel, "model", "", "Model to generate with")
	cmd.Flags().StringVar(&flagSystem, "system", "", "System prompt")
	cmd.Flags().IntVar(&flagMaxTokens, "max-tokens", 0, "Maximum output tokens")
	cmd.Flags().IntVar(&flagMinTokens, "min-tokens", 0, "Output-token allowance required before starting")
	cmd.Flags().IntVar(&flagMaxRetries, "max-retries", 0, "Transient-error retry bound")
	cmd.Flags().StringVar(&flagTaskID, "task-id", "", "Explicit task id")
	cmd.Flags().BoolVar(&flagWait, "wait", false, "Poll until the task settles and print its output")
	return cmd
}

// waitForResult polls the task until it leaves the queue and its
// journal record appears, then prints the outcome.
func waitForResult(taskID string) error {
	for {
		time.Sleep(time.Second)

		resp, err := client.Get("/api/v1/generations/" + taskID)
		if err != nil {
			return fmt.Errorf("poll generation: %w", err)
		}

		// Live tasks report a status field only; settled tasks come
		// back as a journal record with an output.
		var data map[string]any
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		if _, live := data["task_id"]; live {
			if st, ok := data["status"].(string); ok && (st == "queued" || st == "processing") {
				continue
			}
		}

		status, _ := data["status"].(string)
		fmt.Printf("Status: %s\n", status)
		if errMsg, ok := data["error"].(string); ok && errMsg != "" {
			fmt.Printf("Error:  %s\n", errMsg)
		}
		if out, ok := data["output"].(string); ok && out != "" {
			fmt.Println(out)
		}
		return nil
	}
}
